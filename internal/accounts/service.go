// Package accounts resolves authenticated sessions to the registry accounts they act as.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("accounts: invalid identity")
	// ErrUnboundIdentity indicates the login has never presented a wallet address.
	ErrUnboundIdentity = errors.New("accounts: identity has no bound wallet")
)

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service binds provider logins to registry accounts.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveAccount returns the registry account for the session claims. A wallet address
// in the claims creates or replaces the binding; otherwise the stored binding is used.
func (s *Service) ResolveAccount(ctx context.Context, claims auth.SessionClaims) (registry.Account, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	var claimed registry.Account
	if wallet := normalize(claims.WalletAddress); wallet != "" {
		account, err := registry.NewAccount(wallet)
		if err != nil {
			return "", err
		}
		claimed = account
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if account, ok := cached.(registry.Account); ok && (claimed == "" || claimed == account) {
			return account, nil
		}
	}

	var binding Binding
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&binding).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if claimed == "" {
			return "", ErrUnboundIdentity
		}
		binding = Binding{
			Provider:    provider,
			Subject:     subject,
			Account:     claimed.String(),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&binding).Error; err != nil {
			return "", err
		}
		s.logger.Info("account bound",
			zap.String("provider", provider),
			zap.String("subject", subject),
			zap.String("account", binding.Account))
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if claimed != "" && claimed.String() != binding.Account {
			s.logger.Info("account rebound",
				zap.String("provider", provider),
				zap.String("subject", subject),
				zap.String("previous", binding.Account),
				zap.String("account", claimed.String()))
			updates["account"] = claimed.String()
			binding.Account = claimed.String()
		}
		if email := normalize(claims.UserEmail); email != "" && email != binding.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != binding.DisplayName {
			updates["user_display_name"] = display
		}
		err := s.db.WithContext(ctx).Model(&Binding{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
		if err != nil {
			return "", err
		}
	}

	account := registry.Account(binding.Account)
	s.cache.Store(cacheKey, account)
	return account, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
