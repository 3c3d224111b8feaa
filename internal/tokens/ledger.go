// Package tokens implements the fungible token ledger the registry escrows stakes with.
//
// Balances, allowances and an append-only transfer journal live in the same database as
// the registry so a ledger bound to a registry transaction commits or rolls back with it.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidAmount indicates a non-positive transfer or mint amount, or a negative approval.
	ErrInvalidAmount = errors.New("tokens: invalid amount")
	// ErrInvalidAccount indicates an empty account identifier.
	ErrInvalidAccount = errors.New("tokens: invalid account")
	// ErrInsufficientBalance indicates the source account cannot cover the amount.
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	// ErrInsufficientAllowance indicates the spender was not approved for the amount.
	ErrInsufficientAllowance = errors.New("tokens: insufficient allowance")

	errMissingDatabase   = errors.New("tokens: database handle is required")
	errMissingIDProvider = errors.New("tokens: id provider is required")
)

const (
	defaultTransferListLimit = 50
	maxTransferListLimit     = 500
)

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Ledger moves balances between accounts.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// WithTransaction returns a ledger whose writes join tx.
func (l *Ledger) WithTransaction(tx *gorm.DB) *Ledger {
	bound := *l
	bound.db = tx
	return &bound
}

// Mint issues new supply to an account.
func (l *Ledger) Mint(ctx context.Context, to string, amount int64) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.credit(tx, to, amount); err != nil {
			return err
		}
		return l.journal(tx, Transfer{Kind: TransferKindMint, ToAccount: to, Amount: amount})
	})
}

// Transfer moves amount from the holder's own balance.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.debit(tx, from, amount); err != nil {
			return err
		}
		if err := l.credit(tx, to, amount); err != nil {
			return err
		}
		return l.journal(tx, Transfer{Kind: TransferKindTransfer, FromAccount: from, ToAccount: to, Amount: amount})
	})
}

// TransferFrom moves amount out of from's balance using spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to string, amount int64) error {
	spender, from, to = strings.TrimSpace(spender), strings.TrimSpace(from), strings.TrimSpace(to)
	if spender == "" || from == "" || to == "" {
		return ErrInvalidAccount
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Allowance{}).
			Where("owner = ? AND spender = ? AND amount >= ?", from, spender, amount).
			Updates(map[string]any{
				"amount":       gorm.Expr("amount - ?", amount),
				"updated_at_s": l.now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: spender %s needs %d from %s", ErrInsufficientAllowance, spender, amount, from)
		}
		if err := l.debit(tx, from, amount); err != nil {
			return err
		}
		if err := l.credit(tx, to, amount); err != nil {
			return err
		}
		return l.journal(tx, Transfer{
			Kind:        TransferKindTransferFrom,
			Spender:     spender,
			FromAccount: from,
			ToAccount:   to,
			Amount:      amount,
		})
	})
}

// Approve sets the amount spender may move on behalf of owner, replacing any prior value.
func (l *Ledger) Approve(ctx context.Context, owner, spender string, amount int64) error {
	owner, spender = strings.TrimSpace(owner), strings.TrimSpace(spender)
	if owner == "" || spender == "" {
		return ErrInvalidAccount
	}
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	allowance := Allowance{Owner: owner, Spender: spender, Amount: amount, UpdatedAtSeconds: l.now()}
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "spender"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at_s"}),
		}).
		Create(&allowance).Error
}

// BalanceOf reports the balance of account; unknown accounts hold zero.
func (l *Ledger) BalanceOf(ctx context.Context, account string) (int64, error) {
	var balance Balance
	err := l.db.WithContext(ctx).Where("account = ?", strings.TrimSpace(account)).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Amount, nil
}

// Allowance reports what spender may still move for owner.
func (l *Ledger) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	var allowance Allowance
	err := l.db.WithContext(ctx).
		Where("owner = ? AND spender = ?", strings.TrimSpace(owner), strings.TrimSpace(spender)).
		Take(&allowance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return allowance.Amount, nil
}

// TotalSupply sums every balance.
func (l *Ledger) TotalSupply(ctx context.Context) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Model(&Balance{}).Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	return total, err
}

// ListTransfers returns the newest journal entries touching account.
func (l *Ledger) ListTransfers(ctx context.Context, account string, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = defaultTransferListLimit
	}
	if limit > maxTransferListLimit {
		limit = maxTransferListLimit
	}
	account = strings.TrimSpace(account)
	var transfers []Transfer
	err := l.db.WithContext(ctx).
		Where("from_account = ? OR to_account = ?", account, account).
		Order("applied_at_s DESC").
		Order("transfer_id DESC").
		Limit(limit).
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (l *Ledger) debit(tx *gorm.DB, account string, amount int64) error {
	result := tx.Model(&Balance{}).
		Where("account = ? AND amount >= ?", account, amount).
		Updates(map[string]any{
			"amount":       gorm.Expr("amount - ?", amount),
			"updated_at_s": l.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s cannot cover %d", ErrInsufficientBalance, account, amount)
	}
	return nil
}

func (l *Ledger) credit(tx *gorm.DB, account string, amount int64) error {
	balance := Balance{Account: account, Amount: amount, UpdatedAtSeconds: l.now()}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account"}},
		DoUpdates: clause.Assignments(map[string]any{
			"amount":       gorm.Expr("token_balances.amount + ?", amount),
			"updated_at_s": balance.UpdatedAtSeconds,
		}),
	}).Create(&balance).Error
}

func (l *Ledger) journal(tx *gorm.DB, entry Transfer) error {
	transferID, err := l.idProvider.NewID()
	if err != nil {
		l.logger.Error("token journal id generation failed", zap.Error(err))
		return err
	}
	entry.TransferID = transferID
	entry.AppliedAtSeconds = l.now()
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	l.logger.Debug("token transfer applied",
		zap.String("transfer_id", entry.TransferID),
		zap.String("kind", string(entry.Kind)),
		zap.String("from", entry.FromAccount),
		zap.String("to", entry.ToAccount),
		zap.Int64("amount", entry.Amount))
	return nil
}

func (l *Ledger) now() int64 {
	return l.clock().UTC().Unix()
}
