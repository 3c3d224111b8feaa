// Package registry implements the staked question-and-answer ledger: forums, questions,
// stakes, answers, votes, reputation and the resolution engine that pays out escrow.
//
// Every mutation runs under a single writer lock inside one database transaction. Token
// movements are the last step of a mutation and use a token ledger bound to that
// transaction, so a failed transfer leaves no partial state behind.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew         = "registry.service.new"
	opBootstrap          = "registry.bootstrap"
	opTransferOperator   = "registry.transfer_operator"
	reasonMissingDB      = "missing_database"
	reasonMissingTokens  = "missing_token_ledger"
	reasonMissingEscrow  = "missing_escrow_account"
	reasonMissingOp      = "missing_operator"
	reasonAccessDenied   = "access_denied"
	reasonInvalidAccount = "invalid_account"
	reasonQueryFailed    = "query_failed"
	reasonInsertFailed   = "insert_failed"
	reasonUpdateFailed   = "update_failed"
	reasonSequenceFailed = "sequence_failed"
	reasonTokenTransfer  = "token_transfer_failed"
)

// TokenLedger is the fungible token collaborator the registry escrows stakes with.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
	TransferFrom(ctx context.Context, spender, from, to string, amount int64) error
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// TokenLedgerBinder returns a TokenLedger whose effects join tx. Ledgers that live
// outside the database may ignore tx.
type TokenLedgerBinder func(tx *gorm.DB) TokenLedger

// BindTokenLedger joins a database-backed token ledger to each registry transaction.
func BindTokenLedger(ledger *tokens.Ledger) TokenLedgerBinder {
	return func(tx *gorm.DB) TokenLedger {
		return ledger.WithTransaction(tx)
	}
}

// EventPublisher receives ledger events after their transaction commits.
type EventPublisher interface {
	PublishLedgerEvent(event Event)
}

// OperationObserver receives the outcome of every mutating operation.
type OperationObserver interface {
	ObserveOperation(operation string, err error)
	ObserveValue(flow string, amount int64)
}

// Value flows reported to the OperationObserver.
const (
	FlowEscrowed = "escrowed"
	FlowPaidOut  = "paid_out"
)

// Policy captures the behaviours left to deployment choice.
type Policy struct {
	// AllowAnswersAfterResolution accepts answers on resolved questions.
	AllowAnswersAfterResolution bool
	// DownvotePenalty subtracts one reputation point from the answer author per downvote.
	DownvotePenalty bool
	// AllowQuestionsInDeletedForums accepts new questions in soft-deleted forums.
	AllowQuestionsInDeletedForums bool
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Database      *gorm.DB
	Tokens        TokenLedgerBinder
	EscrowAccount Account
	Operator      Account
	Policy        Policy
	Clock         func() time.Time
	Logger        *zap.Logger
	Events        EventPublisher
	Observer      OperationObserver
}

// Service owns the registry state.
type Service struct {
	db       *gorm.DB
	tokens   TokenLedgerBinder
	escrow   Account
	operator Account
	policy   Policy
	clock    func() time.Time
	logger   *zap.Logger
	events   EventPublisher
	observer OperationObserver

	writeMu sync.Mutex
}

// NewService validates the configuration and constructs a Service. Call Bootstrap before use.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opServiceNew, reasonMissingTokens, errMissingTokenLedger)
	}
	if cfg.EscrowAccount == "" {
		return nil, newServiceError(opServiceNew, reasonMissingEscrow, errMissingEscrow)
	}
	if cfg.Operator == "" {
		return nil, newServiceError(opServiceNew, reasonMissingOp, errMissingOperator)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		tokens:   cfg.Tokens,
		escrow:   cfg.EscrowAccount,
		operator: cfg.Operator,
		policy:   cfg.Policy,
		clock:    clock,
		logger:   logger,
		events:   cfg.Events,
		observer: cfg.Observer,
	}, nil
}

// Bootstrap stores the configured operator unless one was already persisted.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.mutate(ctx, opBootstrap, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		var record OperatorRecord
		err := tx.Where("slot = ?", operatorSlot).Take(&record).Error
		if err == nil {
			if record.Account != s.operator {
				s.logger.Warn("persisted operator differs from configuration",
					zap.String("persisted", record.Account.String()),
					zap.String("configured", s.operator.String()))
			}
			return nil, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, s.fail(opBootstrap, reasonQueryFailed, err)
		}
		record = OperatorRecord{Slot: operatorSlot, Account: s.operator, UpdatedAtSeconds: s.now()}
		if err := tx.Create(&record).Error; err != nil {
			return nil, s.fail(opBootstrap, reasonInsertFailed, err)
		}
		s.logger.Info("registry operator initialized", zap.String("operator", s.operator.String()))
		return nil, nil
	})
}

// EscrowAccount returns the account holding staked funds.
func (s *Service) EscrowAccount() Account {
	return s.escrow
}

// Policy returns the configured policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// EscrowBalance reports the token balance of the escrow account.
func (s *Service) EscrowBalance(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, newServiceError("registry.escrow_balance", reasonMissingDB, errMissingDatabase)
	}
	return s.tokens(s.db.WithContext(ctx)).BalanceOf(ctx, s.escrow.String())
}

type mutation func(tx *gorm.DB, ledger TokenLedger) ([]Event, error)

// mutate serializes every write behind writeMu and one transaction; events go out after commit.
func (s *Service) mutate(ctx context.Context, operation string, apply mutation) error {
	if s.db == nil {
		s.logError(operation, reasonMissingDB, errMissingDatabase)
		return newServiceError(operation, reasonMissingDB, errMissingDatabase)
	}

	s.writeMu.Lock()
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applyErr error
		events, applyErr = apply(tx, s.tokens(tx))
		return applyErr
	})
	s.writeMu.Unlock()

	if s.observer != nil {
		s.observer.ObserveOperation(operation, err)
	}
	if err != nil {
		return err
	}
	if s.events != nil {
		for _, event := range events {
			s.events.PublishLedgerEvent(event)
		}
	}
	return nil
}

// pullStake moves amount from staker into escrow through the escrow's allowance.
func (s *Service) pullStake(ctx context.Context, ledger TokenLedger, operation string, staker Account, amount int64) error {
	if err := ledger.TransferFrom(ctx, s.escrow.String(), staker.String(), s.escrow.String(), amount); err != nil {
		return s.tokenFailure(operation, err, zap.String("staker", staker.String()), zap.Int64("amount", amount))
	}
	return nil
}

// observeEscrowed records tokens that entered escrow; call only once the transaction committed.
func (s *Service) observeEscrowed(amount int64) {
	if s.observer != nil {
		s.observer.ObserveValue(FlowEscrowed, amount)
	}
}

func (s *Service) tokenFailure(operation string, err error, fields ...zap.Field) error {
	switch {
	case errors.Is(err, tokens.ErrInsufficientAllowance):
		return s.reject(operation, "insufficient_allowance", fmt.Errorf("%w: %w", ErrInsufficientAllowance, err), fields...)
	case errors.Is(err, tokens.ErrInsufficientBalance):
		return s.reject(operation, "insufficient_funds", fmt.Errorf("%w: %w", ErrInsufficientFunds, err), fields...)
	default:
		return s.fail(operation, reasonTokenTransfer, err, fields...)
	}
}

func (s *Service) now() int64 {
	return s.clock().UTC().Unix()
}

// reject reports a caller error: logged at info, returned as a ServiceError.
func (s *Service) reject(operation, reason string, cause error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(cause),
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Info("registry request rejected", attrs...)
	return newServiceError(operation, reason, cause)
}

// fail reports an infrastructure error: logged at error, returned as a ServiceError.
func (s *Service) fail(operation, reason string, cause error, fields ...zap.Field) error {
	s.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, cause)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("registry service error", attrs...)
}
