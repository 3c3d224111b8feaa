package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const operatorSlot = 1

// Operator returns the persisted privileged identity.
func (s *Service) Operator(ctx context.Context) (Account, error) {
	if s.db == nil {
		return "", newServiceError("registry.operator", reasonMissingDB, errMissingDatabase)
	}
	return s.loadOperator(s.db.WithContext(ctx), "registry.operator")
}

// TransferOperator hands the operator role to next. Only the current operator may call it.
func (s *Service) TransferOperator(ctx context.Context, caller, next Account) error {
	if next == "" {
		return s.reject(opTransferOperator, reasonInvalidAccount, ErrInvalidAccount)
	}
	return s.mutate(ctx, opTransferOperator, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		if err := s.authorizeOperator(tx, opTransferOperator, caller); err != nil {
			return nil, err
		}
		err := tx.Model(&OperatorRecord{}).
			Where("slot = ?", operatorSlot).
			Updates(map[string]any{"account": next, "updated_at_s": s.now()}).Error
		if err != nil {
			return nil, s.fail(opTransferOperator, reasonUpdateFailed, err)
		}
		s.logger.Info("registry operator transferred",
			zap.String("previous", caller.String()),
			zap.String("next", next.String()))
		return nil, nil
	})
}

func (s *Service) loadOperator(db *gorm.DB, operation string) (Account, error) {
	var record OperatorRecord
	err := db.Where("slot = ?", operatorSlot).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", s.fail(operation, reasonMissingOp, errMissingOperator)
	}
	if err != nil {
		return "", s.fail(operation, reasonQueryFailed, err)
	}
	return record.Account, nil
}

func (s *Service) isOperator(tx *gorm.DB, operation string, caller Account) (bool, error) {
	operator, err := s.loadOperator(tx, operation)
	if err != nil {
		return false, err
	}
	return caller != "" && caller == operator, nil
}

// authorizeOperator runs at the top of every operator-only mutation.
func (s *Service) authorizeOperator(tx *gorm.DB, operation string, caller Account) error {
	allowed, err := s.isOperator(tx, operation, caller)
	if err != nil {
		return err
	}
	if !allowed {
		return s.reject(operation, reasonAccessDenied, ErrAccessDenied, zap.String("caller", caller.String()))
	}
	return nil
}

// authorizeResolver admits the question author and the operator.
func (s *Service) authorizeResolver(tx *gorm.DB, operation string, caller Account, question Question) error {
	if caller != "" && caller == question.Author {
		return nil
	}
	allowed, err := s.isOperator(tx, operation, caller)
	if err != nil {
		return err
	}
	if !allowed {
		return s.reject(operation, reasonAccessDenied, ErrAccessDenied,
			zap.Int64("question_id", question.ID),
			zap.String("caller", caller.String()))
	}
	return nil
}
