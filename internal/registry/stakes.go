package registry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStakeOnQuestion = "registry.stake_on_question"
	opTotalStaked     = "registry.total_staked"
	opStakedAmount    = "registry.staked_amount"
)

// StakeOnQuestion adds amount to caller's stake on an open question and escrows it.
func (s *Service) StakeOnQuestion(ctx context.Context, staker Account, questionID int64, amount int64) (Stake, error) {
	if amount <= 0 {
		return Stake{}, s.reject(opStakeOnQuestion, reasonInvalidAmount, ErrInvalidAmount, zap.Int64("amount", amount))
	}
	if staker == "" {
		return Stake{}, s.reject(opStakeOnQuestion, reasonInvalidAccount, ErrInvalidAccount)
	}
	if staker == s.escrow {
		return Stake{}, s.reject(opStakeOnQuestion, reasonEscrowStaker, ErrAccessDenied, zap.Int64("question_id", questionID))
	}

	var stake Stake
	err := s.mutate(ctx, opStakeOnQuestion, func(tx *gorm.DB, ledger TokenLedger) ([]Event, error) {
		question, err := s.lockQuestion(tx, opStakeOnQuestion, questionID)
		if err != nil {
			return nil, err
		}
		if question.Resolved() {
			return nil, s.reject(opStakeOnQuestion, reasonQuestionResolved, ErrQuestionResolved, zap.Int64("question_id", questionID))
		}

		if err := s.recordStake(tx, staker, questionID, amount); err != nil {
			return nil, s.fail(opStakeOnQuestion, reasonUpdateFailed, err, zap.Int64("question_id", questionID))
		}
		err = tx.Model(&Question{}).
			Where("question_id = ?", questionID).
			Update("amount", gorm.Expr("amount + ?", amount)).Error
		if err != nil {
			return nil, s.fail(opStakeOnQuestion, reasonUpdateFailed, err, zap.Int64("question_id", questionID))
		}
		err = tx.Model(&Forum{}).
			Where("forum_id = ?", question.ForumID).
			Update("amount", gorm.Expr("amount + ?", amount)).Error
		if err != nil {
			return nil, s.fail(opStakeOnQuestion, reasonUpdateFailed, err, zap.Int64("forum_id", question.ForumID))
		}
		if err := tx.Where("staker = ? AND question_id = ?", staker, questionID).Take(&stake).Error; err != nil {
			return nil, s.fail(opStakeOnQuestion, reasonQueryFailed, err, zap.Int64("question_id", questionID))
		}

		if err := s.pullStake(ctx, ledger, opStakeOnQuestion, staker, amount); err != nil {
			return nil, err
		}
		return []Event{{
			Type:       EventStakeAdded,
			Recipients: recipients(question.Author),
			ForumID:    question.ForumID,
			QuestionID: questionID,
			Actor:      staker,
			Amount:     amount,
			OccurredAt: time.Unix(s.now(), 0).UTC(),
		}}, nil
	})
	if err != nil {
		return Stake{}, err
	}
	s.observeEscrowed(amount)
	return stake, nil
}

// GetTotalStakedOnQuestion sums every stake recorded against a question.
func (s *Service) GetTotalStakedOnQuestion(ctx context.Context, questionID int64) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opTotalStaked, reasonMissingDB, errMissingDatabase)
	}
	if _, err := s.GetQuestion(ctx, questionID); err != nil {
		return 0, err
	}
	total, err := sumStakes(s.db.WithContext(ctx), questionID)
	if err != nil {
		return 0, s.fail(opTotalStaked, reasonQueryFailed, err, zap.Int64("question_id", questionID))
	}
	return total, nil
}

// GetStakedAmount reports what user has staked on a question; zero when nothing.
func (s *Service) GetStakedAmount(ctx context.Context, user Account, questionID int64) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opStakedAmount, reasonMissingDB, errMissingDatabase)
	}
	var stake Stake
	err := s.db.WithContext(ctx).Where("staker = ? AND question_id = ?", user, questionID).Take(&stake).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(opStakedAmount, reasonQueryFailed, err, zap.Int64("question_id", questionID))
	}
	return stake.Amount, nil
}

// recordStake creates or grows the (staker, question) stake row.
func (s *Service) recordStake(tx *gorm.DB, staker Account, questionID int64, amount int64) error {
	stake := Stake{Staker: staker, QuestionID: questionID, Amount: amount, UpdatedAtSeconds: s.now()}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "staker"}, {Name: "question_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"amount":       gorm.Expr("question_stakes.amount + ?", amount),
			"updated_at_s": stake.UpdatedAtSeconds,
		}),
	}).Create(&stake).Error
}

func sumStakes(db *gorm.DB, questionID int64) (int64, error) {
	var total int64
	err := db.Model(&Stake{}).
		Where("question_id = ?", questionID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
