package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const opGetReputation = "registry.get_reputation"

// GetUserReputation returns the score of user; unknown users score zero.
func (s *Service) GetUserReputation(ctx context.Context, user Account) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opGetReputation, reasonMissingDB, errMissingDatabase)
	}
	var reputation Reputation
	err := s.db.WithContext(ctx).Where("account = ?", user).Take(&reputation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(opGetReputation, reasonQueryFailed, err, zap.String("account", user.String()))
	}
	return reputation.Score, nil
}

func (s *Service) adjustReputation(tx *gorm.DB, account Account, delta int64) error {
	reputation := Reputation{Account: account, Score: delta, UpdatedAtSeconds: s.now()}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account"}},
		DoUpdates: clause.Assignments(map[string]any{
			"score":        gorm.Expr("user_reputations.score + ?", delta),
			"updated_at_s": reputation.UpdatedAtSeconds,
		}),
	}).Create(&reputation).Error
}
