package registry

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	sequenceForums    = "forums"
	sequenceQuestions = "questions"
	sequenceAnswers   = "answers"
)

// idSequence is the last id handed out per entity kind. Ids are never reused.
type idSequence struct {
	Kind   string `gorm:"column:kind;primaryKey;size:32;not null"`
	LastID int64  `gorm:"column:last_id;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (idSequence) TableName() string {
	return "registry_sequences"
}

func nextID(tx *gorm.DB, kind string) (int64, error) {
	var sequence idSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("kind = ?", kind).Take(&sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sequence = idSequence{Kind: kind, LastID: 1}
		if err := tx.Create(&sequence).Error; err != nil {
			return 0, err
		}
		return sequence.LastID, nil
	}
	if err != nil {
		return 0, err
	}
	sequence.LastID++
	if err := tx.Model(&idSequence{}).Where("kind = ?", kind).Update("last_id", sequence.LastID).Error; err != nil {
		return 0, err
	}
	return sequence.LastID, nil
}

func (s *Service) lastID(ctx context.Context, operation, kind string) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(operation, reasonMissingDB, errMissingDatabase)
	}
	var sequence idSequence
	err := s.db.WithContext(ctx).Where("kind = ?", kind).Take(&sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(operation, reasonQueryFailed, err)
	}
	return sequence.LastID, nil
}

// LastForumID returns the most recently allocated forum id, or zero.
func (s *Service) LastForumID(ctx context.Context) (int64, error) {
	return s.lastID(ctx, "registry.last_forum_id", sequenceForums)
}

// LastQuestionID returns the most recently allocated question id, or zero.
func (s *Service) LastQuestionID(ctx context.Context) (int64, error) {
	return s.lastID(ctx, "registry.last_question_id", sequenceQuestions)
}

// LastAnswerID returns the most recently allocated answer id, or zero.
func (s *Service) LastAnswerID(ctx context.Context) (int64, error) {
	return s.lastID(ctx, "registry.last_answer_id", sequenceAnswers)
}
