package registry

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAskQuestion   = "registry.ask_question"
	opGetQuestion   = "registry.get_question"
	opListQuestions = "registry.list_questions"

	reasonInvalidAmount    = "invalid_amount"
	reasonInvalidTitle     = "invalid_title"
	reasonForumDeleted     = "forum_deleted"
	reasonQuestionNotFound = "question_not_found"
	reasonQuestionResolved = "question_resolved"
	reasonEscrowStaker     = "escrow_staker"
)

// QuestionDraft is the caller-supplied content of a new question.
type QuestionDraft struct {
	ForumID        int64
	Title          string
	DescriptionCID string
	RepoURL        string
	Tags           []string
	StakeAmount    int64
}

// AskQuestion opens a question authored by caller and escrows its initial stake.
func (s *Service) AskQuestion(ctx context.Context, author Account, draft QuestionDraft) (Question, error) {
	if draft.StakeAmount <= 0 {
		return Question{}, s.reject(opAskQuestion, reasonInvalidAmount, ErrInvalidAmount, zap.Int64("amount", draft.StakeAmount))
	}
	if author == "" {
		return Question{}, s.reject(opAskQuestion, reasonInvalidAccount, ErrInvalidAccount)
	}
	if author == s.escrow {
		return Question{}, s.reject(opAskQuestion, reasonEscrowStaker, ErrAccessDenied)
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return Question{}, s.reject(opAskQuestion, reasonInvalidTitle, ErrInvalidInput)
	}

	var created Question
	err := s.mutate(ctx, opAskQuestion, func(tx *gorm.DB, ledger TokenLedger) ([]Event, error) {
		forum, err := s.lockForum(tx, opAskQuestion, draft.ForumID)
		if err != nil {
			return nil, err
		}
		if forum.Deleted && !s.policy.AllowQuestionsInDeletedForums {
			return nil, s.reject(opAskQuestion, reasonForumDeleted, ErrForumDeleted, zap.Int64("forum_id", forum.ID))
		}

		questionID, err := nextID(tx, sequenceQuestions)
		if err != nil {
			return nil, s.fail(opAskQuestion, reasonSequenceFailed, err)
		}
		now := s.now()
		created = Question{
			ID:               questionID,
			ForumID:          forum.ID,
			Author:           author,
			Title:            title,
			DescriptionCID:   strings.TrimSpace(draft.DescriptionCID),
			RepoURL:          strings.TrimSpace(draft.RepoURL),
			Tags:             normalizeTags(draft.Tags),
			Amount:           draft.StakeAmount,
			Status:           QuestionStatusOpen,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return nil, s.fail(opAskQuestion, reasonInsertFailed, err, zap.Int64("question_id", questionID))
		}
		if err := s.recordStake(tx, author, questionID, draft.StakeAmount); err != nil {
			return nil, s.fail(opAskQuestion, reasonInsertFailed, err, zap.Int64("question_id", questionID))
		}
		err = tx.Model(&Forum{}).
			Where("forum_id = ?", forum.ID).
			Updates(map[string]any{
				"total_questions": gorm.Expr("total_questions + ?", 1),
				"amount":          gorm.Expr("amount + ?", draft.StakeAmount),
			}).Error
		if err != nil {
			return nil, s.fail(opAskQuestion, reasonUpdateFailed, err, zap.Int64("forum_id", forum.ID))
		}

		if err := s.pullStake(ctx, ledger, opAskQuestion, author, draft.StakeAmount); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return Question{}, err
	}
	s.observeEscrowed(draft.StakeAmount)
	return created, nil
}

// GetQuestion returns a question by id.
func (s *Service) GetQuestion(ctx context.Context, questionID int64) (Question, error) {
	if s.db == nil {
		return Question{}, newServiceError(opGetQuestion, reasonMissingDB, errMissingDatabase)
	}
	var question Question
	err := s.db.WithContext(ctx).Where("question_id = ?", questionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, newServiceError(opGetQuestion, reasonQuestionNotFound, ErrNotFound)
	}
	if err != nil {
		return Question{}, s.fail(opGetQuestion, reasonQueryFailed, err, zap.Int64("question_id", questionID))
	}
	return question, nil
}

// GetQuestions pages through questions, restricted to forumID when it is non-zero.
func (s *Service) GetQuestions(ctx context.Context, forumID int64, request PageRequest) (Page[Question], error) {
	if s.db == nil {
		return Page[Question]{}, newServiceError(opListQuestions, reasonMissingDB, errMissingDatabase)
	}
	filter := noFilter
	if forumID != 0 {
		filter = func(db *gorm.DB) *gorm.DB {
			return db.Where("forum_id = ?", forumID)
		}
	}
	page, err := paginate[Question](ctx, s.db, "question_id", filter, request)
	if err != nil {
		return Page[Question]{}, s.fail(opListQuestions, reasonQueryFailed, err, zap.Int64("forum_id", forumID))
	}
	return page, nil
}

func (s *Service) lockQuestion(tx *gorm.DB, operation string, questionID int64) (Question, error) {
	var question Question
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("question_id = ?", questionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, s.reject(operation, reasonQuestionNotFound, ErrNotFound, zap.Int64("question_id", questionID))
	}
	if err != nil {
		return Question{}, s.fail(operation, reasonQueryFailed, err, zap.Int64("question_id", questionID))
	}
	return question, nil
}

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
