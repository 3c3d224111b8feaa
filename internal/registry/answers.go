package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSubmitAnswer = "registry.submit_answer"
	opGetAnswer    = "registry.get_answer"
	opListAnswers  = "registry.list_answers"
	opVoteOnAnswer = "registry.vote_on_answer"

	reasonInvalidContent = "invalid_content"
	reasonAnswerNotFound = "answer_not_found"
	reasonAlreadyVoted   = "already_voted"
)

// SubmitAnswer records an answer by author to questionID.
func (s *Service) SubmitAnswer(ctx context.Context, author Account, questionID int64, contentCID string) (Answer, error) {
	if author == "" {
		return Answer{}, s.reject(opSubmitAnswer, reasonInvalidAccount, ErrInvalidAccount)
	}
	contentCID = strings.TrimSpace(contentCID)
	if contentCID == "" {
		return Answer{}, s.reject(opSubmitAnswer, reasonInvalidContent, ErrInvalidInput)
	}

	var created Answer
	err := s.mutate(ctx, opSubmitAnswer, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		question, err := s.lockQuestion(tx, opSubmitAnswer, questionID)
		if err != nil {
			return nil, err
		}
		if question.Resolved() && !s.policy.AllowAnswersAfterResolution {
			return nil, s.reject(opSubmitAnswer, reasonQuestionResolved, ErrQuestionResolved, zap.Int64("question_id", questionID))
		}
		answerID, err := nextID(tx, sequenceAnswers)
		if err != nil {
			return nil, s.fail(opSubmitAnswer, reasonSequenceFailed, err)
		}
		created = Answer{
			ID:               answerID,
			QuestionID:       questionID,
			Author:           author,
			ContentCID:       contentCID,
			CreatedAtSeconds: s.now(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return nil, s.fail(opSubmitAnswer, reasonInsertFailed, err, zap.Int64("answer_id", answerID))
		}
		return []Event{{
			Type:       EventAnswerSubmitted,
			Recipients: recipients(question.Author),
			ForumID:    question.ForumID,
			QuestionID: questionID,
			AnswerID:   answerID,
			Actor:      author,
			OccurredAt: time.Unix(created.CreatedAtSeconds, 0).UTC(),
		}}, nil
	})
	if err != nil {
		return Answer{}, err
	}
	return created, nil
}

// GetAnswer returns an answer by id.
func (s *Service) GetAnswer(ctx context.Context, answerID int64) (Answer, error) {
	if s.db == nil {
		return Answer{}, newServiceError(opGetAnswer, reasonMissingDB, errMissingDatabase)
	}
	var answer Answer
	err := s.db.WithContext(ctx).Where("answer_id = ?", answerID).Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Answer{}, newServiceError(opGetAnswer, reasonAnswerNotFound, ErrNotFound)
	}
	if err != nil {
		return Answer{}, s.fail(opGetAnswer, reasonQueryFailed, err, zap.Int64("answer_id", answerID))
	}
	return answer, nil
}

// GetAnswers pages through the answers of one question.
func (s *Service) GetAnswers(ctx context.Context, questionID int64, request PageRequest) (Page[Answer], error) {
	if s.db == nil {
		return Page[Answer]{}, newServiceError(opListAnswers, reasonMissingDB, errMissingDatabase)
	}
	filter := func(db *gorm.DB) *gorm.DB {
		return db.Where("question_id = ?", questionID)
	}
	page, err := paginate[Answer](ctx, s.db, "answer_id", filter, request)
	if err != nil {
		return Page[Answer]{}, s.fail(opListAnswers, reasonQueryFailed, err, zap.Int64("question_id", questionID))
	}
	return page, nil
}

// VoteOnAnswer records a single vote by voter and credits the answer author on upvotes.
func (s *Service) VoteOnAnswer(ctx context.Context, voter Account, answerID int64, isUpvote bool) (Answer, error) {
	if voter == "" {
		return Answer{}, s.reject(opVoteOnAnswer, reasonInvalidAccount, ErrInvalidAccount)
	}

	var voted Answer
	err := s.mutate(ctx, opVoteOnAnswer, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		answer, err := s.lockAnswer(tx, opVoteOnAnswer, answerID)
		if err != nil {
			return nil, err
		}

		marker := Vote{Voter: voter, AnswerID: answerID, IsUpvote: isUpvote, CreatedAtSeconds: s.now()}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if result.Error != nil {
			return nil, s.fail(opVoteOnAnswer, reasonInsertFailed, result.Error, zap.Int64("answer_id", answerID))
		}
		if result.RowsAffected == 0 {
			return nil, s.reject(opVoteOnAnswer, reasonAlreadyVoted, ErrAlreadyVoted,
				zap.Int64("answer_id", answerID),
				zap.String("voter", voter.String()))
		}

		column := "downvotes"
		delta := int64(0)
		if isUpvote {
			column = "upvotes"
			delta = 1
		} else if s.policy.DownvotePenalty {
			delta = -1
		}
		err = tx.Model(&Answer{}).
			Where("answer_id = ?", answerID).
			Update(column, gorm.Expr(column+" + ?", 1)).Error
		if err != nil {
			return nil, s.fail(opVoteOnAnswer, reasonUpdateFailed, err, zap.Int64("answer_id", answerID))
		}
		if delta != 0 {
			if err := s.adjustReputation(tx, answer.Author, delta); err != nil {
				return nil, s.fail(opVoteOnAnswer, reasonUpdateFailed, err, zap.String("account", answer.Author.String()))
			}
		}

		if isUpvote {
			answer.Upvotes++
		} else {
			answer.Downvotes++
		}
		voted = answer
		return nil, nil
	})
	if err != nil {
		return Answer{}, err
	}
	return voted, nil
}

func (s *Service) lockAnswer(tx *gorm.DB, operation string, answerID int64) (Answer, error) {
	var answer Answer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("answer_id = ?", answerID).Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Answer{}, s.reject(operation, reasonAnswerNotFound, ErrNotFound, zap.Int64("answer_id", answerID))
	}
	if err != nil {
		return Answer{}, s.fail(operation, reasonQueryFailed, err, zap.Int64("answer_id", answerID))
	}
	return answer, nil
}
