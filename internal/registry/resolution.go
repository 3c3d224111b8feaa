package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opMarkAnswerAsCorrect = "registry.mark_answer_as_correct"

	reasonAnswerMismatch  = "answer_mismatch"
	reasonEscrowDiverged  = "escrow_diverged"
	reasonResolutionRaced = "resolution_raced"
)

// Resolution is the outcome of a successful MarkAnswerAsCorrect.
type Resolution struct {
	Question Question
	Answer   Answer
	Payout   int64
}

// MarkAnswerAsCorrect closes questionID with answerID and pays the whole escrow to
// the answer author. The question author or the operator may call it.
//
// The question is flipped to resolved before any tokens move, so a second resolution
// observes the terminal status regardless of how the transfer behaves.
func (s *Service) MarkAnswerAsCorrect(ctx context.Context, caller Account, questionID, answerID int64) (Resolution, error) {
	var resolution Resolution
	err := s.mutate(ctx, opMarkAnswerAsCorrect, func(tx *gorm.DB, ledger TokenLedger) ([]Event, error) {
		question, err := s.lockQuestion(tx, opMarkAnswerAsCorrect, questionID)
		if err != nil {
			return nil, err
		}
		if err := s.authorizeResolver(tx, opMarkAnswerAsCorrect, caller, question); err != nil {
			return nil, err
		}
		if question.Resolved() {
			return nil, s.reject(opMarkAnswerAsCorrect, reasonQuestionResolved, ErrQuestionResolved, zap.Int64("question_id", questionID))
		}
		answer, err := s.lockAnswer(tx, opMarkAnswerAsCorrect, answerID)
		if err != nil {
			return nil, err
		}
		if answer.QuestionID != questionID {
			return nil, s.reject(opMarkAnswerAsCorrect, reasonAnswerMismatch, ErrAnswerMismatch,
				zap.Int64("question_id", questionID),
				zap.Int64("answer_id", answerID),
				zap.Int64("answer_question_id", answer.QuestionID))
		}

		resolvedAt := s.now()
		result := tx.Model(&Question{}).
			Where("question_id = ? AND status = ?", questionID, QuestionStatusOpen).
			Updates(map[string]any{
				"status":            QuestionStatusResolved,
				"correct_answer_id": answerID,
				"resolved_at_s":     resolvedAt,
			})
		if result.Error != nil {
			return nil, s.fail(opMarkAnswerAsCorrect, reasonUpdateFailed, result.Error, zap.Int64("question_id", questionID))
		}
		if result.RowsAffected != 1 {
			return nil, s.reject(opMarkAnswerAsCorrect, reasonResolutionRaced, ErrQuestionResolved, zap.Int64("question_id", questionID))
		}
		question.Status = QuestionStatusResolved
		question.CorrectAnswerID = &answerID
		question.ResolvedAtSeconds = resolvedAt

		payout, err := sumStakes(tx, questionID)
		if err != nil {
			return nil, s.fail(opMarkAnswerAsCorrect, reasonQueryFailed, err, zap.Int64("question_id", questionID))
		}
		if payout != question.Amount {
			return nil, s.fail(opMarkAnswerAsCorrect, reasonEscrowDiverged, errEscrowMismatch,
				zap.Int64("question_id", questionID),
				zap.Int64("staked", payout),
				zap.Int64("recorded", question.Amount))
		}

		if payout > 0 {
			if err := ledger.Transfer(ctx, s.escrow.String(), answer.Author.String(), payout); err != nil {
				return nil, s.tokenFailure(opMarkAnswerAsCorrect, err,
					zap.Int64("question_id", questionID),
					zap.Int64("payout", payout))
			}
		}
		if err := s.adjustReputation(tx, answer.Author, 1); err != nil {
			return nil, s.fail(opMarkAnswerAsCorrect, reasonUpdateFailed, err, zap.String("account", answer.Author.String()))
		}

		resolution = Resolution{Question: question, Answer: answer, Payout: payout}
		s.logger.Info("question resolved",
			zap.Int64("question_id", questionID),
			zap.Int64("answer_id", answerID),
			zap.String("recipient", answer.Author.String()),
			zap.Int64("payout", payout))
		return []Event{{
			Type:       EventQuestionResolved,
			Recipients: recipients(answer.Author, question.Author),
			ForumID:    question.ForumID,
			QuestionID: questionID,
			AnswerID:   answerID,
			Actor:      caller,
			Amount:     payout,
			OccurredAt: time.Unix(resolvedAt, 0).UTC(),
		}}, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	if s.observer != nil {
		s.observer.ObserveValue(FlowPaidOut, resolution.Payout)
	}
	return resolution, nil
}
