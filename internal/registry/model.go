package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Account identifies a ledger participant by its EIP-55 checksummed address.
type Account string

// NewAccount validates a hex address and returns its checksummed form.
func NewAccount(rawInput string) (Account, error) {
	trimmed := strings.TrimSpace(rawInput)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, rawInput)
	}
	address := common.HexToAddress(trimmed)
	if address == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidAccount)
	}
	return Account(address.Hex()), nil
}

// String returns the checksummed address.
func (a Account) String() string {
	return string(a)
}

// QuestionStatus is the lifecycle state of a question.
type QuestionStatus int

const (
	// QuestionStatusOpen accepts stakes and answers.
	QuestionStatusOpen QuestionStatus = 0
	// QuestionStatusResolved is terminal: a correct answer was chosen and paid.
	QuestionStatusResolved QuestionStatus = 1
)

func (s QuestionStatus) String() string {
	switch s {
	case QuestionStatusOpen:
		return "open"
	case QuestionStatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Forum is an operator-managed topic container. Forums are soft-deleted only.
type Forum struct {
	ID               int64  `gorm:"column:forum_id;primaryKey;autoIncrement:false"`
	Name             string `gorm:"column:name;size:190;not null"`
	IconCID          string `gorm:"column:icon_cid;size:190;not null;default:''"`
	Deleted          bool   `gorm:"column:is_deleted;not null;default:false"`
	TotalQuestions   int64  `gorm:"column:total_questions;not null;default:0"`
	Amount           int64  `gorm:"column:amount;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Forum) TableName() string {
	return "forums"
}

// Question is a staked request for an answer.
type Question struct {
	ID                int64          `gorm:"column:question_id;primaryKey;autoIncrement:false"`
	ForumID           int64          `gorm:"column:forum_id;not null;index:idx_questions_forum"`
	Author            Account        `gorm:"column:author;size:64;not null;index:idx_questions_author"`
	Title             string         `gorm:"column:title;size:512;not null"`
	DescriptionCID    string         `gorm:"column:description_cid;size:190;not null;default:''"`
	RepoURL           string         `gorm:"column:repo_url;size:512;not null;default:''"`
	Tags              []string       `gorm:"column:tags;type:text;serializer:json"`
	Amount            int64          `gorm:"column:amount;not null;default:0"`
	Status            QuestionStatus `gorm:"column:status;not null;default:0"`
	CorrectAnswerID   *int64         `gorm:"column:correct_answer_id"`
	CreatedAtSeconds  int64          `gorm:"column:created_at_s;not null"`
	ResolvedAtSeconds int64          `gorm:"column:resolved_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// Resolved reports whether the question reached its terminal state.
func (q Question) Resolved() bool {
	return q.Status == QuestionStatusResolved
}

// Stake is the cumulative contribution of one staker to one question.
type Stake struct {
	Staker           Account `gorm:"column:staker;primaryKey;size:64;not null"`
	QuestionID       int64   `gorm:"column:question_id;primaryKey;autoIncrement:false;index:idx_stakes_question"`
	Amount           int64   `gorm:"column:amount;not null;default:0"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Stake) TableName() string {
	return "question_stakes"
}

// Answer is a response to a question.
type Answer struct {
	ID               int64   `gorm:"column:answer_id;primaryKey;autoIncrement:false"`
	QuestionID       int64   `gorm:"column:question_id;not null;index:idx_answers_question"`
	Author           Account `gorm:"column:author;size:64;not null;index:idx_answers_author"`
	ContentCID       string  `gorm:"column:content_cid;size:190;not null"`
	Upvotes          int64   `gorm:"column:upvotes;not null;default:0"`
	Downvotes        int64   `gorm:"column:downvotes;not null;default:0"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "answers"
}

// Vote marks that a voter already voted on an answer. Rows are never updated.
type Vote struct {
	Voter            Account `gorm:"column:voter;primaryKey;size:64;not null"`
	AnswerID         int64   `gorm:"column:answer_id;primaryKey;autoIncrement:false"`
	IsUpvote         bool    `gorm:"column:is_upvote;not null"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "answer_votes"
}

// Reputation is the derived score of an account.
type Reputation struct {
	Account          Account `gorm:"column:account;primaryKey;size:64;not null"`
	Score            int64   `gorm:"column:score;not null;default:0"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reputation) TableName() string {
	return "user_reputations"
}

// OperatorRecord stores the single privileged identity.
type OperatorRecord struct {
	Slot             int     `gorm:"column:slot;primaryKey;autoIncrement:false"`
	Account          Account `gorm:"column:account;size:64;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OperatorRecord) TableName() string {
	return "registry_operator"
}

// Models lists the schema owned by the registry.
func Models() []any {
	return []any{
		&Forum{},
		&Question{},
		&Stake{},
		&Answer{},
		&Vote{},
		&Reputation{},
		&OperatorRecord{},
		&idSequence{},
	}
}
