package registry

import "time"

// EventType names a committed ledger change.
type EventType string

const (
	EventAnswerSubmitted  EventType = "answer-submitted"
	EventStakeAdded       EventType = "stake-added"
	EventQuestionResolved EventType = "question-resolved"
)

// Event describes a committed change and the accounts it concerns.
type Event struct {
	Type       EventType
	Recipients []Account
	ForumID    int64
	QuestionID int64
	AnswerID   int64
	Actor      Account
	Amount     int64
	OccurredAt time.Time
}

func recipients(accounts ...Account) []Account {
	seen := make(map[Account]struct{}, len(accounts))
	unique := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		if account == "" {
			continue
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		unique = append(unique, account)
	}
	return unique
}
