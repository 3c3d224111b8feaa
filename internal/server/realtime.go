package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/google/uuid"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "bountyboard"
	realtimeBufferSize     = 16
)

// RealtimeMessage is one ledger event addressed to a single account.
type RealtimeMessage struct {
	ID         string
	Account    registry.Account
	EventType  string
	ForumID    int64
	QuestionID int64
	AnswerID   int64
	Actor      registry.Account
	Amount     int64
	Timestamp  time.Time
}

// RealtimeDispatcher fans committed ledger events out to per-account subscribers.
// Slow subscribers drop messages instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[registry.Account]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[registry.Account]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for account until ctx ends or the cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, account registry.Account) (<-chan RealtimeMessage, func()) {
	if account == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(account, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(account, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishLedgerEvent delivers event to every recipient account.
func (d *RealtimeDispatcher) PublishLedgerEvent(event registry.Event) {
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	eventID := uuid.NewString()
	for _, recipient := range event.Recipients {
		d.Publish(RealtimeMessage{
			ID:         eventID,
			Account:    recipient,
			EventType:  string(event.Type),
			ForumID:    event.ForumID,
			QuestionID: event.QuestionID,
			AnswerID:   event.AnswerID,
			Actor:      event.Actor,
			Amount:     event.Amount,
			Timestamp:  timestamp,
		})
	}
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Account == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Account]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the open streams for account.
func (d *RealtimeDispatcher) SubscriberCount(account registry.Account) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[account])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(account registry.Account, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[account]; !ok {
		d.subscribers[account] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[account][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(account registry.Account, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[account]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, account)
		}
	}
	d.mu.Unlock()
}
