package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testOperatorAddress = "0x00000000000000000000000000000000000000a1"
	testEscrowAddress   = "0x00000000000000000000000000000000000000e5"
	testAliceAddress    = "0x1111111111111111111111111111111111111111"
	testBobAddress      = "0x2222222222222222222222222222222222222222"
	testCarolAddress    = "0x3333333333333333333333333333333333333333"
)

var testClockTime = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	db       *gorm.DB
	service  *Service
	ledger   *tokens.Ledger
	events   *recordingPublisher
	observer *recordingObserver

	operator Account
	escrow   Account
}

type harnessOption func(*ServiceConfig, *tokens.Ledger)

func withPolicy(policy Policy) harnessOption {
	return func(cfg *ServiceConfig, _ *tokens.Ledger) {
		cfg.Policy = policy
	}
}

func withTokenBinder(build func(ledger *tokens.Ledger) TokenLedgerBinder) harnessOption {
	return func(cfg *ServiceConfig, ledger *tokens.Ledger) {
		cfg.Tokens = build(ledger)
	}
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(Models()...))
	require.NoError(t, db.AutoMigrate(tokens.Models()...))
	return db
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	db := newTestDatabase(t)
	clock := func() time.Time { return testClockTime }

	ledger, err := tokens.NewLedger(tokens.LedgerConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: tokens.NewUUIDProvider(),
	})
	require.NoError(t, err)

	events := &recordingPublisher{}
	observer := &recordingObserver{}
	cfg := ServiceConfig{
		Database:      db,
		Tokens:        BindTokenLedger(ledger),
		EscrowAccount: mustAccount(t, testEscrowAddress),
		Operator:      mustAccount(t, testOperatorAddress),
		Clock:         clock,
		Events:        events,
		Observer:      observer,
	}
	for _, option := range options {
		option(&cfg, ledger)
	}

	service, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, service.Bootstrap(context.Background()))

	return &harness{
		db:       db,
		service:  service,
		ledger:   ledger,
		events:   events,
		observer: observer,
		operator: cfg.Operator,
		escrow:   cfg.EscrowAccount,
	}
}

// fund mints amount to account and approves the escrow to pull all of it.
func (h *harness) fund(t *testing.T, account Account, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ledger.Mint(ctx, account.String(), amount))
	allowance, err := h.ledger.Allowance(ctx, account.String(), h.escrow.String())
	require.NoError(t, err)
	require.NoError(t, h.ledger.Approve(ctx, account.String(), h.escrow.String(), allowance+amount))
}

func (h *harness) balance(t *testing.T, account Account) int64 {
	t.Helper()
	balance, err := h.ledger.BalanceOf(context.Background(), account.String())
	require.NoError(t, err)
	return balance
}

func (h *harness) mustForum(t *testing.T, name string) Forum {
	t.Helper()
	forum, err := h.service.CreateForum(context.Background(), h.operator, name, "bafy-icon")
	require.NoError(t, err)
	return forum
}

func (h *harness) mustQuestion(t *testing.T, author Account, forumID int64, title string, stake int64) Question {
	t.Helper()
	question, err := h.service.AskQuestion(context.Background(), author, QuestionDraft{
		ForumID:        forumID,
		Title:          title,
		DescriptionCID: "bafy-description",
		RepoURL:        "https://example.com/repo",
		Tags:           []string{"go", "testing"},
		StakeAmount:    stake,
	})
	require.NoError(t, err)
	return question
}

func (h *harness) mustAnswer(t *testing.T, author Account, questionID int64) Answer {
	t.Helper()
	answer, err := h.service.SubmitAnswer(context.Background(), author, questionID, "bafy-answer")
	require.NoError(t, err)
	return answer
}

func mustAccount(t *testing.T, raw string) Account {
	t.Helper()
	account, err := NewAccount(raw)
	require.NoError(t, err)
	return account
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishLedgerEvent(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type recordingObserver struct {
	mu         sync.Mutex
	operations map[string][]string
	flows      map[string]int64
}

func (o *recordingObserver) ObserveOperation(operation string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.operations == nil {
		o.operations = make(map[string][]string)
	}
	o.operations[operation] = append(o.operations[operation], Kind(err))
}

func (o *recordingObserver) ObserveValue(flow string, amount int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flows == nil {
		o.flows = make(map[string]int64)
	}
	o.flows[flow] += amount
}

func (o *recordingObserver) flow(name string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flows[name]
}

func (o *recordingObserver) outcomes(operation string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.operations[operation]...)
}
