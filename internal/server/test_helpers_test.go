package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/accounts"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/database"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret   = "test-signing-secret"
	testIssuer          = "bountyboard"
	testCookieName      = "app_session"
	testOperatorAddress = "0x00000000000000000000000000000000000000A1"
	testEscrowAddress   = "0x00000000000000000000000000000000000000E5"
	testAliceAddress    = "0x1111111111111111111111111111111111111111"
	testBobAddress      = "0x2222222222222222222222222222222222222222"
	testCarolAddress    = "0x3333333333333333333333333333333333333333"
)

type testServer struct {
	handler  http.Handler
	issuer   *auth.TokenIssuer
	ledger   *tokens.Ledger
	service  *registry.Service
	realtime *RealtimeDispatcher
	metrics  *metrics.Metrics
	escrow   registry.Account
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	ledger, err := tokens.NewLedger(tokens.LedgerConfig{Database: db, IDProvider: tokens.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct token ledger: %v", err)
	}

	operator, err := registry.NewAccount(testOperatorAddress)
	if err != nil {
		t.Fatalf("invalid operator: %v", err)
	}
	escrow, err := registry.NewAccount(testEscrowAddress)
	if err != nil {
		t.Fatalf("invalid escrow: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	collectors := metrics.New()
	service, err := registry.NewService(registry.ServiceConfig{
		Database:      db,
		Tokens:        registry.BindTokenLedger(ledger),
		EscrowAccount: escrow,
		Operator:      operator,
		Events:        realtime,
		Observer:      collectors,
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	if err := service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap registry: %v", err)
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct account service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  validator,
		Accounts:          accountService,
		Registry:          service,
		Tokens:            ledger,
		Realtime:          realtime,
		Metrics:           collectors,
		Logger:            zap.NewNop(),
		HeartbeatInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:  handler,
		issuer:   issuer,
		ledger:   ledger,
		service:  service,
		realtime: realtime,
		metrics:  collectors,
		escrow:   escrow,
	}
}

// tokenFor issues a session token bound to wallet.
func (s *testServer) tokenFor(t *testing.T, wallet string) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(context.Background(), auth.SessionClaims{
		UserID:        "user-" + strings.ToLower(wallet[len(wallet)-4:]),
		WalletAddress: wallet,
	})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

// fund mints amount to wallet and approves the escrow for all of it.
func (s *testServer) fund(t *testing.T, wallet string, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := s.ledger.Mint(ctx, wallet, amount); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := s.ledger.Approve(ctx, wallet, s.escrow.String(), amount); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, kind string) errorBody {
	t.Helper()
	expectStatus(t, recorder, status)
	body := decodeBody[errorBody](t, recorder)
	if body.Error != kind {
		t.Fatalf("expected error %q, got %q (code %q)", kind, body.Error, body.Code)
	}
	return body
}
