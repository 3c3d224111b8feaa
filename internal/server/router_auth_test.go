package server

import (
	contextpkg "context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/accounts"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/questions", http.NoBody)
	request.Header.Set("Authorization", "Bearer some-token")
	ctx.Request = request
	return ctx, recorder
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	ctx, recorder := newAuthTestContext(t)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		accounts: stubAccountResolver{},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	ctx, recorder := newAuthTestContext(t)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrInvalidSessionToken},
		accounts: stubAccountResolver{},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestRejectsUnboundIdentity(t *testing.T) {
	ctx, recorder := newAuthTestContext(t)

	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1"}},
		accounts: stubAccountResolver{err: accounts.ErrUnboundIdentity},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusForbidden)
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected the request to be aborted")
	}
}

func TestAuthorizeRequestStoresResolvedAccount(t *testing.T) {
	ctx, _ := newAuthTestContext(t)

	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1"}},
		accounts: stubAccountResolver{account: registry.Account(testAliceAddress)},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected the request to continue")
	}
	if got := callerAccount(ctx); got != registry.Account(testAliceAddress) {
		t.Fatalf("unexpected caller account %q", got)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/forums", "", map[string]any{"name": "go"})
	expectError(t, recorder, http.StatusUnauthorized, "unauthorized")

	recorder = server.do(t, http.MethodPost, "/forums", "not-a-jwt", map[string]any{"name": "go"})
	expectError(t, recorder, http.StatusUnauthorized, "unauthorized")
}

func TestSessionCookieAuthenticates(t *testing.T) {
	server := newTestServer(t)
	token := server.tokenFor(t, testOperatorAddress)

	request := httptest.NewRequest(http.MethodDelete, "/forums/1", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)

	expectError(t, recorder, http.StatusNotFound, "not_found")
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubAccountResolver struct {
	account registry.Account
	err     error
}

func (s stubAccountResolver) ResolveAccount(contextpkg.Context, auth.SessionClaims) (registry.Account, error) {
	return s.account, s.err
}
