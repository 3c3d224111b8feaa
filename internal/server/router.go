package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/accounts"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	accountContextKey        = "bountyboard_account"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAccountResolver  = errors.New("account resolver dependency required")
	errMissingRegistryService  = errors.New("registry service dependency required")
	errMissingTokenLedger      = errors.New("token ledger dependency required")
)

// SessionValidator authenticates a request from its bearer header or session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AccountResolver maps validated session claims to a registry account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, claims auth.SessionClaims) (registry.Account, error)
}

type Dependencies struct {
	SessionValidator  SessionValidator
	Accounts          AccountResolver
	Registry          *registry.Service
	Tokens            *tokens.Ledger
	Realtime          *RealtimeDispatcher
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountResolver
	}
	if deps.Registry == nil {
		return nil, errMissingRegistryService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenLedger
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		accounts:  deps.Accounts,
		registry:  deps.Registry,
		tokens:    deps.Tokens,
		realtime:  realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/registry", handler.handleRegistryInfo)
	router.GET("/forums", handler.handleListForums)
	router.GET("/forums/:id", handler.handleGetForum)
	router.GET("/questions", handler.handleListQuestions)
	router.GET("/questions/:id", handler.handleGetQuestion)
	router.GET("/questions/:id/answers", handler.handleListAnswers)
	router.GET("/questions/:id/stakes/total", handler.handleTotalStaked)
	router.GET("/questions/:id/stakes/:account", handler.handleStakedAmount)
	router.GET("/answers/:id", handler.handleGetAnswer)
	router.GET("/reputation/:account", handler.handleReputation)
	router.GET("/tokens/balances/:account", handler.handleTokenBalance)
	router.GET("/tokens/transfers/:account", handler.handleTokenTransfers)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.PUT("/registry/operator", handler.handleTransferOperator)
	protected.POST("/forums", handler.handleCreateForum)
	protected.PUT("/forums/:id", handler.handleUpdateForum)
	protected.DELETE("/forums/:id", handler.handleDeleteForum)
	protected.POST("/questions", handler.handleAskQuestion)
	protected.POST("/questions/:id/stakes", handler.handleStake)
	protected.POST("/questions/:id/answers", handler.handleSubmitAnswer)
	protected.POST("/questions/:id/resolution", handler.handleResolve)
	protected.POST("/answers/:id/votes", handler.handleVote)
	protected.POST("/tokens/approvals", handler.handleApprove)
	protected.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions  SessionValidator
	accounts  AccountResolver
	registry  *registry.Service
	tokens    *tokens.Ledger
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := h.accounts.ResolveAccount(c.Request.Context(), claims)
	switch {
	case err == nil:
	case errors.Is(err, accounts.ErrUnboundIdentity):
		h.logger.Info("session has no bound wallet", zap.String("subject", claims.Subject))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unbound_identity"})
		return
	case errors.Is(err, accounts.ErrInvalidIdentity), errors.Is(err, registry.ErrInvalidInput):
		h.logger.Warn("session identity rejected", zap.String("subject", claims.Subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	default:
		h.logger.Error("failed to resolve account", zap.String("subject", claims.Subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	c.Set(accountContextKey, account)
	c.Next()
}

func callerAccount(c *gin.Context) registry.Account {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return ""
	}
	account, _ := value.(registry.Account)
	return account
}

// respondError maps a registry error kind onto its HTTP status.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := registry.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "access_denied":
		status = http.StatusForbidden
	case "invalid_amount", "invalid_input":
		status = http.StatusBadRequest
	case "not_found", "answer_mismatch":
		status = http.StatusNotFound
	case "question_resolved", "already_voted", "forum_deleted":
		status = http.StatusConflict
	case "insufficient_funds", "insufficient_allowance":
		status = http.StatusPaymentRequired
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": kind, "code": registry.Code(err)})
}

func respondInvalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
