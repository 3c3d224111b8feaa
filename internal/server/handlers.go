package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultTransferLimit = 50
	maxTransferLimit     = 500
)

func pathID(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		respondInvalidRequest(c)
		return 0, false
	}
	return value, true
}

func (h *httpHandler) pathAccount(c *gin.Context, name string) (registry.Account, bool) {
	account, err := registry.NewAccount(c.Param(name))
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return account, true
}

func (h *httpHandler) handleRegistryInfo(c *gin.Context) {
	ctx := c.Request.Context()
	operator, err := h.registry.Operator(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	lastForumID, err := h.registry.LastForumID(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	lastQuestionID, err := h.registry.LastQuestionID(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	lastAnswerID, err := h.registry.LastAnswerID(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	escrowBalance, err := h.registry.EscrowBalance(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	policy := h.registry.Policy()
	c.JSON(http.StatusOK, gin.H{
		"operator":         operator.String(),
		"escrow_account":   h.registry.EscrowAccount().String(),
		"escrow_balance":   escrowBalance,
		"last_forum_id":    lastForumID,
		"last_question_id": lastQuestionID,
		"last_answer_id":   lastAnswerID,
		"policy": gin.H{
			"allow_answers_after_resolution":    policy.AllowAnswersAfterResolution,
			"downvote_penalty":                  policy.DownvotePenalty,
			"allow_questions_in_deleted_forums": policy.AllowQuestionsInDeletedForums,
		},
	})
}

func (h *httpHandler) handleTransferOperator(c *gin.Context) {
	var request operatorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	next, err := registry.NewAccount(request.Account)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.registry.TransferOperator(c.Request.Context(), callerAccount(c), next); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator": next.String()})
}

func (h *httpHandler) handleListForums(c *gin.Context) {
	var query pageQueryPayload
	if err := c.ShouldBindQuery(&query); err != nil {
		respondInvalidRequest(c)
		return
	}
	page, err := h.registry.GetForums(c.Request.Context(), query.request())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPagePayload(page, newForumPayload))
}

func (h *httpHandler) handleGetForum(c *gin.Context) {
	forumID, ok := pathID(c, "id")
	if !ok {
		return
	}
	forum, err := h.registry.GetForum(c.Request.Context(), forumID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newForumPayload(forum))
}

func (h *httpHandler) handleCreateForum(c *gin.Context) {
	var request forumRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	forum, err := h.registry.CreateForum(c.Request.Context(), callerAccount(c), request.Name, request.IconCID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newForumPayload(forum))
}

func (h *httpHandler) handleUpdateForum(c *gin.Context) {
	forumID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request forumRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	forum, err := h.registry.UpdateForum(c.Request.Context(), callerAccount(c), forumID, request.Name, request.IconCID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newForumPayload(forum))
}

func (h *httpHandler) handleDeleteForum(c *gin.Context) {
	forumID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.registry.DeleteForum(c.Request.Context(), callerAccount(c), forumID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListQuestions(c *gin.Context) {
	var query pageQueryPayload
	if err := c.ShouldBindQuery(&query); err != nil {
		respondInvalidRequest(c)
		return
	}
	page, err := h.registry.GetQuestions(c.Request.Context(), query.ForumID, query.request())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPagePayload(page, newQuestionPayload))
}

func (h *httpHandler) handleGetQuestion(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	question, err := h.registry.GetQuestion(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuestionPayload(question))
}

func (h *httpHandler) handleAskQuestion(c *gin.Context) {
	var request questionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	question, err := h.registry.AskQuestion(c.Request.Context(), callerAccount(c), registry.QuestionDraft{
		ForumID:        request.ForumID,
		Title:          request.Title,
		DescriptionCID: request.DescriptionCID,
		RepoURL:        request.RepoURL,
		Tags:           request.Tags,
		StakeAmount:    request.StakeAmount,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newQuestionPayload(question))
}

func (h *httpHandler) handleStake(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request stakeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	stake, err := h.registry.StakeOnQuestion(c.Request.Context(), callerAccount(c), questionID, request.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStakePayload(stake))
}

func (h *httpHandler) handleTotalStaked(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	total, err := h.registry.GetTotalStakedOnQuestion(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question_id": questionID, "amount": total})
}

func (h *httpHandler) handleStakedAmount(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	staker, ok := h.pathAccount(c, "account")
	if !ok {
		return
	}
	amount, err := h.registry.GetStakedAmount(c.Request.Context(), staker, questionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question_id": questionID, "staker": staker.String(), "amount": amount})
}

func (h *httpHandler) handleListAnswers(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query pageQueryPayload
	if err := c.ShouldBindQuery(&query); err != nil {
		respondInvalidRequest(c)
		return
	}
	page, err := h.registry.GetAnswers(c.Request.Context(), questionID, query.request())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPagePayload(page, newAnswerPayload))
}

func (h *httpHandler) handleSubmitAnswer(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request answerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	answer, err := h.registry.SubmitAnswer(c.Request.Context(), callerAccount(c), questionID, request.ContentCID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAnswerPayload(answer))
}

func (h *httpHandler) handleGetAnswer(c *gin.Context) {
	answerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	answer, err := h.registry.GetAnswer(c.Request.Context(), answerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnswerPayload(answer))
}

func (h *httpHandler) handleVote(c *gin.Context) {
	answerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	answer, err := h.registry.VoteOnAnswer(c.Request.Context(), callerAccount(c), answerID, *request.Upvote)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnswerPayload(answer))
}

func (h *httpHandler) handleResolve(c *gin.Context) {
	questionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request resolutionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	resolution, err := h.registry.MarkAnswerAsCorrect(c.Request.Context(), callerAccount(c), questionID, request.AnswerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolutionPayload{
		Question: newQuestionPayload(resolution.Question),
		Answer:   newAnswerPayload(resolution.Answer),
		Payout:   resolution.Payout,
	})
}

func (h *httpHandler) handleReputation(c *gin.Context) {
	account, ok := h.pathAccount(c, "account")
	if !ok {
		return
	}
	score, err := h.registry.GetUserReputation(c.Request.Context(), account)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account.String(), "reputation": score})
}

func (h *httpHandler) handleTokenBalance(c *gin.Context) {
	account, ok := h.pathAccount(c, "account")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	balance, err := h.tokens.BalanceOf(ctx, account.String())
	if err != nil {
		h.respondTokenError(c, err)
		return
	}
	escrow := h.registry.EscrowAccount()
	allowance, err := h.tokens.Allowance(ctx, account.String(), escrow.String())
	if err != nil {
		h.respondTokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":          account.String(),
		"balance":          balance,
		"escrow_allowance": allowance,
	})
}

func (h *httpHandler) handleTokenTransfers(c *gin.Context) {
	account, ok := h.pathAccount(c, "account")
	if !ok {
		return
	}
	limit := defaultTransferLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTransferLimit {
			respondInvalidRequest(c)
			return
		}
		limit = parsed
	}
	transfers, err := h.tokens.ListTransfers(c.Request.Context(), account.String(), limit)
	if err != nil {
		h.respondTokenError(c, err)
		return
	}
	items := make([]transferPayload, 0, len(transfers))
	for _, transfer := range transfers {
		items = append(items, newTransferPayload(transfer))
	}
	c.JSON(http.StatusOK, gin.H{"account": account.String(), "transfers": items})
}

// handleApprove lets the caller set an allowance, by default for the escrow account.
// The escrow account itself may not grant allowances.
func (h *httpHandler) handleApprove(c *gin.Context) {
	var request approvalRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	spender := h.registry.EscrowAccount()
	if request.Spender != "" {
		parsed, err := registry.NewAccount(request.Spender)
		if err != nil {
			h.respondError(c, err)
			return
		}
		spender = parsed
	}
	owner := callerAccount(c)
	if owner == h.registry.EscrowAccount() {
		h.logger.Info("escrow allowance refused", zap.String("spender", spender.String()))
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return
	}
	if err := h.tokens.Approve(c.Request.Context(), owner.String(), spender.String(), request.Amount); err != nil {
		h.respondTokenError(c, err)
		return
	}
	h.logger.Info("allowance approved",
		zap.String("owner", owner.String()),
		zap.String("spender", spender.String()),
		zap.Int64("amount", request.Amount))
	c.JSON(http.StatusOK, gin.H{"owner": owner.String(), "spender": spender.String(), "amount": request.Amount})
}

func (h *httpHandler) respondTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tokens.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
	case errors.Is(err, tokens.ErrInvalidAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
	default:
		h.logger.Error("token ledger request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
