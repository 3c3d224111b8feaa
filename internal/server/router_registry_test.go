package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

type pageBody[T any] struct {
	Items       []T   `json:"items"`
	TotalCount  int64 `json:"total_count"`
	HasNextPage bool  `json:"has_next_page"`
}

func TestRegistryLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	operatorToken := server.tokenFor(t, testOperatorAddress)
	aliceToken := server.tokenFor(t, testAliceAddress)
	bobToken := server.tokenFor(t, testBobAddress)
	carolToken := server.tokenFor(t, testCarolAddress)
	server.fund(t, testAliceAddress, 100)
	server.fund(t, testCarolAddress, 40)

	recorder := server.do(t, http.MethodPost, "/forums", operatorToken, map[string]any{"name": "Go", "icon_cid": "bafy-icon"})
	expectStatus(t, recorder, http.StatusCreated)
	forum := decodeBody[forumPayload](t, recorder)
	if forum.ForumID != 1 || forum.Name != "Go" {
		t.Fatalf("unexpected forum %+v", forum)
	}

	recorder = server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id":        forum.ForumID,
		"title":           "How do I drain a channel?",
		"description_cid": "bafy-description",
		"repo_url":        "https://example.com/repo",
		"tags":            []string{"go", "channels"},
		"stake_amount":    60,
	})
	expectStatus(t, recorder, http.StatusCreated)
	question := decodeBody[questionPayload](t, recorder)
	if question.QuestionID != 1 || question.Amount != 60 || question.Status != "open" {
		t.Fatalf("unexpected question %+v", question)
	}

	recorder = server.do(t, http.MethodPost, "/questions/1/stakes", carolToken, map[string]any{"amount": 40})
	expectStatus(t, recorder, http.StatusOK)
	stake := decodeBody[stakePayload](t, recorder)
	if stake.Amount != 40 || stake.Staker != testCarolAddress {
		t.Fatalf("unexpected stake %+v", stake)
	}

	recorder = server.do(t, http.MethodPost, "/questions/1/answers", bobToken, map[string]any{"content_cid": "bafy-answer"})
	expectStatus(t, recorder, http.StatusCreated)
	answer := decodeBody[answerPayload](t, recorder)
	if answer.AnswerID != 1 || answer.Author != testBobAddress {
		t.Fatalf("unexpected answer %+v", answer)
	}

	recorder = server.do(t, http.MethodPost, "/answers/1/votes", carolToken, map[string]any{"upvote": true})
	expectStatus(t, recorder, http.StatusOK)
	if voted := decodeBody[answerPayload](t, recorder); voted.Upvotes != 1 {
		t.Fatalf("expected one upvote, got %+v", voted)
	}

	recorder = server.do(t, http.MethodGet, "/questions/1/stakes/total", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	if total := decodeBody[map[string]int64](t, recorder); total["amount"] != 100 {
		t.Fatalf("unexpected total stake %v", total)
	}

	recorder = server.do(t, http.MethodPost, "/questions/1/resolution", aliceToken, map[string]any{"answer_id": 1})
	expectStatus(t, recorder, http.StatusOK)
	resolution := decodeBody[resolutionPayload](t, recorder)
	if resolution.Payout != 100 || resolution.Question.Status != "resolved" {
		t.Fatalf("unexpected resolution %+v", resolution)
	}
	if resolution.Question.CorrectAnswerID == nil || *resolution.Question.CorrectAnswerID != 1 {
		t.Fatalf("expected correct answer 1, got %v", resolution.Question.CorrectAnswerID)
	}

	recorder = server.do(t, http.MethodGet, "/tokens/balances/"+testBobAddress, "", nil)
	expectStatus(t, recorder, http.StatusOK)
	if balance := decodeBody[map[string]any](t, recorder); balance["balance"] != float64(100) {
		t.Fatalf("expected bob to hold the payout, got %v", balance)
	}

	recorder = server.do(t, http.MethodGet, "/reputation/"+testBobAddress, "", nil)
	expectStatus(t, recorder, http.StatusOK)
	if reputation := decodeBody[map[string]any](t, recorder); reputation["reputation"] != float64(2) {
		t.Fatalf("expected upvote plus resolution reputation, got %v", reputation)
	}

	recorder = server.do(t, http.MethodGet, "/registry", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	info := decodeBody[map[string]any](t, recorder)
	if info["escrow_balance"] != float64(0) || info["last_question_id"] != float64(1) || info["last_answer_id"] != float64(1) {
		t.Fatalf("unexpected registry info %v", info)
	}

	recorder = server.do(t, http.MethodPost, "/questions/1/resolution", aliceToken, map[string]any{"answer_id": 1})
	expectError(t, recorder, http.StatusConflict, "question_resolved")

	recorder = server.do(t, http.MethodGet, "/tokens/transfers/"+testBobAddress+"?limit=5", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	transfers := decodeBody[struct {
		Transfers []transferPayload `json:"transfers"`
	}](t, recorder)
	if len(transfers.Transfers) != 1 || transfers.Transfers[0].Amount != 100 || transfers.Transfers[0].To != testBobAddress {
		t.Fatalf("unexpected transfers %+v", transfers.Transfers)
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	server := newTestServer(t)
	operatorToken := server.tokenFor(t, testOperatorAddress)
	aliceToken := server.tokenFor(t, testAliceAddress)
	bobToken := server.tokenFor(t, testBobAddress)
	server.fund(t, testAliceAddress, 10)

	body := expectError(t, server.do(t, http.MethodPost, "/forums", aliceToken, map[string]any{"name": "Go"}), http.StatusForbidden, "access_denied")
	if !strings.HasPrefix(body.Code, "registry.create_forum.") {
		t.Fatalf("expected a registry code, got %q", body.Code)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/forums", operatorToken, map[string]any{"name": "Go"}), http.StatusCreated)

	expectError(t, server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id": 1, "title": "Zero stake", "stake_amount": 0,
	}), http.StatusBadRequest, "invalid_amount")

	expectError(t, server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id": 1, "title": "Too rich", "stake_amount": 11,
	}), http.StatusPaymentRequired, "insufficient_allowance")

	expectStatus(t, server.do(t, http.MethodPost, "/tokens/approvals", aliceToken, map[string]any{"amount": 50}), http.StatusOK)
	expectError(t, server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id": 1, "title": "Too rich", "stake_amount": 11,
	}), http.StatusPaymentRequired, "insufficient_funds")

	expectError(t, server.do(t, http.MethodGet, "/questions/42", "", nil), http.StatusNotFound, "not_found")
	expectError(t, server.do(t, http.MethodGet, "/questions/abc", "", nil), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodGet, "/reputation/not-an-address", "", nil), http.StatusBadRequest, "invalid_input")

	expectStatus(t, server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id": 1, "title": "Valid", "stake_amount": 5,
	}), http.StatusCreated)

	expectError(t, server.do(t, http.MethodPost, "/questions/1/answers", bobToken, map[string]any{
		"content_cid": "has whitespace",
	}), http.StatusBadRequest, "invalid_request")

	expectStatus(t, server.do(t, http.MethodPost, "/questions/1/answers", bobToken, map[string]any{
		"content_cid": "bafy-answer",
	}), http.StatusCreated)
	expectStatus(t, server.do(t, http.MethodPost, "/answers/1/votes", aliceToken, map[string]any{"upvote": false}), http.StatusOK)
	expectError(t, server.do(t, http.MethodPost, "/answers/1/votes", aliceToken, map[string]any{"upvote": true}), http.StatusConflict, "already_voted")
	expectError(t, server.do(t, http.MethodPost, "/answers/1/votes", aliceToken, map[string]any{}), http.StatusBadRequest, "invalid_request")

	expectError(t, server.do(t, http.MethodPost, "/questions/1/resolution", bobToken, map[string]any{"answer_id": 1}), http.StatusForbidden, "access_denied")

	expectStatus(t, server.do(t, http.MethodDelete, "/forums/1", operatorToken, nil), http.StatusNoContent)
	expectError(t, server.do(t, http.MethodPost, "/questions", aliceToken, map[string]any{
		"forum_id": 1, "title": "Late", "stake_amount": 1,
	}), http.StatusConflict, "forum_deleted")
}

func TestListingsPaginate(t *testing.T) {
	server := newTestServer(t)
	operatorToken := server.tokenFor(t, testOperatorAddress)
	for _, name := range []string{"Go", "Rust", "Zig"} {
		expectStatus(t, server.do(t, http.MethodPost, "/forums", operatorToken, map[string]any{"name": name}), http.StatusCreated)
	}

	recorder := server.do(t, http.MethodGet, "/forums?page_size=2&page=1", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	first := decodeBody[pageBody[forumPayload]](t, recorder)
	if len(first.Items) != 2 || first.TotalCount != 3 || !first.HasNextPage || first.Items[0].Name != "Go" {
		t.Fatalf("unexpected first page %+v", first)
	}

	recorder = server.do(t, http.MethodGet, "/forums?page_size=2&page=2", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	second := decodeBody[pageBody[forumPayload]](t, recorder)
	if len(second.Items) != 1 || second.HasNextPage || second.Items[0].Name != "Zig" {
		t.Fatalf("unexpected second page %+v", second)
	}

	recorder = server.do(t, http.MethodGet, "/forums?page_size=0", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	empty := decodeBody[pageBody[forumPayload]](t, recorder)
	if len(empty.Items) != 0 || empty.TotalCount != 3 {
		t.Fatalf("unexpected empty page %+v", empty)
	}

	recorder = server.do(t, http.MethodGet, "/forums?page_size=2&page=4611686018427387905", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	beyond := decodeBody[pageBody[forumPayload]](t, recorder)
	if len(beyond.Items) != 0 || beyond.HasNextPage || beyond.TotalCount != 3 {
		t.Fatalf("expected an empty page far past the end, got %+v", beyond)
	}

	expectError(t, server.do(t, http.MethodGet, "/forums?page=0", "", nil), http.StatusBadRequest, "invalid_request")
}

func TestApprovalDefaultsToEscrow(t *testing.T) {
	server := newTestServer(t)
	aliceToken := server.tokenFor(t, testAliceAddress)

	recorder := server.do(t, http.MethodPost, "/tokens/approvals", aliceToken, map[string]any{"amount": 25})
	expectStatus(t, recorder, http.StatusOK)

	allowance, err := server.ledger.Allowance(context.Background(), testAliceAddress, server.escrow.String())
	if err != nil {
		t.Fatalf("allowance lookup failed: %v", err)
	}
	if allowance != 25 {
		t.Fatalf("expected allowance 25, got %d", allowance)
	}

	expectError(t, server.do(t, http.MethodPost, "/tokens/approvals", aliceToken, map[string]any{"amount": -1}), http.StatusBadRequest, "invalid_request")
}

func TestEscrowAccountIsRefusedAsStaker(t *testing.T) {
	server := newTestServer(t)
	operatorToken := server.tokenFor(t, testOperatorAddress)
	escrowToken := server.tokenFor(t, testEscrowAddress)
	expectStatus(t, server.do(t, http.MethodPost, "/forums", operatorToken, map[string]any{"name": "Go"}), http.StatusCreated)

	expectError(t, server.do(t, http.MethodPost, "/tokens/approvals", escrowToken, map[string]any{"amount": 10}), http.StatusForbidden, "access_denied")
	allowance, err := server.ledger.Allowance(context.Background(), server.escrow.String(), server.escrow.String())
	if err != nil {
		t.Fatalf("allowance lookup failed: %v", err)
	}
	if allowance != 0 {
		t.Fatalf("expected no escrow allowance, got %d", allowance)
	}

	if err := server.ledger.Approve(context.Background(), server.escrow.String(), server.escrow.String(), 10); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	body := expectError(t, server.do(t, http.MethodPost, "/questions", escrowToken, map[string]any{
		"forum_id": 1, "title": "Self-funded", "stake_amount": 10,
	}), http.StatusForbidden, "access_denied")
	if body.Code != "registry.ask_question.escrow_staker" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestMetricsEndpointExposesLedgerCounters(t *testing.T) {
	server := newTestServer(t)
	operatorToken := server.tokenFor(t, testOperatorAddress)
	expectStatus(t, server.do(t, http.MethodPost, "/forums", operatorToken, map[string]any{"name": "Go"}), http.StatusCreated)

	recorder := server.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, recorder, http.StatusOK)
	text := recorder.Body.String()
	if !strings.Contains(text, `bountyboard_ledger_operations_total{operation="registry.create_forum",outcome="ok"} 1`) {
		t.Fatalf("expected create_forum counter in metrics output")
	}
	if !strings.Contains(text, `bountyboard_http_requests_total{method="POST",path="/forums",status="201"} 1`) {
		t.Fatalf("expected http request counter in metrics output")
	}
}
