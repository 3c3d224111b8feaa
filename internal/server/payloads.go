package server

import (
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
)

type forumRequestPayload struct {
	Name    string `json:"name" binding:"required,max=190"`
	IconCID string `json:"icon_cid" binding:"omitempty,cid"`
}

type questionRequestPayload struct {
	ForumID        int64    `json:"forum_id" binding:"required,min=1"`
	Title          string   `json:"title" binding:"required,max=512"`
	DescriptionCID string   `json:"description_cid" binding:"omitempty,cid"`
	RepoURL        string   `json:"repo_url" binding:"omitempty,url,max=512"`
	Tags           []string `json:"tags" binding:"max=16,dive,max=64"`
	StakeAmount    int64    `json:"stake_amount"`
}

type stakeRequestPayload struct {
	Amount int64 `json:"amount"`
}

type answerRequestPayload struct {
	ContentCID string `json:"content_cid" binding:"required,cid"`
}

type resolutionRequestPayload struct {
	AnswerID int64 `json:"answer_id" binding:"required,min=1"`
}

type voteRequestPayload struct {
	Upvote *bool `json:"upvote" binding:"required"`
}

type approvalRequestPayload struct {
	Spender string `json:"spender" binding:"omitempty,account"`
	Amount  int64  `json:"amount" binding:"min=0"`
}

type operatorRequestPayload struct {
	Account string `json:"account" binding:"required,account"`
}

type pageQueryPayload struct {
	PageSize *int  `form:"page_size" binding:"omitempty,min=0,max=100"`
	Page     *int  `form:"page" binding:"omitempty,min=1"`
	ForumID  int64 `form:"forum_id" binding:"omitempty,min=0"`
}

const (
	defaultPageSize   = 20
	defaultPageNumber = 1
)

func (p pageQueryPayload) request() registry.PageRequest {
	request := registry.PageRequest{Size: defaultPageSize, Number: defaultPageNumber}
	if p.PageSize != nil {
		request.Size = *p.PageSize
	}
	if p.Page != nil {
		request.Number = *p.Page
	}
	return request
}

type pagePayload[T any] struct {
	Items       []T   `json:"items"`
	TotalCount  int64 `json:"total_count"`
	HasNextPage bool  `json:"has_next_page"`
}

func toPagePayload[S, T any](page registry.Page[S], convert func(S) T) pagePayload[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return pagePayload[T]{Items: items, TotalCount: page.TotalCount, HasNextPage: page.HasNextPage}
}

type forumPayload struct {
	ForumID          int64  `json:"forum_id"`
	Name             string `json:"name"`
	IconCID          string `json:"icon_cid"`
	IsDeleted        bool   `json:"is_deleted"`
	TotalQuestions   int64  `json:"total_questions"`
	Amount           int64  `json:"amount"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func newForumPayload(forum registry.Forum) forumPayload {
	return forumPayload{
		ForumID:          forum.ID,
		Name:             forum.Name,
		IconCID:          forum.IconCID,
		IsDeleted:        forum.Deleted,
		TotalQuestions:   forum.TotalQuestions,
		Amount:           forum.Amount,
		CreatedAtSeconds: forum.CreatedAtSeconds,
		UpdatedAtSeconds: forum.UpdatedAtSeconds,
	}
}

type questionPayload struct {
	QuestionID        int64    `json:"question_id"`
	ForumID           int64    `json:"forum_id"`
	Author            string   `json:"author"`
	Title             string   `json:"title"`
	DescriptionCID    string   `json:"description_cid"`
	RepoURL           string   `json:"repo_url"`
	Tags              []string `json:"tags"`
	Amount            int64    `json:"amount"`
	Status            string   `json:"status"`
	CorrectAnswerID   *int64   `json:"correct_answer_id"`
	CreatedAtSeconds  int64    `json:"created_at_s"`
	ResolvedAtSeconds int64    `json:"resolved_at_s"`
}

func newQuestionPayload(question registry.Question) questionPayload {
	tags := question.Tags
	if tags == nil {
		tags = []string{}
	}
	return questionPayload{
		QuestionID:        question.ID,
		ForumID:           question.ForumID,
		Author:            question.Author.String(),
		Title:             question.Title,
		DescriptionCID:    question.DescriptionCID,
		RepoURL:           question.RepoURL,
		Tags:              tags,
		Amount:            question.Amount,
		Status:            question.Status.String(),
		CorrectAnswerID:   question.CorrectAnswerID,
		CreatedAtSeconds:  question.CreatedAtSeconds,
		ResolvedAtSeconds: question.ResolvedAtSeconds,
	}
}

type answerPayload struct {
	AnswerID         int64  `json:"answer_id"`
	QuestionID       int64  `json:"question_id"`
	Author           string `json:"author"`
	ContentCID       string `json:"content_cid"`
	Upvotes          int64  `json:"upvotes"`
	Downvotes        int64  `json:"downvotes"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func newAnswerPayload(answer registry.Answer) answerPayload {
	return answerPayload{
		AnswerID:         answer.ID,
		QuestionID:       answer.QuestionID,
		Author:           answer.Author.String(),
		ContentCID:       answer.ContentCID,
		Upvotes:          answer.Upvotes,
		Downvotes:        answer.Downvotes,
		CreatedAtSeconds: answer.CreatedAtSeconds,
	}
}

type stakePayload struct {
	QuestionID       int64  `json:"question_id"`
	Staker           string `json:"staker"`
	Amount           int64  `json:"amount"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func newStakePayload(stake registry.Stake) stakePayload {
	return stakePayload{
		QuestionID:       stake.QuestionID,
		Staker:           stake.Staker.String(),
		Amount:           stake.Amount,
		UpdatedAtSeconds: stake.UpdatedAtSeconds,
	}
}

type resolutionPayload struct {
	Question questionPayload `json:"question"`
	Answer   answerPayload   `json:"answer"`
	Payout   int64           `json:"payout"`
}

type transferPayload struct {
	TransferID       string `json:"transfer_id"`
	Kind             string `json:"kind"`
	Spender          string `json:"spender,omitempty"`
	From             string `json:"from"`
	To               string `json:"to"`
	Amount           int64  `json:"amount"`
	AppliedAtSeconds int64  `json:"applied_at_s"`
}

func newTransferPayload(transfer tokens.Transfer) transferPayload {
	return transferPayload{
		TransferID:       transfer.TransferID,
		Kind:             string(transfer.Kind),
		Spender:          transfer.Spender,
		From:             transfer.FromAccount,
		To:               transfer.ToAccount,
		Amount:           transfer.Amount,
		AppliedAtSeconds: transfer.AppliedAtSeconds,
	}
}

type realtimeEventPayload struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	ForumID    int64  `json:"forum_id,omitempty"`
	QuestionID int64  `json:"question_id,omitempty"`
	AnswerID   int64  `json:"answer_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}
