package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied indicates the caller lacks the role the operation needs, or is the escrow
	// account trying to stake.
	ErrAccessDenied = errors.New("registry: access denied")
	// ErrInvalidAmount indicates a zero or negative stake.
	ErrInvalidAmount = errors.New("registry: amount must be greater than zero")
	// ErrNotFound indicates an unknown forum, question or answer.
	ErrNotFound = errors.New("registry: not found")
	// ErrAnswerMismatch indicates the answer belongs to a different question.
	ErrAnswerMismatch = fmt.Errorf("%w: answer does not belong to question", ErrNotFound)
	// ErrQuestionResolved indicates a mutation against a resolved question.
	ErrQuestionResolved = errors.New("registry: question already resolved")
	// ErrAlreadyVoted indicates the voter already voted on the answer.
	ErrAlreadyVoted = errors.New("registry: already voted")
	// ErrForumDeleted indicates a new question targeted a soft-deleted forum.
	ErrForumDeleted = errors.New("registry: forum deleted")
	// ErrInsufficientFunds indicates the token ledger could not cover a transfer.
	ErrInsufficientFunds = errors.New("registry: insufficient funds")
	// ErrInsufficientAllowance indicates the escrow was not approved to pull the stake.
	ErrInsufficientAllowance = errors.New("registry: insufficient allowance")
	// ErrInvalidInput indicates a malformed request field.
	ErrInvalidInput = errors.New("registry: invalid input")
	// ErrInvalidAccount indicates a malformed or zero account address.
	ErrInvalidAccount = fmt.Errorf("%w: account must be a non-zero hex address", ErrInvalidInput)

	errMissingDatabase    = errors.New("database handle is required")
	errMissingTokenLedger = errors.New("token ledger is required")
	errMissingEscrow      = errors.New("escrow account is required")
	errMissingOperator    = errors.New("operator account is required")
	errEscrowMismatch     = errors.New("recorded stakes diverge from question amount")
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Kind classifies err into one of the caller-facing error kinds; nil yields "ok".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAnswerMismatch):
		return "answer_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrQuestionResolved):
		return "question_resolved"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrForumDeleted):
		return "forum_deleted"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// Code extracts the ServiceError code from err, if any.
func Code(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
