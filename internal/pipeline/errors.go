package pipeline

import (
	"errors"
	"fmt"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/guard"
)

// Kind classifies every way a submission can fail.
type Kind string

const (
	KindEmptySubmission      Kind = "EMPTY_SUBMISSION"
	KindInvalidSubmission    Kind = "INVALID_SUBMISSION"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindSubmissionInProgress Kind = "SUBMISSION_IN_PROGRESS"
	KindTransportFailure     Kind = "TRANSPORT_FAILURE"
	KindNormalization        Kind = "NORMALIZATION_ERROR"
	KindPersistence          Kind = "PERSISTENCE_ERROR"
	KindCredit               Kind = "CREDIT_ERROR"
	KindInternal             Kind = "INTERNAL_ERROR"
)

var (
	ErrEmptySubmission      = guard.ErrEmptySubmission
	ErrInvalidSubmission    = guard.ErrInvalidSubmission
	ErrRateLimited          = guard.ErrRateLimited
	ErrSubmissionInProgress = guard.ErrSubmissionInProgress
	ErrTransportFailure     = analysis.ErrTransport
	ErrNormalization        = analysis.ErrNormalization
	ErrPersistence          = errors.New("document not archived")
	ErrCredit               = errors.New("credit not debited")
)

// Error is a classified pipeline failure. errors.Is reaches both the
// sentinel for its kind and the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// classify maps a guard, transport or normalization error to its kind.
func classify(err error) *Error {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr
	}
	switch {
	case errors.Is(err, ErrEmptySubmission):
		return newError(KindEmptySubmission, err)
	case errors.Is(err, ErrInvalidSubmission):
		return newError(KindInvalidSubmission, err)
	case errors.Is(err, ErrRateLimited):
		return newError(KindRateLimited, err)
	case errors.Is(err, ErrSubmissionInProgress):
		return newError(KindSubmissionInProgress, err)
	case errors.Is(err, ErrTransportFailure):
		return newError(KindTransportFailure, err)
	case errors.Is(err, ErrNormalization):
		return newError(KindNormalization, err)
	case errors.Is(err, ErrPersistence):
		return newError(KindPersistence, err)
	case errors.Is(err, ErrCredit):
		return newError(KindCredit, err)
	default:
		return newError(KindInternal, err)
	}
}

// KindOf reports the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return classify(err).Kind
}
