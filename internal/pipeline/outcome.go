package pipeline

import (
	"time"

	"artiklo/api/internal/analysis"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusInFlight  Status = "in_flight"
	StatusSucceeded Status = "succeeded"
	StatusDegraded  Status = "degraded"
	StatusFailed    Status = "failed"
)

// Outcome is the state of one session's latest submission. Exactly one of
// Idle, InFlight, Succeeded, Degraded or Failed.
type Outcome interface {
	Status() Status
	isOutcome()
}

type Idle struct{}

type InFlight struct {
	Since time.Time
}

// Succeeded carries a result normalized from a service response.
type Succeeded struct {
	Result     analysis.Result
	Schema     analysis.Schema
	DocumentID string
	Notices    []Notice
}

// Degraded carries a locally synthesized result after the service failed.
type Degraded struct {
	Result     analysis.Result
	Cause      *Error
	DocumentID string
	Notices    []Notice
}

type Failed struct {
	Err     *Error
	Notices []Notice
}

func (Idle) Status() Status      { return StatusIdle }
func (InFlight) Status() Status  { return StatusInFlight }
func (Succeeded) Status() Status { return StatusSucceeded }
func (Degraded) Status() Status  { return StatusDegraded }
func (Failed) Status() Status    { return StatusFailed }

func (Idle) isOutcome()      {}
func (InFlight) isOutcome()  {}
func (Succeeded) isOutcome() {}
func (Degraded) isOutcome()  {}
func (Failed) isOutcome()    {}

// OutcomeBody is the wire form of an Outcome.
type OutcomeBody struct {
	Status     Status           `json:"status"`
	Result     *analysis.Result `json:"result,omitempty"`
	Schema     analysis.Schema  `json:"schema,omitempty"`
	DocumentID string           `json:"documentId,omitempty"`
	Error      *ErrorBody       `json:"error,omitempty"`
	Notices    []Notice         `json:"notices"`
}

type ErrorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func Encode(o Outcome) OutcomeBody {
	body := OutcomeBody{Status: StatusIdle, Notices: []Notice{}}
	if o == nil {
		return body
	}
	body.Status = o.Status()
	switch v := o.(type) {
	case Succeeded:
		result := v.Result
		body.Result = &result
		body.Schema = v.Schema
		body.DocumentID = v.DocumentID
		body.Notices = nonNilNotices(v.Notices)
	case Degraded:
		result := v.Result
		body.Result = &result
		body.DocumentID = v.DocumentID
		body.Notices = nonNilNotices(v.Notices)
		if v.Cause != nil {
			body.Error = &ErrorBody{Kind: v.Cause.Kind, Message: failureNotice(v.Cause).Message}
		}
	case Failed:
		body.Notices = nonNilNotices(v.Notices)
		if v.Err != nil {
			body.Error = &ErrorBody{Kind: v.Err.Kind, Message: failureNotice(v.Err).Message}
		}
	}
	return body
}

func nonNilNotices(notices []Notice) []Notice {
	if notices == nil {
		return []Notice{}
	}
	return notices
}
