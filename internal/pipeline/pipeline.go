// Package pipeline runs one document submission end to end: guard, analysis,
// normalization or fallback, archiving and the session view.
package pipeline

import (
	"context"
	"errors"
	"log"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/auth"
	"artiklo/api/internal/intake"
)

type Admitter interface {
	Admit(ctx context.Context, identity, session string, payload intake.Payload) (func(), error)
	InFlight(ctx context.Context, session string) bool
}

type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) ([]byte, error)
}

type Pipeline struct {
	guard       Admitter
	analyzer    Analyzer
	coordinator *Coordinator
}

func New(guard Admitter, analyzer Analyzer, coordinator *Coordinator) *Pipeline {
	return &Pipeline{guard: guard, analyzer: analyzer, coordinator: coordinator}
}

// Submission is everything one submit carries in. RateKey defaults to the
// identity's ID.
type Submission struct {
	Identity   auth.Identity
	Session    string
	RateKey    string
	Payload    intake.Payload
	Rejections []intake.Rejection
}

// Submit runs the stages strictly in sequence and shows the outcome on view.
// Once admitted, the submission runs to completion even if ctx is cancelled;
// the analysis call is bounded by the client's own timeout.
func (p *Pipeline) Submit(ctx context.Context, view *View, sub Submission) Outcome {
	notices := rejectionNotices(sub.Rejections)

	rateKey := sub.RateKey
	if rateKey == "" {
		rateKey = sub.Identity.ID
	}
	release, err := p.guard.Admit(ctx, rateKey, sub.Session, sub.Payload)
	if err != nil {
		failure := classify(err)
		log.Printf("pipeline: submission rejected for %s/%s: %v", sub.Identity.ID, sub.Session, err)
		outcome := Failed{Err: failure, Notices: append(notices, failureNotice(failure))}
		view.Show(outcome)
		return outcome
	}
	defer release()

	if !view.begin() {
		failure := newError(KindSubmissionInProgress, ErrSubmissionInProgress)
		return Failed{Err: failure, Notices: append(notices, failureNotice(failure))}
	}

	outcome := p.run(context.WithoutCancel(ctx), sub, notices)
	view.settle(outcome)
	return outcome
}

func (p *Pipeline) run(ctx context.Context, sub Submission, notices []Notice) Outcome {
	payload := sub.Payload
	log.Printf("pipeline: analyzing for %s/%s (files=%d, text=%t)", sub.Identity.ID, sub.Session, len(payload.Files), payload.Text != "")

	raw, err := p.analyzer.Analyze(ctx, analysisRequest(sub))
	if err != nil {
		if !errors.Is(err, ErrTransportFailure) {
			err = errors.Join(ErrTransportFailure, err)
		}
		cause := newError(KindTransportFailure, err)
		fallback, ok := analysis.Synthesize(payload.Text)
		if !ok {
			log.Printf("pipeline: analysis failed with no text to fall back on: %v", err)
			return Failed{Err: cause, Notices: append(notices, failureNotice(cause))}
		}
		log.Printf("pipeline: analysis failed, using fallback result: %v", err)
		notices = append(notices, Notice{
			Code:     NoticeDegradedResult,
			Severity: SeverityWarning,
			Message:  "Analiz servisine ulaşılamadı. Gösterilen sonuç yerel bir ön izlemedir.",
		})
		archival := p.coordinator.Persist(ctx, sub.Identity, payload, fallback, "")
		return Degraded{
			Result:     fallback,
			Cause:      cause,
			DocumentID: archival.DocumentID,
			Notices:    append(notices, archival.Notices...),
		}
	}

	result, schema, err := analysis.Parse(raw)
	if err != nil {
		failure := newError(KindNormalization, err)
		log.Printf("pipeline: normalize response: %v", err)
		return Failed{Err: failure, Notices: append(notices, failureNotice(failure))}
	}

	archival := p.coordinator.Persist(ctx, sub.Identity, payload, result, schema)
	log.Printf("pipeline: %s analysis complete for %s/%s (archived=%t, debited=%t)", schema, sub.Identity.ID, sub.Session, archival.Archived, archival.Debited)
	return Succeeded{
		Result:     result,
		Schema:     schema,
		DocumentID: archival.DocumentID,
		Notices:    append(notices, archival.Notices...),
	}
}

// Snapshot reports the view together with the guard's in-flight flag.
func (p *Pipeline) Snapshot(ctx context.Context, view *View, session string) Snapshot {
	return view.Snapshot(p.guard.InFlight(ctx, session))
}

func analysisRequest(sub Submission) analysis.Request {
	files := make([]analysis.File, 0, len(sub.Payload.Files))
	for _, file := range sub.Payload.Files {
		files = append(files, analysis.File{Name: file.Name, MimeType: file.MimeType, Data: file.Bytes})
	}
	return analysis.Request{
		Text:        sub.Payload.Text,
		Files:       files,
		Model:       analysis.ParseModel(sub.Payload.Model),
		BearerToken: sub.Identity.Token,
	}
}
