package pipeline

import (
	"sync"
	"time"

	"artiklo/api/internal/intake"
)

type State string

const (
	StateInput  State = "input"
	StateResult State = "result"
)

// View is the two-state screen of one session. It moves to result only on
// a Succeeded or Degraded outcome and back to input only on Reset. While a
// submission is pending, Reset is deferred until that submission settles.
type View struct {
	mu             sync.Mutex
	state          State
	outcome        Outcome
	failure        *Failed
	browser        *intake.BrowserSource
	device         *intake.DeviceSource
	pending        bool
	resetRequested bool
	pendingSince   time.Time
	touched        time.Time
	now            func() time.Time
}

func NewView() *View {
	v := &View{now: time.Now}
	v.clear()
	v.touched = v.now()
	return v
}

func (v *View) clear() {
	v.state = StateInput
	v.outcome = Idle{}
	v.failure = nil
	v.browser = intake.NewBrowserSource()
	v.device = intake.NewDeviceSource()
}

// Show records the outcome of a finished submission.
func (v *View) Show(o Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = v.now()
	v.show(o)
}

func (v *View) show(o Outcome) {
	switch o := o.(type) {
	case Succeeded, Degraded:
		v.state = StateResult
		v.outcome = o
		v.failure = nil
	case Failed:
		if v.state == StateResult {
			v.failure = &o
			return
		}
		v.outcome = o
	}
}

// Reset returns to input and drops the outcome and every staged file. It
// reports whether the reset was deferred behind a pending submission.
func (v *View) Reset() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = v.now()
	if v.pending {
		v.resetRequested = true
		return true
	}
	v.clear()
	return false
}

// begin marks a submission as dispatched. It reports false when the view
// already has one pending.
func (v *View) begin() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending {
		return false
	}
	v.pending = true
	v.pendingSince = v.now()
	v.touched = v.pendingSince
	return true
}

// settle ends the pending submission and shows its outcome, unless a reset
// arrived meanwhile, in which case the outcome is discarded.
func (v *View) settle(o Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = false
	v.touched = v.now()
	if v.resetRequested {
		v.resetRequested = false
		v.clear()
		return
	}
	v.show(o)
}

// Stage adds files to the session between submissions.
func (v *View) Stage(fn func(browser *intake.BrowserSource, device *intake.DeviceSource)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = v.now()
	fn(v.browser, v.device)
}

// Sources returns a copy of the staged files. Rejections are reported when
// files are staged, so the copies carry none.
func (v *View) Sources() []intake.FileSource {
	v.mu.Lock()
	defer v.mu.Unlock()
	return []intake.FileSource{copySource(v.browser), copySource(v.device)}
}

type stagedSource struct {
	origin intake.Source
	files  []intake.UploadedFile
}

func (s stagedSource) Origin() intake.Source        { return s.origin }
func (s stagedSource) Files() []intake.UploadedFile { return s.files }
func (s stagedSource) Rejected() []intake.Rejection { return nil }

func copySource(source intake.FileSource) stagedSource {
	return stagedSource{
		origin: source.Origin(),
		files:  append([]intake.UploadedFile(nil), source.Files()...),
	}
}

// Pending reports whether a submission dispatched through this view has not
// settled yet.
func (v *View) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

// IdleSince is the last time the view was used.
func (v *View) IdleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.touched
}

type Snapshot struct {
	State          State
	Outcome        Outcome
	Failure        *Failed
	SubmitDisabled bool
	StagedFiles    []string
}

// Snapshot captures the view. inFlight comes from the submission guard;
// while it holds and nothing is shown yet the outcome reads as InFlight.
func (v *View) Snapshot(inFlight bool) Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snapshot := Snapshot{
		State:          v.state,
		Outcome:        v.outcome,
		Failure:        v.failure,
		SubmitDisabled: inFlight || v.pending,
	}
	if snapshot.SubmitDisabled && v.state == StateInput {
		since := v.pendingSince
		if since.IsZero() {
			since = v.now()
		}
		snapshot.Outcome = InFlight{Since: since}
	}
	for _, file := range v.browser.Files() {
		snapshot.StagedFiles = append(snapshot.StagedFiles, file.Name)
	}
	for _, file := range v.device.Files() {
		snapshot.StagedFiles = append(snapshot.StagedFiles, file.Name)
	}
	return snapshot
}

type SnapshotBody struct {
	State          State        `json:"state"`
	SubmitDisabled bool         `json:"submitDisabled"`
	Outcome        OutcomeBody  `json:"outcome"`
	Failure        *OutcomeBody `json:"failure,omitempty"`
	StagedFiles    []string     `json:"stagedFiles"`
}

func (s Snapshot) Body() SnapshotBody {
	body := SnapshotBody{
		State:          s.State,
		SubmitDisabled: s.SubmitDisabled,
		Outcome:        Encode(s.Outcome),
		StagedFiles:    s.StagedFiles,
	}
	if body.StagedFiles == nil {
		body.StagedFiles = []string{}
	}
	if s.Failure != nil {
		failure := Encode(*s.Failure)
		body.Failure = &failure
	}
	return body
}
