package service

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrPartialTeardown is matched by Report.Err whenever a requested step did not finish.
var ErrPartialTeardown = errors.New("partial teardown")

// Step names one backing service a teardown touches.
type Step string

const (
	StepVectorStore   Step = "vectorStore"
	StepObjectStorage Step = "objectStorage"
	StepGraphStore    Step = "graphStore"
	StepMetadataStore Step = "metadataStore"
)

// Steps lists every step in report order.
var Steps = []Step{StepVectorStore, StepObjectStorage, StepGraphStore, StepMetadataStore}

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
)

// StepResult is the outcome of one step. Deleted and Failed count items where the
// backend reports them.
type StepResult struct {
	Step     Step    `json:"step"`
	Outcome  Outcome `json:"outcome"`
	Deleted  int     `json:"deleted"`
	Failed   int     `json:"failed"`
	TimedOut bool    `json:"timedOut,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// StepError is one failed step inside the error returned by Report.Err.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// SlotRelease records what happened to the tenant's pool slot.
type SlotRelease struct {
	SlotID   string `json:"slotId,omitempty"`
	Released bool   `json:"released"`
	Error    string `json:"error,omitempty"`
}

// Report is handed back to the caller and then discarded.
type Report struct {
	ChatbotID string       `json:"chatbotId"`
	Status    Status       `json:"status"`
	Steps     []StepResult `json:"steps"`
	Slot      SlotRelease  `json:"slot"`
	Errors    []string     `json:"errors,omitempty"`

	stepErrs []*StepError
}

// Step returns the result recorded for s.
func (r Report) Step(s Step) (StepResult, bool) {
	for _, res := range r.Steps {
		if res.Step == s {
			return res, true
		}
	}
	return StepResult{}, false
}

// FailedSteps lists the subsystems that may still hold tenant data.
func (r Report) FailedSteps() []Step {
	var out []Step
	for _, res := range r.Steps {
		if res.Outcome == OutcomeFailed {
			out = append(out, res.Step)
		}
	}
	return out
}

// Err is nil for a complete teardown. Otherwise it matches ErrPartialTeardown and wraps
// a multi-error with one *StepError per failed step.
func (r Report) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	var merr *multierror.Error
	for _, e := range r.stepErrs {
		merr = multierror.Append(merr, e)
	}
	if r.Slot.Error != "" {
		merr = multierror.Append(merr, fmt.Errorf("release slot %s: %s", r.Slot.SlotID, r.Slot.Error))
	}
	return fmt.Errorf("%w for chatbot %s: %w", ErrPartialTeardown, r.ChatbotID, merr.ErrorOrNil())
}

func (r *Report) record(res StepResult, err error) {
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		r.stepErrs = append(r.stepErrs, &StepError{Step: res.Step, Err: err})
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", res.Step, err))
	}
	r.Steps = append(r.Steps, res)
}

func (r *Report) finish() {
	r.Status = StatusSuccess
	if len(r.stepErrs) > 0 || r.Slot.Error != "" {
		r.Status = StatusPartial
	}
	ordered := make([]StepResult, 0, len(r.Steps))
	for _, s := range Steps {
		if res, ok := r.Step(s); ok {
			ordered = append(ordered, res)
		}
	}
	r.Steps = ordered
}
