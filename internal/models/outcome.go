package models

import "net/http"

// ObjectOutcome is the result of attempting to persist one batch item.
// Exactly one of Success or a non-empty Errors holds.
type ObjectOutcome struct {
	ID       string   `json:"id"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
	Attempts int      `json:"attempts"`

	// The submitted item, kept so final failures can be dead-lettered.
	Object    *BatchObject    `json:"-"`
	Reference *BatchReference `json:"-"`
}

// Result is the aggregated outcome of one flush cycle.
type Result struct {
	// StatusCode is 200 for full success, 422 when any item failed, or the
	// transport-derived code when every item failed on a transport error.
	StatusCode int             `json:"status_code"`
	Objects    []ObjectOutcome `json:"objects"`
	References []ObjectOutcome `json:"references"`
}

// NewEmptyResult returns the result of flushing an empty buffer.
func NewEmptyResult() *Result {
	return &Result{
		StatusCode: http.StatusOK,
		Objects:    []ObjectOutcome{},
		References: []ObjectOutcome{},
	}
}

// Errors concatenates every error message of every failed outcome, objects first.
func (r *Result) Errors() []string {
	var msgs []string
	for _, o := range r.Objects {
		msgs = append(msgs, o.Errors...)
	}
	for _, o := range r.References {
		msgs = append(msgs, o.Errors...)
	}
	return msgs
}

// Failed returns the failed outcomes, objects first.
func (r *Result) Failed() []ObjectOutcome {
	var failed []ObjectOutcome
	for _, o := range r.Objects {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	for _, o := range r.References {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded returns the number of successful outcomes.
func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Objects {
		if o.Success {
			n++
		}
	}
	for _, o := range r.References {
		if o.Success {
			n++
		}
	}
	return n
}

// Total returns the number of outcomes in the result.
func (r *Result) Total() int {
	return len(r.Objects) + len(r.References)
}

// IsPartial reports whether some but not all items failed.
func (r *Result) IsPartial() bool {
	failed := r.Total() - r.Succeeded()
	return failed > 0 && failed < r.Total()
}
