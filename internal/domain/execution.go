package domain

import "time"

// Status is the lifecycle state of an execution.
// It only ever moves from PENDING to one of the terminal values.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusOK          Status = "OK"
	StatusInterrupted Status = "INTERRUPTED"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusInterrupted
}

// Execution is one user run of a piece of source code.
type Execution struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	Language        Language   `json:"language"`
	Status          Status     `json:"status"`
	ExecutionTimeMs *int64     `json:"executionTimeMs"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExecutedAt      *time.Time `json:"executedAt"`
}

// Finish moves a pending execution to a terminal status.
// elapsed is recorded only when non-nil. It returns false, leaving the record
// untouched, if the execution already reached a terminal status.
func (e *Execution) Finish(status Status, elapsed *time.Duration) bool {
	if e.Status.Terminal() {
		return false
	}
	e.Status = status
	if elapsed != nil {
		ms := elapsed.Milliseconds()
		e.ExecutionTimeMs = &ms
	}
	return true
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (e *Execution) Clone() *Execution {
	c := *e
	if e.ExecutionTimeMs != nil {
		ms := *e.ExecutionTimeMs
		c.ExecutionTimeMs = &ms
	}
	if e.ExecutedAt != nil {
		t := *e.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}
