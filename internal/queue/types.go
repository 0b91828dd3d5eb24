package queue

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Task is one queued purchase attempt for exactly one server unit.
//
// Pending tasks become eligible for dispatch once NextAttemptAt has passed;
// a zero NextAttemptAt means immediately eligible.
type Task struct {
	ID string `json:"id"`

	PlanCode   string   `json:"planCode"`
	Datacenter string   `json:"datacenter"`
	Options    []string `json:"options,omitempty"`

	Status Status `json:"status"`

	// RetryInterval is fixed at creation (clamped to the configured
	// bounds) and spaces out transient-failure retries.
	RetryInterval time.Duration `json:"retryInterval"`
	RetryCount    int           `json:"retryCount"`

	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// LastError is the most recent failure message, surfaced to operators.
	LastError string `json:"lastError,omitempty"`

	// Set on completion.
	OrderID  string `json:"orderId,omitempty"`
	OrderURL string `json:"orderUrl,omitempty"`
}

// Due reports whether the task is eligible for dispatch at now.
func (t Task) Due(now time.Time) bool {
	return t.Status == StatusPending && !now.Before(t.NextAttemptAt)
}

// OutcomeClass classifies one finished purchase attempt.
type OutcomeClass string

const (
	OutcomeSuccess   OutcomeClass = "success"
	OutcomeTransient OutcomeClass = "transient"
	OutcomePermanent OutcomeClass = "permanent"
)

// Outcome is the result of one dispatched attempt, reported back to the
// store by the dispatcher.
type Outcome struct {
	Class    OutcomeClass
	Message  string
	OrderID  string
	OrderURL string
}
