package domain

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
)

// IsTerminal reports whether no further transition may leave the state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut:
		return true
	default:
		return false
	}
}

// Phase groups states the way callers present them.
type Phase string

const (
	PhaseWorking Phase = "working"
	PhaseDone    Phase = "done"
	PhaseBroken  Phase = "broken"
)

func (s JobState) Phase() Phase {
	switch s {
	case JobStateCompleted:
		return PhaseDone
	case JobStateFailed, JobStateTimedOut:
		return PhaseBroken
	default:
		return PhaseWorking
	}
}

// CanTransition enforces submitted -> polling -> {completed|failed|timed_out}.
// A submission that never reached the remote API goes straight to failed.
func (s JobState) CanTransition(to JobState) bool {
	switch s {
	case JobStateSubmitted:
		return to == JobStatePolling || to == JobStateFailed
	case JobStatePolling:
		return to == JobStateCompleted || to == JobStateFailed || to == JobStateTimedOut
	default:
		return false
	}
}

// Job is one analysis request tracked by polling the remote analysis API.
type Job struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	MediaURL    string          `json:"media_url"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no byte slices with the receiver.
func (j Job) Clone() Job {
	clone := j
	if j.Result != nil {
		clone.Result = append(json.RawMessage(nil), j.Result...)
	}
	return clone
}

// RemoteStatus is the status vocabulary of the remote analysis API.
type RemoteStatus string

const (
	RemoteStatusPending    RemoteStatus = "pending"
	RemoteStatusProcessing RemoteStatus = "processing"
	RemoteStatusCompleted  RemoteStatus = "completed"
	RemoteStatusFailed     RemoteStatus = "failed"
)

type StatusReport struct {
	Status RemoteStatus
	Error  string
}

type JobListFilter struct {
	UserID   string
	Page     int
	PageSize int
}

type UserStats struct {
	UserID         string
	CompletedCount int
	AverageScore   float64
}
