package model

import (
	"time"
)

// StepStatus represents the current state of a job step.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusInProgress     StepStatus = "in_progress"
	StepStatusActionRequired StepStatus = "action_required"
	StepStatusCompleted      StepStatus = "completed"
	StepStatusFailed         StepStatus = "failed"
)

// IsValid checks if the StepStatus is a known value.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusActionRequired,
		StepStatusCompleted, StepStatusFailed:
		return true
	}
	return false
}

// StepType distinguishes steps that may self-advance from steps that
// always wait for an operator.
type StepType string

const (
	StepTypeAutomatic      StepType = "automatic"
	StepTypeActionRequired StepType = "action_required"
)

// IsValid checks if the StepType is a known value.
func (t StepType) IsValid() bool {
	return t == StepTypeAutomatic || t == StepTypeActionRequired
}

// JobStep is one stage of a job's pipeline. Its counters are the
// authoritative aggregates over the leads that flowed through it and are
// mutated only by the transition engine.
type JobStep struct {
	ID          string   `json:"id" db:"id"`
	JobID       string   `json:"job_id" db:"job_id"`
	StepNumber  int      `json:"step_number" db:"step_number"`
	Name        string   `json:"step_name" db:"step_name"`
	Description string   `json:"step_description,omitempty" db:"step_description"`
	Type        StepType `json:"step_type" db:"step_type"`

	Status StepStatus `json:"status" db:"status"`

	LeadsReceived  int `json:"leads_received" db:"leads_received"`
	LeadsProcessed int `json:"leads_processed" db:"leads_processed"`
	LeadsPassed    int `json:"leads_passed" db:"leads_passed"`
	LeadsFailed    int `json:"leads_failed" db:"leads_failed"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// CheckCounters verifies the step counter invariant
// leads_passed + leads_failed <= leads_processed <= leads_received.
// A violation indicates lost updates and is returned as a
// CounterInvariantViolation, never clamped.
func (s *JobStep) CheckCounters() error {
	if s.LeadsReceived < 0 || s.LeadsProcessed < 0 || s.LeadsPassed < 0 || s.LeadsFailed < 0 {
		return &CounterInvariantViolation{Step: s}
	}
	if s.LeadsPassed+s.LeadsFailed > s.LeadsProcessed || s.LeadsProcessed > s.LeadsReceived {
		return &CounterInvariantViolation{Step: s}
	}
	return nil
}

// Drained reports whether every processed lead on the step has been
// resolved as passed or failed and nothing is still in flight.
func (s *JobStep) Drained() bool {
	return s.LeadsPassed+s.LeadsFailed == s.LeadsProcessed
}
