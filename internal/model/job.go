package model

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a lead scrape job.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusFailed     JobStatus = "failed"
)

// IsValid checks if the JobStatus is a known value.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusDraft, JobStatusPending, JobStatusInProgress,
		JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// LeadScrapeJob is one end-to-end pipeline run: search parameters plus an
// ordered sequence of steps that leads flow through.
type LeadScrapeJob struct {
	ID string `json:"id" db:"id"`

	Platform   string `json:"platform" db:"platform"`
	Country    string `json:"country" db:"country"`
	City       string `json:"city" db:"city"`
	CityCode   string `json:"city_code,omitempty" db:"city_code"`
	Cuisine    string `json:"cuisine,omitempty" db:"cuisine"`
	LeadsLimit int    `json:"leads_limit" db:"leads_limit"`
	PageOffset int    `json:"page_offset" db:"page_offset"`

	Status      JobStatus `json:"status" db:"status"`
	CurrentStep int       `json:"current_step" db:"current_step"`
	TotalSteps  int       `json:"total_steps" db:"total_steps"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// JobStats holds job-level progress figures. They are always recomputed
// from step counters, never read from persisted job-level fields, which
// can desync when steps are retried out of band.
type JobStats struct {
	Extracted int `json:"extracted"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
}

// ComputeJobStats derives job statistics from step data. Extracted and
// passed come from the first step (what extraction actually produced, not
// the requested leads_limit); failed sums across all steps.
func ComputeJobStats(steps []JobStep) JobStats {
	var stats JobStats
	for _, s := range steps {
		if s.StepNumber == 1 {
			stats.Extracted = s.LeadsProcessed
			stats.Passed = s.LeadsPassed
		}
		stats.Failed += s.LeadsFailed
	}
	return stats
}

// ComputeProgress returns the job's percent complete, rounded to the
// nearest integer. A step counts only once its status is completed.
// Returns 0 when there are no steps.
func ComputeProgress(steps []JobStep) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.Status == StepStatusCompleted {
			completed++
		}
	}
	return int(float64(completed)/float64(len(steps))*100 + 0.5)
}

// CounterInvariantViolation signals that a step's aggregate counters are
// inconsistent. It indicates lost updates and must be treated as fatal.
type CounterInvariantViolation struct {
	Step *JobStep
}

func (e *CounterInvariantViolation) Error() string {
	s := e.Step
	return fmt.Sprintf(
		"counter invariant violated on job %s step %d: received=%d processed=%d passed=%d failed=%d",
		s.JobID, s.StepNumber, s.LeadsReceived, s.LeadsProcessed, s.LeadsPassed, s.LeadsFailed,
	)
}
