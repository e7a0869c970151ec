package engine

import (
	"fmt"
	"sort"
	"strings"
)

// LeadRejection explains why one lead in a selection was ineligible for
// the requested transition.
type LeadRejection struct {
	LeadID string `json:"lead_id"`
	Reason string `json:"reason"`
}

// IneligibleLeadError rejects a bulk operation because one or more
// selected leads were not in a valid state for the requested transition.
// Batches are all-or-nothing: when this error is returned, nothing was
// mutated. Rejections name each offending lead so the operator can adjust
// the selection and retry.
type IneligibleLeadError struct {
	Op         string          `json:"op"`
	Selected   int             `json:"selected"`
	Rejections []LeadRejection `json:"rejections"`
}

func (e *IneligibleLeadError) Error() string {
	ids := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		ids = append(ids, r.LeadID)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s: %d of %d leads could not be processed: %s",
		e.Op, len(e.Rejections), e.Selected, strings.Join(ids, ", "))
}

// StepConcurrencyError rejects an operation because the step already has
// an overlapping operation in flight. The caller should retry later, not
// immediately.
type StepConcurrencyError struct {
	JobID      string   `json:"job_id"`
	StepNumber int      `json:"step_number"`
	LeadIDs    []string `json:"lead_ids"`
}

func (e *StepConcurrencyError) Error() string {
	return fmt.Sprintf("step %d of job %s has %d overlapping leads already in flight",
		e.StepNumber, e.JobID, len(e.LeadIDs))
}
