package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionLead(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to LeadStatus }{
		{LeadStatusAvailable, LeadStatusProcessing},
		{LeadStatusProcessing, LeadStatusProcessed},
		{LeadStatusProcessing, LeadStatusFailed},
		{LeadStatusProcessed, LeadStatusPassed},
		{LeadStatusFailed, LeadStatusAvailable},
		{LeadStatusPassed, LeadStatusAvailable},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransitionLead(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to LeadStatus }{
		{LeadStatusAvailable, LeadStatusProcessed},
		{LeadStatusAvailable, LeadStatusPassed},
		{LeadStatusProcessed, LeadStatusAvailable},
		{LeadStatusProcessed, LeadStatusFailed},
		{LeadStatusFailed, LeadStatusProcessed},
		{LeadStatusPassed, LeadStatusProcessing},
	}
	for _, tr := range denied {
		assert.False(t, CanTransitionLead(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestCanTransitionStep(t *testing.T) {
	t.Parallel()

	// A step fully drained by operator force-pass completes without
	// extraction ever starting.
	assert.True(t, CanTransitionStep(StepStatusPending, StepStatusCompleted))

	assert.True(t, CanTransitionStep(StepStatusPending, StepStatusInProgress))
	assert.True(t, CanTransitionStep(StepStatusInProgress, StepStatusActionRequired))
	assert.True(t, CanTransitionStep(StepStatusActionRequired, StepStatusInProgress))
	assert.True(t, CanTransitionStep(StepStatusActionRequired, StepStatusCompleted))
	assert.True(t, CanTransitionStep(StepStatusFailed, StepStatusInProgress))

	assert.False(t, CanTransitionStep(StepStatusCompleted, StepStatusInProgress))
	assert.False(t, CanTransitionStep(StepStatusCompleted, StepStatusFailed))
	assert.False(t, CanTransitionStep(StepStatusPending, StepStatusActionRequired))
}

func TestCanTransitionJob(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransitionJob(JobStatusDraft, JobStatusPending))
	assert.True(t, CanTransitionJob(JobStatusDraft, JobStatusCancelled))
	assert.True(t, CanTransitionJob(JobStatusPending, JobStatusInProgress))
	assert.True(t, CanTransitionJob(JobStatusPending, JobStatusCompleted))
	assert.True(t, CanTransitionJob(JobStatusInProgress, JobStatusCancelled))
	assert.True(t, CanTransitionJob(JobStatusInProgress, JobStatusFailed))

	assert.False(t, CanTransitionJob(JobStatusDraft, JobStatusInProgress))
	assert.False(t, CanTransitionJob(JobStatusDraft, JobStatusCompleted))
	for _, terminal := range []JobStatus{JobStatusCompleted, JobStatusCancelled, JobStatusFailed} {
		for _, to := range []JobStatus{JobStatusDraft, JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled} {
			if terminal == to {
				continue
			}
			assert.False(t, CanTransitionJob(terminal, to), "%s -> %s", terminal, to)
		}
	}
}
