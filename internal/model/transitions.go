package model

// Transition tables for the three entity state machines. Every status
// change in the engine goes through CanTransition* so invalid moves are
// rejected in one place instead of at each call site.

var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusAvailable:  {LeadStatusProcessing},
	LeadStatusProcessing: {LeadStatusProcessed, LeadStatusFailed},
	LeadStatusProcessed:  {LeadStatusPassed},
	// A retried lead goes back into the queue on the same step.
	LeadStatusFailed: {LeadStatusAvailable},
	// Passed resets to available on the next step; the step number
	// change is what makes the move legal.
	LeadStatusPassed: {LeadStatusAvailable},
}

// CanTransitionLead reports whether a lead may move from one raw status
// to another.
func CanTransitionLead(from, to LeadStatus) bool {
	for _, t := range leadTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

var stepTransitions = map[StepStatus][]StepStatus{
	// pending -> completed covers steps drained entirely by operator
	// force-pass, without extraction ever starting.
	StepStatusPending:        {StepStatusInProgress, StepStatusCompleted, StepStatusFailed},
	StepStatusInProgress:     {StepStatusActionRequired, StepStatusCompleted, StepStatusFailed},
	StepStatusActionRequired: {StepStatusInProgress, StepStatusCompleted, StepStatusFailed},
	StepStatusCompleted:      {},
	StepStatusFailed:         {StepStatusInProgress},
}

// CanTransitionStep reports whether a step may move between statuses.
func CanTransitionStep(from, to StepStatus) bool {
	for _, t := range stepTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusDraft:      {JobStatusPending, JobStatusCancelled},
	JobStatusPending:    {JobStatusInProgress, JobStatusCompleted, JobStatusCancelled, JobStatusFailed},
	JobStatusInProgress: {JobStatusCompleted, JobStatusCancelled, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusCancelled:  {},
	JobStatusFailed:     {},
}

// CanTransitionJob reports whether a job may move between lifecycle states.
func CanTransitionJob(from, to JobStatus) bool {
	for _, t := range jobTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
