package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// PassResult reports the counter state after a PassToNext so callers can
// refresh their view without re-querying.
type PassResult struct {
	Passed         int             `json:"passed"`
	Step           model.JobStep   `json:"step"`
	NextStep       *model.JobStep  `json:"next_step,omitempty"`
	StepCompleted  bool            `json:"step_completed"`
	JobStatus      model.JobStatus `json:"job_status"`
	JobCurrentStep int             `json:"job_current_step"`
}

// PassToNext advances the selected leads from a step into the next one.
// A lead is eligible when its resolved display status at stepNumber is
// neither passed nor processing. The batch is all-or-nothing: any
// ineligible lead rejects the whole selection with nothing mutated.
func (e *Engine) PassToNext(ctx context.Context, jobID string, stepNumber int, leadIDs []string) (*PassResult, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()
	return e.passLocked(ctx, jobID, stepNumber, leadIDs)
}

// passLocked is PassToNext with the job lock already held. Step
// auto-advance calls it from inside completion handling.
func (e *Engine) passLocked(ctx context.Context, jobID string, stepNumber int, leadIDs []string) (*PassResult, error) {
	job, step, err := e.loadJobStep(ctx, jobID, stepNumber)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, eris.Errorf("engine: pass: job %s is %s", jobID, job.Status)
	}

	var next *model.JobStep
	if stepNumber < job.TotalSteps {
		next, err = e.store.GetStep(ctx, jobID, stepNumber+1)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: pass: load step %d", stepNumber+1)
		}
	}

	leadIDs = dedupe(leadIDs)
	leads, rejections, err := e.loadSelection(ctx, jobID, leadIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var updates []model.Lead
	for _, l := range leads {
		resolved := model.ResolveDisplayStatus(&l, stepNumber)
		switch resolved {
		case model.LeadStatusPassed:
			rejections = append(rejections, LeadRejection{LeadID: l.ID, Reason: "already passed"})
			continue
		case model.LeadStatusProcessing:
			rejections = append(rejections, LeadRejection{LeadID: l.ID, Reason: "extraction in flight"})
			continue
		}

		// Counter bookkeeping depends on what the lead was before the
		// pass. Force-passing an unprocessed lead counts it as processed
		// so passed+failed never outruns processed; force-passing a
		// failed lead converts its failure into a pass.
		switch resolved {
		case model.LeadStatusProcessed:
			step.LeadsPassed++
		case model.LeadStatusAvailable:
			step.LeadsProcessed++
			step.LeadsPassed++
		case model.LeadStatusFailed:
			step.LeadsFailed--
			step.LeadsPassed++
		}

		l.CurrentStep = stepNumber + 1
		l.Status = model.LeadStatusAvailable
		l.UpdatedAt = now
		updates = append(updates, l)
	}

	if len(rejections) > 0 {
		return nil, &IneligibleLeadError{Op: "pass", Selected: len(leadIDs), Rejections: rejections}
	}
	if len(updates) == 0 {
		return nil, eris.New("engine: pass: empty selection")
	}

	if next != nil {
		next.LeadsReceived += len(updates)
	}

	batch := store.Batch{UpdateLeads: updates, UpdateSteps: []model.JobStep{*step}}
	if next != nil {
		batch.UpdateSteps = append(batch.UpdateSteps, *next)
	}

	stepCompleted := false
	if stepNumber == job.CurrentStep && step.Drained() &&
		model.CanTransitionStep(step.Status, model.StepStatusCompleted) {
		step.Status = model.StepStatusCompleted
		step.CompletedAt = &now
		stepCompleted = true

		if next != nil {
			job.CurrentStep = stepNumber + 1
		} else if model.CanTransitionJob(job.Status, model.JobStatusCompleted) {
			job.Status = model.JobStatusCompleted
			job.CompletedAt = &now
		}
		batch.UpdateSteps[0] = *step
		batch.UpdateJob = job
	}

	if err := e.checkCounters(step, next); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBatch(ctx, batch); err != nil {
		return nil, eris.Wrapf(err, "engine: pass: commit job %s step %d", jobID, stepNumber)
	}

	zap.L().Info("leads passed",
		zap.String("job_id", jobID),
		zap.Int("step", stepNumber),
		zap.Int("count", len(updates)),
		zap.Bool("step_completed", stepCompleted),
	)

	return &PassResult{
		Passed:         len(updates),
		Step:           *step,
		NextStep:       next,
		StepCompleted:  stepCompleted,
		JobStatus:      job.Status,
		JobCurrentStep: job.CurrentStep,
	}, nil
}

// RetryResult reports the counter state after a RetryFailed.
type RetryResult struct {
	Retried int           `json:"retried"`
	Step    model.JobStep `json:"step"`
}

// RetryFailed puts the selected failed leads back into the queue for the
// same step. The lead never regresses to an earlier step; the step's
// failed and processed counters both decrement so the retried lead is
// logically unprocessed again.
func (e *Engine) RetryFailed(ctx context.Context, jobID string, stepNumber int, leadIDs []string) (*RetryResult, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, step, err := e.loadJobStep(ctx, jobID, stepNumber)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, eris.Errorf("engine: retry: job %s is %s", jobID, job.Status)
	}
	if step.Status == model.StepStatusCompleted {
		return nil, eris.Errorf("engine: retry: step %d of job %s is already completed", stepNumber, jobID)
	}

	leadIDs = dedupe(leadIDs)
	leads, rejections, err := e.loadSelection(ctx, jobID, leadIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var updates []model.Lead
	for _, l := range leads {
		resolved := model.ResolveDisplayStatus(&l, stepNumber)
		if resolved != model.LeadStatusFailed {
			rejections = append(rejections, LeadRejection{LeadID: l.ID, Reason: fmt.Sprintf("status is %s, not failed", resolved)})
			continue
		}

		l.Status = model.LeadStatusAvailable
		l.UpdatedAt = now
		updates = append(updates, l)
	}

	if len(rejections) > 0 {
		return nil, &IneligibleLeadError{Op: "retry", Selected: len(leadIDs), Rejections: rejections}
	}
	if len(updates) == 0 {
		return nil, eris.New("engine: retry: empty selection")
	}

	step.LeadsFailed -= len(updates)
	step.LeadsProcessed -= len(updates)
	if err := e.checkCounters(step, nil); err != nil {
		return nil, err
	}

	batch := store.Batch{UpdateLeads: updates, UpdateSteps: []model.JobStep{*step}}
	if err := e.store.ApplyBatch(ctx, batch); err != nil {
		return nil, eris.Wrapf(err, "engine: retry: commit job %s step %d", jobID, stepNumber)
	}

	zap.L().Info("leads queued for retry",
		zap.String("job_id", jobID),
		zap.Int("step", stepNumber),
		zap.Int("count", len(updates)),
	)
	return &RetryResult{Retried: len(updates), Step: *step}, nil
}

// DeleteResult reports how many leads were removed and the steps whose
// counters changed.
type DeleteResult struct {
	Deleted int             `json:"deleted"`
	Steps   []model.JobStep `json:"steps"`
}

// DeleteLeads removes the selected leads permanently, subtracting each
// lead's own contribution from every step it touched so the counter
// invariant survives. Destructive and irreversible; confirmation is the
// caller's concern.
func (e *Engine) DeleteLeads(ctx context.Context, jobID string, leadIDs []string) (*DeleteResult, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: delete: load job %s", jobID)
	}

	leadIDs = dedupe(leadIDs)
	leads, rejections, err := e.loadSelection(ctx, jobID, leadIDs)
	if err != nil {
		return nil, err
	}
	if len(rejections) > 0 {
		return nil, &IneligibleLeadError{Op: "delete", Selected: len(leadIDs), Rejections: rejections}
	}
	if len(leads) == 0 {
		return nil, eris.New("engine: delete: empty selection")
	}

	steps, err := e.store.ListSteps(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: delete: list steps for job %s", jobID)
	}
	byNumber := make(map[int]*model.JobStep, len(steps))
	for i := range steps {
		byNumber[steps[i].StepNumber] = &steps[i]
	}

	touched := make(map[int]bool)
	for _, l := range leads {
		// Steps the lead fully passed through.
		for n := 1; n < l.CurrentStep && n <= job.TotalSteps; n++ {
			s, ok := byNumber[n]
			if !ok {
				continue
			}
			s.LeadsReceived--
			s.LeadsProcessed--
			s.LeadsPassed--
			touched[n] = true
		}
		// The step it currently occupies.
		if s, ok := byNumber[l.CurrentStep]; ok {
			s.LeadsReceived--
			switch l.Status {
			case model.LeadStatusProcessed:
				s.LeadsProcessed--
			case model.LeadStatusFailed:
				s.LeadsProcessed--
				s.LeadsFailed--
			case model.LeadStatusPassed:
				s.LeadsProcessed--
				s.LeadsPassed--
			}
			touched[l.CurrentStep] = true
		}
	}

	var updates []model.JobStep
	for n, s := range byNumber {
		if !touched[n] {
			continue
		}
		if err := s.CheckCounters(); err != nil {
			return nil, err
		}
		updates = append(updates, *s)
	}

	ids := make([]string, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
	}

	batch := store.Batch{DeleteLeadIDs: ids, UpdateSteps: updates}
	if err := e.store.ApplyBatch(ctx, batch); err != nil {
		return nil, eris.Wrapf(err, "engine: delete: commit job %s", jobID)
	}

	zap.L().Info("leads deleted",
		zap.String("job_id", jobID),
		zap.Int("count", len(ids)),
	)
	return &DeleteResult{Deleted: len(ids), Steps: updates}, nil
}

// loadJobStep fetches a job and one of its steps.
func (e *Engine) loadJobStep(ctx context.Context, jobID string, stepNumber int) (*model.LeadScrapeJob, *model.JobStep, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "engine: load job %s", jobID)
	}
	step, err := e.store.GetStep(ctx, jobID, stepNumber)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "engine: load job %s step %d", jobID, stepNumber)
	}
	return job, step, nil
}

// loadSelection fetches the selected leads and reports the ids that do
// not exist or are frozen by conversion as rejections.
func (e *Engine) loadSelection(ctx context.Context, jobID string, leadIDs []string) ([]model.Lead, []LeadRejection, error) {
	if len(leadIDs) == 0 {
		return nil, nil, nil
	}
	leads, err := e.store.GetLeads(ctx, jobID, leadIDs)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "engine: load leads for job %s", jobID)
	}

	byID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}

	var selected []model.Lead
	var rejections []LeadRejection
	for _, id := range leadIDs {
		l, ok := byID[id]
		if !ok {
			rejections = append(rejections, LeadRejection{LeadID: id, Reason: "not found"})
			continue
		}
		if l.Converted() {
			rejections = append(rejections, LeadRejection{LeadID: id, Reason: "converted to restaurant"})
			continue
		}
		selected = append(selected, l)
	}
	return selected, rejections, nil
}

// checkCounters validates the invariant on the mutated steps before the
// batch is committed. A violation here is an engine defect and aborts the
// operation loudly.
func (e *Engine) checkCounters(steps ...*model.JobStep) error {
	for _, s := range steps {
		if s == nil {
			continue
		}
		if err := s.CheckCounters(); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
