// Package engine implements the bulk-transition engine that moves leads
// through a job's ordered steps. All lead and step counter mutations in
// the system flow through here; each operation commits as one atomic
// batch against the store.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// Engine is the bulk-transition engine. It owns every write to Lead,
// JobStep and LeadScrapeJob records; the API layer never mutates those
// fields directly.
type Engine struct {
	store      store.Store
	matcher    dupdetect.Matcher
	dispatcher Dispatcher
	locks      *jobLocks
}

// New creates an Engine. The matcher may be nil, in which case duplicate
// detection is skipped entirely (leads ingest as non-duplicates).
func New(st store.Store, matcher dupdetect.Matcher, dispatcher Dispatcher) *Engine {
	return &Engine{
		store:      st,
		matcher:    matcher,
		dispatcher: dispatcher,
		locks:      newJobLocks(),
	}
}

// SetDispatcher installs the dispatcher after construction. In-process
// wiring needs this because the worker pool's sink is the engine itself.
// Must be called before any job starts.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// JobParams are the operator-supplied parameters for a new job.
type JobParams struct {
	Platform   string `json:"platform"`
	Country    string `json:"country"`
	City       string `json:"city"`
	CityCode   string `json:"city_code,omitempty"`
	Cuisine    string `json:"cuisine,omitempty"`
	LeadsLimit int    `json:"leads_limit"`
	PageOffset int    `json:"page_offset"`
}

// CreateJob creates a draft job with steps laid out from the template.
func (e *Engine) CreateJob(ctx context.Context, params JobParams, tpl model.PipelineTemplate) (*model.LeadScrapeJob, error) {
	if params.Platform == "" {
		return nil, eris.New("engine: platform is required")
	}
	if params.City == "" {
		return nil, eris.New("engine: city is required")
	}
	if len(tpl.Steps) == 0 {
		return nil, eris.New("engine: pipeline template has no steps")
	}

	now := time.Now().UTC()
	job := &model.LeadScrapeJob{
		ID:         uuid.New().String(),
		Platform:   params.Platform,
		Country:    params.Country,
		City:       params.City,
		CityCode:   params.CityCode,
		Cuisine:    params.Cuisine,
		LeadsLimit: params.LeadsLimit,
		PageOffset: params.PageOffset,
		Status:     model.JobStatusDraft,
		TotalSteps: len(tpl.Steps),
		CreatedAt:  now,
	}

	steps := make([]model.JobStep, len(tpl.Steps))
	for i, st := range tpl.Steps {
		steps[i] = model.JobStep{
			ID:          uuid.New().String(),
			JobID:       job.ID,
			StepNumber:  i + 1,
			Name:        st.Name,
			Description: st.Description,
			Type:        st.Type,
			Status:      model.StepStatusPending,
		}
	}

	if err := e.store.CreateJob(ctx, job, steps); err != nil {
		return nil, eris.Wrap(err, "engine: create job")
	}

	zap.L().Info("job created",
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform),
		zap.String("city", job.City),
		zap.Int("steps", job.TotalSteps),
	)
	return job, nil
}

// StartJob moves a draft job to pending and activates step 1. The first
// TriggerExtraction moves the job to in_progress.
func (e *Engine) StartJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: start job %s", jobID)
	}
	if !model.CanTransitionJob(job.Status, model.JobStatusPending) {
		return nil, eris.Errorf("engine: cannot start job %s in status %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusPending
	job.CurrentStep = 1
	job.StartedAt = &now

	if err := e.store.ApplyBatch(ctx, store.Batch{UpdateJob: job}); err != nil {
		return nil, eris.Wrapf(err, "engine: start job %s", jobID)
	}
	zap.L().Info("job started", zap.String("job_id", jobID))
	return job, nil
}

// CancelJob marks a job cancelled. Counters already recorded on steps and
// leads are left untouched; the only effect is that further extraction
// dispatches for the job are refused.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: cancel job %s", jobID)
	}
	if !model.CanTransitionJob(job.Status, model.JobStatusCancelled) {
		return nil, eris.Errorf("engine: cannot cancel job %s in status %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusCancelled
	job.CancelledAt = &now

	if err := e.store.ApplyBatch(ctx, store.Batch{UpdateJob: job}); err != nil {
		return nil, eris.Wrapf(err, "engine: cancel job %s", jobID)
	}
	zap.L().Info("job cancelled", zap.String("job_id", jobID))
	return job, nil
}

// FailJob marks a job failed after an unrecoverable step failure.
func (e *Engine) FailJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()
	return e.failJobLocked(ctx, jobID)
}

func (e *Engine) failJobLocked(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: fail job %s", jobID)
	}
	if !model.CanTransitionJob(job.Status, model.JobStatusFailed) {
		return nil, eris.Errorf("engine: cannot fail job %s in status %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now

	if err := e.store.ApplyBatch(ctx, store.Batch{UpdateJob: job}); err != nil {
		return nil, eris.Wrapf(err, "engine: fail job %s", jobID)
	}
	zap.L().Warn("job failed", zap.String("job_id", jobID))
	return job, nil
}

// JobWithStats is a job together with statistics recomputed from step
// data.
type JobWithStats struct {
	Job      *model.LeadScrapeJob `json:"job"`
	Steps    []model.JobStep      `json:"steps"`
	Stats    model.JobStats       `json:"stats"`
	Progress int                  `json:"progress"`
}

// GetJobWithStats loads a job and derives its display statistics from
// step counters. Persisted job-level counters are never consulted.
func (e *Engine) GetJobWithStats(ctx context.Context, jobID string) (*JobWithStats, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: get job %s", jobID)
	}
	steps, err := e.store.ListSteps(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: list steps for job %s", jobID)
	}
	return &JobWithStats{
		Job:      job,
		Steps:    steps,
		Stats:    model.ComputeJobStats(steps),
		Progress: model.ComputeProgress(steps),
	}, nil
}

// LeadView is a lead annotated with its status resolved relative to the
// step being viewed.
type LeadView struct {
	model.Lead
	DisplayStatus model.LeadStatus `json:"display_status"`
}

// ListStepLeads returns the leads that have reached a step, each with its
// display status resolved for that step. The optional displayStatus
// filters on the resolved value, not the raw one.
func (e *Engine) ListStepLeads(ctx context.Context, jobID string, stepNumber int, displayStatus model.LeadStatus, filter store.LeadFilter) ([]LeadView, error) {
	leads, err := e.store.ListLeadsForStep(ctx, jobID, stepNumber, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: list leads for job %s step %d", jobID, stepNumber)
	}
	views := make([]LeadView, 0, len(leads))
	for i := range leads {
		resolved := model.ResolveDisplayStatus(&leads[i], stepNumber)
		if displayStatus != "" && resolved != displayStatus {
			continue
		}
		views = append(views, LeadView{Lead: leads[i], DisplayStatus: resolved})
	}
	return views, nil
}
