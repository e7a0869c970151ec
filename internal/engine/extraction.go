package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// TriggerExtraction marks the selected leads as processing and hands them
// to the extraction worker. With an empty selection it operates on every
// available lead at the step; on a first step that has received nothing
// yet it dispatches a listing search instead. The call returns as soon as
// the work is handed off; outcomes arrive later as CompletionEvents.
func (e *Engine) TriggerExtraction(ctx context.Context, jobID string, stepNumber int, leadIDs []string) (*DispatchAck, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()
	return e.triggerLocked(ctx, jobID, stepNumber, leadIDs)
}

func (e *Engine) triggerLocked(ctx context.Context, jobID string, stepNumber int, leadIDs []string) (*DispatchAck, error) {
	job, step, err := e.loadJobStep(ctx, jobID, stepNumber)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusPending, model.JobStatusInProgress:
	default:
		return nil, eris.Errorf("engine: extract: job %s is %s, no further dispatches", jobID, job.Status)
	}

	var selected []model.Lead
	if len(leadIDs) == 0 {
		avail, err := e.store.ListLeadsForStep(ctx, jobID, stepNumber, store.LeadFilter{Status: model.LeadStatusAvailable})
		if err != nil {
			return nil, eris.Wrapf(err, "engine: extract: list available leads for job %s step %d", jobID, stepNumber)
		}
		if len(avail) == 0 {
			if stepNumber == 1 && step.LeadsReceived == 0 {
				return e.dispatchSearch(ctx, job, step)
			}
			return nil, eris.Errorf("engine: extract: no available leads at job %s step %d", jobID, stepNumber)
		}
		selected = avail
	} else {
		leadIDs = dedupe(leadIDs)
		leads, rejections, err := e.loadSelection(ctx, jobID, leadIDs)
		if err != nil {
			return nil, err
		}

		var inflight []string
		for _, l := range leads {
			resolved := model.ResolveDisplayStatus(&l, stepNumber)
			switch resolved {
			case model.LeadStatusProcessing:
				inflight = append(inflight, l.ID)
			case model.LeadStatusAvailable:
				selected = append(selected, l)
			default:
				rejections = append(rejections, LeadRejection{LeadID: l.ID, Reason: "status is " + string(resolved) + ", not available"})
			}
		}
		// Overlap with an in-flight dispatch is the concurrency hazard,
		// reported distinctly so the caller knows to retry later.
		if len(inflight) > 0 {
			return nil, &StepConcurrencyError{JobID: jobID, StepNumber: stepNumber, LeadIDs: inflight}
		}
		if len(rejections) > 0 {
			return nil, &IneligibleLeadError{Op: "extract", Selected: len(leadIDs), Rejections: rejections}
		}
	}

	now := time.Now().UTC()
	prevStep := *step
	prevJob := *job
	updates := make([]model.Lead, len(selected))
	ids := make([]string, len(selected))
	for i, l := range selected {
		l.Status = model.LeadStatusProcessing
		l.UpdatedAt = now
		updates[i] = l
		ids[i] = l.ID
	}

	e.activate(job, step, now)
	if err := e.store.ApplyBatch(ctx, store.Batch{
		UpdateLeads: updates,
		UpdateSteps: []model.JobStep{*step},
		UpdateJob:   job,
	}); err != nil {
		return nil, eris.Wrapf(err, "engine: extract: commit job %s step %d", jobID, stepNumber)
	}

	d := Dispatch{
		ID:         uuid.New().String(),
		JobID:      jobID,
		StepNumber: stepNumber,
		StepName:   step.Name,
		LeadIDs:    ids,
	}
	if err := e.dispatcher.Dispatch(ctx, d); err != nil {
		// Hand-off failed before any work started: put the leads back.
		for i := range updates {
			updates[i].Status = model.LeadStatusAvailable
		}
		revert := store.Batch{UpdateLeads: updates, UpdateSteps: []model.JobStep{prevStep}, UpdateJob: &prevJob}
		if rerr := e.store.ApplyBatch(ctx, revert); rerr != nil {
			zap.L().Error("dispatch revert failed, leads stuck processing",
				zap.String("job_id", jobID),
				zap.Int("step", stepNumber),
				zap.Error(rerr),
			)
		}
		return nil, eris.Wrapf(err, "engine: extract: dispatch job %s step %d", jobID, stepNumber)
	}

	zap.L().Info("extraction dispatched",
		zap.String("job_id", jobID),
		zap.Int("step", stepNumber),
		zap.String("dispatch_id", d.ID),
		zap.Int("leads", len(ids)),
	)
	return &DispatchAck{DispatchID: d.ID, LeadCount: len(ids)}, nil
}

// dispatchSearch sends a listing-search dispatch for a first step that has
// not produced any leads yet.
func (e *Engine) dispatchSearch(ctx context.Context, job *model.LeadScrapeJob, step *model.JobStep) (*DispatchAck, error) {
	now := time.Now().UTC()
	e.activate(job, step, now)
	if err := e.store.ApplyBatch(ctx, store.Batch{
		UpdateSteps: []model.JobStep{*step},
		UpdateJob:   job,
	}); err != nil {
		return nil, eris.Wrapf(err, "engine: extract: commit search activation for job %s", job.ID)
	}

	d := Dispatch{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		StepNumber: step.StepNumber,
		StepName:   step.Name,
		Search: &SearchParams{
			Platform:   job.Platform,
			Country:    job.Country,
			City:       job.City,
			CityCode:   job.CityCode,
			Cuisine:    job.Cuisine,
			Limit:      job.LeadsLimit,
			PageOffset: job.PageOffset,
		},
	}
	if err := e.dispatcher.Dispatch(ctx, d); err != nil {
		return nil, eris.Wrapf(err, "engine: extract: dispatch search for job %s", job.ID)
	}

	zap.L().Info("search dispatched",
		zap.String("job_id", job.ID),
		zap.String("dispatch_id", d.ID),
		zap.String("platform", job.Platform),
		zap.String("city", job.City),
	)
	return &DispatchAck{DispatchID: d.ID, Search: true}, nil
}

// activate moves a pending job/step into in_progress as a side effect of
// dispatching work.
func (e *Engine) activate(job *model.LeadScrapeJob, step *model.JobStep, now time.Time) {
	if step.Status != model.StepStatusInProgress && model.CanTransitionStep(step.Status, model.StepStatusInProgress) {
		step.Status = model.StepStatusInProgress
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
	}
	if job.Status == model.JobStatusPending {
		job.Status = model.JobStatusInProgress
	}
}

// HandleCompletion applies one worker outcome to its lead. Completions
// are idempotent: a report for a lead that is not processing on the
// reported step is stale (replay, or the lead was deleted or moved) and
// is dropped.
func (e *Engine) HandleCompletion(ctx context.Context, ev CompletionEvent) error {
	unlock := e.locks.acquire(ev.JobID)
	defer unlock()

	lead, err := e.store.GetLead(ctx, ev.LeadID)
	if err != nil {
		return eris.Wrapf(err, "engine: completion: load lead %s", ev.LeadID)
	}
	if lead == nil || lead.JobID != ev.JobID ||
		lead.CurrentStep != ev.StepNumber || lead.Status != model.LeadStatusProcessing {
		zap.L().Debug("stale completion ignored",
			zap.String("lead_id", ev.LeadID),
			zap.String("dispatch_id", ev.DispatchID),
		)
		return nil
	}

	job, step, err := e.loadJobStep(ctx, ev.JobID, ev.StepNumber)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch ev.Outcome {
	case OutcomeSuccess:
		lead.Status = model.LeadStatusProcessed
		applyExtractedFields(lead, ev.ExtractedFields)
		step.LeadsProcessed++
	case OutcomeFailure:
		lead.Status = model.LeadStatusFailed
		reason := ev.ErrorReason
		if reason == "" {
			reason = "extraction failed"
		}
		lead.ValidationErrors = append(lead.ValidationErrors, reason)
		step.LeadsProcessed++
		step.LeadsFailed++
	default:
		return eris.Errorf("engine: completion: unknown outcome %q", ev.Outcome)
	}
	lead.UpdatedAt = now

	if err := e.checkCounters(step); err != nil {
		return err
	}
	if err := e.store.ApplyBatch(ctx, store.Batch{
		UpdateLeads: []model.Lead{*lead},
		UpdateSteps: []model.JobStep{*step},
	}); err != nil {
		return eris.Wrapf(err, "engine: completion: commit lead %s", ev.LeadID)
	}

	return e.maybeFinalizeStep(ctx, job, step)
}

// HandleSearchResults ingests the candidates produced by a listing
// search. Each candidate runs through duplicate detection before it is
// persisted as an available lead on the step. Results arriving for a
// terminal job are dropped.
func (e *Engine) HandleSearchResults(ctx context.Context, jobID string, stepNumber int, candidates []CandidateLead) (int, error) {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, step, err := e.loadJobStep(ctx, jobID, stepNumber)
	if err != nil {
		return 0, err
	}
	if job.Status.Terminal() {
		zap.L().Info("search results dropped, job is terminal",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return 0, nil
	}

	// Honor the requested lead cap across repeated searches.
	remaining := len(candidates)
	if job.LeadsLimit > 0 {
		if room := job.LeadsLimit - step.LeadsReceived; room < remaining {
			remaining = room
		}
	}
	if remaining <= 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	inserts := make([]model.Lead, 0, remaining)
	for _, c := range candidates[:remaining] {
		lead := model.Lead{
			ID:               uuid.New().String(),
			JobID:            jobID,
			CurrentStep:      stepNumber,
			Status:           model.LeadStatusAvailable,
			RestaurantName:   c.RestaurantName,
			Platform:         job.Platform,
			City:             c.City,
			Cuisine:          c.Cuisine,
			Rating:           c.Rating,
			Phone:            c.Phone,
			Email:            c.Email,
			Address:          c.Address,
			Website:          c.Website,
			ValidationErrors: c.ValidationErrors,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if lead.City == "" {
			lead.City = job.City
		}
		if lead.RestaurantName == "" {
			lead.ValidationErrors = append(lead.ValidationErrors, "missing restaurant name")
		}

		if e.matcher != nil {
			match := dupdetect.DetectOrProceed(ctx, e.matcher, dupdetect.Candidate{
				RestaurantName: lead.RestaurantName,
				City:           lead.City,
				Platform:       lead.Platform,
			})
			lead.IsDuplicate = match.IsDuplicate
			lead.DuplicateOfLeadID = match.MatchedLeadID
			lead.DuplicateOfRestaurantID = match.MatchedRestaurantID
		}

		inserts = append(inserts, lead)
	}

	step.LeadsReceived += len(inserts)
	if err := e.checkCounters(step); err != nil {
		return 0, err
	}
	if err := e.store.ApplyBatch(ctx, store.Batch{
		InsertLeads: inserts,
		UpdateSteps: []model.JobStep{*step},
	}); err != nil {
		return 0, eris.Wrapf(err, "engine: ingest: commit job %s step %d", jobID, stepNumber)
	}

	zap.L().Info("candidates ingested",
		zap.String("job_id", jobID),
		zap.Int("step", stepNumber),
		zap.Int("count", len(inserts)),
	)

	if err := e.maybeFinalizeStep(ctx, job, step); err != nil {
		return len(inserts), err
	}
	return len(inserts), nil
}

// HandleDispatchFailure records a dispatch that failed wholesale. Leads
// the dispatch had in flight are failed individually; a search dispatch
// that produced nothing fails the step, and with it the job.
func (e *Engine) HandleDispatchFailure(ctx context.Context, jobID string, stepNumber int, reason string) error {
	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, step, err := e.loadJobStep(ctx, jobID, stepNumber)
	if err != nil {
		return err
	}

	processing, err := e.store.ListLeadsForStep(ctx, jobID, stepNumber, store.LeadFilter{Status: model.LeadStatusProcessing})
	if err != nil {
		return eris.Wrapf(err, "engine: dispatch failure: list processing leads for job %s step %d", jobID, stepNumber)
	}

	now := time.Now().UTC()
	if len(processing) > 0 {
		if reason == "" {
			reason = "extraction dispatch failed"
		}
		updates := make([]model.Lead, len(processing))
		for i, l := range processing {
			l.Status = model.LeadStatusFailed
			l.ValidationErrors = append(l.ValidationErrors, reason)
			l.UpdatedAt = now
			updates[i] = l
		}
		step.LeadsProcessed += len(processing)
		step.LeadsFailed += len(processing)
		if err := e.checkCounters(step); err != nil {
			return err
		}
		if err := e.store.ApplyBatch(ctx, store.Batch{
			UpdateLeads: updates,
			UpdateSteps: []model.JobStep{*step},
		}); err != nil {
			return eris.Wrapf(err, "engine: dispatch failure: commit job %s step %d", jobID, stepNumber)
		}
		return e.maybeFinalizeStep(ctx, job, step)
	}

	// Nothing was in flight: the search itself failed.
	if model.CanTransitionStep(step.Status, model.StepStatusFailed) {
		step.Status = model.StepStatusFailed
	}
	batch := store.Batch{UpdateSteps: []model.JobStep{*step}}
	if model.CanTransitionJob(job.Status, model.JobStatusFailed) {
		job.Status = model.JobStatusFailed
		job.CompletedAt = &now
		batch.UpdateJob = job
	}
	if err := e.store.ApplyBatch(ctx, batch); err != nil {
		return eris.Wrapf(err, "engine: dispatch failure: commit step failure for job %s", jobID)
	}
	zap.L().Warn("step failed",
		zap.String("job_id", jobID),
		zap.Int("step", stepNumber),
		zap.String("reason", reason),
	)
	return nil
}

// maybeFinalizeStep runs once no leads remain processing on the step:
// an automatic step self-triggers extraction of anything still available,
// then auto-passes everything processed; an action_required step parks
// and waits for the operator.
func (e *Engine) maybeFinalizeStep(ctx context.Context, job *model.LeadScrapeJob, step *model.JobStep) error {
	inflight, err := e.store.CountLeadsByStatus(ctx, job.ID, step.StepNumber, model.LeadStatusProcessing)
	if err != nil {
		return eris.Wrapf(err, "engine: finalize: count processing for job %s step %d", job.ID, step.StepNumber)
	}
	if inflight > 0 {
		return nil
	}
	if job.Status.Terminal() {
		return nil
	}

	if step.Type == model.StepTypeAutomatic {
		available, err := e.store.CountLeadsByStatus(ctx, job.ID, step.StepNumber, model.LeadStatusAvailable)
		if err != nil {
			return eris.Wrapf(err, "engine: finalize: count available for job %s step %d", job.ID, step.StepNumber)
		}
		if available > 0 {
			_, err := e.triggerLocked(ctx, job.ID, step.StepNumber, nil)
			return err
		}

		processed, err := e.store.ListLeadsForStep(ctx, job.ID, step.StepNumber, store.LeadFilter{Status: model.LeadStatusProcessed})
		if err != nil {
			return eris.Wrapf(err, "engine: finalize: list processed for job %s step %d", job.ID, step.StepNumber)
		}
		if len(processed) > 0 {
			ids := make([]string, len(processed))
			for i, l := range processed {
				ids[i] = l.ID
			}
			_, err := e.passLocked(ctx, job.ID, step.StepNumber, ids)
			return err
		}
		return nil
	}

	if step.Status == model.StepStatusInProgress &&
		model.CanTransitionStep(step.Status, model.StepStatusActionRequired) {
		step.Status = model.StepStatusActionRequired
		if err := e.store.ApplyBatch(ctx, store.Batch{UpdateSteps: []model.JobStep{*step}}); err != nil {
			return eris.Wrapf(err, "engine: finalize: park step %d of job %s", step.StepNumber, job.ID)
		}
		zap.L().Info("step awaiting operator action",
			zap.String("job_id", job.ID),
			zap.Int("step", step.StepNumber),
		)
	}
	return nil
}

// applyExtractedFields merges worker-extracted fields into the lead.
// Unknown keys are ignored; a bad rating is recorded as a validation
// issue rather than dropped silently.
func applyExtractedFields(lead *model.Lead, fields map[string]string) {
	for k, v := range fields {
		if v == "" {
			continue
		}
		switch k {
		case "restaurant_name":
			lead.RestaurantName = v
		case "phone":
			lead.Phone = v
		case "email":
			lead.Email = v
		case "address":
			lead.Address = v
		case "website":
			lead.Website = v
		case "rating":
			if r, err := strconv.ParseFloat(v, 64); err == nil {
				lead.Rating = &r
			} else {
				lead.ValidationErrors = append(lead.ValidationErrors, "unparseable rating: "+v)
			}
		}
	}
}
