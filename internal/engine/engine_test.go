package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

func testTemplate() model.PipelineTemplate {
	return model.PipelineTemplate{
		Steps: []model.StepTemplate{
			{Name: "Extract", Type: model.StepTypeAutomatic},
			{Name: "Enrich", Type: model.StepTypeActionRequired},
			{Name: "Register", Type: model.StepTypeActionRequired},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *recordDispatcher) {
	t.Helper()
	ms := newMemStore()
	rd := &recordDispatcher{}
	return New(ms, nil, rd), ms, rd
}

// seedJob creates a started three-step job directly in the store.
func seedJob(t *testing.T, e *Engine, ms *memStore) *model.LeadScrapeJob {
	t.Helper()
	ctx := context.Background()

	job, err := e.CreateJob(ctx, JobParams{Platform: "ubereats", City: "Berlin", LeadsLimit: 100}, testTemplate())
	require.NoError(t, err)
	job, err = e.StartJob(ctx, job.ID)
	require.NoError(t, err)
	return job
}

// seedLead inserts a lead and bumps the receiving step's counter.
func seedLead(t *testing.T, ms *memStore, job *model.LeadScrapeJob, stepNumber int, status model.LeadStatus) model.Lead {
	t.Helper()
	l := model.Lead{
		ID:             uuid.New().String(),
		JobID:          job.ID,
		CurrentStep:    stepNumber,
		Status:         status,
		RestaurantName: "Lead " + uuid.New().String()[:8],
		Platform:       job.Platform,
		City:           job.City,
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.leads
	m[l.ID] = l
	steps := ms.steps[job.ID]
	for i := range steps {
		if steps[i].StepNumber != stepNumber {
			continue
		}
		steps[i].LeadsReceived++
		switch status {
		case model.LeadStatusProcessed:
			steps[i].LeadsProcessed++
		case model.LeadStatusFailed:
			steps[i].LeadsProcessed++
			steps[i].LeadsFailed++
		case model.LeadStatusPassed:
			steps[i].LeadsProcessed++
			steps[i].LeadsPassed++
		}
	}
	return l
}

func TestCreateJob(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, JobParams{
		Platform:   "ubereats",
		Country:    "Germany",
		City:       "Berlin",
		Cuisine:    "italian",
		LeadsLimit: 50,
	}, testTemplate())
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusDraft, job.Status)
	assert.Equal(t, 3, job.TotalSteps)
	assert.Equal(t, 0, job.CurrentStep)

	steps, err := ms.ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.StepNumber)
		assert.Equal(t, model.StepStatusPending, s.Status)
		assert.Equal(t, job.ID, s.JobID)
	}
	assert.Equal(t, model.StepTypeAutomatic, steps[0].Type)
	assert.Equal(t, model.StepTypeActionRequired, steps[1].Type)
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateJob(ctx, JobParams{City: "Berlin"}, testTemplate())
	assert.Error(t, err, "platform required")

	_, err = e.CreateJob(ctx, JobParams{Platform: "ubereats"}, testTemplate())
	assert.Error(t, err, "city required")

	_, err = e.CreateJob(ctx, JobParams{Platform: "ubereats", City: "Berlin"}, model.PipelineTemplate{})
	assert.Error(t, err, "empty template")
}

func TestStartJob(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, JobParams{Platform: "ubereats", City: "Berlin"}, testTemplate())
	require.NoError(t, err)

	started, err := e.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, started.Status)
	assert.Equal(t, 1, started.CurrentStep)
	assert.NotNil(t, started.StartedAt)

	_, err = e.StartJob(ctx, job.ID)
	assert.Error(t, err, "pending job cannot start again")
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	cancelled, err := e.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = e.CancelJob(ctx, job.ID)
	assert.Error(t, err, "terminal job cannot cancel again")
}

func TestGetJobWithStats(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	ms.mu.Lock()
	steps := ms.steps[job.ID]
	steps[0].Status = model.StepStatusCompleted
	steps[0].LeadsReceived = 40
	steps[0].LeadsProcessed = 40
	steps[0].LeadsPassed = 30
	steps[0].LeadsFailed = 10
	steps[1].LeadsReceived = 30
	steps[1].LeadsProcessed = 5
	steps[1].LeadsFailed = 5
	ms.mu.Unlock()

	jws, err := e.GetJobWithStats(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, jws.Stats.Extracted)
	assert.Equal(t, 30, jws.Stats.Passed)
	assert.Equal(t, 15, jws.Stats.Failed)
	assert.Equal(t, 33, jws.Progress, "one of three steps completed")
}

func TestListStepLeads(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	onStep := seedLead(t, ms, job, 1, model.LeadStatusFailed)
	ahead := seedLead(t, ms, job, 2, model.LeadStatusAvailable)

	views, err := e.ListStepLeads(ctx, job.ID, 1, "", store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)

	byID := make(map[string]model.LeadStatus, len(views))
	for _, v := range views {
		byID[v.ID] = v.DisplayStatus
	}
	assert.Equal(t, model.LeadStatusFailed, byID[onStep.ID])
	assert.Equal(t, model.LeadStatusPassed, byID[ahead.ID], "lead past the step reads as passed")

	// Filtering on the resolved status, not the raw one.
	views, err = e.ListStepLeads(ctx, job.ID, 1, model.LeadStatusPassed, store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, ahead.ID, views[0].ID)
}
