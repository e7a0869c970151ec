package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testJob(id string) *model.LeadScrapeJob {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.LeadScrapeJob{
		ID:         id,
		Platform:   "ubereats",
		Country:    "Germany",
		City:       "Berlin",
		CityCode:   "BER",
		Cuisine:    "italian",
		LeadsLimit: 100,
		Status:     model.JobStatusDraft,
		TotalSteps: 2,
		CreatedAt:  now,
	}
}

func testSteps(jobID string) []model.JobStep {
	return []model.JobStep{
		{ID: jobID + "-s1", JobID: jobID, StepNumber: 1, Name: "Extract", Type: model.StepTypeAutomatic, Status: model.StepStatusPending},
		{ID: jobID + "-s2", JobID: jobID, StepNumber: 2, Name: "Enrich", Type: model.StepTypeActionRequired, Status: model.StepStatusPending},
	}
}

func testLead(id, jobID string) model.Lead {
	now := time.Now().UTC().Truncate(time.Second)
	rating := 4.3
	return model.Lead{
		ID:             id,
		JobID:          jobID,
		CurrentStep:    1,
		Status:         model.LeadStatusAvailable,
		RestaurantName: "Mario's Pizzeria",
		Platform:       "ubereats",
		City:           "Berlin",
		Cuisine:        []string{"italian", "pizza"},
		Rating:         &rating,
		Phone:          "+49 30 1234",
		Website:        "https://marios.example",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSQLiteJobRoundTrip(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Platform, got.Platform)
	assert.Equal(t, job.City, got.City)
	assert.Equal(t, job.CityCode, got.CityCode)
	assert.Equal(t, model.JobStatusDraft, got.Status)
	assert.Equal(t, 2, got.TotalSteps)
	assert.Nil(t, got.StartedAt)

	_, err = st.GetJob(ctx, "absent")
	assert.Error(t, err)
}

func TestSQLiteListJobs(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testJob("job-a")
	require.NoError(t, st.CreateJob(ctx, a, testSteps(a.ID)))

	b := testJob("job-b")
	b.Platform = "doordash"
	b.Status = model.JobStatusInProgress
	b.CreatedAt = b.CreatedAt.Add(time.Second)
	require.NoError(t, st.CreateJob(ctx, b, testSteps(b.ID)))

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "job-b", all[0].ID, "newest first")

	byStatus, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusInProgress})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "job-b", byStatus[0].ID)

	byPlatform, err := st.ListJobs(ctx, JobFilter{Platform: "ubereats"})
	require.NoError(t, err)
	require.Len(t, byPlatform, 1)
	assert.Equal(t, "job-a", byPlatform[0].ID)

	limited, err := st.ListJobs(ctx, JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "job-a", limited[0].ID)
}

func TestSQLiteSteps(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	steps, err := st.ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.Equal(t, model.StepTypeAutomatic, steps[0].Type)

	s2, err := st.GetStep(ctx, job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Enrich", s2.Name)
	assert.Equal(t, model.StepTypeActionRequired, s2.Type)

	_, err = st.GetStep(ctx, job.ID, 9)
	assert.Error(t, err)
}

func TestSQLiteLeadRoundTrip(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	lead := testLead("lead-1", job.ID)
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{lead}}))

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lead.RestaurantName, got.RestaurantName)
	assert.Equal(t, []string{"italian", "pizza"}, got.Cuisine)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.3, *got.Rating, 0.001)
	assert.False(t, got.IsDuplicate)
	assert.Nil(t, got.ValidationErrors)

	// Missing leads come back nil, not an error.
	absent, err := st.GetLead(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestSQLiteGetLeadsScopedToJob(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testJob("job-a")
	require.NoError(t, st.CreateJob(ctx, a, testSteps(a.ID)))
	b := testJob("job-b")
	require.NoError(t, st.CreateJob(ctx, b, testSteps(b.ID)))

	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{
		testLead("lead-a", a.ID),
		testLead("lead-b", b.ID),
	}}))

	leads, err := st.GetLeads(ctx, a.ID, []string{"lead-a", "lead-b"})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "lead-a", leads[0].ID)

	none, err := st.GetLeads(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteListLeadsForStep(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	onStep := testLead("lead-1", job.ID)
	onStep.Status = model.LeadStatusFailed

	ahead := testLead("lead-2", job.ID)
	ahead.CurrentStep = 2
	ahead.IsDuplicate = true
	ahead.CreatedAt = ahead.CreatedAt.Add(time.Second)

	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{onStep, ahead}}))

	// Without a status filter, every lead that reached the step shows.
	leads, err := st.ListLeadsForStep(ctx, job.ID, 1, LeadFilter{})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead-1", leads[0].ID, "ordered by created_at")

	// The raw status filter narrows to leads occupying the step.
	failed, err := st.ListLeadsForStep(ctx, job.ID, 1, LeadFilter{Status: model.LeadStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "lead-1", failed[0].ID)

	dup := true
	dupes, err := st.ListLeadsForStep(ctx, job.ID, 1, LeadFilter{Duplicates: &dup})
	require.NoError(t, err)
	require.Len(t, dupes, 1)
	assert.Equal(t, "lead-2", dupes[0].ID)

	atTwo, err := st.ListLeadsForStep(ctx, job.ID, 2, LeadFilter{})
	require.NoError(t, err)
	require.Len(t, atTwo, 1)
	assert.Equal(t, "lead-2", atTwo[0].ID)
}

func TestSQLiteCountLeadsByStatus(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	l1 := testLead("lead-1", job.ID)
	l1.Status = model.LeadStatusProcessing
	l2 := testLead("lead-2", job.ID)
	l2.Status = model.LeadStatusProcessing
	l3 := testLead("lead-3", job.ID)
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{l1, l2, l3}}))

	n, err := st.CountLeadsByStatus(ctx, job.ID, 1, model.LeadStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountLeadsByStatus(ctx, job.ID, 2, model.LeadStatusProcessing)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteDuplicateLookup(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	plain := testLead("lead-1", job.ID)
	converted := testLead("lead-2", job.ID)
	converted.RestaurantName = "Golden Dragon"
	restID := "rest-7"
	converted.ConvertedToRestaurantID = &restID
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{plain, converted}}))

	// The lookup matches on the stored normalized columns.
	id, err := st.FindLeadByNormalizedNameCity(ctx, "MARIOS PIZZERIA", "BERLIN")
	require.NoError(t, err)
	assert.Equal(t, "lead-1", id)

	// Converted leads answer the restaurant lookup, not the lead one.
	id, err = st.FindLeadByNormalizedNameCity(ctx, "GOLDEN DRAGON", "BERLIN")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = st.FindRestaurantByNormalizedNameCity(ctx, "GOLDEN DRAGON", "BERLIN")
	require.NoError(t, err)
	assert.Equal(t, "rest-7", id)

	id, err = st.FindRestaurantByNormalizedNameCity(ctx, "NOBODY", "NOWHERE")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSQLiteApplyBatch(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	steps := testSteps(job.ID)
	require.NoError(t, st.CreateJob(ctx, job, steps))

	lead := testLead("lead-1", job.ID)
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{lead}}))

	// One engine operation: lead moves on, counters and job change together.
	now := time.Now().UTC().Truncate(time.Second)
	lead.CurrentStep = 2
	lead.Status = model.LeadStatusAvailable
	lead.UpdatedAt = now

	steps[0].Status = model.StepStatusCompleted
	steps[0].LeadsReceived = 1
	steps[0].LeadsProcessed = 1
	steps[0].LeadsPassed = 1
	steps[0].CompletedAt = &now
	steps[1].LeadsReceived = 1

	job.Status = model.JobStatusInProgress
	job.CurrentStep = 2

	require.NoError(t, st.ApplyBatch(ctx, Batch{
		UpdateLeads: []model.Lead{lead},
		UpdateSteps: steps,
		UpdateJob:   job,
	}))

	gotLead, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotLead.CurrentStep)

	gotStep, err := st.GetStep(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, gotStep.Status)
	assert.Equal(t, 1, gotStep.LeadsPassed)
	require.NotNil(t, gotStep.CompletedAt)

	gotJob, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotJob.CurrentStep)
}

func TestSQLiteApplyBatchAtomic(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{testLead("lead-1", job.ID)}}))

	// The phantom step makes the batch fail; the lead update must not
	// survive on its own.
	moved := testLead("lead-1", job.ID)
	moved.CurrentStep = 2
	err := st.ApplyBatch(ctx, Batch{
		UpdateLeads: []model.Lead{moved},
		UpdateSteps: []model.JobStep{{ID: "phantom", JobID: job.ID, StepNumber: 9}},
	})
	require.Error(t, err)

	got, err := st.GetLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep, "failed batch left nothing behind")
}

func TestSQLiteApplyBatchUpserts(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))

	lead := testLead("lead-1", job.ID)
	require.NoError(t, st.ApplyBatch(ctx, Batch{UpsertLeads: []model.Lead{lead}}))

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Mario's Pizzeria", got.RestaurantName)

	// The same id again overwrites in place instead of erroring, which is
	// what makes imports re-runnable.
	again := testLead("lead-1", job.ID)
	again.Phone = "+49 30 9999"
	again.Status = model.LeadStatusProcessed
	again.CreatedAt = again.CreatedAt.Add(time.Hour)
	require.NoError(t, st.ApplyBatch(ctx, Batch{UpsertLeads: []model.Lead{again}}))

	got, err = st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "+49 30 9999", got.Phone)
	assert.Equal(t, model.LeadStatusProcessed, got.Status)
	assert.WithinDuration(t, lead.CreatedAt, got.CreatedAt, time.Second, "created_at keeps the original value")
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "leads.db?_txlock=immediate", sqliteDSN("leads.db"))
	assert.Equal(t, "leads.db?cache=shared&_txlock=immediate", sqliteDSN("leads.db?cache=shared"))
	assert.Equal(t, "leads.db?_txlock=deferred", sqliteDSN("leads.db?_txlock=deferred"), "explicit txlock wins")
}

func TestSQLiteApplyBatchDeletes(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, st.CreateJob(ctx, job, testSteps(job.ID)))
	require.NoError(t, st.ApplyBatch(ctx, Batch{InsertLeads: []model.Lead{
		testLead("lead-1", job.ID),
		testLead("lead-2", job.ID),
	}}))

	require.NoError(t, st.ApplyBatch(ctx, Batch{DeleteLeadIDs: []string{"lead-1"}}))

	gone, err := st.GetLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := st.GetLead(ctx, "lead-2")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSQLiteApplyBatchEmpty(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.ApplyBatch(context.Background(), Batch{}))
}
