package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestImportLeads(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	res, err := e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Trattoria Nonna", City: "Berlin", Phone: "+49 30 1111"},
		{RestaurantName: "Curry 36"}, // city falls back to the job's
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Refreshed)
	assert.Equal(t, 2, res.Step.LeadsReceived)

	step := ms.step(job.ID, 1)
	assert.Equal(t, 2, step.LeadsReceived)
	assert.Equal(t, 0, step.LeadsProcessed)

	id := importLeadID(job.ID, "Trattoria Nonna", "Berlin")
	l := ms.lead(id)
	assert.Equal(t, model.LeadStatusAvailable, l.Status)
	assert.Equal(t, 1, l.CurrentStep)
	assert.Equal(t, "Berlin", l.City)
	assert.Equal(t, job.Platform, l.Platform)

	fallback := ms.lead(importLeadID(job.ID, "Curry 36", "Berlin"))
	assert.Equal(t, "Berlin", fallback.City)
}

// Imported leads must be first-class pipeline citizens: passing one
// onward keeps every step counter consistent.
func TestImportLeadsThenPass(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	_, err := e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Sushi Circle", City: "Berlin"},
	})
	require.NoError(t, err)

	id := importLeadID(job.ID, "Sushi Circle", "Berlin")
	res, err := e.PassToNext(ctx, job.ID, 1, []string{id})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Passed)
	step := ms.step(job.ID, 1)
	assert.Equal(t, 1, step.LeadsReceived)
	assert.Equal(t, 1, step.LeadsProcessed)
	assert.Equal(t, 1, step.LeadsPassed)
	assert.Equal(t, 2, ms.lead(id).CurrentStep)
}

func TestImportLeadsRerunRefreshes(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	_, err := e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Taco Loco", City: "Berlin", Phone: "old"},
	})
	require.NoError(t, err)

	// Move the lead mid-pipeline before the re-run.
	id := importLeadID(job.ID, "Taco Loco", "Berlin")
	ms.mu.Lock()
	l := ms.leads[id]
	l.Status = model.LeadStatusProcessed
	ms.leads[id] = l
	steps := ms.steps[job.ID]
	steps[0].LeadsProcessed++
	ms.mu.Unlock()

	res, err := e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Taco Loco", City: "Berlin", Phone: "new", Website: "https://tacoloco.example"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, res.Refreshed)

	got := ms.lead(id)
	assert.Equal(t, "new", got.Phone)
	assert.Equal(t, "https://tacoloco.example", got.Website)
	assert.Equal(t, model.LeadStatusProcessed, got.Status, "re-import must not reset pipeline position")

	step := ms.step(job.ID, 1)
	assert.Equal(t, 1, step.LeadsReceived, "refresh must not double-count")
	assert.Equal(t, 1, step.LeadsProcessed)
}

func TestImportLeadsDetectsDuplicates(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	ms.restaurants = map[string]string{"GOLDEN DRAGON|BERLIN": "rest-7"}
	rd := &recordDispatcher{}
	e := New(ms, dupdetect.NewStoreMatcher(ms), rd)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	_, err := e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Golden Dragon", City: "Berlin"},
		{RestaurantName: "Fresh Bowl", City: "Berlin"},
	})
	require.NoError(t, err)

	dup := ms.lead(importLeadID(job.ID, "Golden Dragon", "Berlin"))
	assert.True(t, dup.IsDuplicate)
	require.NotNil(t, dup.DuplicateOfRestaurantID)
	assert.Equal(t, "rest-7", *dup.DuplicateOfRestaurantID)

	fresh := ms.lead(importLeadID(job.ID, "Fresh Bowl", "Berlin"))
	assert.False(t, fresh.IsDuplicate)
}

func TestImportLeadsValidation(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	_, err := e.ImportLeads(ctx, job.ID, nil)
	assert.Error(t, err, "empty batch")

	_, err = e.ImportLeads(ctx, job.ID, []CandidateLead{{City: "Berlin"}})
	assert.Error(t, err, "missing name")

	assert.Equal(t, 0, ms.step(job.ID, 1).LeadsReceived)
}

func TestImportLeadsTerminalJobRejected(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	_, err := e.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = e.ImportLeads(ctx, job.ID, []CandidateLead{
		{RestaurantName: "Late Arrival", City: "Berlin"},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, ms.step(job.ID, 1).LeadsReceived)
}
