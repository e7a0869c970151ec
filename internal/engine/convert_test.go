package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestMarkConverted(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	l := seedLead(t, ms, job, 3, model.LeadStatusProcessed)

	lead, err := e.MarkConverted(ctx, l.ID, "rest-42")
	require.NoError(t, err)
	require.NotNil(t, lead.ConvertedToRestaurantID)
	assert.Equal(t, "rest-42", *lead.ConvertedToRestaurantID)

	// Same notification again is a no-op, not an error.
	again, err := e.MarkConverted(ctx, l.ID, "rest-42")
	require.NoError(t, err)
	assert.Equal(t, "rest-42", *again.ConvertedToRestaurantID)

	// A different restaurant claiming the same lead is a conflict.
	_, err = e.MarkConverted(ctx, l.ID, "rest-99")
	assert.Error(t, err)
}

func TestMarkConvertedValidation(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)

	_, err := e.MarkConverted(ctx, "absent", "rest-1")
	assert.Error(t, err, "unknown lead")

	l := seedLead(t, ms, job, 1, model.LeadStatusProcessed)
	_, err = e.MarkConverted(ctx, l.ID, "")
	assert.Error(t, err, "restaurant id required")

	busy := seedLead(t, ms, job, 1, model.LeadStatusProcessing)
	_, err = e.MarkConverted(ctx, busy.ID, "rest-1")
	assert.Error(t, err, "extraction in flight")
}

func TestConvertedLeadIsFrozen(t *testing.T) {
	t.Parallel()
	e, ms, _ := newTestEngine(t)
	ctx := context.Background()

	job := seedJob(t, e, ms)
	l := seedLead(t, ms, job, 1, model.LeadStatusProcessed)

	_, err := e.MarkConverted(ctx, l.ID, "rest-1")
	require.NoError(t, err)

	_, err = e.PassToNext(ctx, job.ID, 1, []string{l.ID})
	var ineligible *IneligibleLeadError
	require.ErrorAs(t, err, &ineligible)
	require.Len(t, ineligible.Rejections, 1)
	assert.Equal(t, "converted to restaurant", ineligible.Rejections[0].Reason)
}
