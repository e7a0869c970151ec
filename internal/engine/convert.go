package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// MarkConverted records that a lead was promoted into a managed
// restaurant by the conversion subsystem. The lead keeps its place in the
// step counters but is frozen: every later pipeline transition on it is
// rejected as ineligible.
func (e *Engine) MarkConverted(ctx context.Context, leadID, restaurantID string) (*model.Lead, error) {
	if restaurantID == "" {
		return nil, eris.New("engine: convert: restaurant id is required")
	}

	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: convert: load lead %s", leadID)
	}
	if lead == nil {
		return nil, eris.Errorf("engine: convert: lead %s not found", leadID)
	}

	unlock := e.locks.acquire(lead.JobID)
	defer unlock()

	// Reload under the lock; the lead may have moved meanwhile.
	lead, err = e.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: convert: load lead %s", leadID)
	}
	if lead == nil {
		return nil, eris.Errorf("engine: convert: lead %s not found", leadID)
	}
	if lead.Converted() {
		if *lead.ConvertedToRestaurantID == restaurantID {
			return lead, nil // replay of the same notification
		}
		return nil, eris.Errorf("engine: convert: lead %s already converted to restaurant %s",
			leadID, *lead.ConvertedToRestaurantID)
	}
	if lead.Status == model.LeadStatusProcessing {
		return nil, eris.Errorf("engine: convert: lead %s has extraction in flight", leadID)
	}

	lead.ConvertedToRestaurantID = &restaurantID
	lead.UpdatedAt = time.Now().UTC()

	if err := e.store.ApplyBatch(ctx, store.Batch{UpdateLeads: []model.Lead{*lead}}); err != nil {
		return nil, eris.Wrapf(err, "engine: convert: commit lead %s", leadID)
	}

	zap.L().Info("lead converted",
		zap.String("lead_id", leadID),
		zap.String("restaurant_id", restaurantID),
	)
	return lead, nil
}
