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

// ImportResult reports what an import batch did to the job's first step.
type ImportResult struct {
	Imported  int           `json:"imported"`
	Refreshed int           `json:"refreshed"`
	Step      model.JobStep `json:"step"`
}

// ImportLeads ingests externally sourced leads into a job's first step.
// Lead ids derive from the job and the normalized name+city, so re-running
// the same import converges: rows seen before refresh their contact
// fields and counters stay put; only genuinely new rows increment the
// step's received counter. The job's search lead cap does not apply to
// explicit imports.
func (e *Engine) ImportLeads(ctx context.Context, jobID string, candidates []CandidateLead) (*ImportResult, error) {
	if len(candidates) == 0 {
		return nil, eris.New("engine: import: empty batch")
	}

	unlock := e.locks.acquire(jobID)
	defer unlock()

	job, step, err := e.loadJobStep(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, eris.Errorf("engine: import: job %s is %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(candidates))
	ids := make([]string, 0, len(candidates))
	incoming := make([]model.Lead, 0, len(candidates))
	for i, c := range candidates {
		city := c.City
		if city == "" {
			city = job.City
		}
		if dupdetect.NormalizeName(c.RestaurantName) == "" || city == "" {
			return nil, eris.Errorf("engine: import: row %d is missing restaurant name or city", i+1)
		}

		id := importLeadID(jobID, c.RestaurantName, city)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)

		incoming = append(incoming, model.Lead{
			ID:               id,
			JobID:            jobID,
			CurrentStep:      1,
			Status:           model.LeadStatusAvailable,
			RestaurantName:   c.RestaurantName,
			Platform:         job.Platform,
			City:             city,
			Cuisine:          c.Cuisine,
			Rating:           c.Rating,
			Phone:            c.Phone,
			Email:            c.Email,
			Address:          c.Address,
			Website:          c.Website,
			ValidationErrors: c.ValidationErrors,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	existing, err := e.store.GetLeads(ctx, jobID, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: import: load existing leads for job %s", jobID)
	}
	byID := make(map[string]model.Lead, len(existing))
	for _, l := range existing {
		byID[l.ID] = l
	}

	var imported, refreshed int
	upserts := make([]model.Lead, 0, len(incoming))
	for _, l := range incoming {
		if prev, ok := byID[l.ID]; ok {
			// The row exists: refresh contact data only. Pipeline
			// position, status and duplicate flags belong to the engine's
			// other operations and survive a re-import untouched.
			prev.Cuisine = l.Cuisine
			prev.Rating = l.Rating
			prev.Phone = l.Phone
			prev.Email = l.Email
			prev.Address = l.Address
			prev.Website = l.Website
			prev.UpdatedAt = now
			upserts = append(upserts, prev)
			refreshed++
			continue
		}

		if e.matcher != nil {
			match := dupdetect.DetectOrProceed(ctx, e.matcher, dupdetect.Candidate{
				RestaurantName: l.RestaurantName,
				City:           l.City,
				Platform:       l.Platform,
			})
			l.IsDuplicate = match.IsDuplicate
			l.DuplicateOfLeadID = match.MatchedLeadID
			l.DuplicateOfRestaurantID = match.MatchedRestaurantID
		}
		upserts = append(upserts, l)
		imported++
	}

	step.LeadsReceived += imported
	if err := e.checkCounters(step); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBatch(ctx, store.Batch{
		UpsertLeads: upserts,
		UpdateSteps: []model.JobStep{*step},
	}); err != nil {
		return nil, eris.Wrapf(err, "engine: import: commit job %s", jobID)
	}

	zap.L().Info("leads imported",
		zap.String("job_id", jobID),
		zap.Int("imported", imported),
		zap.Int("refreshed", refreshed),
	)
	return &ImportResult{Imported: imported, Refreshed: refreshed, Step: *step}, nil
}

// importLeadID derives a stable lead id from the job and the normalized
// name+city, keying re-imports of the same row onto the same record.
func importLeadID(jobID, name, city string) string {
	key := jobID + "\x00" + dupdetect.NormalizeName(name) + "\x00" + dupdetect.NormalizeCity(city)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
