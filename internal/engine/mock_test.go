package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// memStore is an in-memory store.Store for engine tests. ApplyBatch is
// atomic the same way the real stores are: a failing batch mutates
// nothing.
type memStore struct {
	mu    sync.Mutex
	jobs  map[string]model.LeadScrapeJob
	steps map[string][]model.JobStep // jobID -> ordered steps
	leads map[string]model.Lead

	applyErr    error // next ApplyBatch fails with this
	batches     []store.Batch
	restaurants map[string]string // normName|normCity -> restaurant id
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]model.LeadScrapeJob),
		steps: make(map[string][]model.JobStep),
		leads: make(map[string]model.Lead),
	}
}

func (m *memStore) CreateJob(_ context.Context, job *model.LeadScrapeJob, steps []model.JobStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.steps[job.ID] = append([]model.JobStep(nil), steps...)
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*model.LeadScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	return &job, nil
}

func (m *memStore) ListJobs(_ context.Context, filter store.JobFilter) ([]model.LeadScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LeadScrapeJob
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Platform != "" && j.Platform != filter.Platform {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memStore) GetStep(_ context.Context, jobID string, stepNumber int) (*model.JobStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps[jobID] {
		if s.StepNumber == stepNumber {
			return &s, nil
		}
	}
	return nil, errors.New("step not found")
}

func (m *memStore) ListSteps(_ context.Context, jobID string) ([]model.JobStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JobStep(nil), m.steps[jobID]...), nil
}

func (m *memStore) GetLead(_ context.Context, leadID string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memStore) GetLeads(_ context.Context, jobID string, ids []string) ([]model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Lead
	for _, id := range ids {
		if l, ok := m.leads[id]; ok && l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ListLeadsForStep(_ context.Context, jobID string, stepNumber int, filter store.LeadFilter) ([]model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Lead
	for _, l := range m.leads {
		if l.JobID != jobID || l.CurrentStep < stepNumber {
			continue
		}
		if filter.Status != "" {
			if l.CurrentStep != stepNumber || l.Status != filter.Status {
				continue
			}
		}
		if filter.Duplicates != nil && l.IsDuplicate != *filter.Duplicates {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) CountLeadsByStatus(_ context.Context, jobID string, stepNumber int, status model.LeadStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.leads {
		if l.JobID == jobID && l.CurrentStep == stepNumber && l.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FindLeadByNormalizedNameCity(_ context.Context, normName, normCity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if dupdetect.NormalizeName(l.RestaurantName) == normName && dupdetect.NormalizeCity(l.City) == normCity {
			return l.ID, nil
		}
	}
	return "", nil
}

func (m *memStore) FindRestaurantByNormalizedNameCity(_ context.Context, normName, normCity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restaurants[normName+"|"+normCity], nil
}

func (m *memStore) ApplyBatch(_ context.Context, b store.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		err := m.applyErr
		m.applyErr = nil
		return err
	}
	m.batches = append(m.batches, b)

	for _, l := range b.InsertLeads {
		m.leads[l.ID] = l
	}
	for _, l := range b.UpsertLeads {
		m.leads[l.ID] = l
	}
	for _, l := range b.UpdateLeads {
		m.leads[l.ID] = l
	}
	for _, id := range b.DeleteLeadIDs {
		delete(m.leads, id)
	}
	for _, s := range b.UpdateSteps {
		steps := m.steps[s.JobID]
		for i := range steps {
			if steps[i].StepNumber == s.StepNumber {
				steps[i] = s
			}
		}
	}
	if b.UpdateJob != nil {
		m.jobs[b.UpdateJob.ID] = *b.UpdateJob
	}
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) lead(id string) model.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

func (m *memStore) step(jobID string, stepNumber int) model.JobStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps[jobID] {
		if s.StepNumber == stepNumber {
			return s
		}
	}
	return model.JobStep{}
}

func (m *memStore) job(jobID string) model.LeadScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID]
}

// recordDispatcher captures dispatches instead of running them.
type recordDispatcher struct {
	mu         sync.Mutex
	dispatches []Dispatch
	err        error
}

func (d *recordDispatcher) Dispatch(_ context.Context, dispatch Dispatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatches = append(d.dispatches, dispatch)
	return nil
}

func (d *recordDispatcher) last() Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dispatches) == 0 {
		return Dispatch{}
	}
	return d.dispatches[len(d.dispatches)-1]
}
