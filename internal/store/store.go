// Package store provides durable persistence for jobs, steps and leads
// with per-step transactional update capability.
package store

import (
	"context"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status   model.JobStatus `json:"status,omitempty"`
	Platform string          `json:"platform,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads at a step. Status
// filters on the raw persisted status; display-status filtering happens
// above the store, after resolution.
type LeadFilter struct {
	Status     model.LeadStatus `json:"status,omitempty"`
	Duplicates *bool            `json:"duplicates,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// Batch is one atomic unit of mutations produced by a single engine
// operation. Either everything in the batch commits or nothing does.
// UpsertLeads writes leads keyed on id: new rows insert, existing rows
// are overwritten with the given values.
type Batch struct {
	InsertLeads   []model.Lead
	UpsertLeads   []model.Lead
	UpdateLeads   []model.Lead
	DeleteLeadIDs []string
	UpdateSteps   []model.JobStep
	UpdateJob     *model.LeadScrapeJob
}

// Empty reports whether the batch carries no mutations.
func (b Batch) Empty() bool {
	return len(b.InsertLeads) == 0 && len(b.UpsertLeads) == 0 && len(b.UpdateLeads) == 0 &&
		len(b.DeleteLeadIDs) == 0 && len(b.UpdateSteps) == 0 && b.UpdateJob == nil
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.LeadScrapeJob, steps []model.JobStep) error
	GetJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.LeadScrapeJob, error)

	// Steps
	GetStep(ctx context.Context, jobID string, stepNumber int) (*model.JobStep, error)
	ListSteps(ctx context.Context, jobID string) ([]model.JobStep, error)

	// Leads
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	GetLeads(ctx context.Context, jobID string, ids []string) ([]model.Lead, error)
	ListLeadsForStep(ctx context.Context, jobID string, stepNumber int, filter LeadFilter) ([]model.Lead, error)
	CountLeadsByStatus(ctx context.Context, jobID string, stepNumber int, status model.LeadStatus) (int, error)

	// Duplicate lookup (satisfies dupdetect.Lookup)
	FindLeadByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error)
	FindRestaurantByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error)

	// ApplyBatch commits one engine operation's mutations atomically,
	// locking the affected step rows for the duration.
	ApplyBatch(ctx context.Context, b Batch) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
