package engine

import "context"

// Outcome is the per-lead result reported by the extraction worker.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SearchParams carries the listing-search parameters for a candidate
// extraction dispatch (first step of a job, before any leads exist).
type SearchParams struct {
	Platform   string `json:"platform"`
	Country    string `json:"country"`
	City       string `json:"city"`
	CityCode   string `json:"city_code,omitempty"`
	Cuisine    string `json:"cuisine,omitempty"`
	Limit      int    `json:"limit"`
	PageOffset int    `json:"page_offset"`
}

// Dispatch is one unit of work handed to the extraction worker: either a
// per-lead extraction batch (LeadIDs set) or a listing search (Search set).
type Dispatch struct {
	ID         string        `json:"id"`
	JobID      string        `json:"job_id"`
	StepNumber int           `json:"step_number"`
	StepName   string        `json:"step_name"`
	LeadIDs    []string      `json:"lead_ids,omitempty"`
	Search     *SearchParams `json:"search,omitempty"`
}

// Dispatcher hands extraction work to the worker without blocking on it.
// Implementations must return quickly; per-lead outcomes arrive later as
// CompletionEvents that re-enter the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Dispatch) error
}

// CompletionEvent is the worker's report for one lead of a dispatch.
// Events are treated as state-transition requests subject to the same
// eligibility checks as operator actions, which makes duplicate delivery
// harmless.
type CompletionEvent struct {
	DispatchID      string            `json:"dispatch_id"`
	JobID           string            `json:"job_id"`
	StepNumber      int               `json:"step_number"`
	LeadID          string            `json:"lead_id"`
	Outcome         Outcome           `json:"outcome"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	ErrorReason     string            `json:"error_reason,omitempty"`
}

// CandidateLead is one business record produced by a listing search,
// before duplicate detection and persistence.
type CandidateLead struct {
	RestaurantName   string   `json:"restaurant_name"`
	City             string   `json:"city"`
	Cuisine          []string `json:"cuisine,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Email            string   `json:"email,omitempty"`
	Address          string   `json:"address,omitempty"`
	Website          string   `json:"website,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// DispatchAck acknowledges that extraction work was handed off.
type DispatchAck struct {
	DispatchID string `json:"dispatch_id"`
	LeadCount  int    `json:"lead_count"`
	Search     bool   `json:"search"`
}
