// Package model defines the job/step/lead entities of the extraction
// pipeline and the status state machines that govern them.
package model

import (
	"time"
)

// LeadStatus represents a lead's raw progression status on its current step.
type LeadStatus string

const (
	LeadStatusAvailable  LeadStatus = "available"
	LeadStatusProcessing LeadStatus = "processing"
	LeadStatusProcessed  LeadStatus = "processed"
	LeadStatusPassed     LeadStatus = "passed"
	LeadStatusFailed     LeadStatus = "failed"
)

// IsValid checks if the LeadStatus is a known value.
func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadStatusAvailable, LeadStatusProcessing, LeadStatusProcessed,
		LeadStatusPassed, LeadStatusFailed:
		return true
	}
	return false
}

// Lead is one candidate business record flowing through a job's steps.
type Lead struct {
	ID          string     `json:"id" db:"id"`
	JobID       string     `json:"job_id" db:"job_id"`
	CurrentStep int        `json:"current_step" db:"current_step"`
	Status      LeadStatus `json:"step_progression_status" db:"step_progression_status"`

	RestaurantName string   `json:"restaurant_name" db:"restaurant_name"`
	Platform       string   `json:"platform" db:"platform"`
	City           string   `json:"city" db:"city"`
	Cuisine        []string `json:"cuisine,omitempty" db:"cuisine"`
	Rating         *float64 `json:"rating,omitempty" db:"rating"`
	Phone          string   `json:"phone,omitempty" db:"phone"`
	Email          string   `json:"email,omitempty" db:"email"`
	Address        string   `json:"address,omitempty" db:"address"`
	Website        string   `json:"website,omitempty" db:"website"`

	ValidationErrors []string `json:"validation_errors,omitempty" db:"validation_errors"`

	IsDuplicate             bool    `json:"is_duplicate" db:"is_duplicate"`
	DuplicateOfLeadID       *string `json:"duplicate_of_lead_id,omitempty" db:"duplicate_of_lead_id"`
	DuplicateOfRestaurantID *string `json:"duplicate_of_restaurant_id,omitempty" db:"duplicate_of_restaurant_id"`

	ConvertedToRestaurantID *string `json:"converted_to_restaurant_id,omitempty" db:"converted_to_restaurant_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Converted reports whether the lead has been promoted out of the pipeline.
// A converted lead is immutable with respect to pipeline transitions.
func (l *Lead) Converted() bool {
	return l.ConvertedToRestaurantID != nil
}

// ResolveDisplayStatus computes the effective status of a lead relative to
// the step being viewed. A lead whose current step is past the viewing step
// is history from that step's perspective and always resolves to passed,
// regardless of its raw status. A lead viewed from a step it has not
// reached yet resolves to available. Every consumer that renders or filters
// by lead status must go through this function; reading Status directly for
// a non-current step is a correctness bug.
func ResolveDisplayStatus(l *Lead, viewingStep int) LeadStatus {
	if l.CurrentStep > viewingStep {
		return LeadStatusPassed
	}
	if l.CurrentStep < viewingStep {
		return LeadStatusAvailable
	}
	return l.Status
}
