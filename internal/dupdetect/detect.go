package dupdetect

import (
	"context"

	"go.uber.org/zap"
)

// Candidate carries the fields a matcher compares.
type Candidate struct {
	RestaurantName string
	City           string
	Platform       string
}

// Match is the outcome of duplicate detection. At most one of the two
// weak references is set.
type Match struct {
	IsDuplicate         bool
	MatchedLeadID       *string
	MatchedRestaurantID *string
}

// Lookup is the subset of store queries a matcher needs.
type Lookup interface {
	// FindLeadByNormalizedNameCity returns the id of an existing lead
	// with the same normalized name and city, or "" when none matches.
	FindLeadByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error)
	// FindRestaurantByNormalizedNameCity returns the id of an
	// already-converted restaurant matching name and city, or "".
	FindRestaurantByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error)
}

// Matcher decides whether a candidate duplicates an existing record.
// The matching policy is pluggable; the engine only depends on this
// contract.
type Matcher interface {
	Detect(ctx context.Context, c Candidate) (Match, error)
}

// StoreMatcher matches on normalized name + city against existing leads
// first, then converted restaurants. Exactly one weak reference is set on
// a match, lead taking precedence.
type StoreMatcher struct {
	lookup Lookup
}

// NewStoreMatcher creates a StoreMatcher over the given lookup.
func NewStoreMatcher(lookup Lookup) *StoreMatcher {
	return &StoreMatcher{lookup: lookup}
}

// Detect implements Matcher.
func (m *StoreMatcher) Detect(ctx context.Context, c Candidate) (Match, error) {
	normName := NormalizeName(c.RestaurantName)
	normCity := NormalizeCity(c.City)
	if normName == "" {
		return Match{}, nil
	}

	leadID, err := m.lookup.FindLeadByNormalizedNameCity(ctx, normName, normCity)
	if err != nil {
		return Match{}, err
	}
	if leadID != "" {
		return Match{IsDuplicate: true, MatchedLeadID: &leadID}, nil
	}

	restID, err := m.lookup.FindRestaurantByNormalizedNameCity(ctx, normName, normCity)
	if err != nil {
		return Match{}, err
	}
	if restID != "" {
		return Match{IsDuplicate: true, MatchedRestaurantID: &restID}, nil
	}

	return Match{}, nil
}

// DetectOrProceed runs the matcher and degrades to a non-duplicate result
// when the matching subsystem is unavailable. Ingestion availability wins
// over matching precision; the miss is logged for later reconciliation.
func DetectOrProceed(ctx context.Context, m Matcher, c Candidate) Match {
	match, err := m.Detect(ctx, c)
	if err != nil {
		zap.L().Warn("duplicate detection unavailable, proceeding without flag",
			zap.String("restaurant", c.RestaurantName),
			zap.String("city", c.City),
			zap.Error(err),
		)
		return Match{}
	}
	return match
}
