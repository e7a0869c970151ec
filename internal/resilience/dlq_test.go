package resilience

import (
	"errors"
	"testing"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDLQEntry_PreservesDispatchBody(t *testing.T) {
	body := []byte(`{"dispatch_id":"d1","lead_ids":["l1","l2"]}`)
	e := DLQEntry{
		DispatchID: "d1",
		JobID:      "j1",
		StepNumber: 2,
		Body:       body,
	}
	if string(e.Body) != string(body) {
		t.Errorf("expected body preserved, got %q", e.Body)
	}
	if e.DispatchID != "d1" || e.StepNumber != 2 {
		t.Errorf("unexpected entry identity: %+v", e)
	}
}
