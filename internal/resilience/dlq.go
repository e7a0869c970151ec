package resilience

import (
	"time"
)

// DLQEntry represents a failed extraction dispatch that can be retried
// later. Body carries the original dispatch payload verbatim so a
// redelivery is byte-identical to the first attempt.
type DLQEntry struct {
	ID           string    `json:"id"`
	DispatchID   string    `json:"dispatch_id"`
	JobID        string    `json:"job_id"`
	StepNumber   int       `json:"step_number"`
	Body         []byte    `json:"body"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
