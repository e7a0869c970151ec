// Package queue provides the message broker used to hand extraction
// dispatches to workers and carry their completion events back.
package queue

import (
	"context"
	"time"
)

// Queue names. Dispatches flow engine -> workers, completions flow
// workers -> engine. Each queue has a paired dead letter queue.
const (
	QueueDispatch       = "leadgen-dispatch"
	QueueCompletions    = "leadgen-completions"
	QueueDispatchDLQ    = "leadgen-dispatch-dlq"
	QueueCompletionsDLQ = "leadgen-completions-dlq"
)

// MessageHandler processes one message body. A non-nil error triggers
// redelivery and eventually dead-lettering.
type MessageHandler func(ctx context.Context, body []byte) error

// Broker is the publish/subscribe surface the dispatcher and workers use.
type Broker interface {
	Publish(ctx context.Context, queueName string, message []byte) error
	Subscribe(ctx context.Context, queueName string, handler MessageHandler) error
	Close() error
}

// Config holds broker connection settings.
type Config struct {
	URL           string
	MaxRetries    int
	RetryDelay    time.Duration
	PrefetchCount int
}
