package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// RabbitMQBroker implements Broker on a single AMQP connection. All
// queues are durable; messages are published persistent.
type RabbitMQBroker struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	maxRetries int
	retryDelay time.Duration
	mu         sync.RWMutex
}

// NewRabbitMQBroker connects, opens a channel and declares the dispatch
// and completion queues with their dead letter queues.
func NewRabbitMQBroker(cfg Config) (*RabbitMQBroker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "queue: connect")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "queue: open channel")
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, eris.Wrap(err, "queue: set QoS")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	broker := &RabbitMQBroker{
		conn:       conn,
		channel:    channel,
		url:        cfg.URL,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}

	for _, queueName := range []string{
		QueueDispatch,
		QueueCompletions,
		QueueDispatchDLQ,
		QueueCompletionsDLQ,
	} {
		if err := broker.declareQueue(queueName); err != nil {
			broker.Close()
			return nil, err
		}
	}

	return broker, nil
}

func (b *RabbitMQBroker) declareQueue(queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	return eris.Wrapf(err, "queue: declare %s", queueName)
}

func (b *RabbitMQBroker) Publish(ctx context.Context, queueName string, message []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	err := b.channel.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
	return eris.Wrapf(err, "queue: publish to %s", queueName)
}

func (b *RabbitMQBroker) Subscribe(ctx context.Context, queueName string, handler MessageHandler) error {
	b.mu.RLock()
	msgs, err := b.channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	b.mu.RUnlock()
	if err != nil {
		return eris.Wrapf(err, "queue: consume %s", queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.handleMessage(ctx, msg, handler, queueName)
			}
		}
	}()

	return nil
}

func (b *RabbitMQBroker) handleMessage(ctx context.Context, msg amqp.Delivery, handler MessageHandler, queueName string) {
	err := handler(ctx, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			zap.L().Warn("ack failed", zap.String("queue", queueName), zap.Error(ackErr))
		}
		return
	}

	retryCount := 0
	if msg.Headers != nil {
		if count, ok := msg.Headers["x-retry-count"].(int32); ok {
			retryCount = int(count)
		}
	}

	// Permanent errors go straight to the DLQ; transient ones are
	// requeued with a delay until the retry budget runs out.
	if resilience.IsTransient(err) && retryCount < b.maxRetries {
		delay := b.retryDelay * time.Duration(1<<retryCount)
		zap.L().Warn("message failed, requeueing",
			zap.String("queue", queueName),
			zap.Int("retry", retryCount+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = msg.Nack(false, true)
			return
		case <-timer.C:
		}

		b.mu.RLock()
		pubErr := b.channel.PublishWithContext(
			ctx,
			"",
			queueName,
			false,
			false,
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  msg.ContentType,
				Body:         msg.Body,
				Headers:      amqp.Table{"x-retry-count": int32(retryCount + 1)},
				Timestamp:    time.Now(),
			},
		)
		b.mu.RUnlock()
		if pubErr != nil {
			zap.L().Error("requeue publish failed", zap.String("queue", queueName), zap.Error(pubErr))
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	b.deadLetter(ctx, msg, queueName, retryCount, err)
	_ = msg.Ack(false)
}

// deadLetter wraps the exhausted message in a DLQEntry and publishes it
// to the queue's paired DLQ for operator inspection and manual replay.
func (b *RabbitMQBroker) deadLetter(ctx context.Context, msg amqp.Delivery, queueName string, retryCount int, cause error) {
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Body:         msg.Body,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		RetryCount:   retryCount,
		MaxRetries:   b.maxRetries,
		NextRetryAt:  now.Add(b.retryDelay),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	// Best effort: pull dispatch identity out of the payload for DLQ
	// filtering. Unknown payloads dead-letter with identity unset.
	var ident struct {
		DispatchID string `json:"dispatch_id"`
		JobID      string `json:"job_id"`
		StepNumber int    `json:"step_number"`
	}
	if jsonErr := json.Unmarshal(msg.Body, &ident); jsonErr == nil {
		entry.DispatchID = ident.DispatchID
		entry.JobID = ident.JobID
		entry.StepNumber = ident.StepNumber
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		zap.L().Error("marshal dlq entry", zap.String("queue", queueName), zap.Error(err))
		return
	}

	dlqName := queueName + "-dlq"
	b.mu.RLock()
	pubErr := b.channel.PublishWithContext(
		ctx,
		"",
		dlqName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         payload,
			Headers: amqp.Table{
				"x-original-queue": queueName,
				"x-retry-count":    int32(retryCount),
				"x-error":          cause.Error(),
			},
			Timestamp: time.Now(),
		},
	)
	b.mu.RUnlock()
	if pubErr != nil {
		zap.L().Error("dead letter publish failed", zap.String("queue", dlqName), zap.Error(pubErr))
		return
	}
	zap.L().Warn("message dead lettered",
		zap.String("queue", queueName),
		zap.String("dispatch_id", entry.DispatchID),
		zap.String("error_type", entry.ErrorType))
}

func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
