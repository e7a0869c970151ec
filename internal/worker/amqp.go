package worker

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/queue"
)

// AMQPDispatcher implements engine.Dispatcher by publishing dispatches
// to the broker for remote workers to pick up.
type AMQPDispatcher struct {
	broker queue.Broker
}

// NewAMQPDispatcher wraps a broker as a Dispatcher.
func NewAMQPDispatcher(b queue.Broker) *AMQPDispatcher {
	return &AMQPDispatcher{broker: b}
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, dispatch engine.Dispatch) error {
	body, err := json.Marshal(dispatch)
	if err != nil {
		return eris.Wrap(err, "worker: marshal dispatch")
	}
	return d.broker.Publish(ctx, queue.QueueDispatch, body)
}

// Completion message kinds carried on the completions queue.
const (
	completionKindLead    = "lead"
	completionKindSearch  = "search_results"
	completionKindFailure = "dispatch_failure"
)

// completionMessage is the envelope for everything flowing back from
// remote workers to the engine over one queue.
type completionMessage struct {
	Kind       string                  `json:"kind"`
	Event      *engine.CompletionEvent `json:"event,omitempty"`
	JobID      string                  `json:"job_id,omitempty"`
	StepNumber int                     `json:"step_number,omitempty"`
	Candidates []engine.CandidateLead  `json:"candidates,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// CompletionPublisher is the Sink used by remote workers: results are
// published to the completions queue instead of applied in process.
type CompletionPublisher struct {
	broker queue.Broker
}

// NewCompletionPublisher wraps a broker as a Sink.
func NewCompletionPublisher(b queue.Broker) *CompletionPublisher {
	return &CompletionPublisher{broker: b}
}

func (p *CompletionPublisher) HandleCompletion(ctx context.Context, ev engine.CompletionEvent) error {
	return p.publish(ctx, completionMessage{Kind: completionKindLead, Event: &ev})
}

func (p *CompletionPublisher) HandleSearchResults(ctx context.Context, jobID string, stepNumber int, candidates []engine.CandidateLead) (int, error) {
	err := p.publish(ctx, completionMessage{
		Kind:       completionKindSearch,
		JobID:      jobID,
		StepNumber: stepNumber,
		Candidates: candidates,
	})
	if err != nil {
		return 0, err
	}
	return len(candidates), nil
}

func (p *CompletionPublisher) HandleDispatchFailure(ctx context.Context, jobID string, stepNumber int, reason string) error {
	return p.publish(ctx, completionMessage{
		Kind:       completionKindFailure,
		JobID:      jobID,
		StepNumber: stepNumber,
		Reason:     reason,
	})
}

func (p *CompletionPublisher) publish(ctx context.Context, msg completionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "worker: marshal completion")
	}
	return p.broker.Publish(ctx, queue.QueueCompletions, body)
}

// RunDispatchConsumer subscribes the worker to the dispatch queue. Each
// delivery runs through Worker.Run; handler errors trigger the broker's
// redelivery and dead-letter policy.
func RunDispatchConsumer(ctx context.Context, b queue.Broker, w *Worker) error {
	return b.Subscribe(ctx, queue.QueueDispatch, func(ctx context.Context, body []byte) error {
		var d engine.Dispatch
		if err := json.Unmarshal(body, &d); err != nil {
			return eris.Wrap(err, "worker: decode dispatch")
		}
		return w.Run(ctx, d)
	})
}

// RunCompletionConsumer subscribes the engine to the completions queue,
// applying each worker result to pipeline state.
func RunCompletionConsumer(ctx context.Context, b queue.Broker, e *engine.Engine) error {
	return b.Subscribe(ctx, queue.QueueCompletions, func(ctx context.Context, body []byte) error {
		var msg completionMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return eris.Wrap(err, "worker: decode completion")
		}

		switch msg.Kind {
		case completionKindLead:
			if msg.Event == nil {
				return eris.New("worker: lead completion without event")
			}
			return e.HandleCompletion(ctx, *msg.Event)
		case completionKindSearch:
			n, err := e.HandleSearchResults(ctx, msg.JobID, msg.StepNumber, msg.Candidates)
			if err != nil {
				return err
			}
			zap.L().Debug("search results applied",
				zap.String("job_id", msg.JobID),
				zap.Int("accepted", n))
			return nil
		case completionKindFailure:
			return e.HandleDispatchFailure(ctx, msg.JobID, msg.StepNumber, msg.Reason)
		default:
			return eris.Errorf("worker: unknown completion kind %q", msg.Kind)
		}
	})
}
