package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/pkg/scrapeapi"
)

// fakeBroker delivers published messages synchronously to the queue's
// subscribed handler, or just records them when nobody is listening.
type fakeBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]queue.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: map[string][][]byte{},
		handlers:  map[string]queue.MessageHandler{},
	}
}

func (b *fakeBroker) Publish(ctx context.Context, queueName string, message []byte) error {
	b.mu.Lock()
	b.published[queueName] = append(b.published[queueName], message)
	handler := b.handlers[queueName]
	b.mu.Unlock()
	if handler != nil {
		return handler(ctx, message)
	}
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, queueName string, handler queue.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queueName] = handler
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) messages(queueName string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[queueName]
}

func TestAMQPDispatcherPublishes(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	d := NewAMQPDispatcher(broker)

	dispatch := engine.Dispatch{
		ID: "d1", JobID: "job-1", StepNumber: 2, StepName: "Enrich",
		LeadIDs: []string{"lead-1", "lead-2"},
	}
	require.NoError(t, d.Dispatch(context.Background(), dispatch))

	msgs := broker.messages(queue.QueueDispatch)
	require.Len(t, msgs, 1)

	var got engine.Dispatch
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, dispatch, got)
}

func TestCompletionPublisherEnvelopes(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	p := NewCompletionPublisher(broker)
	ctx := context.Background()

	require.NoError(t, p.HandleCompletion(ctx, engine.CompletionEvent{
		DispatchID: "d1", JobID: "job-1", StepNumber: 2, LeadID: "lead-1",
		Outcome: engine.OutcomeSuccess,
	}))

	n, err := p.HandleSearchResults(ctx, "job-1", 1, []engine.CandidateLead{
		{RestaurantName: "Mario's Pizzeria", City: "Berlin"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "acknowledges everything it published")

	require.NoError(t, p.HandleDispatchFailure(ctx, "job-1", 1, "broker hiccup"))

	msgs := broker.messages(queue.QueueCompletions)
	require.Len(t, msgs, 3)

	var lead, search, failure completionMessage
	require.NoError(t, json.Unmarshal(msgs[0], &lead))
	require.NoError(t, json.Unmarshal(msgs[1], &search))
	require.NoError(t, json.Unmarshal(msgs[2], &failure))

	assert.Equal(t, completionKindLead, lead.Kind)
	require.NotNil(t, lead.Event)
	assert.Equal(t, "lead-1", lead.Event.LeadID)

	assert.Equal(t, completionKindSearch, search.Kind)
	assert.Equal(t, "job-1", search.JobID)
	require.Len(t, search.Candidates, 1)
	assert.Equal(t, "Mario's Pizzeria", search.Candidates[0].RestaurantName)

	assert.Equal(t, completionKindFailure, failure.Kind)
	assert.Equal(t, "broker hiccup", failure.Reason)
}

func TestRunDispatchConsumer(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	client := &fakeClient{
		searchFn: func(context.Context, scrapeapi.SearchRequest) (*scrapeapi.SearchResponse, error) {
			return &scrapeapi.SearchResponse{Success: true, ID: "s1"}, nil
		},
		searchStatusFn: func(context.Context, string) (*scrapeapi.SearchStatusResponse, error) {
			return &scrapeapi.SearchStatusResponse{
				Status: "completed",
				Data:   []scrapeapi.Listing{{Name: "Pho Basil", City: "Berlin"}},
			}, nil
		},
	}
	sink := &fakeSink{}
	w := New(client, nil, sink, testWorkerConfig())
	ctx := context.Background()

	require.NoError(t, RunDispatchConsumer(ctx, broker, w))

	// Remote end publishes a dispatch; the consumer runs it through the
	// worker.
	d := NewAMQPDispatcher(broker)
	require.NoError(t, d.Dispatch(ctx, engine.Dispatch{
		ID: "d1", JobID: "job-1", StepNumber: 1,
		Search: &engine.SearchParams{Platform: "ubereats", City: "Berlin"},
	}))

	require.Len(t, sink.searches, 1)
	assert.Equal(t, "Pho Basil", sink.searches[0].candidates[0].RestaurantName)

	// Garbage on the queue surfaces as a handler error so the broker can
	// dead-letter it.
	err := broker.Publish(ctx, queue.QueueDispatch, []byte("not json"))
	require.Error(t, err)
}
