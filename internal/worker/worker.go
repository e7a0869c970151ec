// Package worker executes extraction dispatches against the scraping
// API and reports per-lead outcomes back to the pipeline engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/scrapeapi"
)

// Sink receives the worker's results. The engine satisfies it directly
// for in-process runs; the AMQP completion publisher satisfies it for
// distributed runs.
type Sink interface {
	HandleCompletion(ctx context.Context, ev engine.CompletionEvent) error
	HandleSearchResults(ctx context.Context, jobID string, stepNumber int, candidates []engine.CandidateLead) (int, error)
	HandleDispatchFailure(ctx context.Context, jobID string, stepNumber int, reason string) error
}

// Config tunes a Worker.
type Config struct {
	Concurrency  int
	RequestsPerS float64
	Retry        resilience.RetryConfig
	Breaker      resilience.CircuitBreakerConfig
	EnrichPoll   []scrapeapi.PollOption
}

// Worker runs one dispatch at a time: a listing search for the first
// step, or an enrichment pass over a batch of leads.
type Worker struct {
	client   scrapeapi.Client
	store    store.Store
	sink     Sink
	limiter  *rate.Limiter
	breakers *resilience.ServiceBreakers
	cfg      Config
}

// New creates a Worker. Store access is read-only; all state changes
// flow through the sink.
func New(client scrapeapi.Client, st store.Store, sink Sink, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	rps := cfg.RequestsPerS
	if rps <= 0 {
		rps = 5
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold <= 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	return &Worker{
		client:   client,
		store:    st,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		breakers: resilience.NewServiceBreakers(breakerCfg),
		cfg:      cfg,
	}
}

// retryConfig attaches an attempt logger for the named operation.
func (w *Worker) retryConfig(operation string) resilience.RetryConfig {
	cfg := w.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("scrapeapi", operation)
	return cfg
}

// Run executes one dispatch to completion. Failures that prevent any
// per-lead outcome from being produced are reported as a dispatch
// failure so the engine can unwind the in-flight leads.
func (w *Worker) Run(ctx context.Context, d engine.Dispatch) error {
	log := zap.L().With(
		zap.String("dispatch_id", d.ID),
		zap.String("job_id", d.JobID),
		zap.Int("step", d.StepNumber),
	)

	if d.Search != nil {
		if err := w.runSearch(ctx, d, log); err != nil {
			log.Error("search dispatch failed", zap.Error(err))
			if failErr := w.sink.HandleDispatchFailure(ctx, d.JobID, d.StepNumber, err.Error()); failErr != nil {
				return eris.Wrap(failErr, "worker: report search failure")
			}
			return err
		}
		return nil
	}

	return w.runEnrich(ctx, d, log)
}

func (w *Worker) runSearch(ctx context.Context, d engine.Dispatch, log *zap.Logger) error {
	req := scrapeapi.SearchRequest{
		Platform:   d.Search.Platform,
		Country:    d.Search.Country,
		City:       d.Search.City,
		CityCode:   d.Search.CityCode,
		Limit:      d.Search.Limit,
		PageOffset: d.Search.PageOffset,
	}
	if d.Search.Cuisine != "" {
		req.Cuisine = strings.Split(d.Search.Cuisine, ",")
	}

	status, err := resilience.DoVal(ctx, w.retryConfig("search"), func(ctx context.Context) (*scrapeapi.SearchStatusResponse, error) {
		return w.breakerSearch(ctx, req)
	})
	if err != nil {
		return eris.Wrap(err, "worker: search")
	}

	candidates := make([]engine.CandidateLead, 0, len(status.Data))
	for _, listing := range status.Data {
		candidates = append(candidates, engine.CandidateLead{
			RestaurantName: listing.Name,
			City:           listing.City,
			Cuisine:        listing.Cuisine,
			Rating:         listing.Rating,
			Phone:          listing.Phone,
			Address:        listing.Address,
			Website:        listing.Website,
		})
	}

	n, err := w.sink.HandleSearchResults(ctx, d.JobID, d.StepNumber, candidates)
	if err != nil {
		return eris.Wrap(err, "worker: deliver search results")
	}
	log.Info("search dispatch complete",
		zap.Int("listings", len(candidates)),
		zap.Int("accepted", n))
	return nil
}

// Search and enrich trip independently: a broken enrichment endpoint
// must not block listing searches.
func (w *Worker) breakerSearch(ctx context.Context, req scrapeapi.SearchRequest) (*scrapeapi.SearchStatusResponse, error) {
	return resilience.ExecuteVal(ctx, w.breakers.Get("search"),
		func(ctx context.Context) (*scrapeapi.SearchStatusResponse, error) {
			resp, err := w.client.Search(ctx, req)
			if err != nil {
				return nil, classifyAPIError(err)
			}
			status, err := scrapeapi.PollSearch(ctx, w.client, resp.ID)
			if err != nil {
				return nil, classifyAPIError(err)
			}
			return status, nil
		})
}

func (w *Worker) runEnrich(ctx context.Context, d engine.Dispatch, log *zap.Logger) error {
	leads, err := w.store.GetLeads(ctx, d.JobID, d.LeadIDs)
	if err != nil {
		reason := fmt.Sprintf("load leads: %v", err)
		if failErr := w.sink.HandleDispatchFailure(ctx, d.JobID, d.StepNumber, reason); failErr != nil {
			return eris.Wrap(failErr, "worker: report load failure")
		}
		return eris.Wrap(err, "worker: load leads")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, lead := range leads {
		g.Go(func() error {
			ev := w.enrichLead(gctx, d, lead)
			return w.sink.HandleCompletion(gctx, ev)
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "worker: enrich dispatch")
	}
	log.Info("enrich dispatch complete", zap.Int("leads", len(leads)))
	return nil
}

// enrichLead always produces a completion event: API errors become a
// failure outcome for that lead rather than aborting the dispatch.
func (w *Worker) enrichLead(ctx context.Context, d engine.Dispatch, lead model.Lead) engine.CompletionEvent {
	ev := engine.CompletionEvent{
		DispatchID: d.ID,
		JobID:      d.JobID,
		StepNumber: d.StepNumber,
		LeadID:     lead.ID,
	}

	if err := w.limiter.Wait(ctx); err != nil {
		ev.Outcome = engine.OutcomeFailure
		ev.ErrorReason = err.Error()
		return ev
	}

	status, err := resilience.DoVal(ctx, w.retryConfig("enrich"), func(ctx context.Context) (*scrapeapi.EnrichStatusResponse, error) {
		return w.breakerEnrich(ctx, scrapeapi.EnrichRequest{
			Platform: lead.Platform,
			Name:     lead.RestaurantName,
			City:     lead.City,
			Website:  lead.Website,
		})
	})
	if err != nil {
		ev.Outcome = engine.OutcomeFailure
		ev.ErrorReason = err.Error()
		return ev
	}

	if status.Status == "failed" {
		ev.Outcome = engine.OutcomeFailure
		ev.ErrorReason = status.Error
		if ev.ErrorReason == "" {
			ev.ErrorReason = "extraction failed"
		}
		return ev
	}

	ev.Outcome = engine.OutcomeSuccess
	ev.ExtractedFields = status.Fields
	return ev
}

func (w *Worker) breakerEnrich(ctx context.Context, req scrapeapi.EnrichRequest) (*scrapeapi.EnrichStatusResponse, error) {
	return resilience.ExecuteVal(ctx, w.breakers.Get("enrich"),
		func(ctx context.Context) (*scrapeapi.EnrichStatusResponse, error) {
			resp, err := w.client.Enrich(ctx, req)
			if err != nil {
				return nil, classifyAPIError(err)
			}
			status, err := scrapeapi.PollEnrich(ctx, w.client, resp.ID, w.cfg.EnrichPoll...)
			if err != nil {
				return nil, classifyAPIError(err)
			}
			return status, nil
		})
}

// classifyAPIError marks retryable HTTP statuses as transient so the
// retry and circuit breaker layers treat them correctly.
func classifyAPIError(err error) error {
	var apiErr *scrapeapi.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
