package scrapeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial: defaultPollInitial,
		cap:     defaultPollCap,
		timeout: defaultPollTimeout,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout (applied only if the
// parent context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// PollSearch polls GetSearchStatus until the search completes, fails, or
// the context expires. Uses exponential backoff: 2s -> 4s -> 8s -> 15s (capped).
func PollSearch(ctx context.Context, client Client, id string, opts ...PollOption) (*SearchStatusResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		status, err := client.GetSearchStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("scrapeapi: poll search %s", id))
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed":
			return nil, eris.Errorf("scrapeapi: search %s failed", id)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("scrapeapi: poll search %s timed out", id))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}

// PollEnrich polls GetEnrichStatus until the enrichment completes, fails,
// or the context expires. A "failed" status is returned to the caller
// rather than an error so the per-lead failure reason survives.
func PollEnrich(ctx context.Context, client Client, id string, opts ...PollOption) (*EnrichStatusResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		status, err := client.GetEnrichStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("scrapeapi: poll enrich %s", id))
		}

		switch status.Status {
		case "completed", "failed":
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("scrapeapi: poll enrich %s timed out", id))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
