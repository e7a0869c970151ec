package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/worker"
	"github.com/sells-group/leadgen-cli/pkg/scrapeapi"
)

// pipelineEnv holds the initialized store, engine, and extraction
// transport needed by the job/leads/serve commands.
type pipelineEnv struct {
	Store   store.Store
	Engine  *engine.Engine
	Catalog *model.TemplateCatalog
	Pool    *worker.Pool // in-process mode only
	Broker  queue.Broker // AMQP mode only
}

// Close drains in-flight extraction work and releases resources.
func (pe *pipelineEnv) Close() {
	if pe.Pool != nil {
		pe.Pool.Drain()
	}
	if pe.Broker != nil {
		_ = pe.Broker.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, template catalog, duplicate matcher,
// and extraction dispatcher, then builds the Engine. Callers should
// defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	catalog, err := loadCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var matcher dupdetect.Matcher
	if cfg.Dedup.Enabled {
		matcher = dupdetect.NewStoreMatcher(st)
	} else {
		zap.L().Info("duplicate detection disabled")
	}

	env := &pipelineEnv{Store: st, Catalog: catalog}

	if cfg.AMQP.URL != "" {
		// Distributed mode: dispatches go over RabbitMQ to remote
		// workers, completions come back on their own queue.
		broker, err := queue.NewRabbitMQBroker(brokerConfig())
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		env.Broker = broker
		env.Engine = engine.New(st, matcher, worker.NewAMQPDispatcher(broker))
		zap.L().Info("extraction dispatch via amqp", zap.String("queue", queue.QueueDispatch))
	} else {
		// In-process mode: a local worker pool runs extraction and
		// feeds completions straight back into the engine.
		w, eng := buildLocalWorker(st, matcher)
		env.Pool = worker.NewPool(w, cfg.Worker.MaxInFlight)
		env.Engine = eng
		eng.SetDispatcher(env.Pool)
	}

	return env, nil
}

// buildLocalWorker wires an in-process worker whose sink is the engine
// itself. The engine's dispatcher is set afterwards, once the pool that
// wraps the worker exists.
func buildLocalWorker(st store.Store, matcher dupdetect.Matcher) (*worker.Worker, *engine.Engine) {
	eng := engine.New(st, matcher, nil)

	var opts []scrapeapi.Option
	if cfg.Scrape.BaseURL != "" {
		opts = append(opts, scrapeapi.WithBaseURL(cfg.Scrape.BaseURL))
	}
	client := scrapeapi.NewClient(cfg.Scrape.Key, opts...)

	w := worker.New(client, st, eng, workerConfig())
	return w, eng
}

func workerConfig() worker.Config {
	wc := worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		RequestsPerS: cfg.Worker.RequestsPerSec,
		Retry: resilience.FromRetryConfig(cfg.Worker.RetryMaxAttempts,
			cfg.Worker.RetryBackoffMs, cfg.Worker.RetryMaxBackoffMs, 0, -1),
		Breaker: resilience.FromCircuitConfig(cfg.Worker.CircuitFailureThreshold,
			cfg.Worker.CircuitResetSecs),
	}
	if cfg.Scrape.EnrichTimeoutSecs > 0 {
		wc.EnrichPoll = []scrapeapi.PollOption{
			scrapeapi.WithPollTimeout(time.Duration(cfg.Scrape.EnrichTimeoutSecs) * time.Second),
		}
	}
	return wc
}

func brokerConfig() queue.Config {
	return queue.Config{
		URL:           cfg.AMQP.URL,
		MaxRetries:    cfg.AMQP.MaxRetries,
		RetryDelay:    time.Duration(cfg.AMQP.RetryDelayMs) * time.Millisecond,
		PrefetchCount: cfg.AMQP.PrefetchCount,
	}
}

// loadCatalog loads pipeline templates from the configured path, falling
// back to the built-in default catalog when no path is set.
func loadCatalog() (*model.TemplateCatalog, error) {
	if cfg.Templates.Path == "" {
		return model.NewCatalog(model.DefaultTemplate()), nil
	}
	catalog, err := model.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "load templates from %s", cfg.Templates.Path)
	}
	return catalog, nil
}
