package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/worker"
	"github.com/sells-group/leadgen-cli/pkg/scrapeapi"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a remote extraction worker",
	Long:  "Consumes dispatches from the queue, runs listing searches and lead enrichment against the scraping API, and publishes completion events back.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		broker, err := queue.NewRabbitMQBroker(brokerConfig())
		if err != nil {
			return err
		}
		defer broker.Close() //nolint:errcheck

		var opts []scrapeapi.Option
		if cfg.Scrape.BaseURL != "" {
			opts = append(opts, scrapeapi.WithBaseURL(cfg.Scrape.BaseURL))
		}
		client := scrapeapi.NewClient(cfg.Scrape.Key, opts...)

		sink := worker.NewCompletionPublisher(broker)
		w := worker.New(client, st, sink, workerConfig())

		zap.L().Info("worker consuming dispatches",
			zap.String("queue", queue.QueueDispatch),
			zap.Int("concurrency", cfg.Worker.Concurrency),
		)

		if err := worker.RunDispatchConsumer(ctx, broker, w); err != nil {
			return eris.Wrap(err, "dispatch consumer")
		}

		<-ctx.Done()
		zap.L().Info("worker shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
