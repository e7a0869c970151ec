// Package config loads application configuration from config.yaml and
// LEADGEN_* environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadgen-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	AMQP      AMQPConfig      `yaml:"amqp" mapstructure:"amqp"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Templates TemplatesConfig `yaml:"templates" mapstructure:"templates"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AMQPConfig configures the message broker. When URL is empty the CLI
// runs extraction in process instead.
type AMQPConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	PrefetchCount int    `yaml:"prefetch_count" mapstructure:"prefetch_count"`
	MaxRetries    int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs  int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// ScrapeConfig holds scraping API credentials and endpoints.
type ScrapeConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	EnrichTimeoutSecs int    `yaml:"enrich_timeout_secs" mapstructure:"enrich_timeout_secs"`
}

// WorkerConfig tunes extraction workers.
type WorkerConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSec    float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxInFlight       int     `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	RetryMaxAttempts  int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// DedupConfig configures duplicate detection at lead creation.
type DedupConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// TemplatesConfig points at the pipeline template catalog.
type TemplatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("amqp.prefetch_count", 8)
	v.SetDefault("amqp.max_retries", 3)
	v.SetDefault("amqp.retry_delay_ms", 2000)
	v.SetDefault("scrape.base_url", "https://api.scrapehub.io/v1")
	v.SetDefault("scrape.enrich_timeout_secs", 120)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.requests_per_sec", 5)
	v.SetDefault("worker.max_in_flight", 2)
	v.SetDefault("worker.retry_max_attempts", 3)
	v.SetDefault("worker.retry_backoff_ms", 500)
	v.SetDefault("worker.retry_max_backoff_ms", 30000)
	v.SetDefault("worker.circuit_failure_threshold", 5)
	v.SetDefault("worker.circuit_reset_secs", 60)
	v.SetDefault("dedup.enabled", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given run mode. Modes map
// to entry points: "serve" for the operator API, "worker" for a remote
// extraction worker, "cli" for one-shot commands.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
		problems = append(problems, "worker.concurrency must be between 1 and 64")
	}
	if c.Worker.MaxInFlight < 1 || c.Worker.MaxInFlight > 32 {
		problems = append(problems, "worker.max_in_flight must be between 1 and 32")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "worker":
		if c.AMQP.URL == "" {
			problems = append(problems, "amqp.url is required")
		}
		if c.Scrape.Key == "" {
			problems = append(problems, "scrape.key is required")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
