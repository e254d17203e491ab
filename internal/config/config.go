package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Transport string `envconfig:"TRANSPORT" default:"blob"`

	PutioToken string `envconfig:"PUTIO_TOKEN"`

	ManifestPath string `envconfig:"MANIFEST_PATH" default:"replicas.yaml"`
	DataDir      string `envconfig:"DATA_DIR" required:"true"`
	StagingDir   string `envconfig:"STAGING_DIR" default:""`
	DBPath       string `envconfig:"DB_PATH" default:"catalog.db"`

	SyncEnabled      bool          `envconfig:"SYNC_ENABLED" default:"true"`
	BehaviorExisting string        `envconfig:"BEHAVIOR_EXISTING" default:"immediate"`
	BehaviorNew      string        `envconfig:"BEHAVIOR_NEW" default:"download"`
	OpenDeadline     time.Duration `envconfig:"OPEN_DEADLINE" default:"30s"`
	OnTimeout        string        `envconfig:"ON_TIMEOUT" default:"fail"`
	RegistryEnabled  bool          `envconfig:"REGISTRY_ENABLED" default:"true"`

	MaxParallel       int    `envconfig:"MAX_PARALLEL" default:"5"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = cfg.DataDir + "/.staging"
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
