package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/kelseyhightower/envconfig"
)

// ByteSize is a size read from a human string such as "512MiB" or "2 GB".
type ByteSize uint64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	if value == "" {
		*b = 0

		return nil
	}

	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

// Config struct for environment variables.
type Config struct {
	TargetDir         string        `envconfig:"TARGET_DIR"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`

	Fetch struct {
		Token     string        `split_words:"true"`
		Timeout   time.Duration `split_words:"true" default:"5m"`
		UserAgent string        `split_words:"true" default:"fetchfile"`
		Insecure  bool          `split_words:"true"`
	}

	Putio struct {
		Token string `split_words:"true"`
	}

	Preload struct {
		MaxSize    ByteSize `split_words:"true"`
		RejectHTML bool     `envconfig:"REJECT_HTML" default:"true"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"fetchfile"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
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

	return &cfg, nil
}

// Validate checks the settings serving needs. The one-shot get mode only
// reads the fetch settings.
func (c *Config) Validate() error {
	if c.TargetDir == "" {
		return errors.New("TARGET_DIR is required")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	return logctx.ParseLevel(c.LogLevel)
}
