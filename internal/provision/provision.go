// Package provision seeds the webhook catalog from a YAML file at startup.
//
// Provisioning is declarative and idempotent: entries whose source path is
// already registered are skipped, so restarting the gateway with the same
// file changes nothing. A missing or broken file never stops the server;
// provisioning is an optional convenience on top of the admin API.
package provision

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hookgate-io/hookgate/internal/catalog"
	"github.com/hookgate-io/hookgate/internal/config"
)

// Config holds the webhook definitions loaded from the provisioning file.
type Config struct {
	// Webhooks lists the definitions to register at startup.
	Webhooks []WebhookSpec `yaml:"webhooks"`
}

// WebhookSpec is one provisioned webhook definition.
type WebhookSpec struct {
	SourcePath     string `yaml:"source_path"`
	DestinationURL string `yaml:"destination_url"`
	TransformQuery string `yaml:"transform_query"`
	FilterQuery    string `yaml:"filter_query"`
	Owner          string `yaml:"owner"`
}

// DefaultConfigPath is the default location for the provisioning file.
const DefaultConfigPath = ".hookgate.yaml"

// ConfigPathEnvVar is the environment variable name for a custom
// provisioning file path.
const ConfigPathEnvVar = "HOOKGATE_PROVISION_PATH"

// LoadConfig loads webhook definitions from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist
//   - Returns empty config + logs warning if the YAML is invalid
//   - Returns populated config on success
//
// The server must come up even when provisioning is absent or broken, so
// every load problem degrades to an empty config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Provisioning file not found, continuing without provisioned webhooks",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read provisioning file, continuing without provisioned webhooks",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse provisioning file, continuing without provisioned webhooks",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{}, nil
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the provisioning file named by HOOKGATE_PROVISION_PATH.
// Falls back to ".hookgate.yaml" in the current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}

// Apply registers every provisioned webhook that is not already present.
//
// Entries whose source path is taken are skipped silently, which is the
// normal case on restart. Invalid entries are logged and skipped; one bad
// definition never blocks the rest. Returns the number of webhooks
// registered.
func Apply(ctx context.Context, cfg *Config, store *catalog.Store) int {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return 0
	}

	applied := 0

	for _, spec := range cfg.Webhooks {
		_, err := store.RegisterWebhook(ctx, catalog.Registration{
			SourcePath:     spec.SourcePath,
			DestinationURL: spec.DestinationURL,
			TransformQuery: spec.TransformQuery,
			FilterQuery:    spec.FilterQuery,
			Owner:          spec.Owner,
		})

		switch {
		case err == nil:
			applied++

			slog.Info("Provisioned webhook registered",
				slog.String("source_path", spec.SourcePath))
		case errors.Is(err, catalog.ErrDuplicateSourcePath):
			slog.Debug("Provisioned webhook already registered, skipping",
				slog.String("source_path", spec.SourcePath))
		default:
			slog.Warn("Provisioned webhook rejected, skipping",
				slog.String("source_path", spec.SourcePath),
				slog.String("error", err.Error()))
		}
	}

	return applied
}
