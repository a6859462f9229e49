package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hookgate-io/hookgate/internal/config"
)

const (
	defaultDatabasePath = "hookgate.db"
	defaultBusyTimeout  = 5000 // milliseconds
)

var (
	// ErrDatabasePathEmpty is returned when the database path is an empty string.
	ErrDatabasePathEmpty = errors.New("database path cannot be empty")

	// ErrBusyTimeoutNegative is returned when the busy timeout is negative.
	ErrBusyTimeoutNegative = errors.New("busy timeout cannot be negative")
)

// Config holds engine configuration for the embedded SQLite database file.
type Config struct {
	Path          string // Filesystem path of the database file
	BusyTimeoutMS int    // How long a statement waits on a locked database
}

// LoadConfig loads engine configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Path:          config.GetEnvStr("HOOKGATE_DB_PATH", defaultDatabasePath),
		BusyTimeoutMS: config.GetEnvInt("HOOKGATE_DB_BUSY_TIMEOUT_MS", defaultBusyTimeout),
	}
}

// Validate checks if the engine configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return ErrDatabasePathEmpty
	}

	if c.BusyTimeoutMS < 0 {
		return ErrBusyTimeoutNegative
	}

	return nil
}

// DSN returns the driver connection string for the configured database file.
// WAL mode keeps readers unblocked during audit writes; foreign keys are
// enforced for the catalog tables.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)",
		c.Path, c.BusyTimeoutMS,
	)
}

// String returns a loggable description of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Path: %s, BusyTimeoutMS: %d}", c.Path, c.BusyTimeoutMS)
}
