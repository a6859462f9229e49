package middleware

import (
	"time"

	"github.com/hookgate-io/hookgate/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-path: Applied to webhook ingress, keyed by source path
//   - Admin: Applied to operator API requests
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	PathRPS   int // Default: 50
	AdminRPS  int // Default: 20

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	PathBurst   int // Default: 0 (computed as 2 × PathRPS = 100)
	AdminBurst  int // Default: 0 (computed as 2 × AdminRPS = 40)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxPaths        int           // Default: 1,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes paths idle >1 hour
// Default max paths: 1,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("HOOKGATE_GLOBAL_RPS", defaultGlobalRPS),
		PathRPS:   config.GetEnvInt("HOOKGATE_PATH_RPS", defaultPathRPS),
		AdminRPS:  config.GetEnvInt("HOOKGATE_ADMIN_RPS", defaultAdminRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("HOOKGATE_GLOBAL_BURST", 0),
		PathBurst:   config.GetEnvInt("HOOKGATE_PATH_BURST", 0),
		AdminBurst:  config.GetEnvInt("HOOKGATE_ADMIN_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"HOOKGATE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("HOOKGATE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxPaths:    config.GetEnvInt("HOOKGATE_RATE_LIMIT_MAX_PATHS", maxSourcePaths),
	}
}
