// Package main provides the hookgate webhook gateway service.
//
// The gateway accepts HTTP events on registered source paths, shapes each
// event with operator-supplied SQL over the embedded engine, and delivers the
// result to the webhook's destination. Raw and transformed events are
// recorded durably for audit and replay.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/hookgate-io/hookgate/internal/api"
	"github.com/hookgate-io/hookgate/internal/api/middleware"
	"github.com/hookgate-io/hookgate/internal/artifact"
	"github.com/hookgate-io/hookgate/internal/audit"
	"github.com/hookgate-io/hookgate/internal/catalog"
	"github.com/hookgate-io/hookgate/internal/config"
	"github.com/hookgate-io/hookgate/internal/dispatch"
	"github.com/hookgate-io/hookgate/internal/evaluate"
	"github.com/hookgate-io/hookgate/internal/provision"
	"github.com/hookgate-io/hookgate/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "hookgate"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting webhook gateway service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("path_rps", middlewareConfig.PathRPS),
		slog.Int("path_burst", middlewareConfig.PathBurst),
		slog.Int("admin_rps", middlewareConfig.AdminRPS),
		slog.Int("admin_burst", middlewareConfig.AdminBurst),
	)

	// Open the embedded engine; schema migrations run inside NewEngine
	storageConfig := storage.LoadConfig()

	engine, err := storage.NewEngine(storageConfig, logger)
	if err != nil {
		logger.Error("Failed to open storage engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Storage engine ready", slog.String("path", engine.Path()))

	evaluator, err := evaluate.NewEvaluator(engine, logger)
	if err != nil {
		logger.Error("Failed to create evaluator", slog.String("error", err.Error()))

		_ = engine.Close()
		os.Exit(1)
	}

	catalogStore, err := catalog.NewStore(engine, evaluator, logger)
	if err != nil {
		logger.Error("Failed to create webhook catalog", slog.String("error", err.Error()))

		_ = engine.Close()
		os.Exit(1)
	}

	installer, err := artifact.NewInstaller(engine, catalogStore, logger)
	if err != nil {
		logger.Error("Failed to create artifact installer", slog.String("error", err.Error()))

		_ = engine.Close()
		os.Exit(1)
	}

	// Rebind stored UDFs and sweep orphaned table metadata. Registered SQL in
	// live webhooks depends on this state, so a failure here is fatal.
	if err := installer.Reconcile(context.Background()); err != nil {
		logger.Error("Failed to reconcile artifacts", slog.String("error", err.Error()))

		_ = installer.Close()
		_ = engine.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	auditStore, err := audit.NewStore(engine, logger)
	if err != nil {
		logger.Error("Failed to create audit store", slog.String("error", err.Error()))

		_ = installer.Close()
		_ = engine.Close()
		os.Exit(1)
	}

	var verifier *middleware.APIKeyVerifier

	authEnabled := config.GetEnvBool("HOOKGATE_AUTH_ENABLED", true)
	if authEnabled {
		verifier, err = middleware.NewAPIKeyVerifier(serverConfig.APIKey)
		if err != nil {
			logger.Error("Failed to create API key verifier", slog.String("error", err.Error()))

			_ = installer.Close()
			_ = engine.Close()
			os.Exit(1)
		}
	} else {
		logger.Warn("Admin authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Unset HOOKGATE_AUTH_ENABLED or set it to true to require the operator API key"),
		)
	}

	dispatcher := dispatch.NewDispatcher(&dispatch.Config{
		Timeout: config.GetEnvDuration("HOOKGATE_DISPATCH_TIMEOUT", dispatch.DefaultTimeout),
	}, logger)

	// Optional declarative provisioning; a missing or broken file is not an
	// error and the server comes up regardless
	provisionConfig, err := provision.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Failed to load provisioning file", slog.String("error", err.Error()))
	} else if applied := provision.Apply(context.Background(), provisionConfig, catalogStore); applied > 0 {
		logger.Info("Provisioned webhooks registered", slog.Int("count", applied))
	}

	server := api.NewServer(serverConfig, &api.Dependencies{
		Engine:      engine,
		Catalog:     catalogStore,
		Installer:   installer,
		Evaluator:   evaluator,
		Dispatcher:  dispatcher,
		Audit:       auditStore,
		Verifier:    verifier,
		RateLimiter: rateLimiter,
	})

	serveErr := server.Start()

	// The server has drained by now; unbind scalar functions first, then
	// release the engine they were registered against.
	if err := installer.Close(); err != nil {
		logger.Error("Failed to close artifact installer", slog.String("error", err.Error()))
	}

	if err := engine.Close(); err != nil {
		logger.Error("Failed to close storage engine", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		logger.Error("Server failed",
			slog.String("error", serveErr.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Webhook gateway service stopped")
}
