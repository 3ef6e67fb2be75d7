package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/physician/internal/forensics"
	"github.com/psantana5/physician/internal/pipeline"
	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/pkg/api"
	"github.com/psantana5/physician/pkg/auth"
	"github.com/psantana5/physician/pkg/cleanup"
	"github.com/psantana5/physician/pkg/config"
	"github.com/psantana5/physician/pkg/gemini"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/metrics"
	"github.com/psantana5/physician/pkg/perception"
	"github.com/psantana5/physician/pkg/physics"
	"github.com/psantana5/physician/pkg/ratelimit"
	"github.com/psantana5/physician/pkg/resources"
	"github.com/psantana5/physician/pkg/retry"
	"github.com/psantana5/physician/pkg/shutdown"
	"github.com/psantana5/physician/pkg/store"
	ptls "github.com/psantana5/physician/pkg/tls"
	"github.com/psantana5/physician/pkg/tracing"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	maxLogFileBytes  = 100 << 20
	housekeepingTick = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PHYSICIAN API server",
	Long: `Start the HTTP API. GEMINI_API_KEY (or PHYSICIAN_GEMINI_API_KEY) must be set;
the server refuses to start without it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().String("db", "", "ledger backend: memory, sqlite or postgres")
	serveCmd.Flags().Bool("tracing", false, "export OpenTelemetry traces over OTLP/HTTP")

	viper.BindPFlag("server.address", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("logging.level", serveCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("store.type", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("tracing.enabled", serveCmd.Flags().Lookup("tracing"))
}

func newServerLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	jsonFormat := cfg.Format == "json"
	if cfg.File {
		return logging.NewFileLogger("physician", "server", level, jsonFormat)
	}
	return logging.NewLogger(level, jsonFormat), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			log.Println("ERROR: GEMINI_API_KEY is required")
			log.Println("Set it in the environment or under gemini.api_key in the config file")
		}
		return err
	}

	logger, err := newServerLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	log.Println("Starting PHYSICIAN Kinematic Layer...")

	tracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	ledger, err := store.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	log.Printf("✓ Audit ledger: %s", cfg.Store.Type)

	m := metrics.New()

	engine := physics.NewEngine(resources.NewManager(), cfg.Simulation.Sessions)
	driver := simulation.NewDriver(engine, cfg.Simulation, logger)
	log.Printf("✓ Physics engine: %d session(s), %d steps at %.5fs, envelope z∈[%.2f, %.2f]",
		cfg.Simulation.Sessions, cfg.Simulation.Steps, cfg.Simulation.TimeStep,
		cfg.Simulation.Envelope.MinZ, cfg.Simulation.Envelope.MaxZ)

	client := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	adapter, err := perception.NewGeminiAdapter(client, cfg.Perception.Timeout, logger)
	if err != nil {
		return fmt.Errorf("failed to create perception adapter: %w", err)
	}

	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.Forensics.MaxRetries
	rc.InitialBackoff = cfg.Forensics.InitialBackoff
	generator := forensics.NewGeminiGenerator(client, rc, cfg.Forensics.Timeout, logger)
	log.Printf("✓ Inference model: %s", client.Model())

	verifier := pipeline.New(adapter, driver, generator,
		pipeline.WithStore(ledger),
		pipeline.WithMetrics(m),
		pipeline.WithTracer(tracer),
		pipeline.WithLogger(logger),
	)

	if err := os.MkdirAll(cfg.Server.UploadDir, 0700); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	janitor := cleanup.NewManager(cfg.Cleanup, ledger, cfg.Server.UploadDir, logger)
	janitor.Start()
	if cfg.Cleanup.Enabled {
		log.Printf("✓ Retention: ledger %s, stale uploads %s", cfg.Cleanup.LedgerRetention, cfg.Cleanup.UploadMaxAge)
	}

	handler := api.NewHandler(verifier, ledger, api.Options{
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Slots:          engine.Usage,
		Metrics:        m.Handler(engine.Usage),
		Logger:         logger,
	})

	mw := api.Middleware{
		CORSOrigins: cfg.Server.CORSOrigins,
		Tracer:      tracer,
		Metrics:     m,
	}
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
		mw.Limiter = limiter
		log.Printf("✓ Rate limiting: %.1f req/s per client, burst %d",
			cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}
	if cfg.Server.Auth.Enabled {
		mw.Auth = auth.NewKeyRing(cfg.Server.Auth.APIKeys)
		log.Printf("✓ API key authentication enabled (%d key(s))", mw.Auth.Len())
	} else {
		log.Println("WARNING: API key authentication is disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(handler, mw),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.TLS.Enabled {
		srv.TLSConfig, err = ptls.ServerConfig(cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		log.Printf("✓ TLS enabled (%s)", cfg.Server.TLS.CertFile)
	}

	// LIFO: the listener stops first, the tracer flushes last
	sm := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	sm.Register("tracer", tracer.Shutdown)
	sm.Register("ledger", shutdown.CloseResource(ledger))
	sm.Register("cleanup", janitor.Stop)
	sm.Register("simulations", shutdown.WaitFor(func() bool {
		usage, err := engine.Usage()
		return err != nil || usage.Available == usage.Capacity
	}, 100*time.Millisecond))
	sm.Register("http server", shutdown.StopHTTPServer(srv))

	go housekeeping(sm.Done(), limiter, logger)

	serverErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if srv.TLSConfig != nil {
			scheme = "https"
		}
		log.Printf("✓ Listening on %s://%s", scheme, cfg.Server.Address)
		log.Println("  POST /verify")
		log.Println("  GET  /verifications")
		log.Println("  GET  /health")
		log.Println("  GET  /metrics")

		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failed := make(chan error, 1)
	go func() {
		err := <-serverErr
		logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
		failed <- err
		cancel()
	}()

	if err := sm.WaitWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case err := <-failed:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
		return nil
	}
}

// housekeeping prunes idle rate-limit buckets and rotates the log file until done closes
func housekeeping(done <-chan struct{}, limiter *ratelimit.Limiter, logger *logging.Logger) {
	ticker := time.NewTicker(housekeepingTick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if limiter != nil {
				if n := limiter.CleanupOldLimiters(limiterIdleTTL); n > 0 {
					logger.Debug("Pruned idle rate limiters", map[string]interface{}{"count": n})
				}
			}
			if err := logger.RotateIfNeeded(maxLogFileBytes); err != nil {
				logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
