package cmd

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/agentgate/gateway/internal/adminauth"
	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/audit"
	"github.com/agentgate/gateway/internal/breaker"
	"github.com/agentgate/gateway/internal/cache"
	"github.com/agentgate/gateway/internal/chaos"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/degradation"
	"github.com/agentgate/gateway/internal/health"
	"github.com/agentgate/gateway/internal/httpapi"
	"github.com/agentgate/gateway/internal/httpclient"
	"github.com/agentgate/gateway/internal/obs"
	"github.com/agentgate/gateway/internal/policy"
	"github.com/agentgate/gateway/internal/proxy"
	"github.com/agentgate/gateway/internal/ratelimit"
	"github.com/agentgate/gateway/internal/recovery"
	"github.com/agentgate/gateway/internal/retry"
	"github.com/agentgate/gateway/internal/seed"
	"github.com/agentgate/gateway/internal/token"
	"github.com/agentgate/gateway/internal/tooladapter"
)

var (
	liveMode bool
	demoMode bool
	seedPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long: `Start the gateway: load the process config, construct the proxy
pipeline, health/recovery supervision, and the HTTP surface, then serve
until SIGINT/SIGTERM triggers a graceful two-phase shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&liveMode, "live", false, "use live tool adapters instead of mock adapters")
	serveCmd.Flags().BoolVar(&demoMode, "demo", false, "expose the non-production sandbox endpoints")
	serveCmd.Flags().StringVar(&seedPath, "seed", "", "YAML seed file for agents, policies, and credentials")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	processStart := time.Now()

	mgr, err := newConfigManager()
	if err != nil {
		return err
	}
	values, err := mgr.ReadConfig()
	if err != nil {
		return err
	}
	if err := validateConfigValues(values); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return exitCode(2)
	}

	hmacSecret := []byte(values["TOKEN_HMAC_SECRET"])
	kek, err := base64.StdEncoding.DecodeString(values["KEK_BASE64"])
	if err != nil {
		return fmt.Errorf("KEK_BASE64 must be base64-encoded: %w", err)
	}
	loc, err := time.LoadLocation(values["DEFAULT_TIMEZONE"])
	if err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	timeoutMs, err := strconv.Atoi(values["HTTP_TIMEOUT_MS"])
	if err != nil {
		return fmt.Errorf("HTTP_TIMEOUT_MS: %w", err)
	}
	httpTimeout := time.Duration(timeoutMs) * time.Millisecond
	if !cmd.Flags().Changed("live") {
		liveMode = values["UPSTREAM_MODE"] == "live"
	}
	if !cmd.Flags().Changed("demo") {
		demoMode = values["DEMO_MODE"] == "true"
	}

	codec, err := token.NewCodec(hmacSecret)
	if err != nil {
		return err
	}

	bootCtx := context.Background()

	// DATABASE_URL=memory keeps everything in-process; a sqlite path makes
	// the token registry, request logs, and sealed credentials durable.
	var db *sql.DB
	if dsn := values["DATABASE_URL"]; dsn != "memory" {
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("open DATABASE_URL: %w", err)
		}
		defer db.Close()
	}

	var registry token.Registry
	switch {
	case values["REDIS_URL"] != "disabled" && values["REDIS_URL"] != "":
		opts, err := redis.ParseURL(values["REDIS_URL"])
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		registry = token.NewRedisRegistry(client)
	case db != nil:
		registry, err = token.NewSQLiteRegistry(bootCtx, db)
		if err != nil {
			return err
		}
	default:
		registry = token.NewMemoryRegistry()
	}

	agents := agentreg.NewMemoryStore()
	policyStore := policy.NewMemoryStore()
	policyEngine := policy.NewEngine()
	policyEngine.SetDefaultLocation(loc)
	rateLimiter := ratelimit.New(ratelimit.Config{})
	breakers := breaker.NewManager(breaker.Config{})
	chaosInjector := chaos.New()
	degradationCtrl := degradation.New("response_cache")
	responseCache := cache.New(cache.Config{})

	var credStore *credential.Store
	if values["SECRETS_BACKEND"] == "sqlite" {
		if db == nil {
			return errors.New("SECRETS_BACKEND=sqlite requires a sqlite DATABASE_URL")
		}
		persister, err := credential.NewSQLitePersister(bootCtx, db)
		if err != nil {
			return err
		}
		credStore, err = credential.NewPersistentStore(bootCtx, kek, persister)
		if err != nil {
			return err
		}
	} else {
		credStore = credential.NewStore(kek)
	}

	var auditStore audit.Store
	if db != nil {
		auditStore, err = audit.NewSQLiteStore(bootCtx, db, audit.SQLiteConfig{})
	} else {
		auditDir := filepath.Join(stateDir, "audit")
		auditStore, err = audit.NewFileStore(audit.FileConfig{Dir: auditDir}, logger)
	}
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	adapters := buildAdapterRegistry(liveMode, credStore, httpTimeout)

	if seedPath != "" {
		if err := applySeed(bootCtx, seedPath, agents, policyStore, credStore, logger); err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	_, shutdownTracing, err := obs.NewTracerProvider("agent-gateway")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	_, shutdownMetrics, err := obs.NewMeterProvider("agent-gateway")
	if err != nil {
		return fmt.Errorf("init otel metrics: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
		_ = shutdownMetrics(ctx)
	}()
	otelMetrics, err := obs.NewOTelMetrics("agent-gateway")
	if err != nil {
		return fmt.Errorf("init otel instruments: %w", err)
	}

	pipeline := proxy.New(proxy.Pipeline{
		Codec:       codec,
		Registry:    registry,
		Agents:      agents,
		PolicyStore: policyStore,
		Engine:      policyEngine,
		RateLimiter: rateLimiter,
		Breakers:    breakers,
		RetryConfig: retry.Config{},
		Chaos:       chaosInjector,
		Adapters:    adapters,
		Cache:       responseCache,
		Audit:       auditStore,
		Degradation: degradationCtrl,
		Observer:    obs.NewFanout(metrics, otelMetrics),
		LiveMode:    liveMode,
	})

	healthRegistry := health.New()
	registerHealthChecks(healthRegistry, pipeline, degradationCtrl)

	dockerRuntime, err := recovery.NewDockerRuntime()
	if err != nil {
		logger.Warn("docker runtime unavailable, container recovery actions will no-op", slog.Any("error", err))
		dockerRuntime = nil
	}

	restartCount := 0
	recoveryCtrl := recovery.New(recovery.Config{
		Strategies:    defaultRecoveryStrategies(),
		CommandRunner: recovery.NewCommandRunner(recovery.CommandRunnerConfig{}),
		Runtime:       dockerRuntimeOrNil(dockerRuntime),
		Notifier: func(ctx context.Context, attemptID, message string) error {
			logger.Warn("recovery notify_operator", slog.String("attempt_id", attemptID), slog.String("message", message))
			return nil
		},
		MetricsFn: func() recovery.Metrics {
			return recovery.SampleMetrics(healthRegistry.Aggregate(), restartCount, processStart)
		},
		HealthyFn: func() bool { return healthRegistry.Aggregate() == health.StatusHealthy },
	})

	watchdog := health.NewWatchdog(healthRegistry, health.WatchdogConfig{}, func(ctx context.Context) {
		logger.Warn("watchdog detected sustained unhealthy status, triggering recovery")
		if _, err := recoveryCtrl.Trigger(ctx); err != nil {
			logger.Error("automatic recovery failed", slog.Any("error", err))
		}
	})
	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	go watchdog.Start(watchdogCtx)
	defer stopWatchdog()

	adminStore := adminauth.NewMemoryStore()
	seedAdminToken(adminStore, values["ADMIN_TOKEN_SHA256"])
	admin := adminauth.NewAuthenticator(adminStore)

	server := &httpapi.Server{
		Pipeline:        pipeline,
		Agents:          agents,
		Codec:           codec,
		Registry:        registry,
		PolicyStore:     policyStore,
		Chaos:           chaosInjector,
		Credentials:     credStore,
		Health:          healthRegistry,
		Recovery:        recoveryCtrl,
		Degradation:     degradationCtrl,
		Audit:           auditStore,
		Config:          mgr,
		Admin:           admin,
		Registerer:      reg,
		Logger:          logger,
		DefaultTokenTTL: httpapi.DefaultGenerateTokenTTL,
		DemoMode:        demoMode,
		Tracer:          obs.NewTracer("agent-gateway/proxy"),
	}

	port := values["PORT"]
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.Router(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", httpServer.Addr), slog.Bool("live_mode", liveMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Two-phase shutdown: stop accepting new proxy work, then
	// let in-flight calls finish before closing listeners.
	pipeline.BeginShutdown()
	watchdog.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

// applySeed loads and applies the startup seed file, logging only counts,
// never the seeded secrets.
func applySeed(ctx context.Context, path string, agents agentreg.Store, policies policy.Store, creds *credential.Store, logger *slog.Logger) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, f, agents, policies, creds); err != nil {
		return err
	}
	logger.Info("seed applied",
		slog.Int("agents", len(f.Agents)),
		slog.Int("policies", len(f.Policies)),
		slog.Int("assignments", len(f.Assignments)),
		slog.Int("credentials", len(f.Credentials)))
	return nil
}

// dockerRuntimeOrNil returns a true nil ContainerRuntime interface when rt
// is nil, avoiding the typed-nil-interface trap that would otherwise make
// Controller's "runtime == nil" check see a non-nil interface.
func dockerRuntimeOrNil(rt *recovery.DockerRuntime) recovery.ContainerRuntime {
	if rt == nil {
		return nil
	}
	return rt
}

func seedAdminToken(store *adminauth.MemoryStore, sha256Hash string) {
	if sha256Hash == "" {
		return
	}
	store.Seed(sha256Hash, adminauth.CredentialRecord{
		Principal:  adminauth.Principal{ID: uuid.NewString(), Name: "operator"},
		StoredHash: sha256Hash,
	})
}

func buildAdapterRegistry(live bool, creds *credential.Store, timeout time.Duration) *tooladapter.Registry {
	if !live {
		return tooladapter.NewRegistry(
			tooladapter.NewMockSearchAdapter(),
			tooladapter.NewMockHTTPFetchAdapter(),
			tooladapter.NewMockChatAdapter(),
			tooladapter.NewMockSendMailAdapter(),
		)
	}
	client := httpclient.New(httpclient.Config{Timeout: timeout})
	return tooladapter.NewRegistry(
		tooladapter.NewSearchAdapter(client, creds, os.Getenv("SEARCH_ENDPOINT")),
		tooladapter.NewHTTPFetchAdapter(client),
		tooladapter.NewChatAdapter(client, creds, os.Getenv("CHAT_ENDPOINT")),
		tooladapter.NewSendMailAdapter(client, creds, os.Getenv("SEND_MAIL_ENDPOINT")),
	)
}

// registerHealthChecks wires the built-in supervision checks:
// pipeline shutdown state and the current degradation level.
func registerHealthChecks(registry *health.Registry, pipeline *proxy.Pipeline, degradationCtrl *degradation.Controller) {
	registry.Register(health.Spec{Name: "proxy_pipeline", Type: health.TypeCustom}, func(ctx context.Context) (health.Status, string, error) {
		if pipeline.ShuttingDown() {
			return health.StatusDegraded, "shutting down", nil
		}
		return health.StatusHealthy, "", nil
	})
	registry.Register(health.Spec{Name: "degradation_level", Type: health.TypeCustom}, func(ctx context.Context) (health.Status, string, error) {
		switch degradationCtrl.Level() {
		case degradation.LevelNormal:
			return health.StatusHealthy, "", nil
		case degradation.LevelHealthOnly:
			return health.StatusUnhealthy, "health-only degradation", nil
		default:
			return health.StatusDegraded, "non-essential features disabled", nil
		}
	})
}

// defaultRecoveryStrategies is the seed strategy set: log collection on
// the first sign of trouble, escalating to a container restart once
// unhealthy for long enough that the watchdog fires.
func defaultRecoveryStrategies() []recovery.Strategy {
	return []recovery.Strategy{
		{
			Name:     "collect-and-restart",
			Priority: 1,
			Conditions: []recovery.Condition{
				{Field: "health_status", Operator: "eq", Value: string(health.StatusUnhealthy)},
			},
			Actions: []recovery.Action{
				{Type: recovery.ActionCollectLogs, Timeout: 10 * time.Second},
				{Type: recovery.ActionRestartContainer, Target: os.Getenv("GATEWAY_CONTAINER_NAME"), Timeout: 30 * time.Second},
				{Type: recovery.ActionNotifyOperator, Params: map[string]string{"message": "gateway auto-restarted after sustained unhealthy status"}},
			},
		},
	}
}
