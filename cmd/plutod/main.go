// Command plutod is the Pluto application bootstrap: it wires the event
// bus, component registry, scheduler, example components, the declarative
// schedule set and the access/monitoring HTTP surfaces, then runs until
// told to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hedgehog/pluto/internal/access"
	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/components/kubedeploy"
	"github.com/hedgehog/pluto/internal/declarative"
	"github.com/hedgehog/pluto/internal/eventbus"
	"github.com/hedgehog/pluto/internal/logging"
	"github.com/hedgehog/pluto/internal/monitoring"
	"github.com/hedgehog/pluto/internal/scheduler"
)

func main() {
	logger, err := logging.Configure("plutod", loadLoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "plutod: failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting plutod")
	cfg := loadConfig()

	metrics := monitoring.New()
	tracing, err := monitoring.NewTracing(loadTracingConfig(cfg))
	if err != nil {
		logger.Critical("failed to initialise tracing: %v", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warning("tracing shutdown: %v", err)
		}
	}()

	bus := eventbus.New(metrics, metrics)
	registry := component.NewRegistry(bus)

	broadcaster := logging.NewBroadcaster("logger", bus)
	if err := registry.Register(broadcaster); err != nil {
		logger.Critical("failed to register logging broadcaster: %v", err)
		os.Exit(1)
	}
	logger.AddSink(broadcaster.Sink())

	if deploy, err := kubedeploy.New("deploy", bus, kubedeploy.ClientConfig{KubeconfigPath: cfg.KubeconfigPath}); err != nil {
		logger.Warning("kubedeploy component unavailable, continuing without it: %v", err)
	} else if err := registry.Register(deploy); err != nil {
		logger.Critical("failed to register kubedeploy component: %v", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler("scheduler", bus)
	if err := registry.Register(sched); err != nil {
		logger.Critical("failed to register scheduler: %v", err)
		os.Exit(1)
	}

	if cfg.ScheduleFile != "" {
		if err := loadSchedules(sched, cfg.ScheduleFile, logger); err != nil {
			logger.Critical("failed to load schedule file %q: %v", cfg.ScheduleFile, err)
			os.Exit(1)
		}
	}
	metrics.SetComponentsRegistered(len(registry.ListComponents()))

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if cfg.ScheduleFile != "" {
		if err := sched.Run(runCtx); err != nil {
			logger.Critical("failed to start scheduler: %v", err)
			os.Exit(1)
		}
		metrics.SetSchedulesRunning(1)
	}

	servicer := access.New(registry, bus)
	accessServer := &http.Server{
		Addr:         cfg.AccessAddress,
		Handler:      tracing.HTTPMiddleware(metrics.HTTPMiddleware("access", servicer.Router())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("access surface listening on %s", cfg.AccessAddress)
		if err := accessServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Critical("access surface failed: %v", err)
		}
	}()

	metricsServer := monitoring.NewServer(cfg.MetricsAddress, metrics)
	metricsServer.Start()
	logger.Info("metrics surface listening on %s", cfg.MetricsAddress)

	logger.Info("plutod fully initialised and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down plutod")
	cancelRun()
	for _, name := range registry.ListComponents() {
		if c, err := registry.Get(name); err == nil {
			c.Stop()
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := accessServer.Shutdown(shutdownCtx); err != nil {
		logger.Warning("access surface shutdown error: %v", err)
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warning("metrics surface shutdown error: %v", err)
	}
	bus.Stop()

	logger.Info("plutod shutdown complete")
}

func loadSchedules(sched *scheduler.Scheduler, path string, logger *logging.Logger) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schedule file: %w", err)
	}
	schedules, err := declarative.Load(doc)
	if err != nil {
		return err
	}
	for _, s := range schedules {
		if err := sched.Load(s); err != nil {
			return fmt.Errorf("load schedule %q: %w", s.Description(), err)
		}
		logger.Info("loaded schedule %q", s.Description())
	}
	return nil
}

// config holds everything main reads from the environment.
type config struct {
	AccessAddress   string
	MetricsAddress  string
	ScheduleFile    string
	KubeconfigPath  string
	TracingEnabled  bool
	TracingEndpoint string
	Environment     string
}

func loadConfig() config {
	return config{
		AccessAddress:   getEnv("PLUTO_ACCESS_ADDRESS", ":8080"),
		MetricsAddress:  getEnv("PLUTO_METRICS_ADDRESS", ":9090"),
		ScheduleFile:    getEnv("PLUTO_SCHEDULE_FILE", ""),
		KubeconfigPath:  getEnv("PLUTO_KUBECONFIG", ""),
		TracingEnabled:  getEnv("PLUTO_TRACING_ENABLED", "false") == "true",
		TracingEndpoint: getEnv("PLUTO_OTLP_ENDPOINT", "http://localhost:4318/v1/traces"),
		Environment:     getEnv("PLUTO_ENVIRONMENT", "development"),
	}
}

func loadTracingConfig(cfg config) *monitoring.TracingConfig {
	return &monitoring.TracingConfig{
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.TracingEndpoint,
		ServiceName:  monitoring.ServiceName,
		Environment:  cfg.Environment,
		SamplingRate: 0.1,
	}
}

func loadLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level := os.Getenv("PLUTO_LOG_LEVEL"); level != "" {
		if parsed, ok := logging.ParseLevel(level); ok {
			cfg.Level = parsed
		}
	}
	if file := os.Getenv("PLUTO_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
