package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/restmailer/restmailer/internal/config"
	"github.com/restmailer/restmailer/internal/engine"
	"github.com/restmailer/restmailer/internal/handler"
	"github.com/restmailer/restmailer/internal/observability"
	"github.com/restmailer/restmailer/internal/registry"
	"github.com/restmailer/restmailer/internal/server"
	"github.com/restmailer/restmailer/internal/worker"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		configPath := serveCmd.String("config", "", "config file path (YAML, optional)")
		serveCmd.Parse(os.Args[2:])
		runServe(*configPath)
	case "version":
		fmt.Printf("restmailer %s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("restmailer - outbound mail submission service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  restmailer serve   [--config path]   Start the HTTP ingress, delivery worker, and snapshotter")
	fmt.Println("  restmailer version                   Print version")
}

func runServe(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := setupLogger()
	slog.SetDefault(logger)
	logger.Info("starting restmailer", "version", Version)

	if cfg.HTTP.Tokens() == nil {
		logger.Warn("http.auth_tokens is unset, /message routes are unauthenticated")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := setupTracing(ctx, logger)
	if err != nil {
		logger.Error("initializing tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	metricsRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(metricsRegistry)

	reg, err := registry.LoadFile(cfg.HTTP.RuntimeFilePath, logger)
	if err != nil {
		logger.Error("loading runtime snapshot", "error", err)
		os.Exit(1)
	}
	logger.Info("runtime registry loaded", "entries", reg.Len())

	deliverer := engine.NewDeliverer(cfg.Mail, reg, http.DefaultClient, metrics, logger)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, Password: redisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", redisAddr)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword})
	defer asynqClient.Close()
	enqueuer := worker.NewEnqueuer(asynqClient)

	deliveryHandler := worker.NewDeliveryHandler(deliverer, logger)
	workerSrv := worker.NewServer(worker.Config{
		RedisAddr:     redisAddr,
		RedisPassword: redisPassword,
		Concurrency:   cfg.Mail.WorkerConcurrency,
	}, logger)
	workerMux := worker.NewMux(deliveryHandler)

	msgHandler := handler.New(reg, deliverer, enqueuer, cfg.Mail, cfg.HTTP.DocsEnabled, metrics, logger)

	httpServer := server.New(server.Config{
		Addr:         cfg.HTTP.Addr(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxBody:      cfg.HTTP.MaxBody,
		AuthTokens:   cfg.HTTP.Tokens(),
		Handler:      msgHandler,
		Metrics:      metrics,
	})

	snapshotter := registry.NewSnapshotter(reg, cfg.HTTP.RuntimeFilePath, 10*time.Second, 50<<30, cfg.Mail.RuntimeMaxEntries, logger)

	metricsAddr := os.Getenv("METRICS_LISTEN_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	metricsServer := observability.NewMetricsServer(metricsAddr, metricsRegistry)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.HTTP.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting delivery worker", "concurrency", cfg.Mail.WorkerConcurrency)
		if err := workerSrv.Run(workerMux); err != nil {
			return fmt.Errorf("delivery worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		snapshotter.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
		workerSrv.Shutdown()

		return nil
	})

	err = g.Wait()

	snapshotter.Save()
	logger.Info("final runtime snapshot saved")

	if err != nil {
		logger.Error("restmailer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("restmailer stopped")
}

// setupLogger builds the process-wide structured logger from LOGGING_LEVEL
// and LOGGING_FORMAT. These two sit outside the MAIL_/HTTP_ koanf scheme
// because the logger must exist before config.Load can log anything.
func setupLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOGGING_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch strings.ToLower(os.Getenv("LOGGING_FORMAT")) {
	case "text":
		base = slog.NewTextHandler(os.Stdout, opts)
	default:
		base = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(observability.NewTracingHandler(base))
}

// setupTracing initializes OpenTelemetry only when OTEL_EXPORTER_OTLP_ENDPOINT
// is set, returning a no-op shutdown otherwise.
func setupTracing(ctx context.Context, logger *slog.Logger) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := observability.InitTracer(ctx, observability.TracingConfig{
		Endpoint:    endpoint,
		SampleRate:  1.0,
		ServiceName: "restmailer",
		Insecure:    strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")) == "true",
	})
	if err != nil {
		return nil, err
	}
	logger.Info("tracing enabled", "endpoint", endpoint)
	return shutdown, nil
}
