// Package main is the entry point for the modelrelay gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modelrelay/config"
	"modelrelay/internal/core"
	"modelrelay/internal/httpclient"
	"modelrelay/internal/logging"
	"modelrelay/internal/metrics"
	"modelrelay/internal/providers"
	"modelrelay/internal/providers/gemini"
	"modelrelay/internal/providers/openrouter"
	"modelrelay/internal/providers/vertex"
	"modelrelay/internal/queue"
	"modelrelay/internal/registry"
	"modelrelay/internal/server"
	"modelrelay/internal/usage"
	"modelrelay/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log.Format, cfg.Log.Level)
	slog.Info("starting modelrelay",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	reg, err := loadRegistry(cfg)
	if err != nil {
		slog.Error("failed to load model table", "error", err)
		os.Exit(1)
	}
	slog.Info("model registry loaded", "models", reg.Count())

	httpClient := httpclient.NewDefault()
	adapters := buildAdapters(cfg, httpClient)
	if len(adapters) == 0 {
		slog.Warn("no provider credentials configured; every generation will fail",
			"hint", "set GEMINI_API_KEY, VERTEX_PROJECT_ID/VERTEX_ACCESS_TOKEN, or OPENROUTER_API_KEY")
	}

	router := providers.NewRouter(reg, adapters, providers.Config{
		RetryAttempts:  cfg.Routing.RetryAttempts,
		RetryBaseDelay: cfg.Routing.RetryBaseDelay,
		FallbackModels: cfg.Routing.FallbackModels,
	}, metrics.RouterHooks{})

	recorder := usage.NewRecorder(cfg.Usage.Capacity)

	jobs, worker := buildQueue(cfg, router, recorder)
	defer func() {
		_ = jobs.Close() //nolint:errcheck
	}()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if worker != nil {
		go worker.Run(workerCtx)
	}

	handler := server.NewHandler(router, reg, jobs, recorder)
	handler.DefaultModel = cfg.Routing.DefaultModel
	srv := server.New(handler, &server.Config{
		MetricsEnabled: cfg.Server.MetricsEnabled,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")
		stopWorker()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if path := cfg.Routing.ModelTablePath; path != "" {
		return registry.LoadFile(path)
	}
	return registry.New(), nil
}

// buildAdapters constructs an adapter for each credentialed provider.
// Order is the routing priority: gemini, then vertex, then openrouter.
func buildAdapters(cfg *config.Config, httpClient *http.Client) []core.Adapter {
	var adapters []core.Adapter
	if cfg.Gemini.Configured() {
		adapters = append(adapters, gemini.New(cfg.Gemini.APIKey, httpClient))
		slog.Info("provider configured", "vendor", core.VendorGemini)
	}
	if cfg.Vertex.Configured() {
		adapters = append(adapters, vertex.New(
			cfg.Vertex.ProjectID, cfg.Vertex.Location, cfg.Vertex.AccessToken, httpClient))
		slog.Info("provider configured", "vendor", core.VendorVertex,
			"project", cfg.Vertex.ProjectID, "location", cfg.Vertex.Location)
	}
	if cfg.OpenRouter.Configured() {
		adapters = append(adapters, openrouter.New(cfg.OpenRouter.APIKey, httpClient))
		slog.Info("provider configured", "vendor", core.VendorOpenRouter)
	}
	return adapters
}

// buildQueue connects the Redis broker, degrading to the NullQueue when
// the broker is absent or unreachable. Degraded mode still accepts
// enqueues but no worker runs them; synchronous traffic keeps working.
func buildQueue(cfg *config.Config, router *providers.Router, recorder *usage.Recorder) (queue.Queue, *queue.Worker) {
	if cfg.Queue.RedisURL == "" {
		slog.Info("REDIS_URL not set, job queue disabled")
		return queue.NewNull(), nil
	}

	rq, err := queue.NewRedis(cfg.Queue.RedisURL)
	if err != nil {
		slog.Warn("job queue unreachable, degrading to null queue", "error", err)
		return queue.NewNull(), nil
	}

	worker := queue.NewWorker(rq, router, recorder, queue.WorkerConfig{
		StallTimeout: cfg.Queue.StallTimeout,
		JobTimeout:   cfg.Queue.JobTimeout,
		RetryDelay:   cfg.Queue.RetryDelay,
	})
	return rq, worker
}
