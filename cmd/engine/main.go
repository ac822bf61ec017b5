// Command engine runs the complaint decision engine: the change-stream
// listener, the processing queue worker, the retry reconciler, and the
// monitoring HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/civisense/ai-decision-engine/internal/adapter/httpserver"
	"github.com/civisense/ai-decision-engine/internal/adapter/imagefetch"
	"github.com/civisense/ai-decision-engine/internal/adapter/inference/httpinfer"
	"github.com/civisense/ai-decision-engine/internal/adapter/inference/stub"
	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	mongorepo "github.com/civisense/ai-decision-engine/internal/adapter/repo/mongo"
	"github.com/civisense/ai-decision-engine/internal/config"
	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/internal/usecase/priority"
	"github.com/civisense/ai-decision-engine/internal/usecase/process"
	"github.com/civisense/ai-decision-engine/internal/usecase/validate"
	"github.com/civisense/ai-decision-engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("engine exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetupLogger(cfg)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=main.tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CPUThreads > 0 {
		runtime.GOMAXPROCS(cfg.CPUThreads)
	}

	engineRun := uuid.NewString()
	slog.Info("engine starting",
		slog.String("engineRun", engineRun),
		slog.String("env", cfg.AppEnv),
		slog.Int("port", cfg.Port))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout())
	store, err := mongorepo.Connect(connectCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("op=main.store: %w", err)
	}

	stats := domain.NewRuntimeStats()
	stats.SetReplicaSetEnabled(store.ReplicaSetEnabled())

	fetcher := imagefetch.New(cfg.ImageDownloadTimeout, cfg.ImageMaxBytes)
	detector, classifier, embedder, err := buildInference(ctx, cfg)
	if err != nil {
		return err
	}

	engine := priority.NewEngine(
		priority.NewTextScorer(),
		priority.NewGeoMultiplier(store, cfg.SchoolRadiusMeters),
		priority.NewClusterDetector(store),
	)
	validator := validate.NewValidator(store,
		cfg.DuplicateSimilarityThreshold, cfg.DuplicateLookback(),
		cfg.DuplicateCompareLimit, cfg.YoloMinConfidenceForSeverity)
	processor := process.New(store, store, fetcher,
		detector, classifier, embedder,
		engine, validator, stats,
		cfg.BlacklistWritesEnabled, engineRun)

	queue := worker.NewQueue(processor, stats, cfg.QueueCapacity)
	listener := worker.NewListener(store, queue, stats)
	reconciler := worker.NewReconciler(store, queue, stats,
		cfg.RetryInterval, cfg.RetryBatchSize, cfg.MaxRetryAttempts)
	server := httpserver.New(store, stats, queue)

	var wg sync.WaitGroup
	runTask := func(name string, task func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx)
			slog.Debug("task finished", slog.String("task", name))
		}()
	}
	runTask("queue", queue.Run)
	runTask("listener", listener.Run)
	runTask("reconciler", reconciler.Run)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			closeAll(store, shutdownTracing)
			return fmt.Errorf("op=main.server: %w", err)
		}
	}

	stop()
	wg.Wait()
	closeAll(store, shutdownTracing)
	slog.Info("engine stopped", slog.String("engineRun", engineRun))
	return nil
}

// buildInference selects the sidecar client when an inference URL is
// configured and the deterministic stub otherwise.
func buildInference(ctx context.Context, cfg config.Config) (domain.Detector, domain.Classifier, domain.Embedder, error) {
	if cfg.InferenceURL == "" {
		slog.Warn("INFERENCE_URL empty, using deterministic stub inference")
		services := stub.New()
		return services, services, services, nil
	}
	client := httpinfer.New(cfg)
	loadCtx, cancel := context.WithTimeout(ctx, cfg.InferenceTimeout)
	defer cancel()
	if err := client.Load(loadCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("op=main.inference: %w", err)
	}
	return client, client, client, nil
}

func closeAll(store *mongorepo.Store, shutdownTracing func(context.Context) error) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		slog.Warn("store close failed", slog.Any("error", err))
	}
	if err := shutdownTracing(closeCtx); err != nil {
		slog.Warn("tracing shutdown failed", slog.Any("error", err))
	}
}
