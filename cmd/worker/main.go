// Command worker drains the work queue: for each stored image it runs
// instance segmentation, paints the people it finds with noise and sends the
// result back to the sender. Metrics and a health check are served on
// WORKER_METRICS_PORT.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-person-blocker/internal/blocker"
	"github.com/tbourn/go-person-blocker/internal/config"
	httpapi "github.com/tbourn/go-person-blocker/internal/http"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/observability"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/segment"
	"github.com/tbourn/go-person-blocker/internal/services"
	"github.com/tbourn/go-person-blocker/internal/storage"
	"github.com/tbourn/go-person-blocker/internal/sysutil"
	"github.com/tbourn/go-person-blocker/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sysutil.ConfigureLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty, observability.ComponentWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ComponentWorker, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	q, err := queue.New(db, cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Queue.Backend).Msg("open queue")
	}
	defer q.Close()

	store, err := storage.NewFilesystemStore(cfg.Storage.Dir, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open object store")
	}

	targets, err := segment.ResolveClasses(cfg.Segmenter.TargetClasses)
	if err != nil {
		log.Fatal().Err(err).Strs("classes", cfg.Segmenter.TargetClasses).Msg("resolve target classes")
	}
	seg, err := segment.New(ctx, cfg.Segmenter)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Segmenter.Backend).Msg("init segmenter")
	}
	if c, ok := seg.(io.Closer); ok {
		defer c.Close()
	}

	msgr := messenger.NewClient(cfg.Messenger.GraphAPIURL, cfg.Messenger.AccessToken, cfg.Messenger.SendRPS)
	w := &worker.Worker{
		Queue: q,
		DB:    db,
		Processor: &services.Processor{
			Fetcher:   services.NewFetcher(cfg.FetchTimeout, cfg.MaxImageBytes),
			Segmenter: seg,
			Blocker:   blocker.New(cfg.Segmenter.MaskColor, cfg.Segmenter.NoiseStdDev),
			Targets:   targets,
			Store:     store,
			Messenger: msgr,
			OnSegment: worker.ObserveSegmentation,
		},
		Messenger:    msgr,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}

	gin.SetMode(cfg.GinMode)
	ops := gin.New()
	httpapi.RegisterOpsRoutes(ops, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Worker.MetricsPort,
		Handler:           ops,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	log.Info().
		Str("queue", cfg.Queue.Name).
		Str("backend", cfg.Queue.Backend).
		Str("segmenter", cfg.Segmenter.Backend).
		Str("version", version).
		Msg("worker configured")
	if err := w.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	log.Info().Msg("worker exited")
}
