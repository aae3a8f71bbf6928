// Command server runs the messaging platform webhook: it stores inbound
// images, records a job per image and enqueues it for the worker. It also
// serves the stored images and a read-only job status API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/config"
	httpapi "github.com/tbourn/go-person-blocker/internal/http"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/observability"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/services"
	"github.com/tbourn/go-person-blocker/internal/storage"
	"github.com/tbourn/go-person-blocker/internal/sysutil"
)

var version = "dev"

const dedupPurgeInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sysutil.ConfigureLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty, observability.ComponentServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ComponentServer, version)
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

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Store:     store,
		Queue:     q,
		Messenger: messenger.NewClient(cfg.Messenger.GraphAPIURL, cfg.Messenger.AccessToken, cfg.Messenger.SendRPS),
		Fetcher:   services.NewFetcher(cfg.FetchTimeout, cfg.MaxImageBytes),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeDedup(ctx, db)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

// purgeDedup drops expired dedup records until ctx is done.
func purgeDedup(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(dedupPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredDedup(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("purge dedup records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired dedup records removed")
			}
		}
	}
}
