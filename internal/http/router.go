// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, and rate limiting.
//
// Routes:
//   - GET/POST /               messaging platform webhook (always 200)
//   - GET /files/:bucket/*key  public objects handed to the platform
//   - GET {APIBasePath}/...    read-only job status API
//   - GET /health, /metrics, /swagger/*any
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/docs"
	"github.com/tbourn/go-person-blocker/internal/config"
	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/http/handlers"
	"github.com/tbourn/go-person-blocker/internal/http/middleware"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/services"
	"github.com/tbourn/go-person-blocker/internal/storage"
)

// jobRepoShim adapts the repository free functions to the services.JobRepo
// interface expected by the JobService.
type jobRepoShim struct{}

// GetJob proxies repo.GetJob.
func (jobRepoShim) GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	return repo.GetJob(ctx, db, id)
}

// CountJobs proxies repo.CountJobs.
func (jobRepoShim) CountJobs(ctx context.Context, db *gorm.DB, senderID string) (int64, error) {
	return repo.CountJobs(ctx, db, senderID)
}

// ListJobsPage proxies repo.ListJobsPage.
func (jobRepoShim) ListJobsPage(ctx context.Context, db *gorm.DB, senderID string, offset, limit int) ([]domain.Job, error) {
	return repo.ListJobsPage(ctx, db, senderID, offset, limit)
}

// JobsStats proxies repo.JobsStats.
func (jobRepoShim) JobsStats(ctx context.Context, db *gorm.DB, senderID string) (int64, *time.Time, error) {
	return repo.JobsStats(ctx, db, senderID)
}

// Deps carries the collaborators the webhook receiver needs.
type Deps struct {
	DB        *gorm.DB
	Store     storage.ObjectStore
	Queue     queue.Queue
	Messenger messenger.Sender
	Fetcher   services.ImageFetcher
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// The rate limiter and gzip apply to the job API and the file routes only;
// the webhook must never be throttled.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Hub-Signature", "X-Hub-Signature-256"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); webhook events are small JSON
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header so image
		// URLs can be embedded anywhere.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers; job API responses are never cached
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = "/"
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/store/queue/messenger
	receiver := &services.Receiver{
		DB:          deps.DB,
		Store:       deps.Store,
		Queue:       deps.Queue,
		Messenger:   deps.Messenger,
		Fetcher:     deps.Fetcher,
		VerifyToken: cfg.Messenger.VerifyToken,
	}
	jobSvc := services.NewJobService(deps.DB, jobRepoShim{})
	h := handlers.New(receiver, jobSvc, deps.Store, cfg.Storage.Bucket)

	// Webhook
	r.GET("/", h.VerifyWebhook)
	r.POST("/", h.ReceiveWebhook)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())

	// Public objects
	files := r.Group("/files", rl.Handler())
	files.GET("/:bucket/*key", h.GetFile)

	// Job status API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler(), gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/jobs/:id", h.GetJob)
		api.GET("/senders/:id/jobs", h.ListSenderJobs)
	}
}

// RegisterOpsRoutes mounts the worker's operational surface: /health and the
// Prometheus /metrics endpoint, behind request ids, access logs and panic
// recovery.
func RegisterOpsRoutes(r *gin.Engine, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName + "-worker"))
	r.Use(
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{}),
		middleware.Recovery(),
		middleware.Metrics("/metrics"),
	)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
