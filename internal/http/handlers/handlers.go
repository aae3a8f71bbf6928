package handlers

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

//
// Service contracts (context-aware)
//

// WebhookService handles the messaging platform's webhook traffic.
type WebhookService interface {
	// VerifySubscription answers the subscription handshake.
	VerifySubscription(q url.Values) (string, error)
	// HandleEvent processes one inbound event body.
	HandleEvent(ctx context.Context, body []byte) error
}

// JobService exposes the job ledger.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type JobService interface {
	// Get returns a single job.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// ListPage returns a page of a sender's jobs and the total count.
	ListPage(ctx context.Context, senderID string, page, pageSize int) ([]domain.Job, int64, error)
	// Stats returns a sender's job count and latest update time.
	Stats(ctx context.Context, senderID string) (int64, *time.Time, error)
}

// ObjectReader reads stored objects for the public file routes.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

//
// Handler wiring
//

// Handlers groups the webhook, job and file endpoints. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	webhook WebhookService
	jobs    JobService
	files   ObjectReader
	bucket  string
}

// New constructs a Handlers bound to the given services. bucket is the only
// bucket name served under /files.
func New(webhook WebhookService, jobs JobService, files ObjectReader, bucket string) *Handlers {
	return &Handlers{webhook: webhook, jobs: jobs, files: files, bucket: bucket}
}
