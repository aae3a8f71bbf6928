// Package worker runs the segmentation loop: it receives batches from the
// work queue, hands each image to the processor and acknowledges a message
// only once it has been handled.
//
// A failed message stays on the queue and comes back after the visibility
// timeout. Once it has been attempted MaxAttempts times the sender is told
// about the error, the job is marked failed and the message is deleted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/services"
)

// minSenderIDLen guards error notices against obviously bogus recipients.
const minSenderIDLen = 6

// ImageProcessor masks one stored image and delivers the result.
type ImageProcessor interface {
	ProcessImage(ctx context.Context, imageURL, senderID string) (string, error)
}

// Worker polls the queue and processes messages one at a time.
type Worker struct {
	Queue     queue.Queue
	DB        *gorm.DB
	Processor ImageProcessor
	Messenger messenger.Sender

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Run loops until ctx is cancelled. Receive errors are logged and the loop
// carries on after PollInterval.
func (w *Worker) Run(ctx context.Context) error {
	poll := w.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	log.Ctx(ctx).Info().Int("batch_size", w.batchSize()).Dur("poll_interval", poll).Msg("worker started")

	for {
		n, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Ctx(ctx).Info().Msg("worker stopped")
			return nil
		}
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("receive failed")
		}
		if n > 0 && err == nil {
			continue
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Ctx(ctx).Info().Msg("worker stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunOnce receives one batch and handles each message in order. It returns
// the number of messages received.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	msgs, err := w.Queue.Receive(ctx, w.batchSize())
	if err != nil {
		return len(msgs), err
	}
	receiveBatchSize.Observe(float64(len(msgs)))
	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		w.handle(ctx, m)
	}
	return len(msgs), nil
}

func (w *Worker) handle(ctx context.Context, m queue.Message) {
	senderID := m.Attributes[queue.AttrSenderID]
	if senderID == "" {
		senderID = services.SenderFromURL(m.Body)
	}
	jobID := m.Attributes[queue.AttrJobID]

	ctx, span := otel.Tracer("worker").Start(ctx, "handleMessage",
		trace.WithAttributes(
			attribute.String("message.id", m.ID),
			attribute.String("sender.id", senderID),
			attribute.String("job.id", jobID),
			attribute.Int("receive_count", m.ReceiveCount),
		),
	)
	defer span.End()

	logger := log.Ctx(ctx).With().
		Str("message_id", m.ID).
		Str("sender_id", senderID).
		Str("job_id", jobID).
		Logger()
	ctx = logger.WithContext(ctx)

	attempt := m.ReceiveCount
	if jobID != "" {
		job, err := w.startJob(ctx, jobID)
		switch {
		case errors.Is(err, errAlreadyDone):
			logger.Info().Msg("job already done, dropping redelivered message")
			w.ack(ctx, m)
			jobsProcessed.WithLabelValues(OutcomeSkipped).Inc()
			return
		case errors.Is(err, repo.ErrNotFound):
			logger.Warn().Msg("job not found, processing without ledger")
			jobID = ""
		case err != nil:
			logger.Warn().Err(err).Msg("job ledger unavailable")
			jobID = ""
		default:
			attempt = job.Attempts
		}
	}

	key, err := w.Processor.ProcessImage(ctx, m.Body, senderID)
	if err == nil {
		if jobID != "" {
			if err := repo.MarkJobDone(ctx, w.DB, jobID, key); err != nil {
				logger.Warn().Err(err).Msg("mark job done")
			}
		}
		w.ack(ctx, m)
		jobsProcessed.WithLabelValues(OutcomeDone).Inc()
		logger.Info().Str("key", key).Msg("image processed")
		return
	}

	span.RecordError(err)
	if ctx.Err() != nil {
		// Shutting down; the message comes back after its visibility timeout.
		return
	}
	if attempt < w.maxAttempts() {
		logger.Warn().Err(err).Int("attempt", attempt).Msg("processing failed, will retry")
		if jobID != "" {
			_ = repo.MarkJobRetry(ctx, w.DB, jobID, err.Error())
		}
		jobsProcessed.WithLabelValues(OutcomeRetry).Inc()
		return
	}

	logger.Error().Err(err).Int("attempt", attempt).Msg("processing failed, giving up")
	if len(senderID) >= minSenderIDLen {
		if serr := w.Messenger.SendText(ctx, senderID, fmt.Sprintf("Got an error:%v", err)); serr != nil {
			logger.Warn().Err(serr).Msg("error notice not delivered")
		}
	}
	if jobID != "" {
		_ = repo.MarkJobFailed(ctx, w.DB, jobID, err.Error())
	}
	w.ack(ctx, m)
	jobsProcessed.WithLabelValues(OutcomeFailed).Inc()
}

var errAlreadyDone = errors.New("job already done")

// startJob moves the job to processing and returns it with the bumped
// attempt counter.
func (w *Worker) startJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := repo.GetJob(ctx, w.DB, id)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobDone {
		return nil, errAlreadyDone
	}
	return repo.MarkJobProcessing(ctx, w.DB, id)
}

func (w *Worker) ack(ctx context.Context, m queue.Message) {
	if err := w.Queue.Delete(ctx, m.ReceiptHandle); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("delete message")
	}
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 10
	}
	return w.BatchSize
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts <= 0 {
		return 1
	}
	return w.MaxAttempts
}
