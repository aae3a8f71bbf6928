package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/repo"
)

// SQLQueue stores messages in the queue_messages table.
type SQLQueue struct {
	db          *gorm.DB
	name        string
	visibility  time.Duration
	dedupWindow time.Duration
	now         func() time.Time
}

// NewSQLQueue returns a queue named name on db.
func NewSQLQueue(db *gorm.DB, name string, visibility, dedupWindow time.Duration) *SQLQueue {
	return &SQLQueue{
		db:          db,
		name:        name,
		visibility:  visibility,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// Send appends item unless its dedup id is still remembered, in which case
// it returns ErrDuplicate.
func (q *SQLQueue) Send(ctx context.Context, item Item) error {
	if item.GroupID == "" {
		item.GroupID = DefaultGroup
	}
	now := q.now().UTC()
	if item.DedupID != "" {
		err := repo.ClaimDedup(ctx, q.db, q.name, item.DedupID, q.dedupWindow, now)
		if errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Debug().Str("dedup_id", item.DedupID).Msg("duplicate message dropped")
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("claim dedup: %w", err)
		}
	}

	msg := &domain.QueueMessage{
		Queue:     q.name,
		GroupID:   item.GroupID,
		DedupID:   item.DedupID,
		Body:      item.Body,
		SenderID:  item.Attributes[AttrSenderID],
		JobID:     item.Attributes[AttrJobID],
		VisibleAt: now,
		CreatedAt: now,
	}
	if err := repo.AppendQueueMessage(ctx, q.db, msg); err != nil {
		if item.DedupID != "" {
			_ = repo.ReleaseDedup(ctx, q.db, q.name, item.DedupID)
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Receive returns up to max visible messages.
func (q *SQLQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	rows, err := repo.ReceiveQueueMessages(ctx, q.db, q.name, max, q.visibility, q.now())
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		attrs := map[string]string{}
		if r.SenderID != "" {
			attrs[AttrSenderID] = r.SenderID
		}
		if r.JobID != "" {
			attrs[AttrJobID] = r.JobID
		}
		out = append(out, Message{
			ID:            r.ID,
			Body:          r.Body,
			Attributes:    attrs,
			ReceiptHandle: r.ReceiptHandle,
			ReceiveCount:  r.ReceiveCount,
		})
	}
	return out, nil
}

// Delete removes the message identified by receipt.
func (q *SQLQueue) Delete(ctx context.Context, receipt string) error {
	err := repo.DeleteQueueMessage(ctx, q.db, q.name, receipt)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrReceiptInvalid
	}
	return err
}

// Close is a no-op; the database handle is owned by the caller.
func (q *SQLQueue) Close() error { return nil }
