// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the storage operations behind the SQL
// work queue: append, receive with a visibility timeout, and delete by
// receipt handle.
//
// FIFO semantics follow message groups: while any message of a group is in
// flight (received, not deleted, visibility timeout not yet elapsed) no other
// message of that group is handed out.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

// AppendQueueMessage stores msg as immediately visible. ID, VisibleAt and
// CreatedAt are filled in when empty.
func AppendQueueMessage(ctx context.Context, db *gorm.DB, msg *domain.QueueMessage) error {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.VisibleAt.IsZero() {
		msg.VisibleAt = now
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	return db.WithContext(ctx).Create(msg).Error
}

// ReceiveQueueMessages hands out up to max visible messages of queue in send
// order, skipping groups that have a message in flight. Each returned message
// gets a fresh receipt handle, an incremented receive count, and stays hidden
// until now+visibility.
func ReceiveQueueMessages(ctx context.Context, db *gorm.DB, queue string, max int, visibility time.Duration, now time.Time) ([]domain.QueueMessage, error) {
	if max <= 0 {
		return nil, nil
	}
	now = now.UTC()
	var out []domain.QueueMessage

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var blocked []string
		if err := tx.Model(&domain.QueueMessage{}).
			Where("queue = ? AND in_flight = ? AND visible_at > ?", queue, true, now).
			Distinct().
			Pluck("group_id", &blocked).Error; err != nil {
			return err
		}

		q := tx.Where("queue = ? AND visible_at <= ?", queue, now)
		if len(blocked) > 0 {
			q = q.Where("group_id NOT IN ?", blocked)
		}
		var candidates []domain.QueueMessage
		if err := q.Order("seq ASC").Limit(max).Find(&candidates).Error; err != nil {
			return err
		}

		for _, m := range candidates {
			receipt := uuid.NewString()
			res := tx.Model(&domain.QueueMessage{}).
				Where("seq = ? AND receipt_handle = ?", m.Seq, m.ReceiptHandle).
				Updates(map[string]any{
					"receipt_handle": receipt,
					"receive_count":  gorm.Expr("receive_count + 1"),
					"visible_at":     now.Add(visibility),
					"in_flight":      true,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Claimed concurrently by another receiver.
				continue
			}
			m.ReceiptHandle = receipt
			m.ReceiveCount++
			m.VisibleAt = now.Add(visibility)
			m.InFlight = true
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteQueueMessage removes the message currently identified by receipt.
// It returns ErrNotFound when the receipt is stale or unknown.
func DeleteQueueMessage(ctx context.Context, db *gorm.DB, queue, receipt string) error {
	res := db.WithContext(ctx).
		Where("queue = ? AND receipt_handle = ?", queue, receipt).
		Delete(&domain.QueueMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountQueueMessages returns how many messages of queue are stored, in flight
// or not.
func CountQueueMessages(ctx context.Context, db *gorm.DB, queue string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.QueueMessage{}).Where("queue = ?", queue).Count(&n).Error
	return n, err
}
