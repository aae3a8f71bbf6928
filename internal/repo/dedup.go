// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the deduplication ledger used to emulate
// FIFO-queue duplicate suppression.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

// ErrDuplicate indicates that a live dedup record already exists for the
// given (queue, dedup_id) pair.
var ErrDuplicate = errors.New("duplicate")

// ClaimDedup records dedupID for queue until now+window. It returns
// ErrDuplicate when an unexpired record for the same pair exists. Expired
// records for the pair are purged first so the id can be reused.
func ClaimDedup(ctx context.Context, db *gorm.DB, queue, dedupID string, window time.Duration, now time.Time) error {
	now = now.UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("queue = ? AND dedup_id = ? AND expires_at <= ?", queue, dedupID, now).
			Delete(&domain.DedupRecord{}).Error; err != nil {
			return err
		}
		rec := &domain.DedupRecord{
			ID:        uuid.NewString(),
			Queue:     queue,
			DedupID:   dedupID,
			CreatedAt: now,
			ExpiresAt: now.Add(window),
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// ReleaseDedup forgets a dedup id, used when the send it guarded failed so a
// retry is not suppressed.
func ReleaseDedup(ctx context.Context, db *gorm.DB, queue, dedupID string) error {
	return db.WithContext(ctx).
		Where("queue = ? AND dedup_id = ?", queue, dedupID).
		Delete(&domain.DedupRecord{}).Error
}

// PurgeExpiredDedup removes all records whose window elapsed before now.
func PurgeExpiredDedup(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.DedupRecord{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation matches unique-constraint errors across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
