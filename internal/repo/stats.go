// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

// JobsStats returns the number of jobs submitted by senderID and the greatest
// UpdatedAt among them. A sender without jobs yields (0, nil, nil).
func JobsStats(ctx context.Context, db *gorm.DB, senderID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Job{}).Where("sender_id = ?", senderID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Job{}).
		Where("sender_id = ?", senderID).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
