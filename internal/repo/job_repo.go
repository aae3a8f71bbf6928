// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job ledger.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only persistence and
// query composition. Missing rows surface as ErrNotFound.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

// CreateJob inserts a queued job for senderID. When id is empty a new UUID
// is generated.
func CreateJob(ctx context.Context, db *gorm.DB, id, senderID, sourceURL, rawKey string) (*domain.Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        id,
		SenderID:  senderID,
		SourceURL: sourceURL,
		RawKey:    rawKey,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob fetches a job by id, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var job domain.Job
	err := db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkJobProcessing flags the job as being worked on and bumps its attempt
// counter. It returns the updated job.
func MarkJobProcessing(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	res := db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]any{
		"status":     domain.JobProcessing,
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetJob(ctx, db, id)
}

// MarkJobDone records the processed object key and clears the error.
func MarkJobDone(ctx context.Context, db *gorm.DB, id, processedKey string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":        domain.JobDone,
		"processed_key": processedKey,
		"error":         "",
		"updated_at":    time.Now().UTC(),
	})
}

// MarkJobRetry puts the job back to queued, keeping the last error.
func MarkJobRetry(ctx context.Context, db *gorm.DB, id, errMsg string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":     domain.JobQueued,
		"error":      errMsg,
		"updated_at": time.Now().UTC(),
	})
}

// MarkJobFailed records a terminal failure.
func MarkJobFailed(ctx context.Context, db *gorm.DB, id, errMsg string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":     domain.JobFailed,
		"error":      errMsg,
		"updated_at": time.Now().UTC(),
	})
}

// DeleteJob removes a job that was never enqueued.
func DeleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Job{}).Error
}

// CountJobs returns the number of jobs submitted by senderID.
func CountJobs(ctx context.Context, db *gorm.DB, senderID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Job{}).Where("sender_id = ?", senderID).Count(&n).Error
	return n, err
}

// ListJobsPage returns a page of a sender's jobs, newest first.
func ListJobsPage(ctx context.Context, db *gorm.DB, senderID string, offset, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := db.WithContext(ctx).
		Where("sender_id = ?", senderID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func updateJob(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
