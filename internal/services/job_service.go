// Package services – JobService
//
// This file implements read access to the job ledger for the status API.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/utils"
)

// JobRepo defines the repository contract required by JobService.
type JobRepo interface {
	// GetJob fetches a job by id.
	GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error)

	// CountJobs returns the number of jobs of a sender.
	CountJobs(ctx context.Context, db *gorm.DB, senderID string) (int64, error)

	// ListJobsPage returns a page of a sender's jobs, newest first.
	ListJobsPage(ctx context.Context, db *gorm.DB, senderID string, offset, limit int) ([]domain.Job, error)

	// JobsStats returns a sender's job count and latest update time.
	JobsStats(ctx context.Context, db *gorm.DB, senderID string) (int64, *time.Time, error)
}

// JobService exposes job lookups.
type JobService struct {
	DB   *gorm.DB
	Repo JobRepo
}

// NewJobService constructs a JobService.
func NewJobService(db *gorm.DB, r JobRepo) *JobService {
	return &JobService{DB: db, Repo: r}
}

// Get returns one job or ErrJobNotFound.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.Repo.GetJob(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListPage returns a page of a sender's jobs and the total count.
// It applies defaults for invalid page/pageSize.
func (s *JobService) ListPage(ctx context.Context, senderID string, page, pageSize int) ([]domain.Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := utils.PageOffset(page, pageSize)

	total, err := s.Repo.CountJobs(ctx, s.DB, senderID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Job{}, 0, nil
	}
	items, err := s.Repo.ListJobsPage(ctx, s.DB, senderID, offset, pageSize)
	return items, total, err
}

// Stats returns the number of a sender's jobs and their latest update time,
// used to build weak ETags for the list endpoint.
func (s *JobService) Stats(ctx context.Context, senderID string) (int64, *time.Time, error) {
	return s.Repo.JobsStats(ctx, s.DB, senderID)
}
