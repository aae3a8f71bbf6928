package repo

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

func TestJobsStats_CountError_NoTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:stats_no_table?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, _, err := JobsStats(context.Background(), db, "42"); err == nil {
		t.Fatalf("expected error due to missing jobs table")
	}
}

func TestJobsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t)
	count, maxAt, err := JobsStats(context.Background(), db, "42")
	if err != nil {
		t.Fatalf("JobsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestJobsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t)

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for 42
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other sender

	seed := []*domain.Job{
		{ID: "j1", SenderID: "42", SourceURL: "u", RawKey: "k", Status: domain.JobDone, CreatedAt: t1, UpdatedAt: t1},
		{ID: "j2", SenderID: "42", SourceURL: "u", RawKey: "k", Status: domain.JobQueued, CreatedAt: t2, UpdatedAt: t2},
		{ID: "j3", SenderID: "7", SourceURL: "u", RawKey: "k", Status: domain.JobQueued, CreatedAt: t3, UpdatedAt: t3},
	}
	for _, j := range seed {
		if err := db.Create(j).Error; err != nil {
			t.Fatalf("seed %s: %v", j.ID, err)
		}
	}

	count, maxAt, err := JobsStats(context.Background(), db, "42")
	if err != nil {
		t.Fatalf("JobsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected max %v, got %v", t2, maxAt)
	}
}
