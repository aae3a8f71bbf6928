package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-person-blocker/internal/domain"
)

func TestClaimDedup_DuplicateWithinWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ClaimDedup(ctx, db, "q", "abc", time.Minute, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := ClaimDedup(ctx, db, "q", "abc", time.Minute, now.Add(30*time.Second))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same id on another queue is independent.
	if err := ClaimDedup(ctx, db, "other", "abc", time.Minute, now); err != nil {
		t.Fatalf("claim on other queue: %v", err)
	}
}

func TestClaimDedup_ReusableAfterWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ClaimDedup(ctx, db, "q", "abc", time.Minute, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ClaimDedup(ctx, db, "q", "abc", time.Minute, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("claim after window: %v", err)
	}

	var n int64
	db.Model(&domain.DedupRecord{}).Where("queue = ? AND dedup_id = ?", "q", "abc").Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one record, got %d", n)
	}
}

func TestReleaseDedup_AllowsImmediateReclaim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ClaimDedup(ctx, db, "q", "abc", time.Hour, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ReleaseDedup(ctx, db, "q", "abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := ClaimDedup(ctx, db, "q", "abc", time.Hour, now); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
}

func TestPurgeExpiredDedup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = ClaimDedup(ctx, db, "q", "old", time.Second, now.Add(-time.Hour))
	_ = ClaimDedup(ctx, db, "q", "new", time.Hour, now)

	n, err := PurgeExpiredDedup(ctx, db, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := map[string]bool{
		"UNIQUE constraint failed: dedup_records.queue":           true,
		"constraint failed: UNIQUE constraint failed (2067)":      true,
		"ERROR: duplicate key value violates unique constraint x": true,
		"disk I/O error": false,
	}
	for msg, want := range cases {
		if got := isUniqueViolation(errors.New(msg)); got != want {
			t.Fatalf("isUniqueViolation(%q) = %v, want %v", msg, got, want)
		}
	}
}
