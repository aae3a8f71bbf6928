package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestTableNames(t *testing.T) {
	if (Job{}).TableName() != "jobs" {
		t.Fatalf("Job.TableName() = %q; want %q", (Job{}).TableName(), "jobs")
	}
	if (QueueMessage{}).TableName() != "queue_messages" {
		t.Fatalf("QueueMessage.TableName() = %q; want %q", (QueueMessage{}).TableName(), "queue_messages")
	}
	if (DedupRecord{}).TableName() != "dedup_records" {
		t.Fatalf("DedupRecord.TableName() = %q; want %q", (DedupRecord{}).TableName(), "dedup_records")
	}
}

func TestMigrations_IndexesAndConstraints(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Job{}, &QueueMessage{}, &DedupRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&Job{}, &QueueMessage{}, &DedupRecord{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	if !m.HasIndex(&Job{}, "idx_sender_jobs") {
		t.Fatalf("expected index idx_sender_jobs on jobs")
	}
	if !m.HasIndex(&QueueMessage{}, "idx_queue_visible") {
		t.Fatalf("expected index idx_queue_visible on queue_messages")
	}
	if !m.HasIndex(&DedupRecord{}, "ux_queue_dedup") {
		t.Fatalf("expected unique index ux_queue_dedup on dedup_records")
	}

	now := time.Now().UTC()

	// Status is limited to the known lifecycle values.
	bad := &Job{ID: "j-bad", SenderID: "42", SourceURL: "u", RawKey: "k", Status: "lost", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint violation for status %q", bad.Status)
	}

	// (queue, dedup_id) is unique.
	r1 := &DedupRecord{ID: "d1", Queue: "q", DedupID: "x", ExpiresAt: now.Add(time.Minute)}
	r2 := &DedupRecord{ID: "d2", Queue: "q", DedupID: "x", ExpiresAt: now.Add(time.Minute)}
	if err := db.Create(r1).Error; err != nil {
		t.Fatalf("create r1: %v", err)
	}
	if err := db.Create(r2).Error; err == nil {
		t.Fatalf("expected unique violation on second dedup record")
	}
	r3 := &DedupRecord{ID: "d3", Queue: "other", DedupID: "x", ExpiresAt: now.Add(time.Minute)}
	if err := db.Create(r3).Error; err != nil {
		t.Fatalf("same dedup id on another queue must be allowed: %v", err)
	}
}
