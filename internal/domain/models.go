// Package domain defines the persistence models of the person-blocker bot and
// the inbound webhook payload shapes. Persistence types are mapped with GORM
// and shared across the repository, queue, and service layers.
package domain

import "time"

// Job status values. A job moves queued → processing → done|failed; a
// processing job may fall back to queued when its queue message is redelivered.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Job tracks one image submitted by a sender from the moment it is stored and
// enqueued until the masked result is delivered (or given up on).
//
// Fields:
//   - ID: UUID primary key, also carried on the queue message.
//   - SenderID: messaging-platform id of the user who sent the image.
//   - SourceURL: public URL of the raw stored image (the queue message body).
//   - RawKey / ProcessedKey: object-store keys of the input and the output.
//   - Attempts: number of processing attempts made by the worker.
//   - Error: last processing error, empty on success.
type Job struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	SenderID     string    `json:"sender_id"     gorm:"type:varchar(64);not null;index:idx_sender_jobs,priority:1"`
	SourceURL    string    `json:"source_url"    gorm:"type:text;not null"`
	RawKey       string    `json:"raw_key"       gorm:"type:text;not null"`
	ProcessedKey string    `json:"processed_key" gorm:"type:text"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null;index;check:status IN ('queued','processing','done','failed')"`
	Attempts     int       `json:"attempts"      gorm:"not null;default:0"`
	Error        string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index:idx_sender_jobs,priority:2"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// QueueMessage is a row of the SQL-backed FIFO work queue.
//
// A message is visible to receivers when VisibleAt <= now. Receiving it stamps
// a fresh ReceiptHandle and pushes VisibleAt forward by the visibility timeout;
// deleting requires the latest receipt handle. Seq preserves send order.
type QueueMessage struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	ID            string    `gorm:"type:char(36);not null;uniqueIndex"`
	Queue         string    `gorm:"type:varchar(80);not null;index:idx_queue_visible,priority:1"`
	GroupID       string    `gorm:"type:varchar(128);not null;index"`
	DedupID       string    `gorm:"type:varchar(128);not null;index"`
	Body          string    `gorm:"type:text;not null"`
	SenderID      string    `gorm:"type:varchar(64)"`
	JobID         string    `gorm:"type:char(36)"`
	ReceiptHandle string    `gorm:"type:char(36);index"`
	ReceiveCount  int       `gorm:"not null;default:0"`
	VisibleAt     time.Time `gorm:"not null;index:idx_queue_visible,priority:2"`
	InFlight      bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the database table name for QueueMessage.
func (QueueMessage) TableName() string { return "queue_messages" }

// DedupRecord remembers a deduplication id for a queue until ExpiresAt, for
// queue transports that have no native duplicate suppression.
type DedupRecord struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Queue     string    `gorm:"type:varchar(80);not null;uniqueIndex:ux_queue_dedup,priority:1"`
	DedupID   string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_queue_dedup,priority:2"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (DedupRecord) TableName() string { return "dedup_records" }
