// Package queue provides the work queue that connects the webhook receiver
// to the segmentation worker.
//
// The Queue contract mirrors a FIFO message queue:
//
//   - messages sharing a group id are delivered in send order, and a group
//     with a message in flight yields nothing further until that message is
//     deleted or its visibility timeout elapses;
//   - a send whose dedup id was already seen inside the dedup window is
//     dropped and reported as ErrDuplicate, which callers may treat as
//     success;
//   - received messages are hidden, not removed; the consumer deletes each
//     one explicitly with its receipt handle once it has been handled.
//
// Two backends implement it: SQLQueue on the GORM database and KafkaQueue on
// segmentio/kafka-go.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/config"
)

// Message attribute names.
const (
	AttrSenderID = "sender_id"
	AttrJobID    = "job_id"
)

// DefaultGroup is the single message group used for all image jobs.
const DefaultGroup = "person-blocker"

var (
	// ErrReceiptInvalid is returned by Delete for unknown or stale receipt handles.
	ErrReceiptInvalid = errors.New("receipt handle invalid")
	// ErrDuplicate is returned by Send when the item was dropped as a duplicate.
	ErrDuplicate = errors.New("duplicate message dropped")
)

// Item is a message to be sent.
type Item struct {
	Body       string
	GroupID    string
	DedupID    string
	Attributes map[string]string
}

// Message is a received message.
type Message struct {
	ID            string
	Body          string
	Attributes    map[string]string
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is implemented by every work queue backend.
type Queue interface {
	Send(ctx context.Context, item Item) error
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, receipt string) error
	Close() error
}

// DedupID derives a deduplication id from the message content: the same
// sender submitting the same stored image yields the same id.
func DedupID(senderID, url string) string {
	sum := sha256.Sum256([]byte(senderID + "\n" + url))
	return hex.EncodeToString(sum[:])
}

// New builds the backend selected by cfg.Backend.
func New(db *gorm.DB, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "sql", "":
		return NewSQLQueue(db, cfg.Name, cfg.VisibilityTimeout, cfg.DedupWindow), nil
	case "kafka":
		return NewKafkaQueue(db, cfg)
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
}
