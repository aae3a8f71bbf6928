package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/config"
	"github.com/tbourn/go-person-blocker/internal/repo"
)

const (
	headerDedupID = "dedup_id"

	// How long Receive waits for the first and for each further record.
	firstFetchWait = time.Second
	nextFetchWait  = 50 * time.Millisecond
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// inflight is a fetched but uncommitted record.
type inflight struct {
	msg          kafka.Message
	receiveCount int
	visibleAt    time.Time
}

// partitionLog tracks a partition's fetched records until their offsets can
// be committed. Consumer-group commits are cumulative, so a finished record is
// only committed once every lower fetched offset has finished too.
type partitionLog struct {
	open map[int64]struct{}      // fetched, not yet deleted
	done map[int64]kafka.Message // deleted, not yet committed
}

// committable returns the highest finished record below the lowest open
// offset.
func (p *partitionLog) committable() (kafka.Message, bool) {
	var (
		out   kafka.Message
		found bool
	)
	for off, m := range p.done {
		if p.blockedBy(off) {
			continue
		}
		if !found || off > out.Offset {
			out, found = m, true
		}
	}
	return out, found
}

func (p *partitionLog) blockedBy(off int64) bool {
	for o := range p.open {
		if o < off {
			return true
		}
	}
	return false
}

// forget drops finished records up to and including off.
func (p *partitionLog) forget(off int64) {
	for o := range p.done {
		if o <= off {
			delete(p.done, o)
		}
	}
}

// KafkaQueue publishes to a topic keyed by group id, so a group always lands
// on one partition and keeps its order. Consumption goes through a consumer
// group; Delete commits offsets in order, so a record still awaiting a retry
// is never skipped by a commit of a later record on its partition.
//
// Records that are received but not deleted are handed out again once their
// visibility timeout elapses, and a group with such a record blocks further
// records of that group. Dedup ids are remembered in the SQL dedup ledger.
type KafkaQueue struct {
	db          *gorm.DB
	name        string
	w           kafkaWriter
	r           kafkaReader
	visibility  time.Duration
	dedupWindow time.Duration
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*inflight // by receipt handle
	held    []kafka.Message      // fetched while their group was blocked
	parts   map[int]*partitionLog
}

// NewKafkaQueue connects a writer and a consumer-group reader to cfg.KafkaTopic.
func NewKafkaQueue(db *gorm.DB, cfg config.QueueConfig) (*KafkaQueue, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	})
	return newKafkaQueue(db, cfg.Name, w, r, cfg.VisibilityTimeout, cfg.DedupWindow), nil
}

func newKafkaQueue(db *gorm.DB, name string, w kafkaWriter, r kafkaReader, visibility, dedupWindow time.Duration) *KafkaQueue {
	return &KafkaQueue{
		db:          db,
		name:        name,
		w:           w,
		r:           r,
		visibility:  visibility,
		dedupWindow: dedupWindow,
		now:         time.Now,
		pending:     map[string]*inflight{},
		parts:       map[int]*partitionLog{},
	}
}

// Send publishes item unless its dedup id is still remembered, in which case
// it returns ErrDuplicate.
func (q *KafkaQueue) Send(ctx context.Context, item Item) error {
	if item.GroupID == "" {
		item.GroupID = DefaultGroup
	}
	if item.DedupID != "" {
		err := repo.ClaimDedup(ctx, q.db, q.name, item.DedupID, q.dedupWindow, q.now())
		if errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Debug().Str("dedup_id", item.DedupID).Msg("duplicate message dropped")
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("claim dedup: %w", err)
		}
	}

	headers := []kafka.Header{{Key: headerDedupID, Value: []byte(item.DedupID)}}
	for k, v := range item.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := q.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(item.GroupID),
		Value:   []byte(item.Body),
		Headers: headers,
	})
	if err != nil {
		if item.DedupID != "" {
			_ = repo.ReleaseDedup(ctx, q.db, q.name, item.DedupID)
		}
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Receive first re-delivers records whose visibility timeout elapsed, then
// fetches new records until max is reached or the topic is drained.
func (q *KafkaQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	blocked := q.blockedGroups(now)
	var out []Message

	var expired []*inflight
	for receipt, in := range q.pending {
		if in.visibleAt.After(now) {
			continue
		}
		delete(q.pending, receipt)
		expired = append(expired, in)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].msg.Offset < expired[j].msg.Offset })
	for i, in := range expired {
		if len(out) >= max {
			// Put the rest back as already visible.
			for _, rest := range expired[i:] {
				q.pending[uuid.NewString()] = rest
			}
			break
		}
		out = append(out, q.stamp(in, now))
	}

	// Records held back earlier are released in order once their group frees up.
	kept := q.held[:0]
	for _, m := range q.held {
		if len(out) < max && !blocked[string(m.Key)] {
			out = append(out, q.stamp(&inflight{msg: m}, now))
			continue
		}
		kept = append(kept, m)
	}
	q.held = kept

	wait := firstFetchWait
	for len(out) < max {
		fctx, cancel := context.WithTimeout(ctx, wait)
		m, err := q.r.FetchMessage(fctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return out, fmt.Errorf("kafka fetch: %w", err)
		}
		wait = nextFetchWait
		q.partition(m.Partition).open[m.Offset] = struct{}{}
		if blocked[string(m.Key)] {
			q.held = append(q.held, m)
			continue
		}
		out = append(out, q.stamp(&inflight{msg: m}, now))
	}
	return out, nil
}

// stamp registers in under a fresh receipt handle and converts it.
// Callers hold q.mu.
func (q *KafkaQueue) stamp(in *inflight, now time.Time) Message {
	in.receiveCount++
	in.visibleAt = now.Add(q.visibility)
	receipt := uuid.NewString()
	q.pending[receipt] = in

	attrs := map[string]string{}
	for _, h := range in.msg.Headers {
		if h.Key == headerDedupID {
			continue
		}
		attrs[h.Key] = string(h.Value)
	}
	return Message{
		ID:            fmt.Sprintf("%s/%d/%d", in.msg.Topic, in.msg.Partition, in.msg.Offset),
		Body:          string(in.msg.Value),
		Attributes:    attrs,
		ReceiptHandle: receipt,
		ReceiveCount:  in.receiveCount,
	}
}

// blockedGroups returns the groups with a record in flight. Callers hold q.mu.
func (q *KafkaQueue) blockedGroups(now time.Time) map[string]bool {
	out := map[string]bool{}
	for _, in := range q.pending {
		if in.visibleAt.After(now) {
			out[string(in.msg.Key)] = true
		}
	}
	return out
}

// partition returns the log for partition p. Callers hold q.mu.
func (q *KafkaQueue) partition(p int) *partitionLog {
	pl, ok := q.parts[p]
	if !ok {
		pl = &partitionLog{open: map[int64]struct{}{}, done: map[int64]kafka.Message{}}
		q.parts[p] = pl
	}
	return pl
}

// Delete finishes the record identified by receipt and commits its partition
// up to the lowest record still open there. When an earlier record is still
// awaiting a retry nothing is committed yet; its own Delete commits both.
func (q *KafkaQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	in, ok := q.pending[receipt]
	if !ok {
		return ErrReceiptInvalid
	}
	delete(q.pending, receipt)

	pl := q.partition(in.msg.Partition)
	delete(pl.open, in.msg.Offset)
	pl.done[in.msg.Offset] = in.msg

	m, ok := pl.committable()
	if !ok {
		log.Ctx(ctx).Debug().
			Int("partition", in.msg.Partition).
			Int64("offset", in.msg.Offset).
			Msg("commit deferred behind earlier record")
		return nil
	}
	if err := q.r.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	pl.forget(m.Offset)
	return nil
}

// Close shuts down the writer and the reader.
func (q *KafkaQueue) Close() error {
	return errors.Join(q.w.Close(), q.r.Close())
}
