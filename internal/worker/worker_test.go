package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// ----- Fakes -----

// fakeQueue redelivers every undeleted message on each Receive, as if the
// visibility timeout had already elapsed.
type fakeQueue struct {
	mu         sync.Mutex
	msgs       []*queue.Message
	deleted    []string
	receiveErr error
	receives   int
}

func (q *fakeQueue) add(body string, attrs map[string]string) {
	q.msgs = append(q.msgs, &queue.Message{
		ID:            fmt.Sprintf("m%d", len(q.msgs)+1),
		Body:          body,
		Attributes:    attrs,
		ReceiptHandle: fmt.Sprintf("r%d", len(q.msgs)+1),
	})
}

func (q *fakeQueue) Send(context.Context, queue.Item) error { return nil }

func (q *fakeQueue) Receive(_ context.Context, max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receives++
	if q.receiveErr != nil {
		return nil, q.receiveErr
	}
	var out []queue.Message
	for _, m := range q.msgs {
		if len(out) == max {
			break
		}
		m.ReceiveCount++
		out = append(out, *m)
	}
	return out, nil
}

func (q *fakeQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.msgs {
		if m.ReceiptHandle == receipt {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			q.deleted = append(q.deleted, receipt)
			return nil
		}
	}
	return queue.ErrReceiptInvalid
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) receiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receives
}

type call struct{ url, sender string }

type fakeProcessor struct {
	err   error
	calls []call
}

func (p *fakeProcessor) ProcessImage(_ context.Context, url, sender string) (string, error) {
	p.calls = append(p.calls, call{url, sender})
	if p.err != nil {
		return "", p.err
	}
	return "fb/processed/" + sender + "/out.jpg", nil
}

type fakeMessenger struct{ texts map[string][]string }

func (m *fakeMessenger) SendText(_ context.Context, to, text string) error {
	if m.texts == nil {
		m.texts = map[string][]string{}
	}
	m.texts[to] = append(m.texts[to], text)
	return nil
}
func (m *fakeMessenger) SendImage(context.Context, string, string) error { return nil }
func (m *fakeMessenger) SenderName(context.Context, string) string       { return "" }

type fixture struct {
	w    *Worker
	q    *fakeQueue
	p    *fakeProcessor
	msgr *fakeMessenger
	db   *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{db: newTestDB(t), q: &fakeQueue{}, p: &fakeProcessor{}, msgr: &fakeMessenger{}}
	f.w = &Worker{
		Queue:        f.q,
		DB:           f.db,
		Processor:    f.p,
		Messenger:    f.msgr,
		BatchSize:    10,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
	}
	return f
}

func (f *fixture) enqueue(t *testing.T, sender string) *domain.Job {
	t.Helper()
	url := "http://files.test/bucket/fb/raw/" + sender + "/pic.jpg"
	job, err := repo.CreateJob(context.Background(), f.db, "", sender, url, "fb/raw/"+sender+"/pic.jpg")
	require.NoError(t, err)
	f.q.add(url, map[string]string{queue.AttrSenderID: sender, queue.AttrJobID: job.ID})
	return job
}

// ----- Tests -----

func TestRunOnce_SuccessMarksDoneAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.enqueue(t, "1234567")
	before := testutil.ToFloat64(jobsProcessed.WithLabelValues(OutcomeDone))

	n, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, []call{{job.SourceURL, "1234567"}}, f.p.calls)
	require.Equal(t, []string{"r1"}, f.q.deleted)

	got, err := repo.GetJob(ctx, f.db, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobDone, got.Status)
	require.Equal(t, "fb/processed/1234567/out.jpg", got.ProcessedKey)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, before+1, testutil.ToFloat64(jobsProcessed.WithLabelValues(OutcomeDone)))
}

func TestRunOnce_RetriesThenGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.p.err = errors.New("model unavailable")
	job := f.enqueue(t, "1234567")

	_, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, f.q.deleted, "first failure must leave the message on the queue")
	got, _ := repo.GetJob(ctx, f.db, job.ID)
	require.Equal(t, domain.JobQueued, got.Status)
	require.Equal(t, "model unavailable", got.Error)
	require.Empty(t, f.msgr.texts)

	_, err = f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, f.q.deleted)
	got, _ = repo.GetJob(ctx, f.db, job.ID)
	require.Equal(t, domain.JobFailed, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, []string{"Got an error:model unavailable"}, f.msgr.texts["1234567"])
}

func TestRunOnce_ShortSenderGetsNoNotice(t *testing.T) {
	f := newFixture(t)
	f.w.MaxAttempts = 1
	f.p.err = errors.New("boom")
	f.enqueue(t, "42")

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, f.q.deleted, 1)
	require.Empty(t, f.msgr.texts)
}

func TestRunOnce_DoneJobIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.enqueue(t, "1234567")
	require.NoError(t, repo.MarkJobDone(ctx, f.db, job.ID, "fb/processed/1234567/pic.jpg"))

	_, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, f.p.calls)
	require.Equal(t, []string{"r1"}, f.q.deleted)
}

func TestRunOnce_SenderFromURLWithoutLedger(t *testing.T) {
	f := newFixture(t)
	f.q.add("http://files.test/bucket/fb/raw/9876543/a.png", nil)

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "9876543", f.p.calls[0].sender)
	require.Len(t, f.q.deleted, 1)
}

func TestRunOnce_ProcessesBatchInOrder(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "1111111")
	f.enqueue(t, "2222222")
	f.enqueue(t, "3333333")
	f.w.BatchSize = 2

	n, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "1111111", f.p.calls[0].sender)
	require.Equal(t, "2222222", f.p.calls[1].sender)
}

func TestRun_SurvivesReceiveErrorsAndStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.q.receiveErr = errors.New("broker down")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	require.Eventually(t, func() bool { return f.q.receiveCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
