package mailout

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/sendgrid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type stubDispatchRepo struct {
	due         []models.EmailOutbox
	sent        []uuid.UUID
	rescheduled map[uuid.UUID]time.Time
	failed      []uuid.UUID
}

func newStubDispatchRepo(rows ...models.EmailOutbox) *stubDispatchRepo {
	return &stubDispatchRepo{due: rows, rescheduled: map[uuid.UUID]time.Time{}}
}

func (s *stubDispatchRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.EmailOutbox, error) {
	rows := s.due
	s.due = nil
	return rows, nil
}

func (s *stubDispatchRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *stubDispatchRepo) Reschedule(ctx context.Context, id uuid.UUID, errMsg string, next time.Time) error {
	s.rescheduled[id] = next
	return nil
}

func (s *stubDispatchRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.failed = append(s.failed, id)
	return nil
}

type stubSender struct {
	err  error
	sent []sendgrid.Message
}

func (s *stubSender) Send(ctx context.Context, msg sendgrid.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func testRow(t *testing.T, attempts int) models.EmailOutbox {
	t.Helper()
	row, err := NewVerificationEmail("owner@example.com", "Dana", "https://app.test/verification?token=abc", time.Now().UTC())
	if err != nil {
		t.Fatalf("build row: %v", err)
	}
	row.ID = uuid.New()
	row.AttemptCount = attempts
	return *row
}

func newTestDispatcher(t *testing.T, repo dispatchRepository, sender mailSender) *Dispatcher {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	d, err := NewDispatcher(DispatcherParams{
		Config: config.MailoutConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 3},
		Repo:   repo,
		Sender: sender,
		Lock:   &stubLock{acquired: true},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

type stubLock struct {
	acquired bool
	released bool
}

func (l *stubLock) Acquire(ctx context.Context) (bool, error) { return l.acquired, nil }
func (l *stubLock) Refresh(ctx context.Context) (bool, error) { return l.acquired, nil }
func (l *stubLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}
func (l *stubLock) TTL() time.Duration { return time.Minute }

// expiringLock grants the first acquire, then reports ownership lost on the
// next refresh, like a Redis key expiring under a slow holder.
type expiringLock struct {
	mu         sync.Mutex
	acquires   int
	releases   int
	reacquired chan struct{}
}

func (l *expiringLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.acquires == 1 {
		return true, nil
	}
	if l.acquires == 2 {
		close(l.reacquired)
	}
	return false, nil
}

func (l *expiringLock) Refresh(ctx context.Context) (bool, error) { return false, nil }

func (l *expiringLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

func (l *expiringLock) TTL() time.Duration { return 30 * time.Millisecond }

func TestProcessBatchSendsDueRows(t *testing.T) {
	row := testRow(t, 0)
	repo := newStubDispatchRepo(row)
	sender := &stubSender{}
	d := newTestDispatcher(t, repo, sender)

	processed, err := d.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report work")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	if sender.sent[0].To != "owner@example.com" {
		t.Fatalf("unexpected recipient %q", sender.sent[0].To)
	}
	if sender.sent[0].Subject != "Verify your email address" {
		t.Fatalf("unexpected subject %q", sender.sent[0].Subject)
	}
	if len(repo.sent) != 1 || repo.sent[0] != row.ID {
		t.Fatalf("expected row marked sent, got %+v", repo.sent)
	}
}

func TestProcessBatchReschedulesFailures(t *testing.T) {
	row := testRow(t, 0)
	repo := newStubDispatchRepo(row)
	sender := &stubSender{err: errors.New("sendgrid down")}
	d := newTestDispatcher(t, repo, sender)

	if _, err := d.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	next, ok := repo.rescheduled[row.ID]
	if !ok {
		t.Fatal("expected failed row to be rescheduled")
	}
	if !next.After(time.Now().UTC()) {
		t.Fatalf("expected future retry slot, got %v", next)
	}
	if len(repo.failed) != 0 {
		t.Fatal("row with attempts left must not be parked")
	}
}

func TestProcessBatchParksExhaustedRows(t *testing.T) {
	row := testRow(t, 2)
	repo := newStubDispatchRepo(row)
	sender := &stubSender{err: errors.New("sendgrid down")}
	d := newTestDispatcher(t, repo, sender)

	if _, err := d.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != row.ID {
		t.Fatalf("expected exhausted row to be parked, got %+v", repo.failed)
	}
	if len(repo.rescheduled) != 0 {
		t.Fatal("exhausted row must not be rescheduled")
	}
}

func TestProcessBatchParksUnrenderableRows(t *testing.T) {
	row := testRow(t, 0)
	row.Kind = "newsletter"
	repo := newStubDispatchRepo(row)
	sender := &stubSender{}
	d := newTestDispatcher(t, repo, sender)

	if _, err := d.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("unrenderable row must not be sent")
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected row parked, got %+v", repo.failed)
	}
}

func TestRunStopsDispatchingWhenLockIsLost(t *testing.T) {
	repo := newStubDispatchRepo()
	lock := &expiringLock{reacquired: make(chan struct{})}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	d, err := NewDispatcher(DispatcherParams{
		Config: config.MailoutConfig{BatchSize: 10, PollIntervalMS: 5, MaxAttempts: 3},
		Repo:   repo,
		Sender: &stubSender{},
		Lock:   lock,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-lock.reacquired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the dispatcher to rejoin the acquire queue after losing the lock")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled run, got %v", err)
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.releases == 0 {
		t.Fatal("expected the lost lock to be released before re-acquiring")
	}
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	if got := retryDelay(1); got != baseRetryDelay {
		t.Fatalf("expected base delay on first retry, got %v", got)
	}
	if got := retryDelay(2); got != 2*baseRetryDelay {
		t.Fatalf("expected doubled delay, got %v", got)
	}
	if got := retryDelay(20); got != maxRetryDelay {
		t.Fatalf("expected capped delay, got %v", got)
	}
}
