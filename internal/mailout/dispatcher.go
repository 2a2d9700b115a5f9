package mailout

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/metrics"
	"github.com/dmlopezc/bizgate-backend/pkg/sendgrid"
	"github.com/google/uuid"
)

const (
	defaultBatchSize   = 25
	defaultMaxAttempts = 8
	baseRetryDelay     = 30 * time.Second
	maxRetryDelay      = time.Hour
	maxPollBackoff     = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
	sendTimeout        = 15 * time.Second
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dispatchRepository interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.EmailOutbox, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

type mailSender interface {
	Send(ctx context.Context, msg sendgrid.Message) error
}

// DispatcherParams packages the dependencies for the outbox dispatch loop.
type DispatcherParams struct {
	Config  config.MailoutConfig
	Repo    dispatchRepository
	Sender  mailSender
	Lock    Lock
	Logger  *logger.Logger
	Metrics *metrics.AccountMetrics
}

// Dispatcher drains the email outbox: it polls due rows, delivers them, and
// reschedules failures with exponential backoff until attempts run out. A lock
// keeps one dispatcher active at a time.
type Dispatcher struct {
	repo         dispatchRepository
	sender       mailSender
	lock         Lock
	logg         *logger.Logger
	metrics      *metrics.AccountMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

// NewDispatcher builds a dispatcher with the provided dependencies.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Sender == nil {
		return nil, errors.New("mail sender is required")
	}
	if params.Lock == nil {
		return nil, errors.New("dispatcher lock is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Dispatcher{
		repo:         params.Repo,
		sender:       params.Sender,
		lock:         params.Lock,
		logg:         params.Logger,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: params.Config.PollInterval(),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

var errLockLost = errors.New("dispatcher lock lost")

// Run polls until the context is canceled. It waits for the lock before
// draining and keeps renewing it while held, so extra instances idle instead
// of double-sending. A holder that loses the lock stops dispatching and
// rejoins the acquire queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := d.waitForLock(ctx); err != nil {
			return err
		}
		err := d.runLocked(ctx)
		if releaseErr := d.lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			d.logg.Error(ctx, "dispatcher lock release failed", releaseErr)
		}
		if !errors.Is(err, errLockLost) {
			return err
		}
		d.logg.Warn(ctx, "dispatcher lock lost, rejoining the acquire queue")
	}
}

func (d *Dispatcher) waitForLock(ctx context.Context) error {
	for {
		acquired, err := d.lock.Acquire(ctx)
		if err != nil {
			d.logg.Error(ctx, "dispatcher lock acquire failed", err)
		}
		if acquired {
			return nil
		}
		if err := d.sleep(ctx, withJitter(d.pollInterval)); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) runLocked(ctx context.Context) error {
	d.logg.Info(ctx, "mail dispatcher started")

	renewEvery := d.lock.TTL() / 3
	if renewEvery <= 0 {
		renewEvery = time.Minute
	}
	lost := make(chan struct{})
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go d.renewLock(renewCtx, renewEvery, lost)

	backoff := d.pollInterval
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "mail dispatcher context canceled")
			return ctx.Err()
		case <-lost:
			return errLockLost
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "mail dispatch batch error", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxPollBackoff)
			if err := d.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = d.pollInterval
		if processed {
			continue
		}
		if err := d.sleep(ctx, withJitter(d.pollInterval)); err != nil {
			return err
		}
	}
}

// renewLock extends the lock TTL on a ticker. Any failure to prove ownership
// closes lost; the poll loop must not touch the outbox past that point.
func (d *Dispatcher) renewLock(ctx context.Context, every time.Duration, lost chan<- struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			ok, err := d.lock.Refresh(ctx)
			if err != nil {
				d.logg.Error(ctx, "dispatcher lock refresh failed", err)
			}
			if !ok {
				close(lost)
				return
			}
		}
	}
}

// ProcessBatch delivers one batch of due rows. It reports whether any row was
// picked up so the caller can skip the idle sleep.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (bool, error) {
	now := d.now()
	rows, err := d.repo.FetchDue(ctx, now, d.batchSize)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	for _, row := range rows {
		d.dispatchRow(ctx, row)
	}
	return true, nil
}

func (d *Dispatcher) dispatchRow(ctx context.Context, row models.EmailOutbox) {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"kind":          row.Kind,
		"attempt_count": row.AttemptCount,
	}

	msg, err := renderMessage(row)
	if err != nil {
		// Malformed payloads never become sendable; park them immediately.
		d.logg.Error(d.logg.WithFields(ctx, fields), "outbox row unrenderable", err)
		if markErr := d.repo.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			d.logg.Error(ctx, "mark outbox row failed", markErr)
		}
		d.metrics.IncEmail("failed")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	start := d.now()
	err = d.sender.Send(sendCtx, msg)
	cancel()
	d.metrics.ObserveDispatch(string(row.Kind), d.now().Sub(start))

	if err == nil {
		if markErr := d.repo.MarkSent(ctx, row.ID, d.now()); markErr != nil {
			d.logg.Error(ctx, "mark outbox row sent", markErr)
			return
		}
		d.metrics.IncEmail("sent")
		d.logg.Info(d.logg.WithFields(ctx, fields), "outbox email sent")
		return
	}

	attempt := row.AttemptCount + 1
	fields["attempt_count"] = attempt
	fields["error"] = err.Error()

	if attempt >= d.maxAttempts {
		d.logg.Warn(d.logg.WithFields(ctx, fields), "outbox email exhausted attempts")
		if markErr := d.repo.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			d.logg.Error(ctx, "mark outbox row failed", markErr)
		}
		d.metrics.IncEmail("failed")
		return
	}

	next := d.now().Add(retryDelay(attempt))
	d.logg.Warn(d.logg.WithFields(ctx, fields), "outbox email send failed")
	if markErr := d.repo.Reschedule(ctx, row.ID, err.Error(), next); markErr != nil {
		d.logg.Error(ctx, "reschedule outbox row", markErr)
	}
	d.metrics.IncEmail("retried")
}

// retryDelay doubles per attempt from the base delay, capped at an hour.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
