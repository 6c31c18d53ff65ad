package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/pkg/jobs"
)

const overdueSweepJobType = "fees.overdue_sweep"

type overdueRecomputer interface {
	RecomputeOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// OverdueSweeper periodically reconciles assignment statuses through the job queue.
type OverdueSweeper struct {
	ledger   overdueRecomputer
	queue    *jobs.Queue[time.Time]
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seq    uint64
}

// NewOverdueSweeper builds a sweeper that retries failed runs up to retries times.
func NewOverdueSweeper(ledger overdueRecomputer, interval time.Duration, retries int, logger *zap.Logger) *OverdueSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	s := &OverdueSweeper{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.queue = jobs.NewQueue("fees-overdue", s.handle, jobs.QueueConfig[time.Time]{
		Workers:    1,
		BufferSize: 4,
		MaxRetries: retries,
		RetryDelay: 30 * time.Second,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job[time.Time], err error) {
			logger.Error("overdue sweep abandoned, statuses stay stale until the next tick",
				zap.String("as_of", job.Payload.Format("2006-01-02")), zap.Error(err))
		},
	})
	return s
}

// Start launches the queue and the ticker. A first sweep is queued immediately.
func (s *OverdueSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.queue.Start(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.enqueue(s.now())
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.enqueue(s.now())
			}
		}
	}()
}

// Stop halts the ticker and drains the queue workers.
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.queue.Stop()
}

// Trigger queues a sweep as of the given day.
func (s *OverdueSweeper) Trigger(asOf time.Time) error {
	return s.enqueue(asOf)
}

// RunNow sweeps synchronously, bypassing the queue.
func (s *OverdueSweeper) RunNow(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.ledger.RecomputeOverdue(ctx, asOf)
}

func (s *OverdueSweeper) enqueue(asOf time.Time) error {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("sweep-%d", s.seq)
	s.mu.Unlock()
	if err := s.queue.Enqueue(jobs.Job[time.Time]{ID: id, Type: overdueSweepJobType, Payload: asOf}); err != nil {
		s.logger.Warn("failed to queue overdue sweep", zap.String("job_id", id), zap.Error(err))
		return err
	}
	return nil
}

func (s *OverdueSweeper) handle(ctx context.Context, job jobs.Job[time.Time]) error {
	_, err := s.ledger.RecomputeOverdue(ctx, job.Payload)
	return err
}
