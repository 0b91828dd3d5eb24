// Package dispatch scans the queue for due tasks and executes purchase
// attempts through a bounded worker pool.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"snipebot/internal/catalog"
	"snipebot/internal/metrics"
	"snipebot/internal/purchase"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

type Config struct {
	Enabled      bool
	Workers      int
	QueueSize    int
	ScanInterval time.Duration
	// RatePerSec bounds outbound attempts across all workers; 0 disables
	// the limiter.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Second
	}
	return c
}

// Service owns the scan/claim/execute cycle.
//
// Claims happen inside the store's mutex, so every due task is handed to
// exactly one worker; workers never execute while holding store state.
// Panic-safe and Start/Stop-cooperative.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	stats *metrics.Set

	store *queue.Store
	exec  *purchase.Executor

	limiter *rate.Limiter
	cron    *cron.Cron

	work      chan queue.Task
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, store *queue.Store, exec *purchase.Executor, log logx.Logger, stats *metrics.Set) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), store: store, exec: exec, log: log, stats: stats}
}

// Apply swaps in reloaded config. The worker pool is not resized live; the
// rate limit takes effect immediately.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	if s.limiter != nil {
		if cfg.RatePerSec > 0 {
			s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
			s.limiter.SetBurst(cfg.RatePerSec)
		} else {
			s.limiter.SetLimit(rate.Inf)
		}
	}
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	// Wait out any in-progress Stop so two worker pools never coexist.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			s.mu.Unlock()
			return // already running
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.work = make(chan queue.Task, s.cfg.QueueSize)

	if s.cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	runCtx := s.runCtx
	stopCh := s.stopCh
	work := s.work

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, work, idx)
		}()
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.cfg.ScanInterval.String(), func() { s.scan(runCtx) })
	if err != nil {
		s.log.Error("dispatch scan schedule failed", logx.Err(err))
	}
	s.cron.Start()

	s.log.Info("dispatch started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue_size", s.cfg.QueueSize),
		logx.Duration("scan", s.cfg.ScanInterval))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	cr := s.cron
	s.runCancel = nil
	s.cron = nil
	s.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()

		// Drain claimed-but-unexecuted tasks back to pending.
		s.mu.Lock()
		work := s.work
		s.work = nil
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		if work != nil {
			close(work)
			for t := range work {
				s.store.Release(t.ID)
			}
		}
		close(done)
		s.log.Info("dispatch stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// scan claims every due pending task and hands it to the pool. Claims that
// don't fit in the work buffer are released back untouched.
func (s *Service) scan(ctx context.Context) {
	s.mu.Lock()
	work := s.work
	s.mu.Unlock()
	if work == nil || ctx.Err() != nil {
		return
	}

	claimed := s.store.ClaimDue(time.Now(), cap(work))
	for _, t := range claimed {
		select {
		case work <- t:
		default:
			s.store.Release(t.ID)
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, work <-chan queue.Task, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-work:
			if !ok {
				return
			}
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t queue.Task) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			s.store.Release(t.ID)
			return
		}
	}
	if ctx.Err() != nil {
		s.store.Release(t.ID)
		return
	}

	if s.stats != nil {
		s.stats.TasksDispatched.Inc()
	}
	start := time.Now()
	out := s.exec.Attempt(ctx, catalog.PurchaseIntent{
		PlanCode:   t.PlanCode,
		Datacenter: t.Datacenter,
		Options:    t.Options,
		Quantity:   1,
	})
	if s.stats != nil {
		s.stats.AttemptDuration.Observe(time.Since(start).Seconds())
	}

	res, applied := s.store.RecordOutcome(t.ID, out)
	if !applied {
		s.log.Debug("attempt outcome discarded", logx.String("task", t.ID))
		return
	}
	if s.stats != nil {
		switch res.Status {
		case queue.StatusCompleted:
			s.stats.TasksCompleted.Inc()
		case queue.StatusFailed:
			s.stats.TasksFailed.Inc()
		default:
			s.stats.TasksRetried.Inc()
		}
	}
}
