package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"snipebot/internal/catalog"
	"snipebot/internal/eventbus"
	"snipebot/pkg/logx"
)

// Limits clamps per-task retry intervals at creation time.
type Limits struct {
	RetryMin     time.Duration
	RetryMax     time.Duration
	RetryDefault time.Duration

	// MaxRetries > 0 fails a task after that many transient failures;
	// 0 retries forever.
	MaxRetries int
}

func (l Limits) withDefaults() Limits {
	if l.RetryMin <= 0 {
		l.RetryMin = 3 * time.Second
	}
	if l.RetryMax <= 0 {
		l.RetryMax = 10 * time.Minute
	}
	if l.RetryDefault <= 0 {
		l.RetryDefault = 30 * time.Second
	}
	return l
}

func (l Limits) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		d = l.RetryDefault
	}
	if d < l.RetryMin {
		d = l.RetryMin
	}
	if d > l.RetryMax {
		d = l.RetryMax
	}
	return d
}

// Persister receives full queue snapshots after every mutation. Writes are
// best-effort; persistence failures never fail the mutation.
type Persister func(tasks []Task)

// Store owns all queue tasks and is the single writer of task state.
// Every mutation happens under one mutex, so dispatch claims are atomic
// check-and-set operations and a task can never be in flight twice.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*Task

	limits  Limits
	log     logx.Logger
	bus     eventbus.Bus
	persist Persister

	now func() time.Time
}

type StoreOption func(*Store)

func WithLogger(log logx.Logger) StoreOption  { return func(s *Store) { s.log = log } }
func WithBus(bus eventbus.Bus) StoreOption    { return func(s *Store) { s.bus = bus } }
func WithPersister(p Persister) StoreOption   { return func(s *Store) { s.persist = p } }
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) { s.now = fn }
}

func NewStore(limits Limits, opts ...StoreOption) *Store {
	s := &Store{
		tasks:  make(map[string]*Task),
		limits: limits.withDefaults(),
		log:    logx.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetLimits applies reloaded retry bounds. Existing tasks keep their
// interval; only new tasks are clamped against the new bounds.
func (s *Store) SetLimits(limits Limits) {
	s.mu.Lock()
	s.limits = limits.withDefaults()
	s.mu.Unlock()
}

// Add creates one pending, immediately-eligible task from a resolved intent.
func (s *Store) Add(intent catalog.PurchaseIntent, retryInterval time.Duration) Task {
	now := s.now()

	s.mu.Lock()
	t := &Task{
		ID:            uuid.NewString(),
		PlanCode:      intent.PlanCode,
		Datacenter:    intent.Datacenter,
		Options:       append([]string(nil), intent.Options...),
		Status:        StatusPending,
		RetryInterval: s.limits.clamp(retryInterval),
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tasks[t.ID] = t
	out := *t
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("task created",
		logx.String("task", out.ID),
		logx.String("plan", out.PlanCode),
		logx.String("dc", out.Datacenter),
		logx.Duration("retry", out.RetryInterval))
	s.emit(eventbus.EventTaskCreated, out)
	s.save(snap)
	return out
}

// AddAll fans a batch of resolved intents into tasks.
func (s *Store) AddAll(intents []catalog.PurchaseIntent, retryInterval time.Duration) []Task {
	out := make([]Task, 0, len(intents))
	for _, in := range intents {
		out = append(out, s.Add(in, retryInterval))
	}
	return out
}

func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns all tasks in creation order.
func (s *Store) List() []Task {
	s.mu.Lock()
	out := s.snapshotLocked()
	s.mu.Unlock()
	return out
}

func (s *Store) snapshotLocked() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// legalTransition is the exact external transition table. Resuming a paused
// task targets "running" but lands on pending-with-immediate-eligibility.
func legalTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed || to == StatusPending
	case StatusPaused:
		return to == StatusRunning
	default:
		return false
	}
}

// SetStatus applies an operator-driven transition. Illegal transitions
// return ErrInvalidTransition and leave the task untouched.
func (s *Store) SetStatus(id string, to Status) (Task, error) {
	now := s.now()

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if !legalTransition(t.Status, to) {
		from := t.Status
		s.mu.Unlock()
		return Task{}, fmt.Errorf("task %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	if t.Status == StatusPaused && to == StatusRunning {
		// Resume: back into the pending pool, eligible right away.
		t.Status = StatusPending
		t.NextAttemptAt = now
	} else {
		t.Status = to
	}
	t.UpdatedAt = now
	out := *t
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("task status set", logx.String("task", id), logx.String("status", string(out.Status)))
	s.save(snap)
	return out, nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.tasks, id)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(eventbus.EventTaskRemoved, id)
	s.save(snap)
	return nil
}

// ClearAll removes every task atomically and returns how many were removed.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	n := len(s.tasks)
	s.tasks = make(map[string]*Task)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if n > 0 {
		s.log.Info("queue cleared", logx.Int("removed", n))
		s.save(snap)
	}
	return n
}

// ClaimDue atomically flips every due pending task to running and returns
// the claimed copies, oldest first. limit <= 0 means no limit.
func (s *Store) ClaimDue(now time.Time, limit int) []Task {
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Task, 0, len(due))
	for _, t := range due {
		t.Status = StatusRunning
		t.UpdatedAt = now
		out = append(out, *t)
	}
	s.mu.Unlock()

	for _, t := range out {
		s.emit(eventbus.EventTaskClaimed, t)
	}
	return out
}

// Release puts a claimed task back into the pending pool without counting
// an attempt (e.g. the dispatch buffer was full).
func (s *Store) Release(id string) {
	now := s.now()
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok && t.Status == StatusRunning {
		t.Status = StatusPending
		t.NextAttemptAt = now
		t.UpdatedAt = now
	}
	s.mu.Unlock()
}

// RecordOutcome applies an attempt result. The outcome is discarded unless
// the task still exists and is still running, so results racing against a
// pause or removal never resurrect state.
func (s *Store) RecordOutcome(id string, out Outcome) (Task, bool) {
	now := s.now()

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.Status != StatusRunning {
		s.mu.Unlock()
		return Task{}, false
	}

	event := ""
	switch out.Class {
	case OutcomeSuccess:
		t.Status = StatusCompleted
		t.OrderID = out.OrderID
		t.OrderURL = out.OrderURL
		t.LastError = ""
		event = eventbus.EventTaskCompleted
	case OutcomePermanent:
		t.Status = StatusFailed
		t.LastError = out.Message
		event = eventbus.EventTaskFailed
	default: // transient
		t.RetryCount++
		t.LastError = out.Message
		if s.limits.MaxRetries > 0 && t.RetryCount >= s.limits.MaxRetries {
			t.Status = StatusFailed
			event = eventbus.EventTaskFailed
		} else {
			t.Status = StatusPending
			t.NextAttemptAt = now.Add(t.RetryInterval)
			event = eventbus.EventTaskRetry
		}
	}
	t.UpdatedAt = now
	res := *t
	snap := s.snapshotLocked()
	s.mu.Unlock()

	switch event {
	case eventbus.EventTaskCompleted:
		s.log.Info("task completed",
			logx.String("task", id),
			logx.String("order", res.OrderID))
	case eventbus.EventTaskFailed:
		s.log.Warn("task failed",
			logx.String("task", id),
			logx.Int("retries", res.RetryCount),
			logx.String("reason", res.LastError))
	default:
		s.log.Debug("task retry scheduled",
			logx.String("task", id),
			logx.Int("retries", res.RetryCount),
			logx.Time("next", res.NextAttemptAt))
	}
	s.emit(event, res)
	s.save(snap)
	return res, true
}

// Load restores a persisted snapshot. Tasks persisted mid-attempt come back
// as pending and immediately eligible.
func (s *Store) Load(tasks []Task) {
	now := s.now()
	s.mu.Lock()
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			continue
		}
		if t.Status == StatusRunning {
			t.Status = StatusPending
			t.NextAttemptAt = now
		}
		t.RetryInterval = s.limits.clamp(t.RetryInterval)
		cp := t
		s.tasks[t.ID] = &cp
	}
	n := len(s.tasks)
	s.mu.Unlock()

	if n > 0 {
		s.log.Info("queue restored", logx.Int("tasks", n))
	}
}

func (s *Store) emit(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
	}
}

func (s *Store) save(snap []Task) {
	if s.persist != nil {
		s.persist(snap)
	}
}
