// Package monitor polls plan availability for subscribed plans, detects
// edge transitions, and drives notifications and automatic ordering.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"snipebot/internal/catalog"
	"snipebot/internal/eventbus"
	"snipebot/internal/metrics"
	"snipebot/pkg/logx"
)

type Config struct {
	Enabled      bool
	PollInterval time.Duration
	// Pace spaces out catalog fetches for different plans within one tick.
	Pace        time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Pace <= 0 {
		c.Pace = time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// NotifyFunc delivers one operator notification.
type NotifyFunc func(text string)

// OrderFunc enqueues purchases for a plan in one datacenter and returns how
// many tasks were created.
type OrderFunc func(ctx context.Context, planCode, datacenter string) (int, error)

// Persister receives subscription snapshots after mutations.
type Persister func(subs []Subscription)

// Engine owns all subscriptions and the poll cycle.
//
// Detection is edge-triggered: only a change of availability class (or the
// first observation of a configuration) produces events, notifications, or
// auto-orders. A steadily available plan triggers exactly once.
type Engine struct {
	mu   sync.Mutex
	subs map[string]*Subscription

	// knownPlans is the provider plan list baseline for new-plan alerts.
	knownPlans map[string]struct{}

	provider catalog.Provider
	notify   NotifyFunc
	order    OrderFunc
	persist  Persister

	log   logx.Logger
	bus   eventbus.Bus
	stats *metrics.Set
	cfg   Config

	cron    *cron.Cron
	ticking atomic.Bool
}

type Option func(*Engine)

func WithNotify(fn NotifyFunc) Option   { return func(e *Engine) { e.notify = fn } }
func WithOrder(fn OrderFunc) Option     { return func(e *Engine) { e.order = fn } }
func WithPersister(p Persister) Option  { return func(e *Engine) { e.persist = p } }
func WithBus(bus eventbus.Bus) Option   { return func(e *Engine) { e.bus = bus } }
func WithMetrics(m *metrics.Set) Option { return func(e *Engine) { e.stats = m } }
func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }

func NewEngine(cfg Config, provider catalog.Provider, opts ...Option) *Engine {
	e := &Engine{
		subs:       map[string]*Subscription{},
		knownPlans: map[string]struct{}{},
		provider:   provider,
		cfg:        cfg.withDefaults(),
		log:        logx.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply swaps in reloaded knobs; the poll schedule changes on next Start.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil || !e.cfg.Enabled {
		return
	}
	e.cron = cron.New()
	interval := e.cfg.PollInterval
	_, err := e.cron.AddFunc("@every "+interval.String(), func() { e.Tick(ctx) })
	if err != nil {
		e.log.Error("monitor schedule failed", logx.Err(err))
		e.cron = nil
		return
	}
	e.cron.Start()
	e.log.Info("monitor started", logx.Duration("poll", interval))
}

func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	cr := e.cron
	e.cron = nil
	e.mu.Unlock()
	if cr == nil {
		return
	}
	select {
	case <-cr.Stop().Done():
	case <-ctx.Done():
	}
	e.log.Info("monitor stopped")
}

// Add creates a subscription or updates the flags of an existing one.
// Updating never resets accumulated polling state, so flipping a flag does
// not replay old transitions.
func (e *Engine) Add(spec Spec) Subscription {
	spec.PlanCode = strings.ToLower(strings.TrimSpace(spec.PlanCode))

	e.mu.Lock()
	sub, ok := e.subs[spec.PlanCode]
	if ok {
		sub.Spec = spec
	} else {
		sub = &Subscription{
			Spec:       spec,
			CreatedAt:  time.Now(),
			LastStatus: map[string]string{},
		}
		e.subs[spec.PlanCode] = sub
	}
	out := cloneSub(sub)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("subscription saved",
		logx.String("plan", spec.PlanCode),
		logx.Bool("auto_order", spec.AutoOrder),
		logx.Bool("updated", ok))
	e.save(snap)
	return out
}

func (e *Engine) Remove(planCode string) error {
	planCode = strings.ToLower(strings.TrimSpace(planCode))
	e.mu.Lock()
	if _, ok := e.subs[planCode]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("plan %s: %w", planCode, ErrNotFound)
	}
	delete(e.subs, planCode)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("subscription removed", logx.String("plan", planCode))
	e.save(snap)
	return nil
}

// Clear removes every subscription and returns how many were removed.
func (e *Engine) Clear() int {
	e.mu.Lock()
	n := len(e.subs)
	e.subs = map[string]*Subscription{}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if n > 0 {
		e.save(snap)
	}
	return n
}

func (e *Engine) List() []Subscription {
	e.mu.Lock()
	out := e.snapshotLocked()
	e.mu.Unlock()
	return out
}

func (e *Engine) Get(planCode string) (Subscription, bool) {
	planCode = strings.ToLower(strings.TrimSpace(planCode))
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[planCode]
	if !ok {
		return Subscription{}, false
	}
	return cloneSub(sub), true
}

// History returns the recorded transitions for one plan, newest last.
func (e *Engine) History(planCode string) ([]ChangeEvent, error) {
	sub, ok := e.Get(planCode)
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planCode, ErrNotFound)
	}
	return sub.History, nil
}

// Load restores persisted subscriptions.
func (e *Engine) Load(subs []Subscription) {
	e.mu.Lock()
	for i := range subs {
		s := subs[i]
		if s.PlanCode == "" {
			continue
		}
		if s.LastStatus == nil {
			s.LastStatus = map[string]string{}
		}
		cp := s
		e.subs[s.PlanCode] = &cp
	}
	n := len(e.subs)
	e.mu.Unlock()
	if n > 0 {
		e.log.Info("subscriptions restored", logx.Int("subscriptions", n))
	}
}

func (e *Engine) snapshotLocked() []Subscription {
	out := make([]Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, cloneSub(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlanCode < out[j].PlanCode })
	return out
}

func cloneSub(s *Subscription) Subscription {
	out := *s
	out.Datacenters = append([]string(nil), s.Datacenters...)
	out.LastStatus = make(map[string]string, len(s.LastStatus))
	for k, v := range s.LastStatus {
		out.LastStatus[k] = v
	}
	out.History = append([]ChangeEvent(nil), s.History...)
	return out
}

// Tick runs one poll cycle. Overlapping ticks are skipped, so a slow
// provider never stacks cycles.
func (e *Engine) Tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		e.log.Debug("poll cycle skipped (previous still running)")
		return
	}
	defer e.ticking.Store(false)

	if e.stats != nil {
		e.stats.MonitorTicks.Inc()
	}

	e.mu.Lock()
	plans := make([]string, 0, len(e.subs))
	for code := range e.subs {
		plans = append(plans, code)
	}
	pace := e.cfg.Pace
	e.mu.Unlock()
	sort.Strings(plans)

	for i, code := range plans {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pace):
			}
		}
		e.checkPlan(ctx, code)
	}

	e.checkNewPlans(ctx)
}

func (e *Engine) checkPlan(ctx context.Context, planCode string) {
	plan, err := e.provider.GetCatalog(ctx, planCode)
	if err != nil {
		// Last known state stays untouched so a flaky fetch can never
		// fabricate a transition.
		e.log.Warn("availability fetch failed", logx.String("plan", planCode), logx.Err(err))
		if e.stats != nil {
			e.stats.MonitorFetchErrors.Inc()
		}
		e.emit(eventbus.EventMonitorFetchFailed, map[string]string{"plan": planCode, "error": err.Error()})
		return
	}

	now := time.Now()

	e.mu.Lock()
	sub, ok := e.subs[planCode]
	if !ok {
		e.mu.Unlock()
		return
	}

	watched := map[string]struct{}{}
	for _, dc := range sub.Datacenters {
		watched[strings.ToLower(dc)] = struct{}{}
	}

	var became []ChangeEvent
	fresh := make(map[string]string, len(sub.LastStatus))
	for _, offer := range plan.Offers {
		for dc, status := range offer.Datacenters {
			key := statusKey(dc, offer.Key())
			fresh[key] = status
			if len(watched) > 0 {
				if _, ok := watched[dc]; !ok {
					continue
				}
			}

			old, seen := sub.LastStatus[key]
			newAvail := catalog.Available(status)
			oldAvail := seen && catalog.Available(old)

			switch {
			case newAvail && (!seen || !oldAvail):
				became = append(became, ChangeEvent{
					ID: uuid.NewString(), At: now,
					PlanCode: planCode, Datacenter: dc,
					OfferKey: offer.Key(), Display: offer.Display(),
					Status: status, PrevStatus: old,
					Transition: TransitionAvailable,
				})
			case !newAvail && (oldAvail || (!seen && sub.NotifyUnavailable)):
				became = append(became, ChangeEvent{
					ID: uuid.NewString(), At: now,
					PlanCode: planCode, Datacenter: dc,
					OfferKey: offer.Key(), Display: offer.Display(),
					Status: status, PrevStatus: old,
					Transition: TransitionUnavailable,
				})
			}
		}
	}

	// Durations are computed against history before the new events land.
	durations := map[string]time.Duration{}
	for _, ev := range became {
		if ev.Transition == TransitionUnavailable {
			if since, ok := lastAvailableAt(sub.History, ev.Datacenter, ev.OfferKey); ok {
				durations[statusKey(ev.Datacenter, ev.OfferKey)] = now.Sub(since)
			}
		}
	}

	sub.LastStatus = fresh
	sub.History = append(sub.History, became...)
	if len(sub.History) > e.cfg.HistorySize {
		sub.History = sub.History[len(sub.History)-e.cfg.HistorySize:]
	}
	spec := sub.Spec
	var snap []Subscription
	if len(became) > 0 {
		snap = e.snapshotLocked()
	}
	e.mu.Unlock()

	if len(became) == 0 {
		return
	}
	if e.stats != nil {
		e.stats.MonitorChanges.Add(float64(len(became)))
	}
	for _, ev := range became {
		e.emit(eventbus.EventMonitorChange, ev)
	}
	e.save(snap)

	e.announce(spec, became, durations)
	if spec.AutoOrder {
		e.autoOrder(ctx, spec, became)
	}
}

// announce turns a batch of transitions into operator notifications: one
// grouped message for everything that became available, one message per
// configuration that sold out.
func (e *Engine) announce(spec Spec, became []ChangeEvent, durations map[string]time.Duration) {
	if e.notify == nil {
		return
	}

	name := spec.PlanCode
	if spec.ServerName != "" {
		name = spec.ServerName + " (" + spec.PlanCode + ")"
	}

	if spec.NotifyAvailable {
		var parts []string
		for _, ev := range became {
			if ev.Transition != TransitionAvailable {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s [%s, %s]", ev.Datacenter, ev.Display, ev.Status))
		}
		if len(parts) > 0 {
			e.notify(fmt.Sprintf("🎉 %s is available: %s", name, strings.Join(parts, ", ")))
		}
	}

	if spec.NotifyUnavailable {
		for _, ev := range became {
			if ev.Transition != TransitionUnavailable {
				continue
			}
			msg := fmt.Sprintf("📦 %s sold out in %s [%s]", name, ev.Datacenter, ev.Display)
			if d, ok := durations[statusKey(ev.Datacenter, ev.OfferKey)]; ok {
				msg += ", was available for " + formatDuration(d)
			}
			e.notify(msg)
		}
	}
}

// autoOrder enqueues one wildcard purchase per datacenter that flipped to
// available. LastStatus was already advanced, so the next tick cannot
// double-order the same transition.
func (e *Engine) autoOrder(ctx context.Context, spec Spec, became []ChangeEvent) {
	dcs := map[string]struct{}{}
	for _, ev := range became {
		if ev.Transition == TransitionAvailable {
			dcs[ev.Datacenter] = struct{}{}
		}
	}
	if len(dcs) == 0 || e.order == nil {
		return
	}

	ordered := make([]string, 0, len(dcs))
	for dc := range dcs {
		ordered = append(ordered, dc)
	}
	sort.Strings(ordered)

	for _, dc := range ordered {
		n, err := e.order(ctx, spec.PlanCode, dc)
		if err != nil {
			e.log.Warn("auto-order failed",
				logx.String("plan", spec.PlanCode),
				logx.String("dc", dc),
				logx.Err(err))
			continue
		}
		e.log.Info("auto-order enqueued",
			logx.String("plan", spec.PlanCode),
			logx.String("dc", dc),
			logx.Int("tasks", n))
		if e.stats != nil {
			e.stats.MonitorAutoOrders.Add(float64(n))
		}
		e.emit(eventbus.EventMonitorAutoOrder, map[string]any{"plan": spec.PlanCode, "dc": dc, "tasks": n})
		if e.notify != nil {
			e.notify(fmt.Sprintf("🤖 Auto-order: %d task(s) queued for %s in %s", n, spec.PlanCode, dc))
		}
	}
}

// checkNewPlans diffs the provider's plan list against the known baseline
// and announces plans never seen before. The first successful listing only
// establishes the baseline.
func (e *Engine) checkNewPlans(ctx context.Context) {
	plans, err := e.provider.ListPlans(ctx)
	if err != nil || len(plans) == 0 {
		if err != nil {
			e.log.Debug("plan listing failed", logx.Err(err))
		}
		return
	}

	e.mu.Lock()
	first := len(e.knownPlans) == 0
	var fresh []catalog.Summary
	for _, p := range plans {
		if _, ok := e.knownPlans[p.PlanCode]; !ok {
			e.knownPlans[p.PlanCode] = struct{}{}
			fresh = append(fresh, p)
		}
	}
	e.mu.Unlock()

	if first || len(fresh) == 0 {
		return
	}
	for _, p := range fresh {
		e.log.Info("new plan listed", logx.String("plan", p.PlanCode))
		e.emit(eventbus.EventMonitorNewPlan, p)
		if e.notify != nil {
			desc := strings.TrimSpace(strings.Join([]string{p.CPU, p.Memory, p.Storage}, " "))
			e.notify(strings.TrimSpace(fmt.Sprintf("🆕 New plan listed: %s %s", p.PlanCode, desc)))
		}
	}
}

func lastAvailableAt(history []ChangeEvent, dc, offerKey string) (time.Time, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		ev := history[i]
		if ev.Datacenter == dc && ev.OfferKey == offerKey && ev.Transition == TransitionAvailable {
			return ev.At, true
		}
	}
	return time.Time{}, false
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Hour {
		return d.String()
	}
	days := d / (24 * time.Hour)
	rest := (d % (24 * time.Hour)).Round(time.Minute)
	if days > 0 {
		return fmt.Sprintf("%dd%s", days, rest)
	}
	return d.Round(time.Minute).String()
}

func (e *Engine) emit(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

func (e *Engine) save(snap []Subscription) {
	if e.persist != nil && snap != nil {
		e.persist(snap)
	}
}
