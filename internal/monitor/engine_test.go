package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"snipebot/internal/catalog"
)

// scriptedProvider serves a fixed sequence of catalog views per plan,
// repeating the last one once the script runs out.
type scriptedProvider struct {
	mu    sync.Mutex
	plans map[string][]catalog.Plan
	errs  map[string]error
	list  []catalog.Summary
}

func (p *scriptedProvider) GetCatalog(_ context.Context, planCode string) (catalog.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[planCode]; err != nil {
		return catalog.Plan{}, err
	}
	seq := p.plans[planCode]
	if len(seq) == 0 {
		return catalog.Plan{}, errors.New("no such plan")
	}
	plan := seq[0]
	if len(seq) > 1 {
		p.plans[planCode] = seq[1:]
	}
	return plan, nil
}

func (p *scriptedProvider) ListPlans(context.Context) ([]catalog.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list, nil
}

func view(status string) catalog.Plan {
	return catalog.Plan{
		PlanCode: "24sk202",
		Offers: []catalog.Offer{
			{Memory: "ram-32g", Datacenters: map[string]string{"gra": status}},
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	notes  []string
	orders []string
}

func (r *recorder) notify(text string) {
	r.mu.Lock()
	r.notes = append(r.notes, text)
	r.mu.Unlock()
}

func (r *recorder) order(_ context.Context, planCode, dc string) (int, error) {
	r.mu.Lock()
	r.orders = append(r.orders, planCode+"@"+dc)
	r.mu.Unlock()
	return 1, nil
}

func newTestEngine(p catalog.Provider, r *recorder, spec Spec) *Engine {
	e := NewEngine(Config{Enabled: true, Pace: time.Millisecond},
		p, WithNotify(r.notify), WithOrder(r.order))
	e.Add(spec)
	return e
}

func TestEdgeTriggeredAutoOrder(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{plans: map[string][]catalog.Plan{
		"24sk202": {view("available")},
	}}
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", NotifyAvailable: true, AutoOrder: true})

	// Two polls of a steadily available plan order exactly once.
	e.Tick(context.Background())
	e.Tick(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.orders) != 1 || r.orders[0] != "24sk202@gra" {
		t.Fatalf("orders = %v, want one for gra", r.orders)
	}
}

func TestAvailabilityFlipCycle(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{plans: map[string][]catalog.Plan{
		"24sk202": {view("available"), view("unavailable"), view("1H-low")},
	}}
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", NotifyAvailable: true, NotifyUnavailable: true})

	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}

	hist, err := e.History("24sk202")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{TransitionAvailable, TransitionUnavailable, TransitionAvailable}
	if len(hist) != len(want) {
		t.Fatalf("history = %d events, want %d: %+v", len(hist), len(want), hist)
	}
	for i, ev := range hist {
		if ev.Transition != want[i] {
			t.Fatalf("event %d transition = %s, want %s", i, ev.Transition, want[i])
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) != 3 {
		t.Fatalf("notes = %v, want 3", r.notes)
	}
	if !strings.Contains(r.notes[1], "was available for") {
		t.Fatalf("sold-out note missing duration: %q", r.notes[1])
	}
}

func TestFirstObservationUnavailable(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{plans: map[string][]catalog.Plan{
		"24sk202": {view("unavailable")},
	}}

	// Without the unavailable flag the first unavailable observation is a
	// silent baseline.
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", NotifyAvailable: true})
	e.Tick(context.Background())
	if hist, _ := e.History("24sk202"); len(hist) != 0 {
		t.Fatalf("baseline produced events: %+v", hist)
	}

	// With the flag it is announced.
	p2 := &scriptedProvider{plans: map[string][]catalog.Plan{
		"24sk202": {view("unavailable")},
	}}
	r2 := &recorder{}
	e2 := newTestEngine(p2, r2, Spec{PlanCode: "24sk202", NotifyUnavailable: true})
	e2.Tick(context.Background())
	r2.mu.Lock()
	defer r2.mu.Unlock()
	if len(r2.notes) != 1 {
		t.Fatalf("notes = %v, want 1", r2.notes)
	}
}

func TestFetchFailureKeepsState(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{
		plans: map[string][]catalog.Plan{"24sk202": {view("available")}},
	}
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", NotifyAvailable: true, NotifyUnavailable: true})

	e.Tick(context.Background())

	// A failed fetch must not register as "became unavailable"...
	p.mu.Lock()
	p.errs = map[string]error{"24sk202": errors.New("upstream 500")}
	p.mu.Unlock()
	e.Tick(context.Background())

	// ...nor replay "became available" once the fetch recovers.
	p.mu.Lock()
	p.errs = nil
	p.mu.Unlock()
	e.Tick(context.Background())

	hist, _ := e.History("24sk202")
	if len(hist) != 1 {
		t.Fatalf("history = %+v, want the single initial transition", hist)
	}
}

func TestWatchedDatacenterFilter(t *testing.T) {
	t.Parallel()

	plan := catalog.Plan{
		PlanCode: "24sk202",
		Offers: []catalog.Offer{{
			Memory: "ram-32g",
			Datacenters: map[string]string{"gra": "available", "rbx": "available"},
		}},
	}
	p := &scriptedProvider{plans: map[string][]catalog.Plan{"24sk202": {plan}}}
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", Datacenters: []string{"rbx"}, AutoOrder: true})

	e.Tick(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.orders) != 1 || r.orders[0] != "24sk202@rbx" {
		t.Fatalf("orders = %v, want only the watched datacenter", r.orders)
	}
}

func TestAddUpdatesWithoutReset(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{plans: map[string][]catalog.Plan{
		"24sk202": {view("available")},
	}}
	r := &recorder{}
	e := newTestEngine(p, r, Spec{PlanCode: "24sk202", NotifyAvailable: true})
	e.Tick(context.Background())

	// Turning on auto-order later must not replay the old transition.
	e.Add(Spec{PlanCode: "24sk202", NotifyAvailable: true, AutoOrder: true})
	e.Tick(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.orders) != 0 {
		t.Fatalf("orders = %v, want none (no new transition)", r.orders)
	}

	if got, _ := e.Get("24sk202"); !got.AutoOrder {
		t.Fatal("flag update lost")
	}
}

func TestNewPlanBaselineThenAlert(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{list: []catalog.Summary{{PlanCode: "24sk10"}}}
	r := &recorder{}
	e := NewEngine(Config{Enabled: true, Pace: time.Millisecond}, p, WithNotify(r.notify))

	e.Tick(context.Background())

	p.mu.Lock()
	p.list = append(p.list, catalog.Summary{PlanCode: "24sk50", CPU: "Ryzen 5"})
	p.mu.Unlock()
	e.Tick(context.Background())
	e.Tick(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) != 1 || !strings.Contains(r.notes[0], "24sk50") {
		t.Fatalf("notes = %v, want one new-plan alert for 24sk50", r.notes)
	}
}

func TestHistoryCap(t *testing.T) {
	t.Parallel()

	flip := make([]catalog.Plan, 0, 30)
	for i := 0; i < 15; i++ {
		flip = append(flip, view("available"), view("unavailable"))
	}
	p := &scriptedProvider{plans: map[string][]catalog.Plan{"24sk202": flip}}
	r := &recorder{}

	e := NewEngine(Config{Enabled: true, Pace: time.Millisecond, HistorySize: 10},
		p, WithNotify(r.notify))
	e.Add(Spec{PlanCode: "24sk202", NotifyAvailable: true, NotifyUnavailable: true})

	for i := 0; i < 30; i++ {
		e.Tick(context.Background())
	}

	hist, _ := e.History("24sk202")
	if len(hist) != 10 {
		t.Fatalf("history length = %d, want capped at 10", len(hist))
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{}
	r := &recorder{}
	e := NewEngine(Config{Enabled: true}, p, WithNotify(r.notify))
	e.Add(Spec{PlanCode: "a"})
	e.Add(Spec{PlanCode: "b"})

	if err := e.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove err = %v, want ErrNotFound", err)
	}
	if n := e.Clear(); n != 1 {
		t.Fatalf("Clear = %d, want 1", n)
	}
	if got := e.List(); len(got) != 0 {
		t.Fatalf("subscriptions remain: %v", got)
	}
}
