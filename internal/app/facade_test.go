package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/command"
	"snipebot/internal/config"
	"snipebot/internal/dispatch"
	"snipebot/internal/eventbus"
	"snipebot/internal/metrics"
	"snipebot/internal/monitor"
	"snipebot/internal/notifier"
	"snipebot/internal/purchase"
	"snipebot/internal/queue"
	"snipebot/internal/storage"
	"snipebot/internal/transport"
	"snipebot/pkg/logx"
)

type fixedProvider struct {
	plan catalog.Plan
}

func (f *fixedProvider) GetCatalog(context.Context, string) (catalog.Plan, error) {
	return f.plan, nil
}

func (f *fixedProvider) ListPlans(context.Context) ([]catalog.Summary, error) {
	return nil, nil
}

type noopOrderer struct{}

func (noopOrderer) AttemptPurchase(context.Context, catalog.PurchaseIntent) (purchase.Result, error) {
	return purchase.Result{}, nil
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	store, err := storage.Open(storage.Config{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	prov := &fixedProvider{plan: catalog.Plan{
		PlanCode: "24sk202",
		Offers: []catalog.Offer{{
			Memory:      "ram-32g",
			Datacenters: map[string]string{"gra": "1H-high", "rbx": "available"},
		}},
	}}

	logSvc, _ := logx.New(logx.Config{Level: "error"})
	t.Cleanup(func() { logSvc.Close() })

	a := &App{
		logSvc:       logSvc,
		log:          logx.Nop(),
		bus:          eventbus.New(),
		stats:        metrics.New(),
		store:        store,
		parser:       command.NewParser(nil),
		provider:     prov,
		defaultRetry: 30 * time.Second,
	}
	a.tasks = queue.NewStore(queue.Limits{
		RetryMin:     time.Second,
		RetryMax:     time.Minute,
		RetryDefault: 30 * time.Second,
	}, queue.WithBus(a.bus))
	a.engine = monitor.NewEngine(monitor.Config{Enabled: true}, prov)
	exec := purchase.NewExecutor(noopOrderer{}, time.Second, logx.Nop())
	a.dispatcher = dispatch.New(dispatch.Config{}, a.tasks, exec, logx.Nop(), a.stats)
	a.notify = notifier.New(notifier.Config{}, nil, logx.Nop(), a.bus, a.stats)
	return a
}

func TestSubmitCommandTextFansOut(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	res, err := a.SubmitCommandText(context.Background(), "test", "24sk202 2")
	if err != nil {
		t.Fatalf("SubmitCommandText: %v", err)
	}
	// Two datacenters in stock, quantity 2.
	if len(res.Tasks) != 4 {
		t.Fatalf("tasks = %d, want 4", len(res.Tasks))
	}
	for _, task := range res.Tasks {
		if task.Status != queue.StatusPending {
			t.Fatalf("task %s status = %s", task.ID, task.Status)
		}
	}
}

func TestSubmitCommandTextRejectsGarbage(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	if _, err := a.SubmitCommandText(context.Background(), "test", "   "); err == nil {
		t.Fatal("empty input accepted")
	}
}

func TestAutoOrderHook(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	n, err := a.autoOrder(context.Background(), "24sk202", "gra")
	if err != nil {
		t.Fatalf("autoOrder: %v", err)
	}
	if n != 1 {
		t.Fatalf("autoOrder created %d tasks, want 1", n)
	}
	tasks := a.ListTasks()
	if len(tasks) != 1 || tasks[0].Datacenter != "gra" {
		t.Fatalf("unexpected queue: %+v", tasks)
	}
}

func TestHandleTextOrderAndQueue(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	up := transport.Update{UserID: 7, Text: "24sk202 gra"}

	out := a.handleText(context.Background(), up)
	if !strings.Contains(out, "Queued 1 task(s)") {
		t.Fatalf("order reply: %q", out)
	}

	up.Text = "/queue"
	out = a.handleText(context.Background(), up)
	if !strings.Contains(out, "24sk202 @ gra") || !strings.Contains(out, "pending") {
		t.Fatalf("queue reply: %q", out)
	}
}

func TestHandleTextWatchLifecycle(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()

	out := a.handleText(ctx, transport.Update{UserID: 7, Text: "/autobuy 24sk202 rbx"})
	if !strings.Contains(out, "auto-order") {
		t.Fatalf("autobuy reply: %q", out)
	}
	subs := a.ListSubscriptions()
	if len(subs) != 1 || !subs[0].AutoOrder || subs[0].Datacenters[0] != "rbx" {
		t.Fatalf("subscription = %+v", subs)
	}

	out = a.handleText(ctx, transport.Update{UserID: 7, Text: "/unwatch 24sk202"})
	if !strings.Contains(out, "Stopped watching") {
		t.Fatalf("unwatch reply: %q", out)
	}
	if len(a.ListSubscriptions()) != 0 {
		t.Fatal("subscription not removed")
	}
}

func TestHandleTextPauseByPrefix(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()

	res, err := a.SubmitCommandText(ctx, "test", "24sk202 gra")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := res.Tasks[0].ID
	a.tasks.ClaimDue(time.Now(), 0)

	out := a.handleText(ctx, transport.Update{UserID: 7, Text: "/pause " + id[:8]})
	if !strings.Contains(out, "paused") {
		t.Fatalf("pause reply: %q", out)
	}
	got, _ := a.GetTask(id)
	if got.Status != queue.StatusPaused {
		t.Fatalf("task status = %s", got.Status)
	}

	out = a.handleText(ctx, transport.Update{UserID: 7, Text: "/resume " + id[:8]})
	if !strings.Contains(out, "pending") {
		t.Fatalf("resume reply: %q", out)
	}
}

func TestConfigReloadDuringIntake(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "error"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			a.applyConfig(cfg)
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := a.SubmitCommandText(context.Background(), "test", "24sk202 gra"); err != nil {
			t.Errorf("submit during reload: %v", err)
			break
		}
	}
	<-done
}

func TestAllowedUsers(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	if a.allowed(42) {
		t.Fatal("empty allowlist admits users")
	}
	a.mu.Lock()
	a.allowedUsers = map[int64]struct{}{42: {}}
	a.mu.Unlock()
	if !a.allowed(42) || a.allowed(43) {
		t.Fatal("allowlist not enforced")
	}
}
