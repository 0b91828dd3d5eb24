package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/command"
	"snipebot/internal/eventbus"
	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/internal/storage"
	"snipebot/internal/transport/httpapi"
	"snipebot/pkg/logx"
)

// The facade methods below are the single entry point for both operator
// surfaces (HTTP API and Telegram). Every mutation is audited.

func (a *App) audit(ctx context.Context, actor, action, detail string) {
	err := a.store.AppendAudit(ctx, storage.AuditEntry{
		At:     time.Now(),
		Actor:  actor,
		Action: action,
		Detail: detail,
	})
	if err != nil {
		a.log.Debug("audit append failed", logx.Err(err))
	}
}

// SubmitCommandText parses free-form order text, resolves each command
// against live availability, and fans the result into queue tasks.
func (a *App) SubmitCommandText(ctx context.Context, actor, text string) (httpapi.SubmitResult, error) {
	// The parser is swapped on config reload; take the current one under
	// the lock together with the retry default.
	a.mu.Lock()
	parser := a.parser
	retry := a.defaultRetry
	a.mu.Unlock()

	raws, err := parser.Parse(text)
	if err != nil {
		return httpapi.SubmitResult{}, err
	}

	var res httpapi.SubmitResult
	for _, raw := range raws {
		plan, err := a.provider.GetCatalog(ctx, raw.PlanCode)
		if err != nil {
			return res, fmt.Errorf("fetch availability for %s: %w", raw.PlanCode, err)
		}
		intents, warnings, err := catalog.Resolve(raw, plan)
		if err != nil {
			return res, err
		}
		for _, w := range warnings {
			a.log.Warn("options fallback",
				logx.String("plan", w.PlanCode),
				logx.String("dc", w.Datacenter),
				logx.Any("options", w.Options))
			a.bus.Publish(eventbus.Event{Type: eventbus.EventCatalogFallback, Time: time.Now(), Data: w})
			res.Warnings = append(res.Warnings, w.String())
		}

		tasks := a.tasks.AddAll(intents, retry)
		a.stats.TasksCreated.Add(float64(len(tasks)))
		res.Tasks = append(res.Tasks, tasks...)
	}

	a.audit(ctx, actor, "command.submit", fmt.Sprintf("%q -> %d task(s)", text, len(res.Tasks)))
	return res, nil
}

// CreateTask queues exactly one task as given, without catalog resolution.
func (a *App) CreateTask(ctx context.Context, actor, planCode, datacenter string, options []string, retryInterval time.Duration) (queue.Task, error) {
	planCode = strings.ToLower(strings.TrimSpace(planCode))
	if planCode == "" {
		return queue.Task{}, fmt.Errorf("empty plan code: %w", command.ErrMalformedCommand)
	}
	task := a.tasks.Add(catalog.PurchaseIntent{
		PlanCode:   planCode,
		Datacenter: strings.ToLower(strings.TrimSpace(datacenter)),
		Options:    options,
		Quantity:   1,
	}, retryInterval)
	a.stats.TasksCreated.Inc()
	a.audit(ctx, actor, "task.create", task.ID)
	return task, nil
}

func (a *App) ListTasks() []queue.Task { return a.tasks.List() }

func (a *App) GetTask(id string) (queue.Task, bool) { return a.tasks.Get(id) }

func (a *App) SetTaskStatus(ctx context.Context, actor, id string, status queue.Status) (queue.Task, error) {
	task, err := a.tasks.SetStatus(id, status)
	if err != nil {
		return queue.Task{}, err
	}
	a.audit(ctx, actor, "task.status", id+" -> "+string(task.Status))
	return task, nil
}

func (a *App) RemoveTask(ctx context.Context, actor, id string) error {
	if err := a.tasks.Remove(id); err != nil {
		return err
	}
	a.audit(ctx, actor, "task.remove", id)
	return nil
}

func (a *App) ClearTasks(ctx context.Context, actor string) int {
	n := a.tasks.ClearAll()
	a.audit(ctx, actor, "queue.clear", fmt.Sprintf("%d task(s)", n))
	return n
}

func (a *App) ListSubscriptions() []monitor.Subscription { return a.engine.List() }

func (a *App) SaveSubscription(ctx context.Context, actor string, spec monitor.Spec) monitor.Subscription {
	sub := a.engine.Add(spec)
	a.audit(ctx, actor, "subscription.save", spec.PlanCode)
	return sub
}

func (a *App) RemoveSubscription(ctx context.Context, actor, planCode string) error {
	if err := a.engine.Remove(planCode); err != nil {
		return err
	}
	a.audit(ctx, actor, "subscription.remove", planCode)
	return nil
}

func (a *App) ClearSubscriptions(ctx context.Context, actor string) int {
	n := a.engine.Clear()
	a.audit(ctx, actor, "subscription.clear", fmt.Sprintf("%d subscription(s)", n))
	return n
}

func (a *App) SubscriptionHistory(planCode string) ([]monitor.ChangeEvent, error) {
	return a.engine.History(planCode)
}

// autoOrder is the monitor's order hook: wildcard resolution restricted to
// the datacenter that just flipped.
func (a *App) autoOrder(ctx context.Context, planCode, datacenter string) (int, error) {
	raw := command.RawIntent{
		PlanCode:        planCode,
		Datacenter:      datacenter,
		Quantity:        1,
		OptionsWildcard: true,
	}
	plan, err := a.provider.GetCatalog(ctx, planCode)
	if err != nil {
		return 0, err
	}
	intents, _, err := catalog.Resolve(raw, plan)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	retry := a.defaultRetry
	a.mu.Unlock()

	tasks := a.tasks.AddAll(intents, retry)
	a.stats.TasksCreated.Add(float64(len(tasks)))
	a.audit(ctx, "monitor", "task.auto_order", fmt.Sprintf("%s@%s -> %d task(s)", planCode, datacenter, len(tasks)))
	return len(tasks), nil
}
