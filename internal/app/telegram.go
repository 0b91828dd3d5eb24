package app

import (
	"context"
	"fmt"
	"strings"

	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/internal/transport"
	"snipebot/pkg/logx"
)

const helpText = `Commands:
  <planCode> [datacenter] [quantity] [options]  queue an order
  /queue               list queue tasks
  /pause <id>          pause a running task
  /resume <id>         resume a paused task
  /remove <id>         remove a task
  /clear_queue         remove all tasks
  /watch <plan> [dc ...]   watch a plan (notify + auto-order off)
  /autobuy <plan> [dc ...] watch a plan and auto-order on restock
  /unwatch <plan>      stop watching
  /watchlist           list watched plans
  /history <plan>      show recent availability changes
  /help                this text`

// updateLoop consumes inbound Telegram messages. Only allow-listed user
// IDs are served; everything else is dropped with a log line.
func (a *App) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.tg.Updates():
			if !ok {
				return
			}
			if !a.allowed(up.UserID) {
				a.log.Warn("update from unauthorized user",
					logx.Int64("user", up.UserID),
					logx.String("username", up.Username))
				continue
			}
			reply := a.handleText(ctx, up)
			if reply != "" {
				a.reply(ctx, up.Chat, reply)
			}
		}
	}
}

func (a *App) allowed(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.allowedUsers) == 0 {
		return false
	}
	_, ok := a.allowedUsers[userID]
	return ok
}

func (a *App) reply(ctx context.Context, chat transport.Target, text string) {
	if _, err := a.tg.SendText(ctx, chat, text, transport.SendOptions{}); err != nil {
		a.log.Warn("reply failed", logx.Err(err))
	}
}

func (a *App) handleText(ctx context.Context, up transport.Update) string {
	text := strings.TrimSpace(up.Text)
	if text == "" {
		return ""
	}
	actor := fmt.Sprintf("tg:%d", up.UserID)

	if !strings.HasPrefix(text, "/") {
		return a.handleOrder(ctx, actor, text)
	}

	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch cmd {
	case "start", "help":
		return helpText
	case "queue":
		return renderQueue(a.ListTasks())
	case "pause":
		return a.handleStatus(ctx, actor, args, queue.StatusPaused)
	case "resume":
		return a.handleStatus(ctx, actor, args, queue.StatusRunning)
	case "remove":
		if len(args) != 1 {
			return "Usage: /remove <id>"
		}
		id, err := a.resolveTaskID(args[0])
		if err != nil {
			return err.Error()
		}
		if err := a.RemoveTask(ctx, actor, id); err != nil {
			return "Remove failed: " + err.Error()
		}
		return "Removed " + shortID(id)
	case "clear_queue":
		n := a.ClearTasks(ctx, actor)
		return fmt.Sprintf("Cleared %d task(s)", n)
	case "watch", "autobuy":
		if len(args) < 1 {
			return "Usage: /" + cmd + " <planCode> [datacenter ...]"
		}
		sub := a.SaveSubscription(ctx, actor, monitor.Spec{
			PlanCode:          args[0],
			Datacenters:       args[1:],
			NotifyAvailable:   true,
			NotifyUnavailable: true,
			AutoOrder:         cmd == "autobuy",
		})
		mode := "watching"
		if sub.AutoOrder {
			mode = "watching with auto-order"
		}
		return fmt.Sprintf("Now %s %s", mode, sub.PlanCode)
	case "unwatch":
		if len(args) != 1 {
			return "Usage: /unwatch <planCode>"
		}
		if err := a.RemoveSubscription(ctx, actor, args[0]); err != nil {
			return "Unwatch failed: " + err.Error()
		}
		return "Stopped watching " + strings.ToLower(args[0])
	case "watchlist":
		return renderWatchlist(a.ListSubscriptions())
	case "history":
		if len(args) != 1 {
			return "Usage: /history <planCode>"
		}
		hist, err := a.SubscriptionHistory(args[0])
		if err != nil {
			return "History failed: " + err.Error()
		}
		return renderHistory(args[0], hist)
	default:
		return "Unknown command /" + cmd + "\n\n" + helpText
	}
}

func (a *App) handleOrder(ctx context.Context, actor, text string) string {
	res, err := a.SubmitCommandText(ctx, actor, text)
	if err != nil {
		return "Order failed: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Queued %d task(s)", len(res.Tasks))
	for _, t := range res.Tasks {
		fmt.Fprintf(&b, "\n  %s  %s @ %s", shortID(t.ID), t.PlanCode, t.Datacenter)
	}
	for _, w := range res.Warnings {
		b.WriteString("\n⚠️ " + w)
	}
	return b.String()
}

func (a *App) handleStatus(ctx context.Context, actor string, args []string, to queue.Status) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: /%s <id>", map[queue.Status]string{queue.StatusPaused: "pause", queue.StatusRunning: "resume"}[to])
	}
	id, err := a.resolveTaskID(args[0])
	if err != nil {
		return err.Error()
	}
	task, err := a.SetTaskStatus(ctx, actor, id, to)
	if err != nil {
		return "Status change failed: " + err.Error()
	}
	return fmt.Sprintf("Task %s is now %s", shortID(task.ID), task.Status)
}

// resolveTaskID accepts a full task ID or a unique prefix.
func (a *App) resolveTaskID(ref string) (string, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	var match string
	for _, t := range a.tasks.List() {
		if t.ID == ref {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous task id %q", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no task matching %q", ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderQueue(tasks []queue.Task) string {
	if len(tasks) == 0 {
		return "Queue is empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s):", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n%s  %s @ %s  [%s]", shortID(t.ID), t.PlanCode, orAny(t.Datacenter), t.Status)
		if t.RetryCount > 0 {
			fmt.Fprintf(&b, " retries=%d", t.RetryCount)
		}
		if t.Status == queue.StatusCompleted && t.OrderID != "" {
			fmt.Fprintf(&b, " order=%s", t.OrderID)
		}
		if t.Status == queue.StatusFailed && t.LastError != "" {
			fmt.Fprintf(&b, " (%s)", t.LastError)
		}
	}
	return b.String()
}

func renderWatchlist(subs []monitor.Subscription) string {
	if len(subs) == 0 {
		return "Not watching any plans"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Watching %d plan(s):", len(subs))
	for _, s := range subs {
		fmt.Fprintf(&b, "\n%s  dc=%s", s.PlanCode, orAny(strings.Join(s.Datacenters, ",")))
		if s.AutoOrder {
			b.WriteString("  auto-order")
		}
	}
	return b.String()
}

func renderHistory(planCode string, hist []monitor.ChangeEvent) string {
	if len(hist) == 0 {
		return "No recorded changes for " + strings.ToLower(planCode)
	}
	const show = 15
	if len(hist) > show {
		hist = hist[len(hist)-show:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d change(s) for %s:", len(hist), strings.ToLower(planCode))
	for _, ev := range hist {
		fmt.Fprintf(&b, "\n%s  %s @ %s -> %s", ev.At.Format("01-02 15:04"), ev.Display, ev.Datacenter, ev.Transition)
	}
	return b.String()
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}
