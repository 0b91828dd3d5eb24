package storage

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "none"}, logx.Nop()); err != nil {
		t.Fatalf("none driver: %v", err)
	}
	if _, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop()); err != nil {
		t.Fatalf("file driver: %v", err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileQueueRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	// A missing snapshot loads as empty, not as an error.
	if got, err := s.LoadQueue(ctx); err != nil || len(got) != 0 {
		t.Fatalf("fresh LoadQueue = %v, %v", got, err)
	}

	tasks := []queue.Task{
		{ID: "a", PlanCode: "24sk202", Datacenter: "gra", Status: queue.StatusPending, RetryInterval: 5 * time.Second},
		{ID: "b", PlanCode: "24sk202", Datacenter: "rbx", Status: queue.StatusRunning, RetryCount: 2, LastError: "sold out"},
	}
	if err := s.SaveQueue(ctx, tasks); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(got) != 2 || got[1].RetryCount != 2 || got[1].LastError != "sold out" {
		t.Fatalf("round trip lost data: %+v", got)
	}

	// Saving an empty snapshot clears the previous one.
	if err := s.SaveQueue(ctx, nil); err != nil {
		t.Fatalf("SaveQueue(nil): %v", err)
	}
	if got, _ := s.LoadQueue(ctx); len(got) != 0 {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
}

func TestFileSubscriptionsRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	subs := []monitor.Subscription{{
		Spec: monitor.Spec{
			PlanCode:        "24sk202",
			NotifyAvailable: true,
			AutoOrder:       true,
			Datacenters:     []string{"gra"},
		},
		CreatedAt:  time.Now().Round(time.Second),
		LastStatus: map[string]string{"gra|default": "available"},
	}}
	if err := s.SaveSubscriptions(ctx, subs); err != nil {
		t.Fatalf("SaveSubscriptions: %v", err)
	}
	got, err := s.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}
	if len(got) != 1 || !got[0].AutoOrder || got[0].LastStatus["gra|default"] != "available" {
		t.Fatalf("round trip lost data: %+v", got)
	}
}

func TestFileAuditAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	for _, action := range []string{"task.create", "task.remove", "queue.clear"} {
		if err := s.AppendAudit(ctx, AuditEntry{At: time.Now(), Actor: "api", Action: action}); err != nil {
			t.Fatalf("AppendAudit(%s): %v", action, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("audit log has %d lines, want 3", lines)
	}
}
