// Package storage persists queue tasks, monitor subscriptions, and the
// operator audit trail across restarts.
//
// Two drivers exist: "file" (JSON snapshots plus an append-only audit log)
// and "sqlite" (single-file database, requires the sqlite build tag).
// Driver "none" keeps everything in memory only.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// AuditEntry is one recorded operator action.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// Store is the persistence contract. Save methods replace the whole
// snapshot; Load methods return what the last Save wrote.
type Store interface {
	SaveQueue(ctx context.Context, tasks []queue.Task) error
	LoadQueue(ctx context.Context) ([]queue.Task, error)

	SaveSubscriptions(ctx context.Context, subs []monitor.Subscription) error
	LoadSubscriptions(ctx context.Context) ([]monitor.Subscription, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open selects and initializes a driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none", "memory":
		return nopStore{}, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// nopStore keeps nothing; every Load comes back empty.
type nopStore struct{}

func (nopStore) SaveQueue(context.Context, []queue.Task) error { return nil }
func (nopStore) LoadQueue(context.Context) ([]queue.Task, error) {
	return nil, nil
}
func (nopStore) SaveSubscriptions(context.Context, []monitor.Subscription) error { return nil }
func (nopStore) LoadSubscriptions(context.Context) ([]monitor.Subscription, error) {
	return nil, nil
}
func (nopStore) AppendAudit(context.Context, AuditEntry) error { return nil }
func (nopStore) Close() error                                  { return nil }
