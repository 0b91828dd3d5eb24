package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

const (
	queueFile = "queue.json"
	subsFile  = "subscriptions.json"
	auditFile = "audit.jsonl"
)

// fileStore writes JSON snapshots with atomic replace (temp file + rename)
// and appends audit entries to a jsonl log.
type fileStore struct {
	mu  sync.Mutex
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	dir := cfg.Path
	if dir == "" {
		dir = "./snipebot_store"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) SaveQueue(_ context.Context, tasks []queue.Task) error {
	return s.writeSnapshot(queueFile, tasks)
}

func (s *fileStore) LoadQueue(_ context.Context) ([]queue.Task, error) {
	var out []queue.Task
	if err := s.readSnapshot(queueFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveSubscriptions(_ context.Context, subs []monitor.Subscription) error {
	return s.writeSnapshot(subsFile, subs)
}

func (s *fileStore) LoadSubscriptions(_ context.Context) ([]monitor.Subscription, error) {
	var out []monitor.Subscription
	if err := s.readSnapshot(subsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, auditFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(append(b, '\n')); err != nil {
		return err
	}
	return w.Flush()
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) writeSnapshot(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) readSnapshot(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
