//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// sqliteStore keeps snapshots as JSON rows in a single-file database.
// modernc.org/sqlite is not safe for concurrent writers on one connection,
// so the pool is pinned to a single connection.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := cfg.Path
	if path == "" {
		path = "./snipebot.db"
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		url.PathEscape(path), busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) SaveQueue(ctx context.Context, tasks []queue.Task) error {
	return s.replaceSnapshot(ctx, "queue_tasks", func(ins func(id string, data []byte) error) error {
		for _, t := range tasks {
			b, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := ins(t.ID, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadQueue(ctx context.Context) ([]queue.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM queue_tasks ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Task
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t queue.Task
		if err := json.Unmarshal(data, &t); err != nil {
			s.log.Warn("skipping corrupt task row", logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscriptions(ctx context.Context, subs []monitor.Subscription) error {
	return s.replaceSnapshot(ctx, "subscriptions", func(ins func(id string, data []byte) error) error {
		for _, sub := range subs {
			b, err := json.Marshal(sub)
			if err != nil {
				return err
			}
			if err := ins(sub.PlanCode, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadSubscriptions(ctx context.Context) ([]monitor.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM subscriptions ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.Subscription
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sub monitor.Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			s.log.Warn("skipping corrupt subscription row", logx.Err(err))
			continue
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (at, actor, action, detail) VALUES (?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Action, e.Detail)
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// replaceSnapshot rewrites one snapshot table in a single transaction.
func (s *sqliteStore) replaceSnapshot(ctx context.Context, table string, fill func(ins func(id string, data []byte) error) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (id, data) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ins := func(id string, data []byte) error {
		_, err := stmt.ExecContext(ctx, id, data)
		return err
	}
	if err := fill(ins); err != nil {
		return err
	}
	return tx.Commit()
}
