package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "psarbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps :memory: on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at_ms, actor_id, actor_username, chat_id, action, target_id, target_name, restriction_id, duration_sec, ok, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.ActorID, nullStr(e.ActorUsername), e.ChatID, string(e.Action), e.TargetID,
		nullStr(e.TargetName), nullStr(e.RestrictionID), e.DurationSec, e.OK, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	const cols = `at_ms, actor_id, actor_username, chat_id, action, target_id, target_name, restriction_id, duration_sec, ok, err`
	var (
		rows *sql.Rows
		err  error
	)
	if chatID != 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM audit WHERE chat_id = ? ORDER BY at_ms DESC, id DESC LIMIT ?`,
			chatID, clampLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM audit ORDER BY at_ms DESC, id DESC LIMIT ?`,
			clampLimit(limit))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                          AuditEntry
			atMS                       int64
			action                     string
			actor, target, rid, errStr sql.NullString
		)
		if err := rows.Scan(&atMS, &e.ActorID, &actor, &e.ChatID, &action, &e.TargetID, &target, &rid, &e.DurationSec, &e.OK, &errStr); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMS)
		e.Action = Action(action)
		e.ActorUsername = actor.String
		e.TargetName = target.String
		e.RestrictionID = rid.String
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
