package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "psarbot/pkg/logx"
)

// Store is the persistence API used by moderation and housekeeping.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first. chatID 0 means all chats.
	RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error)
	// PruneAudit deletes entries older than before and reports how many were removed.
	PruneAudit(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, 500)
}
