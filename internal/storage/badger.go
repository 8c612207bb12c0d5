package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	logx "psarbot/pkg/logx"
)

// Keys are audit:<unix nano, 20 digits>:<uuid> so lexical order is time order.
var auditPrefix = []byte("audit:")

const tsDigits = 20

type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	var opts badger.Options
	if path == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	log.Debug("badger store opened", logx.String("path", path))
	return &badgerStore{db: db, log: log}, nil
}

func auditKey(at time.Time) []byte {
	return fmt.Appendf(nil, "%s%0*d:%s", auditPrefix, tsDigits, at.UnixNano(), uuid.NewString())
}

func keyTime(key []byte) (int64, bool) {
	rest := bytes.TrimPrefix(key, auditPrefix)
	if len(rest) < tsDigits {
		return 0, false
	}
	ns, err := strconv.ParseInt(string(rest[:tsDigits]), 10, 64)
	return ns, err == nil
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *badgerStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(e.At), data)
	})
}

func (s *badgerStore) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	limit = clampLimit(limit)
	var out []AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = auditPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(bytes.Clone(auditPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(auditPrefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(v []byte) error {
				var e AuditEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return fmt.Errorf("failed to unmarshal audit entry: %w", err)
				}
				if chatID == 0 || e.ChatID == chatID {
					out = append(out, e)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during audit fetch: %w", err)
	}
	return out, nil
}

func (s *badgerStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixNano()
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = auditPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(auditPrefix); it.ValidForPrefix(auditPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k := it.Item().KeyCopy(nil)
			ns, ok := keyTime(k)
			if ok && ns >= cutoff {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// badgerLogger routes badger's internal logging into logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, v ...any) {
	l.log.Error("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Warningf(f string, v ...any) {
	l.log.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Infof(f string, v ...any) {
	l.log.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Debugf(string, ...any) {}
