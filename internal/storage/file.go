package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "psarbot/pkg/logx"
)

// fileStore keeps the audit log in <prefix>.audit.jsonl (append-only
// JSON Lines). Prune rewrites the file through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := filepath.Join(dir, base) + ".audit.jsonl"
	af, err := openAppend(auditPath)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", auditPath))
	return &fileStore{log: log, auditPath: auditPath, auditFile: af}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep only the last limit matches while scanning forward.
	out := make([]AuditEntry, 0, limit)
	err := s.scanLocked(ctx, func(e AuditEntry) {
		if chatID != 0 && e.ChatID != chatID {
			return
		}
		if len(out) == limit {
			copy(out, out[1:])
			out = out[:limit-1]
		}
		out = append(out, e)
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *fileStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return 0, errors.New("audit file closed")
	}

	tmpPath := s.auditPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(tmp)
	removed := 0
	var encErr error
	err = s.scanLocked(ctx, func(e AuditEntry) {
		if encErr != nil {
			return
		}
		if e.At.Before(before) {
			removed++
			return
		}
		encErr = enc.Encode(e)
	})
	if err == nil {
		err = encErr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil || removed == 0 {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := s.auditFile.Close(); err != nil {
		s.log.Warn("audit file close failed", logx.Err(err))
	}
	s.auditFile = nil
	if err := os.Rename(tmpPath, s.auditPath); err != nil {
		_ = os.Remove(tmpPath)
		if af, oerr := openAppend(s.auditPath); oerr == nil {
			s.auditFile = af
		}
		return 0, err
	}
	af, err := openAppend(s.auditPath)
	if err != nil {
		return removed, err
	}
	s.auditFile = af
	return removed, nil
}

// scanLocked decodes every line of the audit file. Corrupt lines are skipped.
func (s *fileStore) scanLocked(ctx context.Context, fn func(AuditEntry)) error {
	f, err := os.Open(s.auditPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 0; sc.Scan(); n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	return sc.Err()
}
