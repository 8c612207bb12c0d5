// Package housekeeping prunes the audit log on a cron schedule.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "psarbot/pkg/logx"
)

const (
	DefaultSchedule = "@daily"
	pruneTimeout    = 2 * time.Minute
)

// Pruner is the part of storage.Store housekeeping needs.
type Pruner interface {
	PruneAudit(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	// Retention is how long audit rows are kept. 0 disables pruning.
	Retention time.Duration
	Schedule  string
	Timezone  string
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	store   Pruner
	c       *cron.Cron
	baseCtx context.Context
	running bool
}

func New(cfg Config, store Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    cfg,
		store:  store,
	}
}

// SetStore swaps the pruned store, e.g. after storage was reopened.
func (s *Service) SetStore(p Pruner) {
	s.mu.Lock()
	s.store = p
	s.mu.Unlock()
}

// Start schedules pruning. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.baseCtx = ctx
	if err := s.startLocked(); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *Service) startLocked() error {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("housekeeping timezone: %w", err)
		}
		loc = l
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("housekeeping started",
		logx.String("schedule", spec),
		logx.String("tz", loc.String()),
		logx.Duration("retention", s.cfg.Retention),
	)
	return nil
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// Apply swaps the config, restarting the schedule if it is running and
// schedule or timezone changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if !s.running {
		return nil
	}
	if strings.TrimSpace(old.Schedule) == strings.TrimSpace(cfg.Schedule) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	s.stopLocked()
	if err := s.startLocked(); err != nil {
		s.running = false
		return err
	}
	return nil
}

// Stop waits for a running prune to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("housekeeping stop timed out")
	}
}

func (s *Service) runScheduled() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
	}
}

// RunOnce prunes audit rows older than the retention window.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	store, retention := s.store, s.cfg.Retention
	s.mu.Unlock()
	if store == nil || retention <= 0 {
		return 0, nil
	}
	before := s.now().Add(-retention)
	start := time.Now()
	n, err := store.PruneAudit(ctx, before)
	if err != nil {
		return n, err
	}
	s.log.Info("audit pruned",
		logx.Int("removed", n),
		logx.Time("before", before),
		logx.Duration("took", time.Since(start)),
	)
	return n, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
