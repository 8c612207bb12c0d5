// Package moderation implements the mute commands on top of restrict.Registry.
//
// Ordering rules:
//   - /block restricts on the platform first and records locally only on success.
//   - /unblock clears local state first, then restores on the platform.
//   - an expired timer restores on the platform from the registry hook.
package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"psarbot/internal/restrict"
	"psarbot/internal/storage"
	kit "psarbot/internal/transport"
	logx "psarbot/pkg/logx"
)

// Telegram treats restrictions shorter than 30s or longer than 366 days as permanent.
const (
	DefaultMinDuration    = 30 * time.Second
	DefaultMaxDuration    = 366 * 24 * time.Hour
	DefaultCommandTimeout = 15 * time.Second
)

type Config struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	CommandTimeout time.Duration
	// ProtectAdmins refuses to mute chat administrators.
	ProtectAdmins bool
}

func DefaultConfig() Config {
	return Config{
		MinDuration:    DefaultMinDuration,
		MaxDuration:    DefaultMaxDuration,
		CommandTimeout: DefaultCommandTimeout,
		ProtectAdmins:  true,
	}
}

func (c Config) withDefaults() Config {
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	return c
}

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRemoteFailure
)

func (k OutcomeKind) String() string {
	if k == OutcomeOK {
		return "ok"
	}
	return "remote_failure"
}

// Outcome is the result of a platform call made after local bookkeeping.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeRemoteFailure, Err: err}
	}
	return Outcome{Kind: OutcomeOK}
}

func (o Outcome) OK() bool { return o.Kind == OutcomeOK }

type Service struct {
	reg      *restrict.Registry
	platform kit.Moderator
	clock    restrict.Clock
	log      logx.Logger
	started  time.Time

	mu          sync.RWMutex
	cfg         Config
	store       storage.Store
	storeDriver string
	baseCtx     context.Context
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg.withDefaults() }
}

// WithStore enables audit rows; driver is only shown by /status.
func WithStore(st storage.Store, driver string) Option {
	return func(s *Service) {
		s.store = st
		s.storeDriver = driver
	}
}

// WithClock must be the clock the registry uses.
func WithClock(c restrict.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New wires the service and installs its auto-expiry hook on reg.
func New(reg *restrict.Registry, platform kit.Moderator, opts ...Option) *Service {
	s := &Service{
		reg:      reg,
		platform: platform,
		clock:    restrict.RealClock(),
		cfg:      DefaultConfig(),
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.started = s.clock.Now()
	reg.SetOnExpire(s.onExpire)
	return s
}

// Bind sets the context auto-expiry calls derive from. Cancel it on shutdown.
func (s *Service) Bind(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetStore swaps the audit store (nil disables auditing).
func (s *Service) SetStore(st storage.Store, driver string) {
	s.mu.Lock()
	s.store = st
	s.storeDriver = driver
	s.mu.Unlock()
}

func (s *Service) storeSnapshot() (storage.Store, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store, s.storeDriver
}

// onExpire runs on the timer goroutine after the registry removed r.
func (s *Service) onExpire(r restrict.Restriction) {
	s.mu.RLock()
	base, timeout := s.baseCtx, s.cfg.CommandTimeout
	s.mu.RUnlock()
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	out := outcomeOf(s.platform.RestorePosting(ctx, r.GroupID, r.SubjectID))
	log := s.log.With(
		logx.String("id", r.ID),
		logx.Int64("subject", r.SubjectID),
		logx.Int64("group", r.GroupID),
	)
	if out.OK() {
		log.Info("auto-unmute done")
	} else {
		log.Error("auto-unmute failed", logx.Err(out.Err))
	}
	s.reassertNewer(ctx, r, log)
	s.audit(ctx, storage.AuditEntry{
		ChatID:        r.GroupID,
		Action:        storage.ActionAutoUnmute,
		TargetID:      r.SubjectID,
		TargetName:    r.DisplayName,
		RestrictionID: r.ID,
		DurationSec:   int64(r.Duration() / time.Second),
	}, out)
}

// reassertNewer re-sends the restriction of a newer Apply in the same group.
// A /block issued while the restore for r was in flight may have reached the
// platform before that restore did.
func (s *Service) reassertNewer(ctx context.Context, r restrict.Restriction, log logx.Logger) {
	cur, ok := s.reg.Get(r.SubjectID)
	if !ok || cur.ID == r.ID || cur.GroupID != r.GroupID {
		return
	}
	if err := s.platform.RestrictPosting(ctx, cur.GroupID, cur.SubjectID, cur.ExpiresAt); err != nil {
		log.Error("re-restrict after auto-unmute failed", logx.String("current_id", cur.ID), logx.Err(err))
		return
	}
	log.Info("newer restriction re-asserted", logx.String("current_id", cur.ID))
}

// audit writes one row. Storage failures are logged, never returned.
func (s *Service) audit(ctx context.Context, e storage.AuditEntry, out Outcome) {
	st, _ := s.storeSnapshot()
	if st == nil {
		return
	}
	e.At = s.clock.Now()
	e.OK = out.OK()
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", string(e.Action)), logx.Err(err))
	}
}

// checkDuration reports whether seconds is inside the configured bounds.
func (c Config) checkDuration(seconds int64) error {
	d := time.Duration(seconds) * time.Second
	if seconds <= 0 || seconds > int64(c.MaxDuration/time.Second) {
		return fmt.Errorf("duration %ds outside [%s, %s]", seconds, c.MinDuration, c.MaxDuration)
	}
	if d < c.MinDuration {
		return fmt.Errorf("duration %s below minimum %s", d, c.MinDuration)
	}
	return nil
}
