package restrict

import (
	"iter"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"psarbot/internal/eventbus"
	logx "psarbot/pkg/logx"
)

// Event types published on the bus.
const (
	EventApplied     = "restrict.applied"
	EventLifted      = "restrict.lifted"
	EventAutoExpired = "restrict.auto_expired"
)

// maxSeconds is the longest restriction a time.Duration can express.
const maxSeconds = int64(math.MaxInt64 / time.Second)

// Restriction is one active posting restriction.
type Restriction struct {
	// ID is unique per Apply; a re-applied subject gets a new ID.
	ID          string
	SubjectID   int64
	GroupID     int64
	DisplayName string
	AppliedAt   time.Time
	ExpiresAt   time.Time
}

// Remaining is the time left until expiry (never negative).
func (r Restriction) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RemainingSeconds rounds Remaining up so an active entry never shows 0.
func (r Restriction) RemainingSeconds(now time.Time) int64 {
	return ceilSeconds(r.Remaining(now))
}

// Duration is the length requested at Apply time.
func (r Restriction) Duration() time.Duration { return r.ExpiresAt.Sub(r.AppliedAt) }

// Stats are best-effort counters for operational output.
type Stats struct {
	Active      int
	Applied     uint64
	Replaced    uint64
	Lifted      uint64
	AutoExpired uint64
}

type entry struct {
	r     Restriction
	timer Timer
	// gen identifies the Apply that armed timer; a callback carrying an
	// older gen lost a race with a replace and must do nothing.
	gen uint64
}

// Registry tracks active restrictions and lifts each one exactly once,
// either through Lift or when its timer fires.
//
// One mutex covers lookup, timer cancel/arm and map mutation. Logging,
// bus publishing and the OnExpire hook always run after it is released.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	gen     uint64
	stats   Stats

	clock    Clock
	log      logx.Logger
	bus      eventbus.Publisher
	onExpire func(Restriction)
}

type Option func(*Registry)

func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithBus(bus eventbus.Publisher) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithOnExpire installs a hook called after a timer removed an entry.
// It runs on the timer's goroutine without the registry lock held.
func WithOnExpire(fn func(Restriction)) Option {
	return func(r *Registry) { r.onExpire = fn }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: map[int64]*entry{},
		clock:   RealClock(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// SetOnExpire replaces the expiry hook. Used when the hook's owner is built
// after the registry.
func (r *Registry) SetOnExpire(fn func(Restriction)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// Apply registers a restriction for subjectID lasting seconds and arms its
// expiry timer. An existing restriction for the same subject is replaced and
// its timer canceled.
//
// Callers are expected to reject non-positive durations; if one slips through
// the entry simply expires on the next timer tick. Durations beyond what
// time.Duration holds (about 292 years) are clamped to maxSeconds.
func (r *Registry) Apply(subjectID, groupID, seconds int64, displayName string) Restriction {
	now := r.clock.Now()
	d := time.Duration(min(seconds, maxSeconds)) * time.Second
	res := Restriction{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		GroupID:     groupID,
		DisplayName: displayName,
		AppliedAt:   now,
		ExpiresAt:   now.Add(d),
	}

	r.mu.Lock()
	prev, replaced := r.entries[subjectID]
	if replaced {
		prev.timer.Stop()
		r.stats.Replaced++
	}
	r.gen++
	gen := r.gen
	e := &entry{r: res, gen: gen}
	e.timer = r.clock.AfterFunc(max(d, 0), func() { r.expire(subjectID, gen) })
	r.entries[subjectID] = e
	r.stats.Applied++
	r.mu.Unlock()

	fields := []logx.Field{
		logx.String("id", res.ID),
		logx.Int64("subject", subjectID),
		logx.Int64("group", groupID),
		logx.Duration("duration", d),
		logx.Time("expires_at", res.ExpiresAt),
	}
	if replaced {
		fields = append(fields, logx.String("replaced_id", prev.r.ID))
	}
	r.log.Info("restriction applied", fields...)
	r.publish(EventApplied, res)
	return res
}

// Lift removes the restriction for subjectID and cancels its timer.
// It reports false when nothing was active.
func (r *Registry) Lift(subjectID int64) (Restriction, bool) {
	return r.liftMatching(subjectID, func(*entry) bool { return true })
}

// LiftIn is Lift limited to a restriction applied in groupID, so a command
// in one group cannot clear bookkeeping for another.
func (r *Registry) LiftIn(subjectID, groupID int64) (Restriction, bool) {
	return r.liftMatching(subjectID, func(e *entry) bool { return e.r.GroupID == groupID })
}

func (r *Registry) liftMatching(subjectID int64, match func(*entry) bool) (Restriction, bool) {
	r.mu.Lock()
	e, ok := r.entries[subjectID]
	if !ok || !match(e) {
		r.mu.Unlock()
		return Restriction{}, false
	}
	e.timer.Stop()
	delete(r.entries, subjectID)
	r.stats.Lifted++
	r.mu.Unlock()

	r.log.Info("restriction lifted",
		logx.String("id", e.r.ID),
		logx.Int64("subject", subjectID),
		logx.Int64("group", e.r.GroupID),
		logx.Duration("remaining", e.r.Remaining(r.clock.Now())),
	)
	r.publish(EventLifted, e.r)
	return e.r, true
}

// AutoExpire removes the restriction for subjectID as if its timer had
// fired. It is a no-op when nothing is active, e.g. after a concurrent Lift.
func (r *Registry) AutoExpire(subjectID int64) (Restriction, bool) {
	return r.expireMatching(subjectID, func(*entry) bool { return true })
}

// expire is the timer callback. gen pins it to the Apply that armed it.
func (r *Registry) expire(subjectID int64, gen uint64) {
	_, ok := r.expireMatching(subjectID, func(e *entry) bool { return e.gen == gen })
	if !ok {
		r.log.Debug("stale expiry timer ignored", logx.Int64("subject", subjectID), logx.Uint64("gen", gen))
	}
}

func (r *Registry) expireMatching(subjectID int64, match func(*entry) bool) (Restriction, bool) {
	r.mu.Lock()
	e, ok := r.entries[subjectID]
	if !ok || !match(e) {
		r.mu.Unlock()
		return Restriction{}, false
	}
	e.timer.Stop()
	delete(r.entries, subjectID)
	r.stats.AutoExpired++
	hook := r.onExpire
	r.mu.Unlock()

	r.log.Info("restriction auto-expired",
		logx.String("id", e.r.ID),
		logx.Int64("subject", subjectID),
		logx.Int64("group", e.r.GroupID),
	)
	r.publish(EventAutoExpired, e.r)
	if hook != nil {
		hook(e.r)
	}
	return e.r, true
}

// Get returns the active restriction for subjectID, if any.
func (r *Registry) Get(subjectID int64) (Restriction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[subjectID]
	if !ok {
		return Restriction{}, false
	}
	return e.r, true
}

// List yields the group's restrictions that have not expired yet, soonest
// expiry first. Each range over the sequence reads the current state.
func (r *Registry) List(groupID int64) iter.Seq[Restriction] {
	return func(yield func(Restriction) bool) {
		now := r.clock.Now()
		r.mu.Lock()
		snap := make([]Restriction, 0, len(r.entries))
		for _, e := range r.entries {
			if e.r.GroupID == groupID && e.r.ExpiresAt.After(now) {
				snap = append(snap, e.r)
			}
		}
		r.mu.Unlock()

		sort.Slice(snap, func(i, j int) bool {
			if !snap[i].ExpiresAt.Equal(snap[j].ExpiresAt) {
				return snap[i].ExpiresAt.Before(snap[j].ExpiresAt)
			}
			return snap[i].SubjectID < snap[j].SubjectID
		})
		for _, res := range snap {
			if !yield(res) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.Active = len(r.entries)
	return st
}

// Close cancels every pending timer and forgets all entries. Platform-side
// restrictions keep their own until date, so nothing is lifted remotely.
func (r *Registry) Close() {
	r.mu.Lock()
	n := len(r.entries)
	for id, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if n > 0 {
		r.log.Info("registry closed", logx.Int("dropped", n))
	}
}

func (r *Registry) publish(typ string, res Restriction) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: res})
}
