package housekeeping

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "psarbot/pkg/logx"
)

type fakePruner struct {
	mu     sync.Mutex
	before []time.Time
}

func (f *fakePruner) PruneAudit(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = append(f.before, before)
	return 3, nil
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.before)
}

func TestRunOnceUsesRetention(t *testing.T) {
	req := require.New(t)
	p := &fakePruner{}
	s := New(Config{Retention: 48 * time.Hour}, p, logx.Nop())
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	req.NoError(err)
	req.Equal(3, n)
	req.Equal([]time.Time{now.Add(-48 * time.Hour)}, p.before)
}

func TestRunOnceDisabled(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{}, p, logx.Nop())
	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, p.calls())

	s = New(Config{Retention: time.Hour}, nil, logx.Nop())
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestScheduleFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for cron ticks")
	}
	p := &fakePruner{}
	s := New(Config{Retention: time.Hour, Schedule: "@every 1s"}, p, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return p.calls() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	req := require.New(t)
	s := New(Config{Retention: time.Hour}, &fakePruner{}, logx.Nop())
	req.NoError(s.Start(context.Background()))

	req.Error(s.Apply(Config{Retention: time.Hour, Schedule: "not a schedule"}))
	// A failed restart leaves the service stopped; a good config starts it again.
	req.Error(s.Start(context.Background()))
	req.NoError(s.Apply(Config{Retention: time.Hour, Schedule: "@hourly"}))
	req.NoError(s.Start(context.Background()))
	s.Stop(context.Background())
}
