package supervisor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	logx "psarbot/pkg/logx"
)

// healthyRun is how long a task must survive before its backoff resets.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max     time.Duration
	restartClean bool
}

// WithRestartBackoff sets the doubling backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithRestartOnCleanExit restarts fn even when it returns nil.
func WithRestartOnCleanExit() RestartOption {
	return func(p *restartPolicy) { p.restartClean = true }
}

type backoff struct {
	policy  restartPolicy
	current time.Duration
}

// next returns the current delay plus up to 20% jitter and doubles the base.
func (b *backoff) next() time.Duration {
	d := b.current
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int64N(j + 1))
	}
	b.current = min(b.current*2, b.policy.max)
	return d
}

func (b *backoff) reset() { b.current = b.policy.min }

// GoRestart keeps fn running until the supervisor is canceled: a failure or
// panic restarts it after a backoff. A nil return ends the task unless
// WithRestartOnCleanExit is set. Failures are logged, never recorded as the
// supervisor error.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)
	b := &backoff{policy: p, current: p.min}

	s.Run(name, func(ctx context.Context) {
		for {
			started := time.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if !p.restartClean {
					return
				}
				err = errors.New("exited")
			}
			if time.Since(started) >= healthyRun {
				b.reset()
			}

			wait := b.next()
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}
