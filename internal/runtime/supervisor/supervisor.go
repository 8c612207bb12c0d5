// Package supervisor runs named goroutines under one cancelable context,
// turning panics into errors and optionally restarting failed loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	logx "psarbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu      sync.Mutex
	running map[string]int
	err     error

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context when any task fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		log:     logx.Nop(),
		running: map[string]int{},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel stops the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first task failure, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Running lists the names of tasks that have not returned yet, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.running))
}

// Go starts fn. A returned error other than context.Canceled, or a panic,
// is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.track(name, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, -1)

		if err := s.call(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Run starts a task that cannot fail other than by panicking.
func (s *Supervisor) Run(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// call runs fn with the shared context and converts a panic to an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				logx.String("task", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) track(name string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.running[name] + delta; n > 0 {
		s.running[name] = n
	} else {
		delete(s.running, name)
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.log.Warn("task failed", logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels every task and waits for them.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task returned or ctx is done. On timeout the
// error names the tasks still running.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return fmt.Errorf("still running %v: %w", s.Running(), ctx.Err())
	}
}
