package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "psarbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Recover turns a handler panic into an error.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// LogRequests logs failures at WARN and requests slower than slow at INFO.
// Everything else goes to DEBUG.
func LogRequests(slow time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{logx.Duration("took", took), logx.Int("args", len(req.Args))}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slow:
				req.Logger.Info("command slow", fields...)
			default:
				req.Logger.Debug("command done", fields...)
			}
			return err
		}
	}
}
