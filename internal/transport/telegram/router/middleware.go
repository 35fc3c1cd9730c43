package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"dlbot/internal/session"
	logx "dlbot/pkg/logx"
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

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				logger.Warn("request failed", logx.Err(err), logx.Duration("dur", d))
				return err
			}
			if d >= 750*time.Millisecond {
				logger.Info("request ok", logx.Duration("dur", d))
			} else {
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// EnsureSession loads the chat's session, creating it when absent, and
// stores it on the request before calling next.
func EnsureSession(store session.Store) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			s, created, err := session.GetOrCreate(ctx, store, req.Chat.ChatID)
			if err != nil {
				return fmt.Errorf("ensure session: %w", err)
			}
			if created {
				req.Logger.Info("session created")
			}
			req.Session = s
			return next(ctx, req)
		}
	}
}

// Authorizer is the part of the auth gate RequireAuth needs.
type Authorizer interface {
	RequireAuth(ctx context.Context, chatID int64) (bool, error)
}

// RequireAuth short-circuits unauthenticated chats with a single reply.
// The authorizer creates missing sessions itself, so it may run before or
// after EnsureSession.
func RequireAuth(a Authorizer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ok, err := a.RequireAuth(ctx, req.Chat.ChatID)
			if err != nil {
				return fmt.Errorf("require auth: %w", err)
			}
			if !ok {
				req.Logger.Debug("rejected: not authenticated")
				return req.Reply(ctx, msgNotAuthenticated)
			}
			return next(ctx, req)
		}
	}
}
