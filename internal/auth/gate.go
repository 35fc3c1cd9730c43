// Package auth decides which chats may use privileged commands.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"dlbot/internal/session"
	logx "dlbot/pkg/logx"
)

// Status is the text /status reports for a chat.
type Status string

const (
	StatusAuthenticated    Status = "authenticated"
	StatusNotAuthenticated Status = "not authenticated"
)

// Result is the outcome of Authenticate. Greeting is only set on success.
type Result struct {
	OK       bool
	Greeting string
}

// Gate owns the isAuthenticated flag of every session.
type Gate struct {
	store session.Store
	log   logx.Logger

	secretMu sync.RWMutex
	secret   string

	// mu serializes read-modify-persist of sessions.
	mu sync.Mutex
}

// NewGate checks attempts against secret and keeps the outcome in store.
// An empty secret rejects every attempt.
func NewGate(store session.Store, secret string, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{store: store, secret: secret, log: log.With(logx.String("comp", "auth"))}
}

// SetSecret replaces the shared secret (config hot reload). Existing sessions keep their state.
func (g *Gate) SetSecret(secret string) {
	g.secretMu.Lock()
	g.secret = secret
	g.secretMu.Unlock()
}

func (g *Gate) matches(supplied string) bool {
	g.secretMu.RLock()
	want := g.secret
	g.secretMu.RUnlock()
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(want)) == 1
}

// Authenticate flips the session to authenticated iff supplied equals the
// configured secret. On mismatch the session is left untouched.
func (g *Gate) Authenticate(ctx context.Context, chatID int64, supplied, displayName string) (Result, error) {
	if !g.matches(supplied) {
		g.log.Debug("auth mismatch", logx.Int64("chat_id", chatID))
		return Result{}, nil
	}
	if err := g.setAuthenticated(ctx, chatID, true); err != nil {
		return Result{}, err
	}
	g.log.Info("chat authenticated", logx.Int64("chat_id", chatID))
	return Result{OK: true, Greeting: fmt.Sprintf("Ok %s, you are now authenticated", greetName(displayName))}, nil
}

// Deauthenticate always leaves the session unauthenticated.
func (g *Gate) Deauthenticate(ctx context.Context, chatID int64) error {
	if err := g.setAuthenticated(ctx, chatID, false); err != nil {
		return err
	}
	g.log.Info("chat deauthenticated", logx.Int64("chat_id", chatID))
	return nil
}

// Status reports the chat's authentication state, creating its session
// if needed.
func (g *Gate) Status(ctx context.Context, chatID int64) (Status, error) {
	ok, err := g.RequireAuth(ctx, chatID)
	if err != nil {
		return "", err
	}
	if ok {
		return StatusAuthenticated, nil
	}
	return StatusNotAuthenticated, nil
}

// RequireAuth reports whether chatID may run privileged operations.
// The session is created when missing, so it composes with EnsureSession in any order.
func (g *Gate) RequireAuth(ctx context.Context, chatID int64) (bool, error) {
	s, _, err := session.GetOrCreate(ctx, g.store, chatID)
	if err != nil {
		return false, err
	}
	return s.IsAuthenticated, nil
}

func (g *Gate) setAuthenticated(ctx context.Context, chatID int64, v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, _, err := session.GetOrCreate(ctx, g.store, chatID)
	if err != nil {
		return err
	}
	if s.IsAuthenticated == v {
		return nil
	}
	s.IsAuthenticated = v
	s.UpdatedAt = time.Now().UTC()
	if err := g.store.Put(ctx, s); err != nil {
		return fmt.Errorf("persist session %d: %w", chatID, err)
	}
	return nil
}

func greetName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "there"
	}
	return name
}
