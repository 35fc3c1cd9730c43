package session

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session store closed")
)

// Session is the per-chat record. IsAuthenticated is the only field the bot mutates.
type Session struct {
	ChatID          int64     `json:"chat_id"`
	IsAuthenticated bool      `json:"is_authenticated"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key is the string form of the session identifier used by key/value drivers.
func (s Session) Key() string { return Key(s.ChatID) }

func Key(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// Store is the persistence API. Get returns ErrNotFound for unknown chats.
type Store interface {
	Get(ctx context.Context, chatID int64) (Session, error)
	Put(ctx context.Context, s Session) error
	// Compact performs driver maintenance (journal folding, WAL checkpoint).
	Compact(ctx context.Context) error
	Close() error
}

// GetOrCreate returns the stored session for chatID, creating and persisting
// an unauthenticated one when absent. An existing session is never overwritten.
func GetOrCreate(ctx context.Context, st Store, chatID int64) (Session, bool, error) {
	s, err := st.Get(ctx, chatID)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, false, err
	}
	now := time.Now().UTC()
	s = Session{ChatID: chatID, CreatedAt: now, UpdatedAt: now}
	if err := st.Put(ctx, s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}
