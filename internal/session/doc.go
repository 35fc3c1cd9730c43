// Package session persists per-chat bot state.
//
// A Session is created lazily on the first update from a chat and never
// deleted. Drivers:
//   - "file":   snapshot + JSON Lines journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis":  one key per chat
//
// Open wraps the driver in an in-process read-through cache when a cache TTL is set.
package session
