package session

import (
	"fmt"
	"strings"
	"time"

	logx "dlbot/pkg/logx"
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 = driver default

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CacheTTL > 0 enables the read-through cache.
	CacheTTL time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "session"))

	var (
		st  Store
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "redis":
		st, err = openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unknown session store driver: %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 {
		st = NewCached(st, cfg.CacheTTL)
	}
	log.Info("session store opened",
		logx.String("driver", cfg.Driver),
		logx.Duration("cache_ttl", cfg.CacheTTL),
	)
	return st, nil
}
