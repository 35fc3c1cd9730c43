package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dlbot/internal/task/scheduler"
	logx "dlbot/pkg/logx"
)

var (
	ErrMissingToken  = errors.New("telegram.token is required (TELEGRAM_BOT_TOKEN)")
	ErrMissingSecret = errors.New("auth.secret is required (AUTH_SECRET)")
	ErrMissingDir    = errors.New("download.dir is required (DOWNLOAD_FOLDER)")
)

const (
	FetcherYtdlp = "ytdlp"
	FetcherHTTP  = "http"

	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// ApplyDefaults fills optional fields left empty by file and env.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	c.Download.Fetcher = strings.ToLower(strings.TrimSpace(c.Download.Fetcher))
	if c.Download.Fetcher == "" {
		c.Download.Fetcher = FetcherYtdlp
	}
	if c.Download.YtdlpPath == "" {
		c.Download.YtdlpPath = "yt-dlp"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case DriverSQLite:
			c.Storage.Path = "./data/sessions.db"
		case DriverFile:
			c.Storage.Path = "./data/sessions"
		}
	}
	if c.Storage.RedisAddr == "" && c.Storage.Driver == DriverRedis {
		c.Storage.RedisAddr = "localhost:6379"
	}
	if c.Storage.CacheTTL == "" {
		c.Storage.CacheTTL = "10m"
	}
	if c.Storage.CompactSchedule == "" {
		c.Storage.CompactSchedule = "@every 1h"
	}

	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.HistorySize <= 0 {
		c.Queue.HistorySize = 100
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !c.Logging.File.Enabled && !c.Logging.Telegram.Enabled {
		// nothing else would receive logs
		c.Logging.Console = true
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if strings.TrimSpace(c.Download.Dir) == "" {
		return ErrMissingDir
	}

	for _, get := range []func() (time.Duration, error){c.PollTimeout, c.FetchTimeout, c.StoreBusyTimeout, c.CacheTTL} {
		if _, err := get(); err != nil {
			return err
		}
	}

	switch c.Download.Fetcher {
	case FetcherYtdlp, FetcherHTTP:
	default:
		return fmt.Errorf("download.fetcher: unknown fetcher %q", c.Download.Fetcher)
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverRedis:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if s := strings.TrimSpace(c.Storage.CompactSchedule); s != "" && !strings.EqualFold(s, "off") {
		if err := scheduler.Validate(s); err != nil {
			return fmt.Errorf("storage.compact_schedule: %w", err)
		}
	}

	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Telegram.Enabled {
		if c.Telegram.LogChatID == 0 {
			return errors.New("logging.telegram.enabled requires telegram.log_chat_id (LOG_CHAT_ID)")
		}
		if lv := c.Logging.Telegram.MinLevel; lv != "" {
			if _, ok := logx.ParseLevel(lv); !ok {
				return fmt.Errorf("logging.telegram.min_level: unknown level %q", lv)
			}
		}
	}
	return nil
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled:    c.Logging.File.Enabled,
			Path:       c.Logging.File.Path,
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxBackups: c.Logging.File.MaxBackups,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			Compress:   c.Logging.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Telegram.LogChatID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

const defaultPollTimeout = 10 * time.Second

// PollTimeout is the long-poll timeout; unset means 10s.
func (c *Config) PollTimeout() (time.Duration, error) {
	d, err := durationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	if err == nil && d == 0 {
		d = defaultPollTimeout
	}
	return d, err
}

// FetchTimeout bounds one download; 0 means unbounded.
func (c *Config) FetchTimeout() (time.Duration, error) {
	return durationField("download.timeout", c.Download.Timeout)
}

func (c *Config) StoreBusyTimeout() (time.Duration, error) {
	return durationField("storage.busy_timeout", c.Storage.BusyTimeout)
}

// CacheTTL is the session cache lifetime. ApplyDefaults fills an empty
// value, so 0 here means the cache was disabled with "0s".
func (c *Config) CacheTTL() (time.Duration, error) {
	return durationField("storage.cache_ttl", c.Storage.CacheTTL)
}

// durationField parses a non-negative Go duration; blank is zero.
func durationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 30s, 5m)", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	}
	return d, nil
}
