package config

// Config is the whole process configuration.
//
// It is read from a JSON or YAML file and then overlaid with environment
// variables (see env.go). Secrets (telegram.token, auth.secret,
// storage.redis_password) are never logged.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Auth     AuthConfig     `json:"auth"`
	Download DownloadConfig `json:"download"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives WARN+ log lines when logging.telegram.enabled is set.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type AuthConfig struct {
	Secret string `json:"secret"`
}

// DownloadConfig controls the media fetcher.
//
// Fetcher values:
//   - "ytdlp": run the yt-dlp binary (default)
//   - "http":  plain HTTP GET of the URL into Dir
type DownloadConfig struct {
	Dir       string   `json:"dir"`
	Fetcher   string   `json:"fetcher,omitempty"`
	YtdlpPath string   `json:"ytdlp_path,omitempty"`
	YtdlpArgs []string `json:"ytdlp_args,omitempty"`
	// Timeout bounds a single fetch (Go duration string). "0s" or empty = unbounded.
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig selects the session store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/sessions.db" }
type StorageConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	// CacheTTL is the read-through cache lifetime. "0s" disables the cache.
	CacheTTL string `json:"cache_ttl,omitempty"`
	// CompactSchedule triggers store maintenance (cron spec or interval). "off" disables it.
	CompactSchedule string `json:"compact_schedule,omitempty"`
}

type QueueConfig struct {
	Workers     int `json:"workers,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
