package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the supported environment variables.
// A nil pointer means "not set"; set variables win over the file.
type envOverrides struct {
	Token           *string `env:"TELEGRAM_BOT_TOKEN"`
	LogChatID       *int64  `env:"LOG_CHAT_ID"`
	AuthSecret      *string `env:"AUTH_SECRET"`
	DownloadDir     *string `env:"DOWNLOAD_FOLDER"`
	Fetcher         *string `env:"DOWNLOAD_FETCHER"`
	YtdlpPath       *string `env:"YTDLP_PATH"`
	DownloadTimeout *string `env:"DOWNLOAD_TIMEOUT"`
	StoreDriver     *string `env:"SESSION_STORE_DRIVER"`
	StorePath       *string `env:"SESSION_STORE_PATH"`
	PicklePath      *string `env:"PICKLE_PERSISTENCE_LOCATION"`
	RedisAddr       *string `env:"REDIS_ADDR"`
	RedisPassword   *string `env:"REDIS_PASSWORD"`
	LogLevel        *string `env:"LOG_LEVEL"`
}

// OSEnviron returns the process environment as a map.
func OSEnviron() map[string]string { return env.ToMap(os.Environ()) }

// applyEnv overlays environment values onto cfg.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Telegram.Token, o.Token)
	if o.LogChatID != nil {
		cfg.Telegram.LogChatID = *o.LogChatID
	}
	set(&cfg.Auth.Secret, o.AuthSecret)
	set(&cfg.Download.Dir, o.DownloadDir)
	set(&cfg.Download.Fetcher, o.Fetcher)
	set(&cfg.Download.YtdlpPath, o.YtdlpPath)
	set(&cfg.Download.Timeout, o.DownloadTimeout)
	set(&cfg.Storage.Driver, o.StoreDriver)
	// PICKLE_PERSISTENCE_LOCATION is the legacy name; SESSION_STORE_PATH wins when both are set.
	set(&cfg.Storage.Path, o.PicklePath)
	set(&cfg.Storage.Path, o.StorePath)
	set(&cfg.Storage.RedisAddr, o.RedisAddr)
	set(&cfg.Storage.RedisPassword, o.RedisPassword)
	set(&cfg.Logging.Level, o.LogLevel)
	return nil
}
