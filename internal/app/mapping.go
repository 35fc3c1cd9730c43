package app

import (
	"strings"
	"time"

	"dlbot/internal/config"
	"dlbot/internal/download"
	"dlbot/internal/fetcher"
	"dlbot/internal/session"
	"dlbot/internal/task/queue"
)

// compactTimeout bounds one store maintenance run.
const compactTimeout = 5 * time.Minute

func sessionConfig(cfg *config.Config) (session.Config, error) {
	sc := cfg.Storage
	busy, err := cfg.StoreBusyTimeout()
	if err != nil {
		return session.Config{}, err
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Driver:        sc.Driver,
		Path:          sc.Path,
		BusyTimeout:   busy,
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		CacheTTL:      ttl,
	}, nil
}

func fetcherConfig(cfg *config.Config) fetcher.Config {
	return fetcher.Config{
		Driver:    cfg.Download.Fetcher,
		YtdlpPath: cfg.Download.YtdlpPath,
		YtdlpArgs: append([]string(nil), cfg.Download.YtdlpArgs...),
	}
}

func downloadConfig(cfg *config.Config) (download.Config, error) {
	timeout, err := cfg.FetchTimeout()
	if err != nil {
		return download.Config{}, err
	}
	return download.Config{Dir: cfg.Download.Dir, Timeout: timeout}, nil
}

func queueConfig(cfg *config.Config) queue.Config {
	return queue.Config{Workers: cfg.Queue.Workers, HistorySize: cfg.Queue.HistorySize}
}

// compactSchedule returns the maintenance schedule, or "" when disabled.
func compactSchedule(cfg *config.Config) string {
	s := strings.TrimSpace(cfg.Storage.CompactSchedule)
	if strings.EqualFold(s, "off") {
		return ""
	}
	return s
}

func fetcherChanged(old, new *config.Config) bool {
	a, b := old.Download, new.Download
	if a.Fetcher != b.Fetcher || a.YtdlpPath != b.YtdlpPath || len(a.YtdlpArgs) != len(b.YtdlpArgs) {
		return true
	}
	for i := range a.YtdlpArgs {
		if a.YtdlpArgs[i] != b.YtdlpArgs[i] {
			return true
		}
	}
	return false
}
