// Package fetcher turns a URL into files inside a target directory.
//
// Every driver writes only below the dir passed to Fetch; none of them
// touches the process working directory.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "dlbot/pkg/logx"
)

var ErrUnsupported = errors.New("unsupported fetcher")

// Fetcher downloads url into dir.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) (Result, error)
}

// Result describes a finished download. Size is 0 when unknown.
type Result struct {
	Title string
	Files []string
	Size  int64
	Took  time.Duration
}

// Error is returned by drivers for any failed fetch. Description is one
// human-readable line; Output holds raw tool output when there is any.
type Error struct {
	URL         string
	Description string
	Output      string
	Err         error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "fetch failed"
}

func (e *Error) Unwrap() error { return e.Err }

// Detail is the text shown to the user: description plus output tail.
func (e *Error) Detail() string {
	d := e.Error()
	out := strings.TrimSpace(e.Output)
	switch {
	case out == "":
		return d
	case strings.Contains(out, d):
		return out
	default:
		return d + "\n\n" + out
	}
}

type Config struct {
	Driver    string
	YtdlpPath string
	YtdlpArgs []string
	// UserAgent is sent by the HTTP driver.
	UserAgent string
}

// Open returns the configured driver.
func Open(cfg Config, log logx.Logger) (Fetcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "fetcher"))
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "ytdlp", "yt-dlp":
		return NewYtdlp(cfg.YtdlpPath, cfg.YtdlpArgs, log), nil
	case "http":
		return NewHTTP(nil, cfg.UserAgent, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, d)
	}
}
