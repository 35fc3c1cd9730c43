package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	logx "dlbot/pkg/logx"
)

// HTTP downloads the URL body as a single file.
type HTTP struct {
	client    *http.Client
	userAgent string
	log       logx.Logger
}

// NewHTTP uses client, or a client without overall timeout when nil;
// the fetch context bounds the transfer.
func NewHTTP(client *http.Client, userAgent string, log logx.Logger) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = "dlbot/1.0"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{client: client, userAgent: userAgent, log: log}
}

func (h *HTTP) Fetch(ctx context.Context, rawURL, dir string) (Result, error) {
	start := time.Now()
	fail := func(desc string, err error) (Result, error) {
		return Result{Took: time.Since(start)}, &Error{URL: rawURL, Description: desc, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail("invalid url: "+err.Error(), err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return fail(err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		desc := fmt.Sprintf("HTTP %s", resp.Status)
		return Result{Took: time.Since(start)}, &Error{
			URL:         rawURL,
			Description: desc,
			Output:      strings.TrimSpace(string(body)),
			Err:         fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	name := fileName(resp, rawURL)
	final := filepath.Join(dir, name)
	tmp := final + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fail(err.Error(), err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fail(err.Error(), err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fail(err.Error(), err)
	}

	took := time.Since(start)
	h.log.Info("http fetch finished",
		logx.String("url", rawURL),
		logx.String("file", name),
		logx.String("size", humanize.Bytes(uint64(n))),
		logx.Duration("took", took),
	)
	return Result{
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
		Files: []string{final},
		Size:  n,
		Took:  took,
	}, nil
}

// fileName prefers Content-Disposition, then the last URL path segment.
func fileName(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if n := sanitizeName(params["filename"]); n != "" {
				return n
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if n := sanitizeName(path.Base(u.Path)); n != "" {
			return n
		}
	}
	return fmt.Sprintf("download-%d", time.Now().Unix())
}

func sanitizeName(n string) string {
	n = filepath.Base(strings.ReplaceAll(n, "\\", "/"))
	n = strings.TrimSpace(n)
	switch n {
	case "", ".", "..", "/":
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, n)
}
