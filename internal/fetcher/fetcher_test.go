package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	logx "dlbot/pkg/logx"
)

func TestHTTPFetchWritesIntoDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	res, err := NewHTTP(srv.Client(), "", logx.Nop()).Fetch(context.Background(), srv.URL+"/v/ignored", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Size != 10 || res.Title != "clip" || len(res.Files) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if filepath.Dir(res.Files[0]) != dir {
		t.Fatalf("file outside dir: %s", res.Files[0])
	}
	b, err := os.ReadFile(res.Files[0])
	if err != nil || string(b) != "0123456789" {
		t.Fatalf("content = %q err=%v", b, err)
	}
	if _, err := os.Stat(res.Files[0] + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestHTTPFetchNameFromPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	res, err := NewHTTP(srv.Client(), "", logx.Nop()).Fetch(context.Background(), srv.URL+"/media/song.mp3?sig=1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(res.Files[0]) != "song.mp3" {
		t.Fatalf("file = %s", res.Files[0])
	}
}

func TestHTTPFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.Client(), "", logx.Nop()).Fetch(context.Background(), srv.URL+"/x", t.TempDir())
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if !strings.Contains(fe.Description, "404") || !strings.Contains(fe.Detail(), "gone fishing") {
		t.Fatalf("error = %+v", fe)
	}
}

func TestHTTPFetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTP(srv.Client(), "", logx.Nop()).Fetch(ctx, srv.URL, t.TempDir())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available")
	}
	p := filepath.Join(t.TempDir(), "fake-yt-dlp")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestYtdlpSuccess(t *testing.T) {
	bin := writeScript(t, "printf 'hello' > video.mp4\necho video.mp4\n")
	dir := t.TempDir()
	res, err := NewYtdlp(bin, nil, logx.Nop()).Fetch(context.Background(), "https://x.test/v", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0] != filepath.Join(dir, "video.mp4") {
		t.Fatalf("files = %v", res.Files)
	}
	if res.Size != 5 || res.Title != "video" {
		t.Fatalf("result = %+v", res)
	}
}

func TestYtdlpFailureCarriesErrorLine(t *testing.T) {
	bin := writeScript(t, "echo '[generic] x: Requesting header' >&2\necho 'ERROR: Unsupported URL: https://x.test/v' >&2\nexit 1\n")
	_, err := NewYtdlp(bin, nil, logx.Nop()).Fetch(context.Background(), "https://x.test/v", t.TempDir())
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if fe.Description != "ERROR: Unsupported URL: https://x.test/v" {
		t.Fatalf("description = %q", fe.Description)
	}
	if !strings.Contains(fe.Output, "Requesting header") {
		t.Fatalf("output = %q", fe.Output)
	}
}

func TestYtdlpArgsKeepURLLast(t *testing.T) {
	y := NewYtdlp("", []string{"-f", "best"}, logx.Nop())
	args := y.args("-not-a-flag", "/dl")
	if args[len(args)-2] != "--" || args[len(args)-1] != "-not-a-flag" {
		t.Fatalf("args = %v", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-P /dl") || !strings.Contains(joined, "-f best") {
		t.Fatalf("args = %v", args)
	}
}

func TestErrorDetail(t *testing.T) {
	cases := []struct {
		e    Error
		want string
	}{
		{Error{Description: "boom"}, "boom"},
		{Error{Description: "ERROR: x", Output: "line\nERROR: x"}, "line\nERROR: x"},
		{Error{Description: "HTTP 500", Output: "oops"}, "HTTP 500\n\noops"},
		{Error{Err: errors.New("raw")}, "raw"},
	}
	for _, tc := range cases {
		if got := tc.e.Detail(); got != tc.want {
			t.Fatalf("Detail() = %q, want %q", got, tc.want)
		}
	}
}

func TestTail(t *testing.T) {
	s := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	if got := tail(s, 15); got != strings.Repeat("b", 10) {
		t.Fatalf("tail = %q", got)
	}
	if got := tail("short", 15); got != "short" {
		t.Fatalf("tail = %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "ftp"}, logx.Nop()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
