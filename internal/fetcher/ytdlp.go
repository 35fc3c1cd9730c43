package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	logx "dlbot/pkg/logx"
)

// maxOutputTail bounds how much tool output is kept for error reports.
const maxOutputTail = 3000

// Ytdlp runs the yt-dlp binary.
type Ytdlp struct {
	path  string
	extra []string
	log   logx.Logger
}

func NewYtdlp(path string, extra []string, log logx.Logger) *Ytdlp {
	if strings.TrimSpace(path) == "" {
		path = "yt-dlp"
	}
	return &Ytdlp{path: path, extra: extra, log: log}
}

func (y *Ytdlp) args(url, dir string) []string {
	args := []string{
		"--no-progress",
		"--no-simulate",
		"--restrict-filenames",
		"-P", dir,
		"--print", "after_move:filepath",
	}
	args = append(args, y.extra...)
	return append(args, "--", url)
}

func (y *Ytdlp) Fetch(ctx context.Context, url, dir string) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, y.path, y.args(url, dir)...)
	cmd.Dir = dir
	// Let yt-dlp clean up its .part files on cancel before it is killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.log.Debug("yt-dlp started", logx.String("url", url), logx.String("dir", dir))
	err := cmd.Run()
	took := time.Since(start)
	if err != nil {
		out := tail(stderr.String(), maxOutputTail)
		fe := &Error{URL: url, Description: describeYtdlpFailure(out, err), Output: out, Err: err}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fe.Err = ctxErr
			fe.Description = ctxErr.Error()
		}
		return Result{Took: took}, fe
	}

	res := Result{Took: took}
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		p := strings.TrimSpace(sc.Text())
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		res.Files = append(res.Files, p)
		if fi, err := os.Stat(p); err == nil {
			res.Size += fi.Size()
		}
	}
	if len(res.Files) > 0 {
		base := filepath.Base(res.Files[0])
		res.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	y.log.Info("yt-dlp finished",
		logx.String("url", url),
		logx.Int("files", len(res.Files)),
		logx.String("size", humanize.Bytes(uint64(res.Size))),
		logx.Duration("took", took),
	)
	return res, nil
}

// describeYtdlpFailure picks the last "ERROR:" line, falling back to the exit status.
func describeYtdlpFailure(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "ERROR:") {
			return l
		}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return "yt-dlp exited with status " + strconv.Itoa(ee.ExitCode())
	}
	return err.Error()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
