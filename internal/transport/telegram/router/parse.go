package router

import (
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var reqSeq uint64

func newReqID() string {
	// short, log-friendly id: base36 unix-millis + seq + random suffix
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	seq := strconv.FormatUint(atomic.AddUint64(&reqSeq, 1), 36)
	return ts + "-" + seq + "-" + strconv.FormatUint(rand.Uint64N(36*36*36), 36)
}

// parseCommand splits "/name@bot arg1 arg2" into its lowercase name and
// whitespace separated args. ok is false when text is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", nil, false
	}
	return strings.ToLower(head), fields[1:], true
}

// downloadURL reports whether text is a single absolute http(s) URL.
func downloadURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return "", false
	}
	u, err := url.ParseRequestURI(text)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	return text, true
}
