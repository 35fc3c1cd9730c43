package tgui

import (
	"regexp"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, with "…" appended when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// TailRunes keeps the last n runes of s, prefixed with "…" when cut.
func TailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := len(s)
	for k := 0; k < n; k++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return "…" + s[i:]
}

// escapedLen is the rune count of r after html.EscapeString.
func escapedLen(r rune) int {
	switch r {
	case '<', '>':
		return 4
	case '&', '\'', '"':
		return 5
	}
	return 1
}

// TailEscaped keeps the longest tail of s whose HTML-escaped form, including
// the "…" prefix added when cut, is at most n runes.
func TailEscaped(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := 0
	for _, r := range s {
		total += escapedLen(r)
	}
	if total <= n {
		return s
	}
	budget := n - 1
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if budget < escapedLen(r) {
			break
		}
		budget -= escapedLen(r)
		i -= size
	}
	return "…" + s[i:]
}

// ansiRe matches CSI sequences (colors, cursor moves), OSC sequences
// terminated by BEL or ST, and two-byte ESC sequences.
var ansiRe = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal styling so tool output renders as plain text.
// Lone carriage returns (progress redraws) become newlines.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			c = '\n'
		}
		out = append(out, c)
	}
	return string(out)
}
