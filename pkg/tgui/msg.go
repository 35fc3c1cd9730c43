package tgui

import (
	"context"
	"strings"

	kit "dlbot/internal/transport"
)

// Sender is the part of the transport a Message needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Message is rendered text plus its send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, s Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return s.SendText(ctx, to, m.Text, m.Opt)
}

// Builder assembles a message line by line.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	parseMode      string
	disablePreview bool
	lines          []string
}

func New() *Builder {
	return &Builder{parseMode: kit.ParseModeHTML, disablePreview: true}
}

// Plain builds a message without parse mode; nothing is escaped.
func Plain() *Builder {
	return &Builder{parseMode: kit.ParseModePlain, disablePreview: true}
}

func (b *Builder) html() bool { return strings.EqualFold(b.parseMode, kit.ParseModeHTML) }

func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Title adds a bold title line.
func (b *Builder) Title(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if b.html() {
		b.lines = append(b.lines, B(t).String())
	} else {
		b.lines = append(b.lines, t)
	}
	return b
}

// Line adds a single line, escaping when ParseMode is HTML.
func (b *Builder) Line(s string) *Builder {
	if b.html() {
		b.lines = append(b.lines, Esc(s).String())
	} else {
		b.lines = append(b.lines, s)
	}
	return b
}

// RawLine appends a line without escaping.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.RawLine("") }

// Cmd adds "/name args - description" with the command in <code>.
func (b *Builder) Cmd(usage, desc string) *Builder {
	if !b.html() {
		return b.RawLine(usage + " - " + desc)
	}
	return b.RawLine(Code(usage).String() + " - " + Esc(desc).String())
}

// Pre adds a preformatted block (plain text fallback without HTML).
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	if b.html() {
		b.lines = append(b.lines, Pre(code).String())
	} else {
		b.lines = append(b.lines, code)
	}
	return b
}

func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return Message{Text: text, Opt: &kit.SendOptions{ParseMode: b.parseMode, DisablePreview: b.disablePreview}}
}
