package router

import (
	"context"

	"dlbot/internal/session"
	kit "dlbot/internal/transport"
	logx "dlbot/pkg/logx"
	"dlbot/pkg/tgui"
)

// Request is one routed message.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64

	// Command is the matched command name without the slash, or "" for free text.
	Command string
	Args    []string
	Text    string
	ReqID   string

	// Session is set by EnsureSession.
	Session session.Session

	Logger logx.Logger
	Sender tgui.Sender
}

// DisplayName is the name used in greetings.
func (r *Request) DisplayName() string {
	if r.Message == nil {
		return ""
	}
	return r.Message.DisplayName()
}

// Reply sends plain text to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := tgui.Plain().Line(text).Build().Send(ctx, r.Sender, r.Chat)
	return err
}

// ReplyMessage sends a pre-built message to the originating chat.
func (r *Request) ReplyMessage(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Sender, r.Chat)
	return err
}
