package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message as seen by the router.
// The session identifier for this bot is ChatID.
type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // telegram forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	// ChatFirstName is the private chat's first name (empty for groups).
	ChatFirstName string
	Text          string
	IsGroup       bool
}

// DisplayName is the name greetings should use.
func (m *Message) DisplayName() string {
	if m == nil {
		return ""
	}
	if m.ChatFirstName != "" {
		return m.ChatFirstName
	}
	if m.FromFirstName != "" {
		return m.FromFirstName
	}
	return m.FromUsername
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Parse modes understood by the adapter.
const (
	ParseModePlain = ""
	ParseModeHTML  = "HTML"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
