package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dlbot/internal/auth"
	"dlbot/internal/download"
	"dlbot/internal/session"
	"dlbot/internal/task/queue"
	kit "dlbot/internal/transport"
	logx "dlbot/pkg/logx"
	"dlbot/pkg/tgui"
)

const (
	msgNotAuthenticated = "You need to be authenticated to do this"
	msgWrongSecret      = "Nope"
	msgBye              = "Ok, bye!"
	msgUnknownText      = "Sorry, I don't know what to do with that. Send me a link or see /help"
	msgUnknownCommand   = "Unknown command. See /help"
	msgQueueUnavailable = "Downloads are not accepted right now, try again later"
	msgInternalError    = "Something went wrong, try again later"
)

// Submitter is the part of the task queue the router needs.
type Submitter interface {
	Submit(t queue.Task) (string, error)
}

// Command is a registered slash command.
type Command struct {
	Name        string
	Usage       string
	Description string
	// Args is the exact number of arguments, or -1 for any.
	Args int
	// Private commands run behind RequireAuth.
	Private bool
	Handle  HandlerFunc
}

type Deps struct {
	Logger    logx.Logger
	Sender    tgui.Sender
	Store     session.Store
	Gate      *auth.Gate
	Downloads *download.Runner
	Queue     Submitter
	// HandlerTimeout bounds a single handler. Zero means 30s.
	HandlerTimeout time.Duration
}

// CommandManager routes updates to commands. It handles one update at a time;
// the slow part of a download runs on the queue, not here.
type CommandManager struct {
	log     logx.Logger
	deps    Deps
	timeout time.Duration

	cmds     map[string]Command
	fallback HandlerFunc
}

func NewCommandManager(d Deps) *CommandManager {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := d.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := &CommandManager{
		log:     log.With(logx.String("comp", "router")),
		deps:    d,
		timeout: timeout,
		cmds:    map[string]Command{},
	}
	m.register()
	return m
}

func (m *CommandManager) register() {
	for _, c := range []Command{
		{Name: "start", Usage: "/start", Description: "Say hello", Args: -1, Handle: m.cmdStart},
		{Name: "help", Usage: "/help", Description: "Show this help", Args: -1, Handle: m.cmdHelp},
		{Name: "auth", Usage: "/auth <secret>", Description: "Authenticate this chat", Args: 1, Handle: m.cmdAuth},
		{Name: "deauth", Usage: "/deauth", Description: "Drop authentication", Args: 0, Handle: m.cmdDeauth},
		{Name: "status", Usage: "/status", Description: "Show authentication status", Args: 0, Handle: m.cmdStatus},
		{Name: "download", Usage: "/download <url>", Description: "Download a link", Args: 1, Private: true, Handle: m.cmdDownload},
	} {
		c.Handle = m.wrap(c.Handle, c.Private, mwArgs(c))
		m.cmds[c.Name] = c
	}
	m.fallback = m.wrap(m.textDownload, true)
}

// mwArgs replies with the usage line when the argument count is wrong.
func mwArgs(c Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if c.Args >= 0 && len(req.Args) != c.Args {
				return req.Reply(ctx, "usage: "+c.Usage)
			}
			return next(ctx, req)
		}
	}
}

func (m *CommandManager) wrap(h HandlerFunc, private bool, inner ...Middleware) HandlerFunc {
	mws := []Middleware{
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		EnsureSession(m.deps.Store),
	}
	if private {
		mws = append(mws, RequireAuth(m.deps.Gate))
	}
	mws = append(mws, inner...)
	return Chain(h, mws...)
}

// Commands lists registered commands sorted by name.
func (m *CommandManager) Commands() []Command {
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			m.route(ctx, u)
		}
	}
}

func (m *CommandManager) route(ctx context.Context, u kit.Update) {
	if u.Kind != kit.UpdateMessage || u.Message == nil {
		return
	}
	msg := u.Message
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Text:    msg.Text,
		ReqID:   newReqID(),
		Sender:  m.deps.Sender,
	}

	h := m.fallback
	if name, args, ok := parseCommand(msg.Text); ok {
		req.Command, req.Args = name, args
		c, found := m.cmds[name]
		if !found {
			req.Logger = m.requestLogger(req)
			req.Logger.Debug("unknown command")
			m.reply(ctx, req, msgUnknownCommand)
			return
		}
		h = c.Handle
	}
	req.Logger = m.requestLogger(req)

	hctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := h(hctx, req); err != nil && !errors.Is(err, context.Canceled) {
		m.reply(ctx, req, msgInternalError)
	}
}

func (m *CommandManager) requestLogger(req *Request) logx.Logger {
	fields := []logx.Field{
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	}
	if req.Chat.ThreadID != 0 {
		fields = append(fields, logx.Int("thread_id", req.Chat.ThreadID))
	}
	if req.Command != "" {
		fields = append(fields, logx.String("cmd", req.Command))
	}
	return m.log.With(fields...)
}

func (m *CommandManager) reply(ctx context.Context, req *Request, text string) {
	if ctx.Err() != nil {
		return
	}
	if err := req.Reply(ctx, text); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (m *CommandManager) cmdStart(ctx context.Context, req *Request) error {
	name := req.DisplayName()
	if name == "" {
		name = "there"
	}
	return req.ReplyMessage(ctx, tgui.New().
		Line(fmt.Sprintf("Hi %s!", name)).
		Line("Authenticate with /auth <secret>, then send me links to download.").
		Build())
}

func (m *CommandManager) cmdHelp(ctx context.Context, req *Request) error {
	b := tgui.New().Title("Commands")
	for _, c := range m.Commands() {
		b.Cmd(c.Usage, c.Description)
	}
	b.Blank().Line("Any other message that is a http(s) link is downloaded as well.")
	return req.ReplyMessage(ctx, b.Build())
}

func (m *CommandManager) cmdAuth(ctx context.Context, req *Request) error {
	res, err := m.deps.Gate.Authenticate(ctx, req.Chat.ChatID, req.Args[0], req.DisplayName())
	if err != nil {
		return err
	}
	if !res.OK {
		return req.Reply(ctx, msgWrongSecret)
	}
	return req.Reply(ctx, res.Greeting)
}

func (m *CommandManager) cmdDeauth(ctx context.Context, req *Request) error {
	if err := m.deps.Gate.Deauthenticate(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	return req.Reply(ctx, msgBye)
}

func (m *CommandManager) cmdStatus(ctx context.Context, req *Request) error {
	st, err := m.deps.Gate.Status(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	name := req.DisplayName()
	if name == "" {
		name = "Hey"
	}
	return req.Reply(ctx, fmt.Sprintf("%s, you are %s", name, st))
}

// cmdDownload accepts any single argument; the fetcher reports unusable ones.
func (m *CommandManager) cmdDownload(ctx context.Context, req *Request) error {
	return m.enqueue(ctx, req, strings.TrimSpace(req.Args[0]))
}

func (m *CommandManager) textDownload(ctx context.Context, req *Request) error {
	u, ok := downloadURL(req.Text)
	if !ok {
		return req.Reply(ctx, msgUnknownText)
	}
	return m.enqueue(ctx, req, u)
}

func (m *CommandManager) enqueue(ctx context.Context, req *Request, url string) error {
	task := m.deps.Downloads.Task(download.Request{URL: url, ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID})
	id, err := m.deps.Queue.Submit(task)
	if err != nil {
		req.Logger.Warn("download not queued", logx.String("url", url), logx.Err(err))
		return req.Reply(ctx, msgQueueUnavailable)
	}
	req.Logger.Info("download queued", logx.String("task_id", id), logx.String("url", url))
	return nil
}
