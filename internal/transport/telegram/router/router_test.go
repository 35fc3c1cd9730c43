package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"dlbot/internal/auth"
	"dlbot/internal/download"
	"dlbot/internal/fetcher"
	"dlbot/internal/session"
	"dlbot/internal/task/queue"
	kit "dlbot/internal/transport"
	logx "dlbot/pkg/logx"
)

type memStore struct {
	mu sync.Mutex
	m  map[int64]session.Session
}

func newMemStore() *memStore { return &memStore{m: map[int64]session.Session{}} }

func (s *memStore) Get(_ context.Context, chatID int64) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[chatID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, v session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[v.ChatID] = v
	return nil
}

func (s *memStore) Compact(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

type recordingAdapter struct {
	mu    sync.Mutex
	texts []string
	menu  []kit.BotCommand
}

func (a *recordingAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.texts)}, nil
}

func (a *recordingAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = cmds
	a.mu.Unlock()
	return nil
}

func (a *recordingAdapter) take() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.texts
	a.texts = nil
	return out
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Submit(t queue.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, t)
	return "t1", nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type fetchFunc func(ctx context.Context, url, dir string) (fetcher.Result, error)

func (f fetchFunc) Fetch(ctx context.Context, url, dir string) (fetcher.Result, error) {
	return f(ctx, url, dir)
}

type harness struct {
	m      *CommandManager
	out    *recordingAdapter
	q      *recordingQueue
	store  *memStore
	gotURL chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{out: &recordingAdapter{}, q: &recordingQueue{}, store: newMemStore(), gotURL: make(chan string, 8)}
	f := fetchFunc(func(_ context.Context, url, _ string) (fetcher.Result, error) {
		h.gotURL <- url
		return fetcher.Result{Title: "x"}, nil
	})
	runner := download.NewRunner(f, h.out, download.Config{Dir: t.TempDir()}, logx.Nop(), nil)
	h.m = NewCommandManager(Deps{
		Logger:    logx.Nop(),
		Sender:    h.out,
		Store:     h.store,
		Gate:      auth.NewGate(h.store, "s3cret", logx.Nop()),
		Downloads: runner,
		Queue:     h.q,
	})
	return h
}

func (h *harness) send(text string) []string {
	h.m.route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: 42, FromID: 7, ChatFirstName: "Ana", Text: text,
	}})
	return h.out.take()
}

func expectOne(t *testing.T, got []string, want string) {
	t.Helper()
	if len(got) != 1 || got[0] != want {
		t.Fatalf("replies=%q, want exactly [%q]", got, want)
	}
}

func TestUnauthenticatedDownloadsAreRejected(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"/download https://example.com/a", "https://example.com/a"} {
		expectOne(t, h.send(text), msgNotAuthenticated)
	}
	if n := h.q.count(); n != 0 {
		t.Fatalf("enqueued %d tasks, want 0", n)
	}
	s, err := h.store.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if s.IsAuthenticated {
		t.Fatalf("session must stay unauthenticated")
	}
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)

	expectOne(t, h.send("/status"), "Ana, you are not authenticated")
	expectOne(t, h.send("/auth wrong"), msgWrongSecret)
	expectOne(t, h.send("/status"), "Ana, you are not authenticated")
	expectOne(t, h.send("/auth s3cret"), "Ok Ana, you are now authenticated")
	expectOne(t, h.send("/status"), "Ana, you are authenticated")
	expectOne(t, h.send("/auth wrong"), msgWrongSecret)
	expectOne(t, h.send("/status"), "Ana, you are authenticated")
	expectOne(t, h.send("/deauth"), msgBye)
	expectOne(t, h.send("/status"), "Ana, you are not authenticated")
	expectOne(t, h.send("/deauth"), msgBye)
}

func TestAuthenticatedURLIsQueued(t *testing.T) {
	h := newHarness(t)
	h.send("/auth s3cret")

	if got := h.send("https://example.com/video"); len(got) != 0 {
		t.Fatalf("unexpected replies %q", got)
	}
	if got := h.send("/download anything-goes"); len(got) != 0 {
		t.Fatalf("unexpected replies %q", got)
	}
	if n := h.q.count(); n != 2 {
		t.Fatalf("enqueued=%d want 2", n)
	}

	if err := h.q.tasks[0].Run(context.Background()); err != nil {
		t.Fatalf("task: %v", err)
	}
	if u := <-h.gotURL; u != "https://example.com/video" {
		t.Fatalf("fetched %q", u)
	}
	got := h.out.take()
	if len(got) != 2 || got[0] != "Download of 'https://example.com/video' STARTED" {
		t.Fatalf("notifications=%q", got)
	}
}

func TestFreeTextThatIsNotAURL(t *testing.T) {
	h := newHarness(t)
	h.send("/auth s3cret")
	for _, text := range []string{"hello", "ftp://example.com/x", "example.com/x", "https://a.b/x and more"} {
		expectOne(t, h.send(text), msgUnknownText)
	}
	if n := h.q.count(); n != 0 {
		t.Fatalf("enqueued=%d want 0", n)
	}
}

func TestUsageAndUnknownCommands(t *testing.T) {
	h := newHarness(t)
	expectOne(t, h.send("/auth"), "usage: /auth <secret>")
	expectOne(t, h.send("/auth a b"), "usage: /auth <secret>")
	expectOne(t, h.send("/nope"), msgUnknownCommand)

	h.send("/auth s3cret")
	expectOne(t, h.send("/download"), "usage: /download <url>")
	if n := h.q.count(); n != 0 {
		t.Fatalf("enqueued=%d want 0", n)
	}
}

func TestBotSuffixIsStripped(t *testing.T) {
	h := newHarness(t)
	expectOne(t, h.send("/auth@dl_bot s3cret"), "Ok Ana, you are now authenticated")
}

func TestQueueRejectionIsReported(t *testing.T) {
	h := newHarness(t)
	h.send("/auth s3cret")
	h.q.err = queue.ErrStopped
	expectOne(t, h.send("https://example.com/a"), msgQueueUnavailable)
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	got := h.send("/help")
	if len(got) != 1 {
		t.Fatalf("replies=%q", got)
	}
	for _, c := range []string{"/auth &lt;secret&gt;", "/deauth", "/status", "/download &lt;url&gt;"} {
		if !strings.Contains(got[0], c) {
			t.Fatalf("help missing %q:\n%s", c, got[0])
		}
	}
}

func TestSyncMenu(t *testing.T) {
	h := newHarness(t)
	if err := h.m.SyncMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.out.menu) != 6 {
		t.Fatalf("menu=%v", h.out.menu)
	}
	if h.out.menu[0].Command != "auth" {
		t.Fatalf("menu not sorted: %v", h.out.menu)
	}
}

type authFunc func(ctx context.Context, chatID int64) (bool, error)

func (f authFunc) RequireAuth(ctx context.Context, chatID int64) (bool, error) { return f(ctx, chatID) }

func TestEnsureSessionAndRequireAuthCompose(t *testing.T) {
	orders := map[string]func(st session.Store, a Authorizer) []Middleware{
		"session-first": func(st session.Store, a Authorizer) []Middleware { return []Middleware{EnsureSession(st), RequireAuth(a)} },
		"auth-first":    func(st session.Store, a Authorizer) []Middleware { return []Middleware{RequireAuth(a), EnsureSession(st)} },
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			for _, allowed := range []bool{false, true} {
				st := newMemStore()
				out := &recordingAdapter{}
				a := authFunc(func(ctx context.Context, chatID int64) (bool, error) {
					if _, _, err := session.GetOrCreate(ctx, st, chatID); err != nil {
						return false, err
					}
					return allowed, nil
				})
				called := false
				h := Chain(func(context.Context, *Request) error { called = true; return nil }, order(st, a)...)
				req := &Request{Chat: kit.ChatTarget{ChatID: 9}, Sender: out, Logger: logx.Nop()}
				if err := h(context.Background(), req); err != nil {
					t.Fatal(err)
				}
				if called != allowed {
					t.Fatalf("allowed=%v called=%v", allowed, called)
				}
				if _, err := st.Get(context.Background(), 9); err != nil {
					t.Fatalf("session missing: %v", err)
				}
				replies := out.take()
				if allowed && len(replies) != 0 || !allowed && len(replies) != 1 {
					t.Fatalf("allowed=%v replies=%q", allowed, replies)
				}
			}
		})
	}
}

func TestPanicInHandlerIsReported(t *testing.T) {
	h := newHarness(t)
	h.m.cmds["boom"] = Command{Name: "boom", Args: -1, Handle: h.m.wrap(func(context.Context, *Request) error { panic("x") }, false)}
	expectOne(t, h.send("/boom"), msgInternalError)
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *Request) error {
				trace = append(trace, name)
				return next(ctx, r)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error { trace = append(trace, "h"); return nil }, mw("a"), mw("b"))
	_ = h(context.Background(), &Request{})
	if strings.Join(trace, ",") != "a,b,h" {
		t.Fatalf("trace=%v", trace)
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"/auth pw", "auth", []string{"pw"}, true},
		{"  /Status@my_bot  ", "status", []string{}, true},
		{"/download  a   b", "download", []string{"a", "b"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, c := range cases {
		name, args, ok := parseCommand(c.in)
		if ok != c.ok || name != c.name || len(args) != len(c.args) {
			t.Fatalf("parseCommand(%q)=%q,%q,%v", c.in, name, args, ok)
		}
		for i := range args {
			if args[i] != c.args[i] {
				t.Fatalf("parseCommand(%q) args=%q", c.in, args)
			}
		}
	}
}

func TestDownloadURL(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/watch?v=1": true,
		"http://example.com":            true,
		" https://example.com/x ":       true,
		"HTTPS://EXAMPLE.COM/":          true,
		"example.com":                   false,
		"ftp://example.com/f":           false,
		"https://":                      false,
		"/relative/path":                false,
		"just words":                    false,
		"":                              false,
	}
	for in, want := range cases {
		if _, got := downloadURL(in); got != want {
			t.Errorf("downloadURL(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := map[string]string{
		"Download":   "download",
		"speed-test": "speed_test",
		"a//b":       "a_b",
		"9lives":     "cmd_9lives",
		"!!!":        "",
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Errorf("sanitizeTelegramCommand(%q)=%q want %q", in, got, want)
		}
	}
}

func TestDispatchLoopStopsOnClose(t *testing.T) {
	h := newHarness(t)
	ch := make(chan kit.Update, 1)
	ch <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, Text: "/status"}}
	close(ch)
	done := make(chan struct{})
	go func() {
		h.m.DispatchLoop(context.Background(), ch)
		close(done)
	}()
	<-done
	if got := h.out.take(); len(got) != 1 {
		t.Fatalf("replies=%q", got)
	}
}
