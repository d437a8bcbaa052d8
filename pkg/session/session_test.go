package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fruitsalade/projectsync/pkg/status"
	"github.com/fruitsalade/projectsync/pkg/stream"
	"github.com/fruitsalade/projectsync/pkg/transport"
)

// backend is a scripted websocket server standing in for the sync backend.
type backend struct {
	ts    *httptest.Server
	conns chan *peer
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{conns: make(chan *peer, 8)}
	upgrader := websocket.Upgrader{}
	b.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		b.conns <- &peer{t: t, conn: conn}
	}))
	t.Cleanup(b.ts.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.ts.URL, "http")
}

func (b *backend) accept(t *testing.T) *peer {
	t.Helper()
	select {
	case p := <-b.conns:
		t.Cleanup(func() { p.conn.Close() })
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (b *backend) expectNoConnection(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-b.conns:
		t.Fatal("unexpected client connection")
	case <-time.After(wait):
	}
}

func (p *peer) expect(kind string) map[string]any {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("read %s: %v", kind, err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		p.t.Fatalf("unmarshal %s: %v", data, err)
	}
	if msg["type"] != kind {
		p.t.Fatalf("expected %s, got %s", kind, data)
	}
	return msg
}

func (p *peer) send(frame string) {
	p.t.Helper()
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// handshake completes authentication and consumes the tree subscription the
// client sends once ready.
func (p *peer) handshake() {
	p.t.Helper()
	p.expect("authenticate")
	p.send(`{"type":"authenticated"}`)
	p.expect("get_project_files")
}

func testOptions() Options {
	return Options{
		AppID:                "app-1",
		Token:                "tok",
		AuthTimeout:          2 * time.Second,
		ReconnectDelay:       20 * time.Millisecond,
		MaxReconnectAttempts: 5,
		SendTimeout:          2 * time.Second,
	}
}

func startSession(t *testing.T, url string, opts Options) *Session {
	t.Helper()
	s := New(transport.New(transport.Options{URL: url}), opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitEvent(t *testing.T, sub <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

// barrier sends a status frame and waits for it to be routed, so every frame
// sent before it has been handled.
func barrier(t *testing.T, s *Session, p *peer, name string) {
	t.Helper()
	p.send(`{"type":"generation_status","status":"processing","message":"` + name + `"}`)
	waitFor(t, "barrier "+name, func() bool {
		for _, e := range s.StatusEntries() {
			if e.Message == name {
				return true
			}
		}
		return false
	})
}

func TestSession_QueueFlushedAfterAuthenticated(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	auth := p.expect("authenticate")
	if auth["token"] != "tok" {
		t.Fatalf("expected token tok, got %v", auth["token"])
	}

	errc := make(chan error, 2)
	go func() { errc <- s.OpenFile(ctx, "app/page.tsx") }()
	waitFor(t, "first request queued", func() bool { return s.Status().Queued == 1 })
	go func() { errc <- s.SubscribeTerminal(ctx) }()
	waitFor(t, "second request queued", func() bool { return s.Status().Queued == 2 })

	if st := s.Status(); st.State != StateAuthenticating {
		t.Fatalf("expected authenticating, got %s", st.State)
	}

	p.send(`{"type":"authenticated"}`)

	m := p.expect("get_file_content")
	if m["filePath"] != "app/page.tsx" || m["appId"] != "app-1" {
		t.Errorf("unexpected content request %v", m)
	}
	p.expect("subscribe_terminal")
	p.expect("get_project_files")

	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Errorf("request %d: %v", i, err)
		}
	}
	if st := s.Status(); st.State != StateReady || st.Queued != 0 {
		t.Errorf("expected ready with empty queue, got %+v", st)
	}
}

func TestSession_WithholdsFramesBeforeAuthenticated(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())

	p := b.accept(t)
	p.expect("authenticate")
	p.send(`{"type":"project_files","files":[{"name":"early.ts","path":"early.ts","type":"file"}]}`)
	p.send(`{"type":"authenticated"}`)
	p.expect("get_project_files")

	if n := len(s.Tree()); n != 0 {
		t.Fatalf("expected frame before authenticated to be withheld, tree has %d roots", n)
	}
}

func TestSession_ReconnectsAfterAbnormalClose(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()
	p.send(`{"type":"project_files","files":[{"name":"app","path":"app","type":"folder","children":[{"name":"page.tsx","path":"app/page.tsx","type":"file"}]}]}`)

	if err := s.OpenFile(ctx, "app/page.tsx"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	p.expect("get_file_content")
	p.send(`{"type":"file_content","content":"v1"}`)
	waitFor(t, "initial content", func() bool { return s.File().RemoteContent == "v1" })

	// Drop the TCP connection without a close frame: code 1006.
	p.conn.UnderlyingConn().Close()

	p2 := b.accept(t)
	p2.expect("authenticate")
	p2.send(`{"type":"authenticated"}`)
	p2.expect("get_project_files")
	m := p2.expect("get_file_content")
	if m["filePath"] != "app/page.tsx" {
		t.Fatalf("expected open file re-requested, got %v", m)
	}

	p2.send(`{"type":"file_content","content":"v2"}`)
	waitFor(t, "content after reconnect", func() bool { return s.File().RemoteContent == "v2" })

	st := s.Status()
	if st.State != StateReady || st.Supervisor != SupervisorConnected || st.Attempt != 0 {
		t.Errorf("unexpected status after reconnect %+v", st)
	}
	if len(s.Tree()) != 1 {
		t.Errorf("expected tree preserved across reconnect")
	}
}

func TestSession_NormalCloseDoesNotReconnect(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())

	p := b.accept(t)
	p.handshake()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	waitFor(t, "closed", func() bool {
		st := s.Status()
		return st.State == StateClosed && st.Supervisor == SupervisorIdle
	})
	b.expectNoConnection(t, 150*time.Millisecond)
}

func TestSession_AuthRejected(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	sub := s.Subscribe()
	ctx := context.Background()

	p := b.accept(t)
	p.expect("authenticate")
	p.send(`{"type":"error","message":"invalid token"}`)

	ev := waitEvent(t, sub, EventAuthFailed)
	if ev.Text != "invalid token" || !errors.Is(ev.Err, ErrAuthFailed) {
		t.Errorf("unexpected auth failed event %+v", ev)
	}

	st := s.Status()
	if !st.AuthFailed || st.State != StateClosed || !errors.Is(st.LastError, ErrAuthFailed) {
		t.Errorf("unexpected status %+v", st)
	}
	b.expectNoConnection(t, 150*time.Millisecond)

	if err := s.RefreshTree(ctx); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for request, got %v", err)
	}

	if err := s.SetToken(ctx, "fresh"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	p2 := b.accept(t)
	if m := p2.expect("authenticate"); m["token"] != "fresh" {
		t.Errorf("expected new token, got %v", m["token"])
	}
}

func TestSession_AuthRejectedIgnoresPeerClose(t *testing.T) {
	for i := 0; i < 10; i++ {
		b := newBackend(t)
		s := startSession(t, b.url(), testOptions())
		sub := s.Subscribe()

		p := b.accept(t)
		p.expect("authenticate")
		p.send(`{"type":"error","message":"invalid token"}`)
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "bye"), time.Now().Add(time.Second))
		p.conn.Close()

		waitEvent(t, sub, EventAuthFailed)
		b.expectNoConnection(t, 150*time.Millisecond)

		st := s.Status()
		if !st.AuthFailed || st.State != StateClosed || st.Supervisor != SupervisorIdle || st.Attempt != 0 {
			t.Fatalf("run %d: expected closed idle session after rejection, got %+v", i, st)
		}
		s.Stop()
	}
}

// brokenClose closes like a channel but reports a failed close frame.
type brokenClose struct {
	*transport.Channel
}

func (b brokenClose) CloseWithCode(code int, reason string) error {
	b.Channel.CloseWithCode(code, reason)
	return errors.New("write close: broken pipe")
}

func TestSession_CloseErrorLogged(t *testing.T) {
	b := newBackend(t)
	core, logs := observer.New(zap.DebugLevel)
	opts := testOptions()
	opts.Logger = zap.New(core)

	s := New(brokenClose{transport.New(transport.Options{URL: b.url()})}, opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	sub := s.Subscribe()

	p := b.accept(t)
	p.expect("authenticate")
	p.send(`{"type":"error","message":"invalid token"}`)
	waitEvent(t, sub, EventAuthFailed)

	entries := logs.FilterMessage("close connection").All()
	if len(entries) == 0 {
		t.Fatal("expected failed close to be logged")
	}
	e := entries[0]
	if e.Level != zap.DebugLevel {
		t.Errorf("level = %s, want debug", e.Level)
	}
	if code := e.ContextMap()["code"]; code != int64(transport.CodeNormal) {
		t.Errorf("code = %v, want %d", code, transport.CodeNormal)
	}
	if st := s.Status(); !st.AuthFailed || st.State != StateClosed {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestSession_AuthTimeoutCountsOneAttempt(t *testing.T) {
	b := newBackend(t)
	opts := testOptions()
	opts.AuthTimeout = 50 * time.Millisecond
	opts.ReconnectDelay = 300 * time.Millisecond
	s := startSession(t, b.url(), opts)

	p := b.accept(t)
	p.expect("authenticate")

	// The peer answers the 4408 close with its own close frame.
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := p.conn.ReadMessage(); !websocket.IsCloseError(err, transport.CodeAuthTimeout) {
		t.Fatalf("expected close %d, got %v", transport.CodeAuthTimeout, err)
	}
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), time.Now().Add(time.Second))

	waitFor(t, "reconnect scheduled", func() bool { return s.Status().Supervisor == SupervisorReconnecting })
	time.Sleep(100 * time.Millisecond)
	if st := s.Status(); st.Attempt != 1 {
		t.Errorf("expected one reconnect attempt, got %d", st.Attempt)
	}
}

func TestSession_AuthTimeoutReconnects(t *testing.T) {
	b := newBackend(t)
	opts := testOptions()
	opts.AuthTimeout = 100 * time.Millisecond
	startSession(t, b.url(), opts)

	p := b.accept(t)
	p.expect("authenticate")

	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := p.conn.ReadMessage()
	if !websocket.IsCloseError(err, transport.CodeAuthTimeout) {
		t.Fatalf("expected close %d, got %v", transport.CodeAuthTimeout, err)
	}

	p2 := b.accept(t)
	p2.handshake()
}

func TestSession_ReconnectExhausted(t *testing.T) {
	var dials atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	opts := testOptions()
	opts.MaxReconnectAttempts = 2
	opts.ReconnectDelay = 10 * time.Millisecond
	s := startSession(t, "ws"+strings.TrimPrefix(ts.URL, "http"), opts)
	ctx := context.Background()

	waitFor(t, "failed", func() bool { return s.Status().Supervisor == SupervisorFailed })
	if got := dials.Load(); got != 3 {
		t.Errorf("expected 1 connect + 2 reconnects, got %d dials", got)
	}
	if err := s.Status().LastError; !errors.Is(err, ErrReconnectExhausted) {
		t.Errorf("expected ErrReconnectExhausted, got %v", err)
	}
	if err := s.RefreshTree(ctx); !errors.Is(err, ErrReconnectExhausted) {
		t.Errorf("expected request to fail fast, got %v", err)
	}

	if err := s.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	waitFor(t, "manual reconnect dial", func() bool { return dials.Load() > 3 })
}

func TestSession_StaleContentDiscarded(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()

	if err := s.OpenFile(ctx, "a.ts"); err != nil {
		t.Fatal(err)
	}
	p.expect("get_file_content")
	if err := s.OpenFile(ctx, "b.ts"); err != nil {
		t.Fatal(err)
	}
	p.expect("get_file_content")

	// Responses arrive in request order; the first answers a.ts.
	p.send(`{"type":"file_content","content":"A"}`)
	barrier(t, s, p, "after-a")
	if f := s.File(); f.Path != "b.ts" || f.RemoteContent != "" || !f.Loading {
		t.Fatalf("stale response leaked into open file: %+v", f)
	}

	p.send(`{"type":"file_content","content":"B"}`)
	waitFor(t, "b content", func() bool { return s.File().RemoteContent == "B" })

	p.send(`{"type":"file_content","filePath":"a.ts","content":"late"}`)
	barrier(t, s, p, "after-late")
	if f := s.File(); f.RemoteContent != "B" || f.Dirty() {
		t.Errorf("unexpected open file %+v", f)
	}
}

func TestSession_StreamIntoOpenFile(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()
	s.OpenFile(ctx, "x.ts")
	p.expect("get_file_content")

	p.send(`{"type":"file_stream_start","filePath":"x.ts","totalLines":2}`)
	p.send(`{"type":"file_stream_chunk","filePath":"x.ts","line":"line1"}`)
	p.send(`{"type":"file_stream_chunk","filePath":"x.ts","line":"line2"}`)
	p.send(`{"type":"file_stream_complete","filePath":"x.ts"}`)

	waitFor(t, "stream complete", func() bool {
		buf, ok := s.Buffer("x.ts")
		return ok && buf.Status == stream.StatusCompleted
	})
	f := s.File()
	if f.RemoteContent != "line1\nline2" || f.Dirty() || f.Loading {
		t.Errorf("unexpected open file %+v", f)
	}

	if err := s.DismissStream(ctx, "x.ts"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Buffer("x.ts"); ok {
		t.Error("expected buffer dismissed")
	}
}

func TestSession_FileCreatedUpdatesTree(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())

	p := b.accept(t)
	p.handshake()
	p.send(`{"type":"file_created","filePath":"app/components/Button.tsx","content":"x"}`)
	p.send(`{"type":"file_created","filePath":"app/components/Button.tsx"}`)
	p.send(`{"type":"file_created","filePath":"../escape"}`)
	barrier(t, s, p, "created")

	roots := s.Tree()
	if len(roots) != 1 || roots[0].Path != "app" {
		t.Fatalf("unexpected roots %+v", roots)
	}
	comps := roots[0].Children
	if len(comps) != 1 || len(comps[0].Children) != 1 || comps[0].Children[0].Path != "app/components/Button.tsx" {
		t.Fatalf("unexpected tree %+v", comps)
	}
	if !s.IsExpanded("app/components") {
		t.Error("expected ancestors expanded")
	}
}

func TestSession_SaveRoundTrip(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()
	s.OpenFile(ctx, "main.go")
	p.expect("get_file_content")
	p.send(`{"type":"file_content","content":"old"}`)
	waitFor(t, "content", func() bool { return s.File().RemoteContent == "old" })

	if err := s.Edit(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if !s.File().Dirty() {
		t.Fatal("expected dirty after edit")
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m := p.expect("save_file")
	if m["filePath"] != "main.go" || m["content"] != "new" {
		t.Fatalf("unexpected save %v", m)
	}
	if !s.File().Saving {
		t.Error("expected saving flag")
	}

	p.send(`{"type":"file_saved"}`)
	waitFor(t, "saved", func() bool {
		f := s.File()
		return !f.Saving && !f.Dirty() && f.RemoteContent == "new"
	})
}

func TestSession_ErrorFrameGoesToRequester(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	sub := s.Subscribe()
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()
	s.OpenFile(ctx, "missing.ts")
	p.expect("get_file_content")
	p.send(`{"type":"error","message":"file not found"}`)

	ev := waitEvent(t, sub, EventError)
	var rf *RequestFailedError
	if !errors.As(ev.Err, &rf) || rf.Message != "file not found" {
		t.Fatalf("unexpected error event %+v", ev)
	}
	if f := s.File(); f.Err != "file not found" || f.Loading {
		t.Errorf("expected error on open file, got %+v", f)
	}
}

func TestSession_StatusAndTerminal(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	sub := s.Subscribe()
	ctx := context.Background()

	p := b.accept(t)
	p.handshake()
	if err := s.SubscribeTerminal(ctx); err != nil {
		t.Fatal(err)
	}
	p.expect("subscribe_terminal")
	if err := s.SendTerminalInput(ctx, "ls\n"); err != nil {
		t.Fatal(err)
	}
	if m := p.expect("terminal_input"); m["input"] != "ls\n" {
		t.Errorf("unexpected input %v", m)
	}

	p.send(`{"type":"terminal_output","output":"main.go\n"}`)
	if ev := waitEvent(t, sub, EventTerminal); ev.Text != "main.go\n" || ev.IsError {
		t.Errorf("unexpected terminal event %+v", ev)
	}

	p.send(`{"type":"generation_status","status":"generating","message":"Writing files"}`)
	p.send(`{"type":"generation_status","status":"completed","message":"Writing files"}`)
	waitFor(t, "status completed", func() bool {
		e := s.StatusEntries()
		return len(e) == 1 && e[0].Phase == status.PhaseCompleted
	})
	if s.JobActive() {
		t.Error("expected job inactive after completed")
	}
}

func TestSession_NewJobClearsStatusLog(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())

	p := b.accept(t)
	p.handshake()

	p.send(`{"type":"generation_status","status":"generating","message":"Writing files"}`)
	p.send(`{"type":"generation_status","status":"failed","message":"Build failed"}`)
	waitFor(t, "job failed", s.JobFailed)
	if n := len(s.StatusEntries()); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	// A repeated terminal status belongs to the finished job.
	p.send(`{"type":"generation_status","status":"failed","message":"Build failed"}`)
	p.send(`{"type":"generation_status","status":"pending","message":"Queued"}`)
	waitFor(t, "log cleared", func() bool { return len(s.StatusEntries()) == 1 })

	e := s.StatusEntries()
	if e[0].Message != "Queued" || e[0].Sequence != 0 {
		t.Errorf("unexpected entry after new job %+v", e[0])
	}
	if !s.JobActive() || s.JobFailed() {
		t.Error("expected new job active and not failed")
	}

	p.send(`{"type":"generation_status","status":"completed","message":"Done"}`)
	waitFor(t, "job completed", func() bool { return !s.JobActive() })
	if n := len(s.StatusEntries()); n != 2 {
		t.Errorf("expected 2 entries in second job, got %d", n)
	}
}

func TestSession_StopFailsQueuedRequests(t *testing.T) {
	b := newBackend(t)
	s := startSession(t, b.url(), testOptions())
	ctx := context.Background()

	p := b.accept(t)
	p.expect("authenticate")

	errc := make(chan error, 1)
	go func() { errc <- s.RefreshTree(ctx) }()
	waitFor(t, "queued", func() bool { return s.Status().Queued == 1 })

	s.Stop()
	if err := <-errc; !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := s.RefreshTree(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected restart to fail, got %v", err)
	}
}

func TestSession_SendTimeout(t *testing.T) {
	b := newBackend(t)
	opts := testOptions()
	opts.SendTimeout = 50 * time.Millisecond
	s := startSession(t, b.url(), opts)

	p := b.accept(t)
	p.expect("authenticate")

	err := s.SendTerminalInput(context.Background(), "x")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	waitFor(t, "queue pruned", func() bool { return s.Status().Queued == 0 })

	// A timed-out write is not sent after authentication.
	p.send(`{"type":"authenticated"}`)
	p.expect("get_project_files")
	p.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := p.conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame %s", data)
	}
}
