// Package session runs one authenticated sync session against the backend:
// it gates traffic on the auth handshake, supervises reconnection, routes
// inbound frames to the tree, stream and status components, and queues
// outbound requests until the connection is ready.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/events"
	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/protocol"
	"github.com/fruitsalade/projectsync/pkg/retry"
	"github.com/fruitsalade/projectsync/pkg/status"
	"github.com/fruitsalade/projectsync/pkg/stream"
	"github.com/fruitsalade/projectsync/pkg/transport"
	"github.com/fruitsalade/projectsync/pkg/tree"
)

var (
	ErrNotReady           = errors.New("session: connection not ready")
	ErrAuthFailed         = errors.New("session: authentication rejected")
	ErrTransportClosed    = errors.New("session: connection lost before request completed")
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
	ErrStopped            = errors.New("session: stopped")
	ErrNoOpenFile         = errors.New("session: no open file")
	ErrAlreadyStarted     = errors.New("session: already started")
)

// RequestFailedError carries an error frame reported by the backend.
type RequestFailedError struct {
	Message string
}

func (e *RequestFailedError) Error() string {
	return "backend error: " + e.Message
}

// Transport is the connection the session drives.
type Transport interface {
	Connect(ctx context.Context) (uint64, error)
	Send(msg protocol.Outbound) error
	CloseWithCode(code int, reason string) error
	Close() error
	Events() <-chan transport.Event
}

// Store persists last-known-good state. Errors are logged, never fatal.
type Store interface {
	PutTree(nodes []*models.FileNode) error
	PutContent(path, content string) error
}

// Options configures a session.
type Options struct {
	AppID string
	Token string

	AuthTimeout          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	SendTimeout          time.Duration
	SendQueueLimit       int

	Store  Store
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.SendQueueLimit <= 0 {
		o.SendQueueLimit = 256
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Session is one client session. All state transitions happen on a single
// loop goroutine; the exported methods hand work to it.
type Session struct {
	id     string
	opts   Options
	log    *zap.Logger
	tr     Transport
	policy retry.Config

	tree   *tree.Synchronizer
	stream *stream.Reconstructor
	status *status.Aggregator
	bus    *events.Broadcaster[Event]

	cmds chan func()
	done chan struct{}

	// Loop-owned.
	ctx            context.Context
	cancel         context.CancelFunc
	state          State
	supervisor     Supervision
	attempt        int
	gen            uint64
	token          string
	authFailed     bool
	lastErr        error
	queue          []*request
	pendingContent []string
	pendingSave    bool
	terminalSub    bool
	authTimer      *time.Timer
	reconnectTimer *time.Timer

	mu      sync.RWMutex
	snap    Status
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a session over tr. Nothing is dialed until Start.
func New(tr Transport, opts Options) *Session {
	opts.setDefaults()
	id := uuid.NewString()
	log := opts.Logger.With(zap.String("session", id), zap.String("app", opts.AppID))
	return &Session{
		id:     id,
		opts:   opts,
		log:    log,
		tr:     tr,
		policy: retry.Fixed(opts.MaxReconnectAttempts, opts.ReconnectDelay),
		tree:   tree.NewSynchronizer(log.Named("tree")),
		stream: stream.NewReconstructor(),
		status: status.NewAggregator(),
		bus:    events.NewBroadcaster[Event](0),
		cmds:   make(chan func(), 64),
		done:   make(chan struct{}),
		token:  opts.Token,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Seed loads a cached snapshot so observers have a tree before the first
// live snapshot arrives. It is ignored once any snapshot has been applied.
func (s *Session) Seed(nodes []*models.FileNode) bool {
	if !s.tree.Seed(nodes) {
		return false
	}
	metrics.SetTreeSize(s.tree.Len())
	s.bus.Publish(Event{Kind: EventTree})
	return true
}

// Start connects and runs the session until Stop or ctx is done.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
	s.post(s.connect)
	return nil
}

// Stop closes the connection gracefully, cancels pending timers and fails
// queued requests with ErrStopped. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.cancel()
		s.wg.Wait()
	}
	s.bus.Close()
}

// Subscribe registers an observer. Slow observers miss events rather than
// stall the session; they should re-read state on every event.
func (s *Session) Subscribe() <-chan Event { return s.bus.Subscribe() }

// Unsubscribe removes an observer.
func (s *Session) Unsubscribe(ch <-chan Event) { s.bus.Unsubscribe(ch) }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Tree returns a copy of the current file tree.
func (s *Session) Tree() []*models.FileNode { return s.tree.Roots() }

// TreeCached reports whether the tree is still the one recovered from local
// storage, with no live snapshot received yet.
func (s *Session) TreeCached() bool { return s.tree.Seeded() }

// IsExpanded reports whether a folder is expanded in tree views.
func (s *Session) IsExpanded(path string) bool { return s.tree.IsExpanded(path) }

// File returns the open file.
func (s *Session) File() stream.OpenFile { return s.stream.File() }

// Buffer returns the stream buffer for path.
func (s *Session) Buffer(path string) (stream.Buffer, bool) { return s.stream.Buffer(path) }

// Buffers returns all stream buffers.
func (s *Session) Buffers() []stream.Buffer { return s.stream.Buffers() }

// StatusEntries returns the generation status log.
func (s *Session) StatusEntries() []status.Entry { return s.status.Entries() }

// JobActive reports whether a generation job is running.
func (s *Session) JobActive() bool { return s.status.Active() }

// JobFailed reports whether the last generation job ended in failure.
func (s *Session) JobFailed() bool { return s.status.Failed() }

func (s *Session) loop() {
	defer s.wg.Done()
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case fn := <-s.cmds:
			fn()
		case ev := <-s.tr.Events():
			s.handleTransport(ev)
		case <-timerC(s.authTimer):
			s.authTimer = nil
			s.onAuthTimeout()
		case <-timerC(s.reconnectTimer):
			s.reconnectTimer = nil
			metrics.RecordReconnect()
			s.connect()
		}
	}
}

// post runs fn on the loop. It reports false once the loop has exited.
func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func() error) error {
	if !s.running() {
		return ErrStopped
	}
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

func (s *Session) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

func (s *Session) shutdown() {
	stopTimer(&s.authTimer)
	stopTimer(&s.reconnectTimer)
	s.setState(StateClosing)
	if err := s.tr.Close(); err != nil {
		s.log.Debug("close transport", zap.Error(err))
	}
	s.failQueue(ErrStopped, false)
	s.failPendingSave(ErrStopped)
	s.pendingContent = nil
	s.supervisor = SupervisorIdle
	s.setState(StateClosed)
	s.log.Info("session stopped")
}

func (s *Session) handleTransport(ev transport.Event) {
	if ev.Gen != s.gen {
		return
	}
	switch ev.Type {
	case transport.EventOpened:
		s.onOpened()
	case transport.EventError:
		s.lastErr = ev.Err
		s.log.Warn("transport error", zap.Error(ev.Err))
	case transport.EventClosed:
		s.onClosed(ev.Code, ev.Reason)
	case transport.EventMessage:
		s.onMessage(ev.Message)
	}
}

func (s *Session) connect() {
	stopTimer(&s.reconnectTimer)
	gen, err := s.tr.Connect(s.ctx)
	if err != nil {
		s.log.Error("connect", zap.Error(err))
		s.lastErr = err
		s.supervisor = SupervisorFailed
		s.setState(StateClosed)
		return
	}
	s.gen = gen
	s.log.Info("connecting", zap.Int("attempt", s.attempt))
	s.setState(StateConnecting)
}

// setState updates the state, the published snapshot and metrics.
func (s *Session) setState(st State) {
	changed := st != s.state
	s.state = st
	s.refreshSnapshot()
	if changed {
		metrics.SetConnectionState(stateNames, st.String())
		s.bus.Publish(Event{Kind: EventState, State: st})
	}
}

func (s *Session) refreshSnapshot() {
	queued := 0
	for _, r := range s.queue {
		if !r.cancelled() {
			queued++
		}
	}
	metrics.SetSendQueueDepth(queued)
	s.mu.Lock()
	s.snap = Status{
		State:      s.state,
		Supervisor: s.supervisor,
		Attempt:    s.attempt,
		Queued:     queued,
		AuthFailed: s.authFailed,
		LastError:  s.lastErr,
	}
	s.mu.Unlock()
}

func (s *Session) publishError(err error) {
	ev := Event{Kind: EventError, Err: err}
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		ev.Text = rf.Message
	} else if err != nil {
		ev.Text = err.Error()
	}
	s.bus.Publish(ev)
}

func (s *Session) storeTree() {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.PutTree(s.tree.Roots()); err != nil {
		s.log.Warn("persist tree", zap.Error(err))
	}
}

func (s *Session) storeContent(path, content string) {
	if s.opts.Store == nil || path == "" {
		return
	}
	if err := s.opts.Store.PutContent(path, content); err != nil {
		s.log.Warn("persist content", zap.String("path", path), zap.Error(err))
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
