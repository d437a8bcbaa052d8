// Package transport owns the websocket connection to the sync backend and
// turns it into a stream of lifecycle and decoded message events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/protocol"
)

var (
	// ErrNotReady is returned by Send when no connection is open.
	ErrNotReady = errors.New("transport: connection not open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: channel closed")
)

// Close codes used by the channel in addition to the RFC 6455 ones.
const (
	CodeNormal   = websocket.CloseNormalClosure
	CodeAbnormal = websocket.CloseAbnormalClosure
	// CodeAuthTimeout is sent when the backend never acknowledged
	// authentication.
	CodeAuthTimeout = 4408
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

// EventType identifies a channel event.
type EventType int

const (
	EventOpened EventType = iota
	EventClosed
	EventError
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is raised by the channel. Gen identifies the Connect call that
// produced it.
type Event struct {
	Type    EventType
	Gen     uint64
	Code    int    // EventClosed
	Reason  string // EventClosed
	Err     error  // EventError
	Message protocol.Inbound
}

// Options configures a Channel.
type Options struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Channel holds at most one physical connection at a time.
type Channel struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *zap.Logger

	events chan Event
	done   chan struct{}

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        uint64
	cancelDial context.CancelFunc
	closed     bool

	writeMu sync.Mutex
}

// New creates a channel for the given endpoint. Nothing is dialed until
// Connect.
func New(opts Options) *Channel {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		url:    opts.URL,
		header: opts.Header,
		dialer: dialer,
		log:    log,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the event stream. It is never closed; stop reading once
// Close returns.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Connect starts dialing in the background and returns the generation of
// the new attempt. Any open or pending connection is force-closed first and
// its remaining events are suppressed.
func (c *Channel) Connect(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.dropLocked()
	c.gen++
	gen := c.gen
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()

	go c.run(dialCtx, gen)
	return gen, nil
}

// dropLocked abandons the current attempt without a close handshake.
func (c *Channel) dropLocked() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) run(ctx context.Context, gen uint64) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		metrics.RecordConnectAttempt(false)
		c.log.Warn("dial failed", zap.String("url", c.url), zap.Error(err))
		c.emit(gen, Event{Type: EventError, Err: err})
		c.emit(gen, Event{Type: EventClosed, Code: CodeAbnormal, Reason: err.Error()})
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	metrics.RecordConnectAttempt(true)
	c.log.Debug("connected", zap.String("url", c.url), zap.Uint64("gen", gen))
	c.emit(gen, Event{Type: EventOpened})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()

			code, reason := closeStatus(err)
			if code == CodeAbnormal {
				c.emit(gen, Event{Type: EventError, Err: err})
			}
			c.emit(gen, Event{Type: EventClosed, Code: code, Reason: reason})
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			metrics.RecordDecodeError()
			c.log.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		metrics.RecordFrameReceived(string(msg.Kind()))
		c.emit(gen, Event{Type: EventMessage, Message: msg})
	}
}

// closeStatus maps a read error to a close code. Anything other than a
// close frame from the peer counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CodeAbnormal, err.Error()
}

func (c *Channel) emit(gen uint64, ev Event) {
	c.mu.Lock()
	current := c.gen == gen && !c.closed
	c.mu.Unlock()
	if !current {
		return
	}
	ev.Gen = gen
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Send encodes and writes one message. It fails with ErrNotReady when no
// connection is open.
func (c *Channel) Send(msg protocol.Outbound) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	metrics.RecordFrameSent(string(msg.Kind()))
	return nil
}

// CloseWithCode closes the current connection with a close frame. No
// Closed event is raised for it; the caller decides what happens next.
// The channel stays usable for another Connect.
func (c *Channel) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	conn := c.conn
	c.gen++
	c.conn = nil
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}

// Close shuts the channel down gracefully. Later calls to Connect fail.
func (c *Channel) Close() error {
	err := c.CloseWithCode(CodeNormal, "")
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	return err
}
