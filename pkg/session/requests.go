package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/protocol"
	"github.com/fruitsalade/projectsync/pkg/tree"
)

const (
	reqPending int32 = iota
	reqSending
	reqDone
	reqCancelled
)

// request is an outbound message waiting to be written. Resumable requests
// are reads that are safe to send on a later connection; the rest are writes
// and fail when the connection they were queued for is lost.
type request struct {
	msg       protocol.Outbound
	resumable bool
	state     atomic.Int32
	done      chan error
	onFail    func(error) // runs on the loop
}

func newRequest() *request {
	return &request{done: make(chan error, 1)}
}

func (r *request) cancelled() bool { return r.state.Load() == reqCancelled }

// finish completes r. The caller is notified unless it already gave up.
func (s *Session) finish(r *request, err error) {
	prev := r.state.Swap(reqDone)
	if prev == reqDone {
		return
	}
	if err != nil && r.onFail != nil {
		r.onFail(err)
	}
	if prev != reqCancelled {
		r.done <- err
	}
}

// submit hands r to the loop, where prepare fills it in, and waits until it
// is written, fails, or SendTimeout passes without the session becoming
// ready.
func (s *Session) submit(ctx context.Context, prepare func(r *request) error) error {
	if !s.running() {
		return ErrStopped
	}
	r := newRequest()
	ok := s.post(func() {
		if err := prepare(r); err != nil {
			s.finish(r, err)
			return
		}
		s.enqueue(r)
	})
	if !ok {
		return ErrStopped
	}

	timer := time.NewTimer(s.opts.SendTimeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-r.done:
		return err
	case <-timer.C:
		cause = wrapf(ErrNotReady, "not ready after %s", s.opts.SendTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	case <-s.done:
		return ErrStopped
	}

	if r.state.CompareAndSwap(reqPending, reqCancelled) {
		s.post(s.pruneQueue)
		return cause
	}
	// Already being written; report how that went.
	select {
	case err := <-r.done:
		return err
	case <-s.done:
		return ErrStopped
	}
}

func (s *Session) enqueue(r *request) {
	switch {
	case s.state == StateReady:
		s.write(r)
		return
	case s.authFailed:
		s.finish(r, s.lastErr)
		return
	case s.supervisor == SupervisorFailed:
		s.finish(r, s.lastErr)
		return
	}

	if len(s.queue) >= s.opts.SendQueueLimit {
		s.pruneQueue()
	}
	if len(s.queue) >= s.opts.SendQueueLimit {
		s.finish(r, wrapf(ErrNotReady, "send queue full (%d)", s.opts.SendQueueLimit))
		return
	}
	s.queue = append(s.queue, r)
	s.log.Debug("queued request", zap.String("kind", string(r.msg.Kind())), zap.Int("depth", len(s.queue)))
	s.refreshSnapshot()
}

// write sends r on the open connection. It reports whether r went out.
func (s *Session) write(r *request) bool {
	if !r.state.CompareAndSwap(reqPending, reqSending) {
		s.finish(r, ErrNotReady)
		return false
	}

	if g, ok := r.msg.(protocol.GetFileContent); ok && g.FilePath != s.stream.File().Path {
		s.log.Debug("skipping content request for abandoned file", zap.String("path", g.FilePath))
		s.finish(r, nil)
		return false
	}

	if err := s.send(r.msg); err != nil {
		if r.resumable {
			r.state.Store(reqPending)
			s.queue = append(s.queue, r)
			return false
		}
		s.finish(r, fmt.Errorf("%w: %v", ErrTransportClosed, err))
		return false
	}
	s.finish(r, nil)
	return true
}

// send writes msg and records what response it expects.
func (s *Session) send(msg protocol.Outbound) error {
	if err := s.tr.Send(msg); err != nil {
		s.log.Warn("send failed", zap.String("kind", string(msg.Kind())), zap.Error(err))
		return err
	}
	switch m := msg.(type) {
	case protocol.GetFileContent:
		s.pendingContent = append(s.pendingContent, m.FilePath)
	case protocol.SaveFile:
		s.pendingSave = true
	}
	return nil
}

// flushQueue writes queued requests in FIFO order and returns those sent.
func (s *Session) flushQueue() []protocol.Outbound {
	pending := s.queue
	s.queue = nil
	var sent []protocol.Outbound
	for _, r := range pending {
		if s.write(r) {
			sent = append(sent, r.msg)
		}
	}
	if len(sent) > 0 {
		s.log.Debug("flushed queued requests", zap.Int("count", len(sent)))
	}
	s.refreshSnapshot()
	return sent
}

// resume restores observer subscriptions on a fresh connection, skipping
// anything the queue flush already covered.
func (s *Session) resume(sent []protocol.Outbound) {
	has := func(match func(protocol.Outbound) bool) bool {
		for _, m := range sent {
			if match(m) {
				return true
			}
		}
		return false
	}

	if !has(func(m protocol.Outbound) bool { return m.Kind() == protocol.KindGetProjectFiles }) {
		s.send(protocol.GetProjectFiles{AppID: s.opts.AppID})
	}

	if f := s.stream.File(); f.Path != "" {
		open := f.Path
		if !has(func(m protocol.Outbound) bool {
			g, ok := m.(protocol.GetFileContent)
			return ok && g.FilePath == open
		}) {
			s.send(protocol.GetFileContent{AppID: s.opts.AppID, FilePath: open})
		}
	}

	if s.terminalSub && !has(func(m protocol.Outbound) bool { return m.Kind() == protocol.KindSubscribeTerminal }) {
		s.send(protocol.SubscribeTerminal{AppID: s.opts.AppID})
	}
}

// failQueue fails queued requests with err. With writesOnly set, resumable
// requests stay queued for the next connection.
func (s *Session) failQueue(err error, writesOnly bool) {
	kept := s.queue[:0]
	for _, r := range s.queue {
		if writesOnly && r.resumable && !r.cancelled() {
			kept = append(kept, r)
			continue
		}
		s.finish(r, err)
	}
	s.queue = kept
	s.refreshSnapshot()
}

// pruneQueue drops requests whose callers gave up waiting.
func (s *Session) pruneQueue() {
	kept := s.queue[:0]
	for _, r := range s.queue {
		if r.cancelled() {
			s.finish(r, ErrNotReady)
			continue
		}
		kept = append(kept, r)
	}
	s.queue = kept
	s.refreshSnapshot()
}

func (s *Session) failPendingSave(cause error) {
	if !s.pendingSave {
		return
	}
	s.pendingSave = false
	s.stream.OnError(cause.Error())
	s.bus.Publish(Event{Kind: EventFile, Path: s.stream.File().Path, Err: cause})
}

// OpenFile makes path the open file and requests its content. Responses for
// a previously open path are discarded when they arrive.
func (s *Session) OpenFile(ctx context.Context, path string) error {
	if _, err := tree.SplitPath(path); err != nil {
		return err
	}
	return s.submit(ctx, func(r *request) error {
		s.stream.Open(path)
		s.bus.Publish(Event{Kind: EventFile, Path: path})
		r.msg = protocol.GetFileContent{AppID: s.opts.AppID, FilePath: path}
		r.resumable = true
		return nil
	})
}

// CloseFile clears the open file.
func (s *Session) CloseFile(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.stream.Open("") {
			s.bus.Publish(Event{Kind: EventFile})
		}
		return nil
	})
}

// Edit replaces the open file's local content.
func (s *Session) Edit(ctx context.Context, content string) error {
	return s.call(ctx, func() error {
		if !s.stream.Edit(content) {
			return ErrNoOpenFile
		}
		s.bus.Publish(Event{Kind: EventFile, Path: s.stream.File().Path})
		return nil
	})
}

// Save writes the open file's local content to the backend. It returns once
// the request is written; file_saved later clears the dirty flag.
func (s *Session) Save(ctx context.Context) error {
	return s.submit(ctx, func(r *request) error {
		f, ok := s.stream.BeginSave()
		if !ok {
			return ErrNoOpenFile
		}
		s.bus.Publish(Event{Kind: EventFile, Path: f.Path})
		r.msg = protocol.SaveFile{AppID: s.opts.AppID, FilePath: f.Path, Content: f.LocalContent}
		r.onFail = func(err error) {
			s.stream.OnError(err.Error())
			s.bus.Publish(Event{Kind: EventFile, Path: f.Path, Err: err})
		}
		return nil
	})
}

// RefreshTree requests a fresh tree snapshot.
func (s *Session) RefreshTree(ctx context.Context) error {
	return s.submit(ctx, func(r *request) error {
		r.msg = protocol.GetProjectFiles{AppID: s.opts.AppID}
		r.resumable = true
		return nil
	})
}

// SubscribeTerminal attaches to terminal output. The subscription is renewed
// after every reconnect.
func (s *Session) SubscribeTerminal(ctx context.Context) error {
	return s.submit(ctx, func(r *request) error {
		s.terminalSub = true
		r.msg = protocol.SubscribeTerminal{AppID: s.opts.AppID}
		r.resumable = true
		return nil
	})
}

// SendTerminalInput forwards input to the app's terminal.
func (s *Session) SendTerminalInput(ctx context.Context, input string) error {
	return s.submit(ctx, func(r *request) error {
		r.msg = protocol.TerminalInput{AppID: s.opts.AppID, Input: input}
		return nil
	})
}

// DismissStream drops the stream buffer for path.
func (s *Session) DismissStream(ctx context.Context, path string) error {
	return s.call(ctx, func() error {
		if s.stream.Dismiss(path) {
			s.bus.Publish(Event{Kind: EventStream, Path: path})
		}
		return nil
	})
}

// ToggleFolder flips a folder's expanded state and returns the new state.
func (s *Session) ToggleFolder(ctx context.Context, path string) (bool, error) {
	var expanded bool
	err := s.call(ctx, func() error {
		expanded = s.tree.Toggle(path)
		s.bus.Publish(Event{Kind: EventTree})
		return nil
	})
	return expanded, err
}

// ApplyRemoteSnapshot replaces the tree with a snapshot fetched out of band,
// such as from the HTTP poller.
func (s *Session) ApplyRemoteSnapshot(ctx context.Context, nodes []*models.FileNode) error {
	return s.call(ctx, func() error {
		s.applySnapshot(nodes)
		return nil
	})
}

// DismissError clears the last reported error.
func (s *Session) DismissError(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.lastErr = nil
		s.refreshSnapshot()
		return nil
	})
}
