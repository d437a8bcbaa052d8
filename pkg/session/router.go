package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/protocol"
	"github.com/fruitsalade/projectsync/pkg/status"
)

// onMessage gates inbound frames on the handshake. Before Ready only the
// acknowledgment or a rejection is acted on.
func (s *Session) onMessage(msg protocol.Inbound) {
	if s.state != StateReady {
		if s.state == StateAuthenticating {
			switch m := msg.(type) {
			case *protocol.Authenticated:
				s.onAuthenticated()
				return
			case *protocol.Error:
				s.onAuthRejected(m.Message)
				return
			}
		}
		s.log.Debug("withholding frame", zap.String("kind", string(msg.Kind())), zap.Stringer("state", s.state))
		return
	}

	s.log.Debug("routing frame", zap.String("kind", string(msg.Kind())))
	s.route(msg)
}

func (s *Session) route(msg protocol.Inbound) {
	switch m := msg.(type) {
	case *protocol.Authenticated:
		// Duplicate acknowledgment.

	case *protocol.ProjectFiles:
		s.applySnapshot(m.Files)

	case *protocol.FileCreated:
		s.onFileCreated(m)

	case *protocol.FileContent:
		s.onFileContent(m)

	case *protocol.FileContentUpdated:
		if s.stream.OnFullContent(m.FilePath, m.Content) {
			s.storeContent(m.FilePath, m.Content)
			s.bus.Publish(Event{Kind: EventFile, Path: m.FilePath})
		}

	case *protocol.FileStreamStart:
		s.stream.OnStreamStart(m.FilePath, m.TotalLines)
		s.publishStream(m.FilePath)

	case *protocol.FileStreamChunk:
		if !s.stream.OnStreamChunk(m.FilePath, *m.Line) {
			s.log.Debug("dropping chunk for completed stream", zap.String("path", m.FilePath))
			return
		}
		metrics.RecordStreamLine()
		s.publishStream(m.FilePath)

	case *protocol.FileStreamComplete:
		if !s.stream.OnStreamComplete(m.FilePath) {
			return
		}
		if buf, ok := s.stream.Buffer(m.FilePath); ok {
			s.storeContent(m.FilePath, buf.Content())
		}
		s.publishStream(m.FilePath)

	case *protocol.FileSaved:
		s.pendingSave = false
		if s.stream.OnSaved() {
			f := s.stream.File()
			s.storeContent(f.Path, f.RemoteContent)
			s.bus.Publish(Event{Kind: EventFile, Path: f.Path})
		}

	case *protocol.GenerationStatus:
		if s.jobEnded() && status.PhaseFor(m.Status) != status.PhaseCompleted {
			s.log.Debug("new generation job, clearing status log")
			s.status.Reset()
		}
		entry, appended := s.status.Apply(m.Status, m.Text(), m.Progress)
		metrics.SetStatusEntries(len(s.status.Entries()))
		s.log.Debug("generation status",
			zap.String("status", entry.Status),
			zap.String("message", entry.Message),
			zap.Bool("new", appended))
		s.bus.Publish(Event{Kind: EventStatus})

	case *protocol.Error:
		s.onError(m.Message)

	case *protocol.TerminalOutput:
		s.bus.Publish(Event{Kind: EventTerminal, Text: m.Output})

	case *protocol.TerminalError:
		s.bus.Publish(Event{Kind: EventTerminal, Text: m.Error, IsError: true})

	default:
		// Decode only yields the kinds above; a new kind must be routed here.
		panic(fmt.Sprintf("session: unrouted message kind %q", msg.Kind()))
	}
}

// jobEnded reports whether the status log holds a job that has finished.
func (s *Session) jobEnded() bool {
	return !s.status.Active() && len(s.status.Entries()) > 0
}

func (s *Session) applySnapshot(nodes []*models.FileNode) {
	s.tree.ApplySnapshot(nodes)
	metrics.SetTreeSize(s.tree.Len())
	s.storeTree()
	s.bus.Publish(Event{Kind: EventTree})
}

func (s *Session) onFileCreated(m *protocol.FileCreated) {
	created, err := s.tree.ApplyIncrementalCreate(m.FilePath, false)
	if err != nil {
		s.log.Warn("dropping file_created", zap.String("path", m.FilePath), zap.Error(err))
		return
	}
	if created {
		metrics.SetTreeSize(s.tree.Len())
		s.storeTree()
	}
	s.bus.Publish(Event{Kind: EventTree})

	if m.Content != nil && s.stream.OnFullContent(m.FilePath, *m.Content) {
		s.storeContent(m.FilePath, *m.Content)
		s.bus.Publish(Event{Kind: EventFile, Path: m.FilePath})
	}
}

// onFileContent matches a content response to the request it answers: by
// filePath when the backend sends one, otherwise by request order. A
// response for a path that is no longer open is discarded.
func (s *Session) onFileContent(m *protocol.FileContent) {
	path := m.FilePath
	if path != "" {
		s.takePending(path)
	} else if len(s.pendingContent) > 0 {
		path = s.pendingContent[0]
		s.pendingContent = s.pendingContent[1:]
	}

	var content string
	if m.Content != nil {
		content = *m.Content
	}

	if !s.stream.OnFullContent(path, content) {
		metrics.RecordStaleResponse()
		s.log.Debug("discarding stale file_content",
			zap.String("path", path),
			zap.String("open", s.stream.File().Path))
		return
	}
	s.storeContent(path, content)
	s.bus.Publish(Event{Kind: EventFile, Path: path})
}

func (s *Session) takePending(path string) {
	for i, p := range s.pendingContent {
		if p == path {
			s.pendingContent = append(s.pendingContent[:i], s.pendingContent[i+1:]...)
			return
		}
	}
}

// onError surfaces a backend error to the request most likely to have
// caused it: an unacknowledged save, then the oldest content request.
func (s *Session) onError(message string) {
	err := &RequestFailedError{Message: message}
	s.log.Warn("backend error", zap.String("message", message))

	switch {
	case s.pendingSave:
		s.pendingSave = false
		s.stream.OnError(message)
		s.bus.Publish(Event{Kind: EventFile, Path: s.stream.File().Path, Err: err})
	case len(s.pendingContent) > 0:
		path := s.pendingContent[0]
		s.pendingContent = s.pendingContent[1:]
		if f := s.stream.File(); f.Path == path {
			s.stream.OnError(message)
			s.bus.Publish(Event{Kind: EventFile, Path: path, Err: err})
		}
	}
	s.publishError(err)
}

func (s *Session) publishStream(path string) {
	s.bus.Publish(Event{Kind: EventStream, Path: path})
	if s.stream.File().Path == path {
		s.bus.Publish(Event{Kind: EventFile, Path: path})
	}
}
