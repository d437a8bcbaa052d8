package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/protocol"
	"github.com/fruitsalade/projectsync/pkg/transport"
)

// onOpened starts the handshake. Until authenticated arrives, requests stay
// queued and inbound application frames are withheld.
func (s *Session) onOpened() {
	s.setState(StateAuthenticating)
	if err := s.tr.Send(protocol.Authenticate{Token: s.token}); err != nil {
		s.log.Warn("send authenticate", zap.Error(err))
		s.lastErr = err
		s.closeConn(transport.CodeAbnormal, "")
		s.onClosed(transport.CodeAbnormal, err.Error())
		return
	}
	s.authTimer = time.NewTimer(s.opts.AuthTimeout)
}

func (s *Session) onAuthenticated() {
	stopTimer(&s.authTimer)
	metrics.RecordAuth("success")
	if s.attempt > 0 {
		s.log.Info("reconnected", zap.Int("attempts", s.attempt))
	} else {
		s.log.Info("authenticated")
	}
	s.attempt = 0
	s.authFailed = false
	s.lastErr = nil
	s.supervisor = SupervisorConnected
	s.setState(StateReady)

	flushed := s.flushQueue()
	s.resume(flushed)
}

// onAuthTimeout closes a connection whose handshake never completed. The
// close is abnormal, so the supervisor retries.
func (s *Session) onAuthTimeout() {
	if s.state != StateAuthenticating {
		return
	}
	metrics.RecordAuth("timeout")
	s.log.Warn("authentication timed out", zap.Duration("timeout", s.opts.AuthTimeout))
	s.lastErr = wrapf(ErrNotReady, "no authentication acknowledgment within %s", s.opts.AuthTimeout)
	s.closeConn(transport.CodeAuthTimeout, "authentication timeout")
	s.onClosed(transport.CodeAuthTimeout, "authentication timeout")
}

// onAuthRejected handles an error frame received during the handshake. The
// attempt ends and no retry is scheduled until the token changes.
func (s *Session) onAuthRejected(msg string) {
	stopTimer(&s.authTimer)
	metrics.RecordAuth("rejected")
	s.log.Error("authentication rejected", zap.String("message", msg))

	err := wrapf(ErrAuthFailed, "%s", msg)
	s.authFailed = true
	s.lastErr = err
	s.supervisor = SupervisorIdle
	s.setState(StateClosing)
	s.closeConn(transport.CodeNormal, "authentication rejected")
	s.dropConnectionState(err)
	s.failQueue(err, false)
	s.setState(StateClosed)
	s.bus.Publish(Event{Kind: EventAuthFailed, Text: msg, Err: err})
}

// closeConn closes the connection from this side. Events the reader already
// queued for it, including the peer's own close, are ignored from here on.
func (s *Session) closeConn(code int, reason string) {
	if err := s.tr.CloseWithCode(code, reason); err != nil {
		s.log.Debug("close connection", zap.Int("code", code), zap.Error(err))
	}
	s.gen = 0
}

// SetToken replaces the credential. After an auth rejection, or while the
// supervisor is idle or failed, it starts a fresh connection attempt.
func (s *Session) SetToken(ctx context.Context, token string) error {
	return s.call(ctx, func() error {
		s.token = token
		if s.authFailed || s.supervisor == SupervisorFailed || (s.state == StateClosed && s.reconnectTimer == nil) {
			s.authFailed = false
			s.attempt = 0
			s.connect()
		}
		return nil
	})
}
