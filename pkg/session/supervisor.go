package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/pkg/transport"
)

// onClosed reacts to the end of a connection. Anything but a normal close
// schedules a reconnect until the attempt limit is reached.
func (s *Session) onClosed(code int, reason string) {
	if s.authFailed || s.state == StateClosed {
		return
	}
	stopTimer(&s.authTimer)
	metrics.RecordClose(code)

	wasReady := s.state == StateReady
	s.log.Info("connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Bool("was_ready", wasReady))

	s.dropConnectionState(ErrTransportClosed)
	// Writes are not replayed on the next connection.
	s.failQueue(ErrTransportClosed, true)

	if code == transport.CodeNormal {
		s.supervisor = SupervisorIdle
		s.setState(StateClosed)
		return
	}
	s.setState(StateClosed)
	s.scheduleReconnect()
}

// dropConnectionState forgets requests that were sent on the lost connection.
// Their responses will never arrive; the open file is re-requested on resume.
func (s *Session) dropConnectionState(cause error) {
	s.pendingContent = nil
	s.failPendingSave(cause)
}

func (s *Session) scheduleReconnect() {
	s.attempt++
	if s.policy.Exhausted(s.attempt) {
		s.supervisor = SupervisorFailed
		s.lastErr = wrapf(ErrReconnectExhausted, "gave up after %d attempts", s.attempt-1)
		s.log.Error("reconnect attempts exhausted", zap.Int("attempts", s.attempt-1))
		s.failQueue(s.lastErr, false)
		s.refreshSnapshot()
		s.publishError(s.lastErr)
		return
	}

	delay := s.policy.Backoff(s.attempt)
	s.supervisor = SupervisorReconnecting
	s.log.Info("reconnecting",
		zap.Int("attempt", s.attempt),
		zap.Int("max_attempts", s.policy.MaxAttempts),
		zap.Duration("delay", delay))
	stopTimer(&s.reconnectTimer)
	s.reconnectTimer = time.NewTimer(delay)
	s.refreshSnapshot()
}

// Reconnect starts a fresh connection with a reset attempt count. It is the
// way out of the failed state.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.state == StateReady || s.state == StateAuthenticating {
			return nil
		}
		s.attempt = 0
		s.authFailed = false
		s.supervisor = SupervisorIdle
		s.connect()
		return nil
	})
}
