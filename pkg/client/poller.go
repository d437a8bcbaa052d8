package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/pkg/models"
)

// SnapshotSink receives trees fetched over HTTP.
type SnapshotSink interface {
	ApplyRemoteSnapshot(ctx context.Context, nodes []*models.FileNode) error
}

// Poller periodically fetches the remote tree while the live connection is
// degraded. A failed poll leaves the current tree untouched.
type Poller struct {
	Client   *Client
	AppID    string
	Interval time.Duration
	Sink     SnapshotSink
	// Degraded reports whether polling is needed. Nil means always poll.
	Degraded func() bool
	Logger   *zap.Logger
}

// Run fetches once immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.Degraded == nil || p.Degraded() {
			p.poll(ctx, log)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, log *zap.Logger) {
	nodes, err := p.Client.FetchRemoteTree(ctx, p.AppID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("remote tree poll failed", zap.Error(err))
		}
		return
	}
	if err := p.Sink.ApplyRemoteSnapshot(ctx, nodes); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("apply polled tree", zap.Error(err))
		return
	}
	log.Debug("applied polled tree", zap.Int("roots", len(nodes)))
}
