package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/projectsync/internal/metrics"
	"github.com/fruitsalade/projectsync/internal/tokenwatch"
	"github.com/fruitsalade/projectsync/internal/tui"
	"github.com/fruitsalade/projectsync/pkg/client"
	"github.com/fruitsalade/projectsync/pkg/session"
	"github.com/fruitsalade/projectsync/pkg/stream"
)

var watchNoUI bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the project tree, open file and generation status live",
	Long: `Connect to the backend and follow the project live.

Navigation:
  Up/Down  - Move in the tree
  Enter    - Open a file / toggle a folder
  Esc      - Close the open file
  R        - Re-request the project tree
  r        - Reconnect after the connection gave up
  x        - Dismiss the error banner
  d        - Dismiss the open file's stream
  q        - Quit`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoUI, "no-ui", false, "Log session events instead of showing the interactive UI")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(!watchNoUI)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if err := rt.sess.Start(gctx); err != nil {
		return err
	}
	rt.log.Info("watching project",
		zap.String("app", rt.cfg.AppID),
		zap.String("server", rt.cfg.ServerURL),
		zap.String("session", rt.sess.ID()))

	poller := &client.Poller{
		Client:   rt.api,
		AppID:    rt.cfg.AppID,
		Interval: rt.cfg.PollInterval,
		Sink:     rt.sess,
		Degraded: func() bool {
			return rt.cfg.PollWhenReady || rt.sess.Status().State != session.StateReady
		},
		Logger: rt.log.Named("poller"),
	}
	g.Go(func() error { return poller.Run(gctx) })

	if rt.cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, rt.cfg.MetricsAddr) })
	}

	if rt.fromFile {
		w := &tokenwatch.Watcher{
			Path: rt.cfg.TokenFile,
			OnChange: func(ctx context.Context, tf *client.TokenFile) {
				rt.api.SetAuthToken(tf.Token)
				if err := rt.sess.SetToken(ctx, tf.Token); err != nil && ctx.Err() == nil {
					rt.log.Warn("apply new token", zap.Error(err))
				}
			},
			Logger: rt.log.Named("tokenwatch"),
		}
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				rt.log.Warn("token watch disabled", zap.Error(err))
			}
			return nil
		})
	}

	if watchNoUI {
		g.Go(func() error { return logEvents(gctx, rt) })
	} else {
		p := tea.NewProgram(tui.New(gctx, rt.sess), tea.WithAltScreen(), tea.WithContext(gctx))
		g.Go(func() error {
			defer cancel()
			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// logEvents writes session notifications to the log until ctx is done.
func logEvents(ctx context.Context, rt *runtime) error {
	events := rt.sess.Subscribe()
	defer rt.sess.Unsubscribe(events)
	log := rt.log.Named("events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.EventState:
				st := rt.sess.Status()
				log.Info("state",
					zap.Stringer("state", st.State),
					zap.Stringer("supervisor", st.Supervisor),
					zap.Int("attempt", st.Attempt))
			case session.EventTree:
				log.Info("tree updated",
					zap.Int("roots", len(rt.sess.Tree())),
					zap.Bool("cached", rt.sess.TreeCached()))
			case session.EventStatus:
				entries := rt.sess.StatusEntries()
				if n := len(entries); n > 0 {
					e := entries[n-1]
					log.Info("status",
						zap.String("phase", string(e.Phase)),
						zap.String("message", e.Message),
						zap.Bool("failed", rt.sess.JobFailed()))
				}
			case session.EventStream:
				streaming := 0
				for _, b := range rt.sess.Buffers() {
					if b.Status == stream.StatusStreaming {
						streaming++
					}
				}
				if buf, ok := rt.sess.Buffer(ev.Path); ok {
					log.Info("stream",
						zap.String("path", ev.Path),
						zap.String("status", string(buf.Status)),
						zap.Int("lines", len(buf.Lines)),
						zap.Int("active", streaming))
				}
			case session.EventTerminal:
				log.Info("terminal", zap.String("output", ev.Text), zap.Bool("stderr", ev.IsError))
			case session.EventError, session.EventAuthFailed:
				log.Warn(string(ev.Kind), zap.String("message", ev.Text))
			default:
				log.Debug("event", zap.String("kind", string(ev.Kind)), zap.String("path", ev.Path))
			}
		}
	}
}
