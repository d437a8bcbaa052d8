// Package tokenwatch reloads the saved token when the token file changes, so
// a `login` in another terminal re-authenticates a running session.
package tokenwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/pkg/client"
)

// DefaultDebounce collapses the bursts of events an atomic write produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls OnChange with each new token written to Path.
type Watcher struct {
	Path     string
	OnChange func(ctx context.Context, tf *client.TokenFile)
	Debounce time.Duration
	Logger   *zap.Logger
}

// Run watches until ctx is done. The directory is watched rather than the
// file so replacements by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(w.Path)

	var last string
	if tf, err := client.LoadToken(w.Path); err == nil {
		last = tf.Token
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("token watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			tf, err := client.LoadToken(w.Path)
			if err != nil {
				log.Debug("token file not readable", zap.Error(err))
				continue
			}
			if tf.Token == last {
				continue
			}
			last = tf.Token
			log.Info("token file changed", zap.String("path", w.Path))
			w.OnChange(ctx, tf)
		}
	}
}
