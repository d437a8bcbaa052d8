package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/internal/config"
	"github.com/fruitsalade/projectsync/internal/logging"
	"github.com/fruitsalade/projectsync/pkg/cache"
	"github.com/fruitsalade/projectsync/pkg/client"
	"github.com/fruitsalade/projectsync/pkg/retry"
	"github.com/fruitsalade/projectsync/pkg/session"
	"github.com/fruitsalade/projectsync/pkg/transport"
)

// errNoToken is returned when neither config nor the token file has a token.
var errNoToken = errors.New("no token available: set PROJECTSYNC_TOKEN or run 'projectsync login'")

// runtime bundles what every session-backed command needs.
type runtime struct {
	cfg   *config.Config
	log   *zap.Logger
	api   *client.Client
	cache *cache.Cache
	sess  *session.Session
	// fromFile is set when the token came from the token file.
	fromFile bool
}

func initLogging(cfg *config.Config, output string) {
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: output}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging setup failed: %v\n", err)
		logging.InitDefault()
	}
}

// resolveToken prefers an explicit token, then the saved token file.
func resolveToken(cfg *config.Config) (token string, fromFile bool, err error) {
	if cfg.Token != "" {
		return cfg.Token, false, nil
	}
	if cfg.TokenFile == "" {
		return "", false, errNoToken
	}
	tf, err := client.LoadToken(cfg.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, errNoToken
	}
	if err != nil {
		return "", false, err
	}
	if tf.IsExpired(0) {
		return "", false, errors.New("saved token has expired: run 'projectsync login'")
	}
	return tf.Token, true, nil
}

func newAPIClient(cfg *config.Config, token string) *client.Client {
	return client.New(client.Config{
		BaseURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		Timeout:     30 * time.Second,
		RetryConfig: retry.Fixed(cfg.PollAttempts, cfg.PollRetryDelay),
		AuthToken:   token,
	})
}

// openRuntime builds the session and its collaborators without starting it.
// With logToFile set, logs go to a file in the cache directory so they do
// not interleave with a full-screen UI.
func openRuntime(logToFile bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	output := ""
	if logToFile {
		output = logFilePath(cfg)
	}
	initLogging(cfg, output)
	log := logging.L()

	token, fromFile, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		api:      newAPIClient(cfg, token),
		fromFile: fromFile,
	}

	var store session.Store
	if cfg.CacheDir != "" {
		c, err := cache.New(cache.ForApp(cfg.CacheDir, cfg.AppID), cfg.MaxCacheSize)
		if err != nil {
			log.Warn("cache unavailable", zap.Error(err))
		} else {
			rt.cache = c
			store = c
		}
	}

	tr := transport.New(transport.Options{
		URL:    cfg.ServerURL,
		Logger: logging.Named("transport"),
	})
	rt.sess = session.New(tr, session.Options{
		AppID:                cfg.AppID,
		Token:                token,
		AuthTimeout:          cfg.AuthTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		SendTimeout:          cfg.SendTimeout,
		SendQueueLimit:       cfg.SendQueueLimit,
		Store:                store,
		Logger:               logging.Named("session"),
	})

	if rt.cache != nil {
		if nodes, err := rt.cache.LoadTree(); err == nil {
			rt.sess.Seed(nodes)
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warn("load cached tree", zap.Error(err))
		}
	}
	return rt, nil
}

func (rt *runtime) close() {
	rt.sess.Stop()
	_ = logging.Sync()
}

// waitFor blocks until cond holds after an event, or ctx is done. cond is
// also checked once up front.
func waitFor(ctx context.Context, sess *session.Session, events <-chan session.Event, cond func(ev *session.Event) (bool, error)) error {
	if ok, err := cond(nil); ok || err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return session.ErrStopped
			}
			if ev.Kind == session.EventAuthFailed {
				return fmt.Errorf("%w: %s", session.ErrAuthFailed, ev.Text)
			}
			if st := sess.Status(); st.Supervisor == session.SupervisorFailed {
				if st.LastError != nil {
					return st.LastError
				}
				return session.ErrReconnectExhausted
			}
			if ok, err := cond(&ev); ok || err != nil {
				return err
			}
		}
	}
}

func logFilePath(cfg *config.Config) string {
	if cfg.CacheDir == "" {
		return ""
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(cfg.CacheDir, "projectsync.log")
}
