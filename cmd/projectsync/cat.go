package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/pkg/session"
	"github.com/fruitsalade/projectsync/pkg/stream"
)

var catTimeout time.Duration

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's content",
	Long: `Open a file over the live connection and print its content once it has
fully arrived. Streaming files are printed after the stream completes. When
the backend cannot be reached the cached copy is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runCat,
}

func init() {
	catCmd.Flags().DurationVar(&catTimeout, "timeout", 30*time.Second, "How long to wait for the content")
}

func runCat(cmd *cobra.Command, args []string) error {
	path := args[0]
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	content, err := fetchContent(cmd.Context(), rt, path, catTimeout)
	if err != nil {
		if rt.cache == nil {
			return err
		}
		cached, ok := rt.cache.Content(path)
		if !ok {
			return err
		}
		rt.log.Warn("printing cached content", zap.String("path", path), zap.Error(err))
		content = cached
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}

// fetchContent starts the session, opens path and waits until its content is
// complete.
func fetchContent(parent context.Context, rt *runtime, path string, timeout time.Duration) (string, error) {
	events := rt.sess.Subscribe()
	defer rt.sess.Unsubscribe(events)
	if err := rt.sess.Start(parent); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := rt.sess.OpenFile(ctx, path); err != nil {
		return "", err
	}

	var content string
	err := waitFor(ctx, rt.sess, events, func(*session.Event) (bool, error) {
		c, done, err := openContent(rt.sess, path)
		content = c
		return done, err
	})
	return content, err
}

// openContent reports the open file's content once it is loaded and no
// stream for it is in flight.
func openContent(sess *session.Session, path string) (string, bool, error) {
	f := sess.File()
	if f.Path != path {
		return "", false, session.ErrNoOpenFile
	}
	if f.Err != "" {
		return "", false, errors.New(f.Err)
	}
	if f.Loading {
		return "", false, nil
	}
	if buf, ok := sess.Buffer(path); ok && buf.Status == stream.StatusStreaming {
		return "", false, nil
	}
	return f.LocalContent, true, nil
}
