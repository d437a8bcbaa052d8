package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/session"
	"github.com/fruitsalade/projectsync/pkg/tree"
)

var treeTimeout time.Duration

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the project tree",
	Long: `Print the project tree from the live connection. When no live snapshot
arrives in time the tree is fetched over HTTP, and failing that the cached
tree from the last run is printed.`,
	RunE: runTree,
}

func init() {
	treeCmd.Flags().DurationVar(&treeTimeout, "timeout", 10*time.Second, "How long to wait for a live snapshot")
}

func runTree(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	events := rt.sess.Subscribe()
	defer rt.sess.Unsubscribe(events)
	if err := rt.sess.Start(cmd.Context()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), treeTimeout)
	defer cancel()
	err = waitFor(ctx, rt.sess, events, func(ev *session.Event) (bool, error) {
		return ev != nil && ev.Kind == session.EventTree && rt.sess.Status().State == session.StateReady, nil
	})
	if err != nil {
		rt.log.Warn("no live snapshot, falling back to HTTP", zap.Error(err))
		fetchCtx, cancel := context.WithTimeout(cmd.Context(), treeTimeout)
		defer cancel()
		nodes, ferr := rt.api.FetchRemoteTree(fetchCtx, rt.cfg.AppID)
		if ferr == nil {
			ferr = rt.sess.ApplyRemoteSnapshot(cmd.Context(), nodes)
		}
		if ferr != nil {
			rt.log.Warn("remote tree fetch failed", zap.Error(ferr))
			if len(rt.sess.Tree()) == 0 {
				return fmt.Errorf("no tree available: %w", ferr)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "(showing cached tree)")
		}
	}

	printTree(cmd.OutOrStdout(), rt.sess.Tree())
	return nil
}

func printTree(w io.Writer, roots []*models.FileNode) {
	tree.Walk(roots, func(n *models.FileNode, depth int) bool {
		name := n.Name
		if n.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		return true
	})
	fmt.Fprintf(w, "\n%d entries\n", tree.Count(roots))
}
