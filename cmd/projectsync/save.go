package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectsync/pkg/session"
)

var saveTimeout time.Duration

var saveCmd = &cobra.Command{
	Use:   "save <path> [source]",
	Short: "Replace a file's content",
	Long: `Replace the content of a project file with the content of source, or of
standard input when source is omitted or "-". The command returns once the
backend confirms the save.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSave,
}

func init() {
	saveCmd.Flags().DurationVar(&saveTimeout, "timeout", 30*time.Second, "How long to wait for the save to be confirmed")
}

func runSave(cmd *cobra.Command, args []string) error {
	path := args[0]
	var data []byte
	var err error
	if len(args) == 2 && args[1] != "-" {
		data, err = os.ReadFile(args[1])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), saveTimeout)
	defer cancel()

	remote, err := fetchContent(ctx, rt, path, saveTimeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if remote == string(data) {
		fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
		return nil
	}

	events := rt.sess.Subscribe()
	defer rt.sess.Unsubscribe(events)

	if err := rt.sess.Edit(ctx, string(data)); err != nil {
		return err
	}
	if err := rt.sess.Save(ctx); err != nil {
		return err
	}

	err = waitFor(ctx, rt.sess, events, func(*session.Event) (bool, error) {
		f := rt.sess.File()
		if f.Err != "" {
			return false, errors.New(f.Err)
		}
		return !f.Saving && !f.Dirty(), nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, len(data))
	return nil
}
