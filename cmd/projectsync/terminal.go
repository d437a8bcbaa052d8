package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/projectsync/pkg/session"
)

// detachKey is Ctrl-]; raw mode swallows Ctrl-C so it goes to the remote.
const detachKey = 0x1d

var terminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Attach to the project terminal",
	Long: `Stream the project terminal and forward input to it. On a TTY the input is
sent keystroke by keystroke; press Ctrl-] to detach. Otherwise input is sent
line by line and output keeps streaming after end of input until interrupted.`,
	RunE: runTerminal,
}

func runTerminal(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := rt.sess.Subscribe()
	defer rt.sess.Unsubscribe(events)
	if err := rt.sess.Start(ctx); err != nil {
		return err
	}
	if err := rt.sess.SubscribeTerminal(ctx); err != nil {
		return fmt.Errorf("subscribe terminal: %w", err)
	}

	fd := int(os.Stdin.Fd())
	raw := term.IsTerminal(fd)
	if raw {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	go func() {
		if forwardInput(ctx, rt, os.Stdin, raw) {
			cancel()
		}
	}()

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.EventTerminal:
				if ev.IsError {
					fmt.Fprint(errOut, ev.Text)
				} else {
					fmt.Fprint(out, ev.Text)
				}
			case session.EventAuthFailed:
				return fmt.Errorf("%w: %s", session.ErrAuthFailed, ev.Text)
			case session.EventState, session.EventError:
				if st := rt.sess.Status(); st.Supervisor == session.SupervisorFailed && st.LastError != nil {
					return st.LastError
				}
			}
		}
	}
}

// forwardInput sends input until it ends. It reports whether the user asked
// to detach.
func forwardInput(ctx context.Context, rt *runtime, in io.Reader, raw bool) bool {
	send := func(s string) bool {
		if err := rt.sess.SendTerminalInput(ctx, s); err != nil {
			if ctx.Err() == nil {
				rt.log.Warn("terminal input dropped", zap.Error(err))
			}
			return ctx.Err() == nil
		}
		return true
	}

	if !raw {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if !send(sc.Text() + "\n") {
				return false
			}
		}
		return false
	}

	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for i, b := range chunk {
				if b == detachKey {
					if i > 0 {
						send(string(chunk[:i]))
					}
					return true
				}
			}
			if !send(string(chunk)) {
				return false
			}
		}
		if err != nil {
			return true
		}
	}
}
