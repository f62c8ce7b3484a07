package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportflow/internal/console"
	"supportflow/internal/kernel"
	"supportflow/pkg/engine"
	"supportflow/pkg/logx"
	"supportflow/pkg/session"
)

const shutdownTimeout = 5 * time.Second

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		loop  bool
		plain bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a support conversation in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []console.Option
			if plain {
				opts = append(opts, console.WithInteractive(false))
			}
			ch := console.New(os.Stdin, cmd.OutOrStdout(), opts...)
			return runChat(ctx, root, ch, cmd.ErrOrStderr(), loop)
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "start a new session after each one ends")
	cmd.Flags().BoolVar(&plain, "plain", false, "use plain line input even on a terminal")
	return cmd
}

func runChat(ctx context.Context, root *rootOptions, ch *console.Console, errOut io.Writer, loop bool) (err error) {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if err := logx.InitializeLogFile(cfg.Logging.Dir, cfg.Logging.MaxSizeMB, false); err != nil {
		return err
	}
	defer func() { _ = logx.CloseLogFile() }()

	shutdownTracing, err := setupTracing(root.traceFile)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, shutdownTracing(sctx))
	}()

	k, err := kernel.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, k.Close()) }()

	if err := k.Ready(ctx); err != nil {
		return fmt.Errorf("retrieval backend not ready: %w", err)
	}

	o, err := k.NewOrchestrator(ch)
	if err != nil {
		return err
	}

	for {
		s, runErr := o.Run(ctx, k.NewSessionID())
		switch {
		case errors.Is(runErr, engine.ErrSessionAbandoned):
			fmt.Fprintln(errOut, "Session ended.")
			return nil
		case runErr != nil:
			return runErr
		}
		fmt.Fprintln(errOut, sessionSummary(s))
		if !loop {
			return nil
		}
	}
}

// sessionSummary is the one-line outcome printed after a session.
func sessionSummary(s *session.State) string {
	msg := fmt.Sprintf("Session %s finished: %s", s.ID, s.Terminal.Kind)
	if s.Terminal.Reason != "" {
		msg += " (" + s.Terminal.Reason + ")"
	}
	return msg
}
