package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	watchLastSeen int64
	watchPlain    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a debate live",
	Long: `Follow a debate as it happens.

On a terminal this opens an interactive view: p pauses, r resumes,
e ends the debate, i interjects a question, q stops watching.
Otherwise, or with --plain, messages are printed line by line.

Examples:
  debate watch 3f2c...
  debate watch 3f2c... --last-seen 12
  debate watch 3f2c... --plain | tee debate.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchSession(context.Background(), args[0], watchLastSeen)
	},
}

func init() {
	watchCmd.Flags().Int64Var(&watchLastSeen, "last-seen", 0, "only show messages after this sequence")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print lines instead of the interactive view")
}

func watchSession(ctx context.Context, sessionID string, lastSeen int64) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := apiClient.Watch(ctx, sessionID, lastSeen)
	if err != nil {
		return fmt.Errorf("watch session: %w", err)
	}
	defer stream.Close()

	if !watchPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		return RunWatch(apiClient, stream, sessionID)
	}

	for f := range stream.Frames {
		if line := defaultTheme.formatFrame(f); line != "" {
			fmt.Println(line)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("watch session: %w", err)
	}
	return nil
}
