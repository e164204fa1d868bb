package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/server"
)

var (
	startMaxRounds  int
	startMaxTopics  int
	startTurnDelay  time.Duration
	startTimeout    time.Duration
	startResponders int
	startControl    string
	startWatch      bool

	sessionsArchived bool

	transcriptOutput string
	deletePurge      bool
)

var startCmd = &cobra.Command{
	Use:   "start <policy-id>",
	Short: "Start a debate on a policy",
	Long: `Start a debate on a policy known to the server.

Stakeholders and topics come from the policy's frontmatter, or are
identified by the server's language model when the policy has none.

Examples:
  debate start water-act
  debate start water-act --max-rounds 2 --turn-delay 2s --watch
  debate start housing-bill --control open`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"list", "ls"},
	Short:   "List debate sessions",
	Long: `List live sessions, or archived ones with --archived.

Examples:
  debate sessions
  debate sessions --archived`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a debate after the current turn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(args[0], "Paused", apiClient.Pause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused debate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(args[0], "Resumed", apiClient.Resume)
	},
}

var endCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a debate early",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(args[0], "Ended", apiClient.End)
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <session-id> <message>",
	Short: "Interject a question or comment",
	Long: `Interject into a running debate. The moderator acknowledges the
message and the stakeholders who spoke least recently respond to it.

Examples:
  debate say 3f2c... "How would this affect small farms?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return sendCommand(args[0], "Sent", func(ctx context.Context, id string) error {
			return apiClient.Say(ctx, id, text)
		})
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Export a session transcript as Markdown",
	Long: `Export the transcript of a live or archived session as Markdown.

Examples:
  debate transcript 3f2c...
  debate transcript 3f2c... -o water-act.md`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscript,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Remove a finished session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	startCmd.Flags().IntVar(&startMaxRounds, "max-rounds", 0, "rounds per topic (server default if unset)")
	startCmd.Flags().IntVar(&startMaxTopics, "max-topics", 0, "topics to debate, 0 for all (server default if unset)")
	startCmd.Flags().DurationVar(&startTurnDelay, "turn-delay", 0, "pause between turns")
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 0, "per-turn generation timeout")
	startCmd.Flags().IntVar(&startResponders, "responders", 0, "stakeholders answering an interjection")
	startCmd.Flags().StringVar(&startControl, "control", "", "control policy: first_writer or open")
	startCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "watch the debate after starting it")

	sessionsCmd.Flags().BoolVar(&sessionsArchived, "archived", false, "list archived sessions")

	transcriptCmd.Flags().StringVarP(&transcriptOutput, "output", "o", "", "write transcript to file")

	deleteCmd.Flags().BoolVar(&deletePurge, "purge", false, "also delete the archived copy")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var overrides server.ConfigOverrides
	flags := cmd.Flags()
	if flags.Changed("max-rounds") {
		overrides.MaxRoundsPerTopic = &startMaxRounds
	}
	if flags.Changed("max-topics") {
		overrides.MaxTopics = &startMaxTopics
	}
	if flags.Changed("turn-delay") {
		overrides.TurnDelay = server.Duration(startTurnDelay).Ptr()
	}
	if flags.Changed("timeout") {
		overrides.GenerationTimeout = server.Duration(startTimeout).Ptr()
	}
	if flags.Changed("responders") {
		overrides.InterjectionResponders = &startResponders
	}
	if startControl != "" {
		policy := debate.ControlPolicy(startControl)
		overrides.ControlPolicy = &policy
	}

	created, err := apiClient.CreateSession(ctx, args[0], overrides)
	if err != nil {
		return fmt.Errorf("start debate: %w", err)
	}

	snap := created.Session
	fmt.Printf("Started session %s on %q\n", created.SessionID, snap.PolicyTitle)
	fmt.Printf("  Stakeholders: %d\n", len(snap.Stakeholders))
	for _, s := range snap.Stakeholders {
		fmt.Printf("    • %s\n", s.DisplayName)
	}
	fmt.Printf("  Topics:       %d\n", len(snap.Topics))
	for _, t := range snap.Topics {
		fmt.Printf("    • %s\n", t.Title)
	}

	if !startWatch {
		fmt.Printf("\nUse 'debate watch %s' to follow it.\n", created.SessionID)
		return nil
	}
	return watchSession(ctx, created.SessionID, 0)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sessions, err := apiClient.ListSessions(ctx, sessionsArchived)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-22s  %s\n", "ID", "STATE", "CREATED", "POLICY")
	for _, s := range sessions {
		fmt.Printf("%-36s  %-24s  %-22s  %s\n", s.ID, s.State, shortTime(s.CreatedAt), s.PolicyTitle)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	snap, err := apiClient.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	fmt.Printf("Session:  %s\n", snap.ID)
	fmt.Printf("Policy:   %s (%s)\n", snap.PolicyTitle, snap.PolicyID)
	fmt.Printf("State:    %s\n", snap.State)
	if snap.ResumeState != "" {
		fmt.Printf("Resumes:  %s\n", snap.ResumeState)
	}
	if len(snap.Topics) > 0 && snap.CurrentTopicIndex < len(snap.Topics) {
		fmt.Printf("Topic:    %d/%d %s (round %d)\n", snap.CurrentTopicIndex+1, len(snap.Topics),
			snap.Topics[snap.CurrentTopicIndex].Title, snap.CurrentRound)
	}
	fmt.Printf("Messages: %d\n", snap.LastSequence)
	if snap.Controller != "" {
		fmt.Printf("Control:  %s\n", snap.Controller)
	}

	if len(snap.Stakeholders) > 0 {
		fmt.Println("\nSpeaking time:")
		for _, s := range snap.Stakeholders {
			fmt.Printf("  %-28s %d\n", s.DisplayName, snap.SpeakingTime[s.ID])
		}
	}
	return nil
}

func sendCommand(id, done string, send func(context.Context, string) error) error {
	if err := send(context.Background(), id); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	fmt.Printf("%s %s\n", done, id)
	return nil
}

func runTranscript(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	md, err := apiClient.Transcript(ctx, args[0])
	if err != nil {
		return fmt.Errorf("export transcript: %w", err)
	}

	if transcriptOutput == "" {
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(transcriptOutput, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	fmt.Printf("Exported transcript to %s\n", transcriptOutput)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := apiClient.DeleteSession(ctx, args[0], deletePurge); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
