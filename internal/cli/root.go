// Package cli provides the command-line interface for the debate server.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/policy-debate/internal/client"
	"github.com/raphaelgruber/policy-debate/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	clientID  string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "debate",
	Short: "Run and watch multi-stakeholder policy debates",
	Long: `Debate drives a debate server: start a debate between AI stakeholders on a
policy document, watch it live, interject questions, and export transcripts.

The server address comes from --server, DEBATE_CLIENT_SERVER_URL, the
client.server_url key of the file named by DEBATE_CONFIG, or defaults to
http://localhost:8080.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		url := serverURL
		if url == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			url = cfg.Client.ServerURL
		}

		apiClient = client.New(url)
		if clientID != "" {
			apiClient = apiClient.WithClientID(clientID)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "debate server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "client ID used for session control")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(statsCmd)
}

// shortTime formats a timestamp for listings.
func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
