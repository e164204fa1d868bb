package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/policy-debate/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show server counters, generation timings and LLM token usage.

Examples:
  debate stats`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stats, err := apiClient.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Printf("Server version:  %s\n", stats.Version)
	fmt.Printf("Active sessions: %d\n", stats.ActiveSessions)

	m := stats.Metrics
	if m == nil {
		return nil
	}
	fmt.Printf("Uptime:          %s\n", time.Duration(m.UptimeSeconds*float64(time.Second)).Round(time.Second))

	if len(m.Counters) > 0 {
		fmt.Println("\nCounters:")
		for _, name := range sortedKeys(m.Counters) {
			fmt.Printf("  %-20s %d\n", name, m.Counters[name])
		}
	}

	ops := []struct {
		name string
		snap *metrics.OperationSnapshot
	}{
		{metrics.OpGenerateArgument, m.GenerateArgument},
		{metrics.OpGenerateConclusion, m.GenerateConclusion},
		{metrics.OpAnalyze, m.Analyze},
		{metrics.OpStoreWrite, m.StoreWrite},
	}
	fmt.Println("\nOperations:")
	for _, op := range ops {
		if op.snap == nil {
			continue
		}
		fmt.Printf("  %-20s count=%d avg=%.1fms min=%dms max=%dms\n",
			op.name, op.snap.Count, op.snap.AvgTimeMs, op.snap.MinTimeMs, op.snap.MaxTimeMs)
		if op.snap.TotalInputTokens != nil && op.snap.TotalOutputTokens != nil {
			fmt.Printf("  %-20s tokens in=%d out=%d\n", "", *op.snap.TotalInputTokens, *op.snap.TotalOutputTokens)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
