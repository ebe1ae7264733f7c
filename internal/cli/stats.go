package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gateway statistics",
	Long: `Show gateway runtime statistics: sync engine operation timings,
auto-reply activity, and drafter token usage for cost monitoring.

Examples:
  strand stats
  strand stats --server http://gateway:8787`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	snap, err := api.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get gateway stats: %w", err)
	}

	printStats(snap)
	return nil
}

// printStats displays gateway runtime statistics.
func printStats(snap metrics.Snapshot) {
	fmt.Printf("Gateway Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", snap.UptimeSeconds)
	fmt.Printf("Open sessions: %d\n", snap.Sessions)

	printOpStats("Sends", snap.Send)
	printOpStats("Merges", snap.Merge)
	printOpStats("Page loads", snap.PageLoad)
	printOpStats("Delivery acks", snap.AckDelivered)
	printOpStats("Read acks", snap.AckRead)
	printOpStats("Auto-replies fired", snap.AutoReplyFired)
	printOpStats("Auto-replies cancelled", snap.AutoReplyCancelled)
	printOpStats("Drafts", snap.Draft)
	printOpStats("DB queries", snap.DBQuery)
}

// printOpStats displays timing statistics for an operation.
func printOpStats(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}

	fmt.Printf("\n%s:\n", name)
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.Errors > 0 {
		fmt.Printf("  Errors: %d\n", op.Errors)
	}
	printTokenStats(op)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total\n", *op.TotalInputTokens)
	fmt.Printf("  Tokens Out: %d total\n", *op.TotalOutputTokens)
}
