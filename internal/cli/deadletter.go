package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/wvb/internal/core"
)

var deadLetterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dl"},
	Short:   "Inspect and replay items that failed to import",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered items",
	Args:  cobra.NoArgs,
	Run:   runDeadLetterList,
}

var deadLetterReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Resend dead-lettered items",
	Long: `Resend dead-lettered items in a single batch.
Items that succeed are removed from the journal; items that fail again
stay in it with their new errors.`,
	Args: cobra.NoArgs,
	Run:  runDeadLetterReplay,
}

var (
	listLimit       int
	replayLimit     int
	deadLetterCount bool
)

func init() {
	deadLetterListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum entries to show (0 for all)")
	deadLetterListCmd.Flags().BoolVar(&deadLetterCount, "count", false, "Only print the number of entries")
	deadLetterReplayCmd.Flags().IntVarP(&replayLimit, "limit", "n", 0, "Maximum entries to replay (0 for all)")

	deadLetterCmd.AddCommand(deadLetterListCmd)
	deadLetterCmd.AddCommand(deadLetterReplayCmd)
}

func runDeadLetterList(cmd *cobra.Command, args []string) {
	c := initContext(cmd.Context())
	defer c.Close()
	store := openDeadLetters(c)

	if deadLetterCount {
		n, err := store.Count()
		if err != nil {
			exitError("%v", err)
		}
		fmt.Println(n)
		return
	}

	records, err := store.List(listLimit)
	if err != nil {
		exitError("%v", err)
	}
	if len(records) == 0 {
		fmt.Println("No dead letters")
		return
	}

	yellow := color.New(color.FgYellow)
	fmt.Printf("%-6s %-9s %-20s %-38s %-8s %s\n", "SEQ", "KIND", "CLASS", "KEY", "ATTEMPTS", "ERROR")
	for _, r := range records {
		yellow.Printf("%-6d ", r.Seq)
		fmt.Printf("%-9s %-20s %-38s %-8d %s\n",
			r.Kind,
			truncate(r.Class, 20),
			truncate(r.Key, 38),
			r.Attempts,
			truncate(strings.Join(r.Errors, "; "), 60),
		)
	}
}

func runDeadLetterReplay(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := initFullContext(ctx)
	defer c.Close()
	store := openDeadLetters(c)

	summary, err := core.Replay(ctx, c.Transport, store, core.ReplayOptions{
		Batch:  c.batchOptions(ctx, false),
		Limit:  replayLimit,
		Logger: c.Logger,
	})
	if summary != nil {
		fmt.Printf("Replayed %d dead letters\n", summary.Replayed)
		color.New(color.FgGreen).Printf("  %d succeeded\n", summary.Succeeded)
		if summary.Failed > 0 {
			color.New(color.FgRed).Printf("  %d failed again\n", summary.Failed)
		}
		if summary.Skipped > 0 {
			color.New(color.FgYellow).Printf("  %d skipped (undecodable)\n", summary.Skipped)
		}
	}
	if err != nil {
		exitError("replay failed: %v", err)
	}
}
