package main

import (
	"context"
	"fmt"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/types"
	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch indicators from the node and rescan unmatched tags",
	Long: `Fetch the indicator feed from the configured node into the local store.

An incremental sync adds indicators published since the last successful
sync. --full replaces every feed indicator; test indicators are kept.
Afterwards the prefilter is rebuilt and every previously unmatched
candidate is checked again. Emails that gained an incident are listed so
they can be re-checked.`,
	Example: `  pb sync
  pb sync --full --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quietFlag && !jsonOutput {
			mode := ""
			if syncFull {
				mode = " (full)"
			}
			fmt.Printf("Syncing indicators from %s%s...\n", cfg.Node.URL, mode)
		}

		var result *types.SyncResult
		err := guarded(cmd.Context(), "sync", func(ctx context.Context) error {
			var err error
			result, err = svc.syncer.Sync(ctx, syncFull)
			return err
		})
		if err != nil {
			if result != nil && jsonOutput {
				printJSON(cmd, result)
			}
			return err
		}

		if jsonOutput {
			return printJSON(cmd, result)
		}
		if quietFlag {
			return nil
		}
		display.SuccessMsg("%d domains and %d addresses fetched, %d new", result.Domains, result.Emails, result.Inserted)
		if result.Failed > 0 {
			display.WarnMsg("%d indicators could not be stored", result.Failed)
		}
		if result.FilterBits > 0 {
			fmt.Printf("  %s\n", display.Dim.Render(fmt.Sprintf("prefilter rebuilt (%d bits)", result.FilterBits)))
		}
		printRescan(result.Resolved, result.MessageIDs)
		return nil
	},
}

// printRescan lists emails that gained incidents after a rescan.
func printRescan(resolved int, messageIDs []string) {
	if resolved == 0 {
		fmt.Println("  No previously checked email matches the new indicators.")
		return
	}
	display.WarnMsg("%d new incidents in %d previously checked emails:", resolved, len(messageIDs))
	display.Tree(messageIDs)
	fmt.Printf("  %s\n", display.Dim.Render("Run 'pb show MESSAGE_ID' for details."))
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Replace all feed indicators instead of fetching new ones")
	rootCmd.AddCommand(syncCmd)
}
