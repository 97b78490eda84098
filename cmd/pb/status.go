package main

import (
	"fmt"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/types"
	"github.com/spf13/cobra"
)

type statusOutput struct {
	Node       string       `json:"node"`
	Stats      *types.Stats `json:"stats"`
	Filter     int          `json:"filter_bits"`
	SyncLast   int64        `json:"sync_last"`
	SyncTry    int64        `json:"sync_last_try"`
	ReportLast int64        `json:"reports_last"`
	ReportTry  int64        `json:"reports_last_try"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show indicator, email and incident counts with sync state",
	Long: `Show a quick snapshot of the phishbeads store.

Examples:
  pb status          # Overview
  pb status --json   # Machine-readable output
  pb st              # Short alias`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		out := statusOutput{Node: cfg.Node.URL, Stats: stats}
		for key, dst := range map[string]*int64{
			db.MetaSyncLast:       &out.SyncLast,
			db.MetaSyncLastTry:    &out.SyncTry,
			db.MetaReportsLast:    &out.ReportLast,
			db.MetaReportsLastTry: &out.ReportTry,
		} {
			if *dst, err = store.GetMetaInt(ctx, key); err != nil {
				return err
			}
		}
		if f := svc.resolver.Filter(); f != nil {
			out.Filter = f.NumBits()
		}

		if jsonOutput {
			return printJSON(cmd, out)
		}

		display.Header("Phishbeads Status")
		fmt.Println()

		fmt.Println("  Node")
		fmt.Printf("    %s\n", out.Node)
		fmt.Printf("    Last sync:     %s\n", display.Elapsed(out.SyncLast))
		fmt.Printf("    Last report:   %s\n", display.Elapsed(out.ReportLast))
		fmt.Println()

		fmt.Println("  Indicators")
		fmt.Printf("    Feed:        %6d\n", stats.Indicators)
		fmt.Printf("    Test:        %6d\n", stats.TestIndicators)
		if out.Filter > 0 {
			fmt.Printf("    %s\n", display.Dim.Render(fmt.Sprintf("prefilter active (%d bits)", out.Filter)))
		} else {
			fmt.Printf("    %s\n", display.Dim.Render("prefilter off (exact lookup)"))
		}
		fmt.Println()

		fmt.Println("  Emails")
		fmt.Printf("    Checked:     %6d\n", stats.Emails)
		if stats.Suspicious > 0 {
			fmt.Printf("    Suspicious:  %s\n", display.ErrStyle.Render(fmt.Sprintf("%6d", stats.Suspicious)))
		} else {
			fmt.Printf("    Suspicious:       0 %s\n", display.Success.Render("(all clean)"))
		}
		fmt.Printf("    Tags:        %6d %s\n", stats.Tags, display.Dim.Render(fmt.Sprintf("(%d unmatched)", stats.Unresolved)))
		fmt.Println()

		fmt.Println("  Incidents")
		fmt.Printf("    Pending:     %6d\n", stats.Pending)
		if stats.InTransit > 0 {
			fmt.Printf("    In transit:  %s\n", display.Warn.Render(fmt.Sprintf("%6d", stats.InTransit)))
		}
		fmt.Printf("    Reported:    %6d\n", stats.Reported)
		fmt.Println()

		fmt.Printf("  %s\n", display.Dim.Render("Use 'pb incidents' to list, 'pb report' to send, 'pb sync' to refresh indicators."))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
