package main

import (
	"context"
	"fmt"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/incident"
	"github.com/spf13/cobra"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Match unresolved tags against the current indicators",
	Long: `Check every candidate that did not match an indicator when its email
was inspected. New matches become pending incidents. 'pb sync' runs this
automatically; use it after 'pb indicators add-test'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res *incident.RescanResult
		err := guarded(cmd.Context(), "rescan", func(ctx context.Context) error {
			var err error
			res, err = svc.queue.Rescan(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}
		if !quietFlag {
			fmt.Printf("Checked %d unresolved tags.\n", res.Checked)
			printRescan(res.Resolved, res.MessageIDs)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send pending incident reports to the node",
	Long: `Submit every pending incident to the node. Submissions run
concurrently; each successful one is marked reported and each failed one
goes back to pending for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res *incident.DispatchResult
		err := guarded(cmd.Context(), "report", func(ctx context.Context) error {
			var err error
			res, err = svc.queue.Dispatch(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}
		switch {
		case res.Attempted == 0:
			fmt.Println("No incidents to be reported.")
		case res.Failed == 0:
			display.SuccessMsg("%d pending incident reports sent.", res.Reported)
		default:
			display.WarnMsg("%d of %d incident reports sent, %d will be retried.", res.Reported, res.Attempted, res.Failed)
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Return incidents stuck in transit to pending",
	Long: `Incidents stay in transit when a report run is interrupted. This
returns them to pending so the next 'pb report' submits them again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		err := guarded(cmd.Context(), "report", func(ctx context.Context) error {
			var err error
			n, err = svc.queue.RecoverInTransit(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, map[string]int{"recovered": n})
		}
		if !quietFlag {
			fmt.Printf("%d incidents returned to pending.\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescanCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(recoverCmd)
}
