package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/dissect"
	"github.com/daviddao/phishbeads/internal/engine"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scanForce bool

// scanSummary is the outcome of a folder scan.
type scanSummary struct {
	Folder     string   `json:"folder"`
	Total      int      `json:"total"`
	Skipped    int      `json:"skipped"`
	Suspicious int      `json:"suspicious"`
	MessageIDs []string `json:"suspicious_message_ids,omitempty"`
}

var scanFolderCmd = &cobra.Command{
	Use:   "scan-folder MBOX",
	Short: "Check every message of an mbox folder",
	Long: `Check every message stored in an mbox file, such as a Thunderbird
folder. Only one folder scan runs at a time; a second invocation fails
with "scan-folder is already running".`,
	Example: `  pb scan-folder ~/.thunderbird/abcd.default/Mail/Local\ Folders/Inbox
  pb scan-folder Inbox.mbox --force --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := args[0]
		sum := &scanSummary{Folder: folder}

		err := guarded(cmd.Context(), "scan-folder", func(ctx context.Context) error {
			f, err := os.Open(folder)
			if err != nil {
				return err
			}
			defer f.Close()
			return dissect.ReadMbox(f, func(msg *dissect.Message, perr error) error {
				return scanMessage(ctx, sum, msg, perr)
			})
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd, sum)
		}
		if !quietFlag {
			fmt.Println()
		}
		display.SuccessMsg("Scanned %d messages in %s: %d suspicious, %d skipped",
			sum.Total, folder, sum.Suspicious, sum.Skipped)
		return nil
	},
}

func scanMessage(ctx context.Context, sum *scanSummary, msg *dissect.Message, perr error) error {
	sum.Total++
	if msg == nil {
		sum.Skipped++
		logger.Warn("unreadable message skipped", zap.Int("index", sum.Total), zap.Error(perr))
		return nil
	}
	v, err := svc.engine.Inspect(ctx, msg, engine.InspectOptions{Force: scanForce})
	if errors.Is(err, engine.ErrNoMessageID) {
		sum.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if v.Suspicious() {
		sum.Suspicious++
		sum.MessageIDs = append(sum.MessageIDs, v.MessageID)
	}
	if !quietFlag && !jsonOutput {
		fmt.Printf("\r  Checked %d messages, %d suspicious", sum.Total, sum.Suspicious)
	}

	if d := cfg.Scan.Delay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func init() {
	scanFolderCmd.Flags().BoolVar(&scanForce, "force", false, "Ignore cached verdicts and check again")
	rootCmd.AddCommand(scanFolderCmd)
}
