package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/dissect"
	"github.com/daviddao/phishbeads/internal/engine"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkForce bool

type checkOutput struct {
	File    string          `json:"file"`
	Verdict *engine.Verdict `json:"verdict,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Check .eml files against known indicators",
	Long: `Check one or more RFC 5322 message files.

Every address, hostname and link is recorded and matched against the
indicator store. Matches become incidents queued for reporting. A message
that was already checked returns its cached verdict unless --force is set.
Use "-" to read a single message from stdin.`,
	Example: `  pb check suspicious.eml
  pb check --force inbox/*.eml
  pb check - < message.eml --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var results []checkOutput
		suspicious := 0

		for _, file := range args {
			out := checkOutput{File: file}
			v, err := checkFile(ctx, file)
			switch {
			case errors.Is(err, engine.ErrNoMessageID):
				out.Error = "no Message-ID header, skipped"
			case err != nil:
				return fmt.Errorf("%s: %w", file, err)
			default:
				out.Verdict = v
				if v.Suspicious() {
					suspicious++
				}
			}
			results = append(results, out)
		}

		if jsonOutput {
			return printJSON(cmd, results)
		}
		for _, r := range results {
			if r.Error != "" {
				display.WarnMsg("%s: %s", r.File, r.Error)
				continue
			}
			printVerdict(cmd.OutOrStdout(), r.File, r.Verdict)
		}
		if !quietFlag && len(results) > 1 {
			fmt.Println()
			fmt.Printf("%d of %d messages suspicious\n", suspicious, len(results))
		}
		return nil
	},
}

func checkFile(ctx context.Context, file string) (*engine.Verdict, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	msg, err := dissect.Parse(r)
	if err != nil && msg == nil {
		return nil, err
	}
	if err != nil {
		logger.Warn("message partially parsed", zap.String("file", file), zap.Error(err))
	}
	return svc.engine.Inspect(ctx, msg, engine.InspectOptions{Force: checkForce})
}

// printVerdict renders one verdict in tree style.
func printVerdict(w io.Writer, title string, v *engine.Verdict) {
	cached := ""
	if v.Cached {
		cached = display.Dim.Render(" (cached " + display.TimeAgo(v.Timestamp) + ")")
	}
	fmt.Fprintf(w, "%s %s%s\n", display.StatusBadge(v.Status), display.Bold.Render(title), cached)
	if v.Label != "" {
		fmt.Fprintf(w, "  %s\n", display.Dim.Render(display.Truncate(v.Label, 90)))
	}

	var lines []string
	lines = append(lines, v.Indications...)
	for _, inc := range v.Incidents {
		lines = append(lines, fmt.Sprintf("%s %s %s", display.ReportBadge(inc.Reported), inc.Type, inc.Raw))
	}
	display.Tree(lines)
}

func init() {
	checkCmd.Flags().BoolVar(&checkForce, "force", false, "Ignore cached verdicts and check again")
	rootCmd.AddCommand(checkCmd)
}
