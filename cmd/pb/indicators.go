package main

import (
	"fmt"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/fingerprint"
	"github.com/daviddao/phishbeads/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Inspect and seed the indicator store",
}

var indicatorsAddTestCmd = &cobra.Command{
	Use:   "add-test RAW...",
	Short: "Add synthetic test indicators",
	Long: `Add domains or addresses as test indicators. Test indicators survive
full syncs and are only reported when test.report is enabled, so they are
safe for demos and offline checks.`,
	Example: `  pb indicators add-test phishing.example login.phishing.example
  pb indicators add-test attacker@phishing.example && pb rescan`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		res, err := svc.indicators.AddTest(ctx, args...)
		if err != nil {
			return err
		}
		if _, err := svc.syncer.RebuildFilter(ctx); err != nil {
			logger.Warn("rebuild prefilter", zap.Error(err))
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}
		if !quietFlag {
			display.SuccessMsg("%d test indicators added, %d already present", res.Inserted, res.Ignored)
		}
		return nil
	},
}

type lookupOutput struct {
	Raw         string               `json:"raw"`
	Fingerprint string               `json:"fingerprint"`
	Filter      string               `json:"filter"`
	Matches     []types.IndicatorRef `json:"matches"`
}

var indicatorsLookupCmd = &cobra.Command{
	Use:   "lookup RAW...",
	Short: "Check strings against the indicator store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var out []lookupOutput
		for _, raw := range args {
			fp := fingerprint.Sum(raw)
			refs, err := svc.indicators.Lookup(ctx, fp)
			if err != nil {
				return err
			}
			filter := "off"
			if f := svc.resolver.Filter(); f != nil {
				filter = "absent"
				if f.Contains(fp) {
					filter = "maybe"
				}
			}
			out = append(out, lookupOutput{Raw: raw, Fingerprint: fp, Filter: filter, Matches: refs})
		}

		if jsonOutput {
			return printJSON(cmd, out)
		}
		for _, o := range out {
			if len(o.Matches) == 0 {
				fmt.Printf("%s %s %s\n", display.Success.Render("○"), o.Raw, display.Dim.Render("(no match, filter: "+o.Filter+")"))
				continue
			}
			fmt.Printf("%s %s %s\n", display.ErrStyle.Render("●"), o.Raw, display.Dim.Render("(filter: "+o.Filter+")"))
			lines := make([]string, 0, len(o.Matches))
			for _, m := range o.Matches {
				lines = append(lines, fmt.Sprintf("#%d %s", m.ID, m.Kind))
			}
			display.Tree(lines)
		}
		return nil
	},
}

func init() {
	indicatorsCmd.AddCommand(indicatorsAddTestCmd)
	indicatorsCmd.AddCommand(indicatorsLookupCmd)
	rootCmd.AddCommand(indicatorsCmd)
}
