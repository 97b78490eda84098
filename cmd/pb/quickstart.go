package main

import (
	"fmt"

	"github.com/daviddao/phishbeads/internal/display"
	"github.com/spf13/cobra"
)

var quickstartCmd = &cobra.Command{
	Use:   "quickstart",
	Short: "Quick start guide for pb",
	Long:  "Display a quick start guide showing common pb workflows.",
	Run: func(cmd *cobra.Command, args []string) {
		b := display.Bold.Render
		a := display.Success.Render
		d := display.Dim.Render

		fmt.Printf("\n%s\n\n", b("pb: Phishing Indicator Matching for Your Mailbox"))
		fmt.Println("Check emails against known-bad domains and addresses, report what matches.")
		fmt.Println()

		fmt.Println(b("GETTING STARTED"))
		fmt.Printf("  %s           Initialize .phishbeads/ in your project\n", a("pb init"))
		fmt.Printf("                   Creates phish.db and config.yaml next to your .git root\n\n")
		fmt.Printf("  %s    Fetch all indicators from the node\n", a("pb sync --full"))
		fmt.Printf("  %s           Fetch indicators published since the last sync\n\n", a("pb sync"))

		fmt.Println(b("CHECKING EMAIL"))
		fmt.Printf("  %s          Check .eml files\n", a("pb check FILE..."))
		fmt.Printf("  %s     Check every message of an mbox folder\n", a("pb scan-folder MBOX"))
		fmt.Printf("  %s  Check Gmail messages matching a query\n", a(`pb gmail scan "newer_than:1d"`))
		fmt.Printf("  %s\n\n", d("  Verdicts are cached per Message-ID; use --force to check again"))

		fmt.Println(b("INCIDENTS"))
		fmt.Printf("  %s        List incidents (--pending for unreported)\n", a("pb incidents"))
		fmt.Printf("  %s  Verdict, incidents and tags of one email\n", a("pb show MESSAGE_ID"))
		fmt.Printf("  %s           Send pending reports to the node\n", a("pb report"))
		fmt.Printf("  %s           Match old candidates against new indicators\n", a("pb rescan"))
		fmt.Printf("  %s          Return in-transit incidents to pending\n\n", a("pb recover"))

		fmt.Println(b("TESTING"))
		fmt.Printf("  %s\n", a("pb indicators add-test phishing.example"))
		fmt.Printf("  %s\n", d("  Test indicators survive syncs and are not reported unless test.report is set"))
		fmt.Printf("  %s  Show whether a string is a known indicator\n\n", a("pb indicators lookup RAW"))

		fmt.Println(b("AUTOMATION"))
		fmt.Printf("  %s           Sync and report on the configured intervals\n", a("pb daemon"))
		fmt.Printf("  %s         File suspicious emails as beads issues\n", a("--beads"))
		fmt.Printf("  All commands support %s for machine-readable output.\n\n", a("--json"))

		fmt.Printf("%s Run %s to see the current state.\n\n", display.Success.Render("Ready!"), a("pb status"))
	},
}

func init() {
	rootCmd.AddCommand(quickstartCmd)
}
