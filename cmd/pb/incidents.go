package main

import (
	"errors"
	"fmt"

	"github.com/daviddao/phishbeads/internal/beads"
	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/display"
	"github.com/spf13/cobra"
)

var (
	incidentsPending bool
	showNoTags       bool
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List recorded incidents",
	Example: `  pb incidents
  pb incidents --pending --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := store.ListIncidents(cmd.Context(), incidentsPending)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Println("No incidents.")
			return nil
		}
		for _, inc := range list {
			fmt.Printf("%5d  %s %-24s %s\n",
				inc.ID,
				display.ReportBadge(inc.Reported),
				inc.Type,
				display.Truncate(inc.Raw, 40))
			fmt.Printf("       %s\n", display.Dim.Render(fmt.Sprintf("%s · %s · %s",
				inc.Kind, display.TimeAgo(inc.Timestamp), display.Truncate(inc.Context, 50))))
		}
		return nil
	},
}

type showOutput struct {
	MessageID string `json:"message_id"`
	Label     string `json:"label,omitempty"`
	Status    string `json:"status"`
	Checked   int64  `json:"checked,omitempty"`
	Incidents any    `json:"incidents"`
	Tags      any    `json:"tags,omitempty"`
}

var showCmd = &cobra.Command{
	Use:   "show MESSAGE_ID",
	Short: "Show the verdict, incidents and tags of a checked email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		v, err := svc.engine.Status(ctx, args[0])
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("email %s has not been checked", args[0])
		}
		if err != nil {
			return err
		}
		email, err := store.GetEmail(ctx, args[0])
		if err != nil {
			return err
		}
		tags, err := svc.ledger.TagsForEmail(ctx, email.ID)
		if err != nil {
			return err
		}

		if jsonOutput {
			out := showOutput{
				MessageID: v.MessageID,
				Label:     v.Label,
				Status:    v.Status.String(),
				Checked:   v.Timestamp,
				Incidents: v.Incidents,
			}
			if !showNoTags {
				out.Tags = tags
			}
			return printJSON(cmd, out)
		}

		printVerdict(cmd.OutOrStdout(), v.MessageID, v)
		if showNoTags || len(tags) == 0 {
			return nil
		}
		fmt.Println()
		display.SubHeader(fmt.Sprintf("Tags (%d)", len(tags)))
		lines := make([]string, 0, len(tags))
		for _, t := range tags {
			mark := display.Dim.Render("·")
			if t.Resolved() {
				mark = display.ErrStyle.Render("●")
			}
			lines = append(lines, fmt.Sprintf("%s %-24s %s", mark, t.Type, t.Raw))
		}
		display.Tree(lines)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget MESSAGE_ID...",
	Short: "Delete checked emails with their tags and incidents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		for _, id := range args {
			ok, err := svc.engine.Forget(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				display.WarnMsg("%s: not found", id)
				continue
			}
			if beadsFlag && beads.Available() {
				n := beads.NewNotifier(beads.NewClient(nil), logger.Named("beads"))
				if err := n.Forget(ctx, id); err != nil {
					display.WarnMsg("%s: could not close bead: %v", id, err)
				}
			}
			if !quietFlag && !jsonOutput {
				display.SuccessMsg("Forgot %s", id)
			}
		}
		return nil
	},
}

func init() {
	incidentsCmd.Flags().BoolVar(&incidentsPending, "pending", false, "Only show incidents awaiting report")
	showCmd.Flags().BoolVar(&showNoTags, "no-tags", false, "Hide the examined candidates")
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(forgetCmd)
}
