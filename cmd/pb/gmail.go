package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/daviddao/phishbeads/internal/auth"
	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/display"
	"github.com/daviddao/phishbeads/internal/engine"
	"github.com/daviddao/phishbeads/internal/gmail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	gmailAccount     string
	gmailCredentials string
	gmailMaxResults  int
	gmailForce       bool
)

type gmailScanOutput struct {
	Account  string            `json:"account"`
	Checked  int               `json:"checked"`
	Verdicts []*engine.Verdict `json:"verdicts"`
	Error    string            `json:"error,omitempty"`
}

// gmailCmd is the parent command for Gmail operations.
var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Gmail operations (scan)",
	Long:  "Check Gmail messages using read-only API access.",
}

var gmailScanCmd = &cobra.Command{
	Use:   "scan QUERY",
	Short: "Check Gmail messages matching a query",
	Long: `Fetch the raw messages matching a Gmail search query and check them
like local .eml files.

Accounts are directories named after an address holding credentials.json
and token.json in the project root. All accounts are scanned unless
--account is given.`,
	Example: `  pb gmail scan "newer_than:1d"
  pb gmail scan "in:spam" -n 200
  pb gmail scan "from:billing" --account user@example.com --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory)")
		}

		accounts := resolveAccounts(root, gmailAccount)
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts found, add account directories with credentials.json to the project root")
		}

		var results []gmailScanOutput
		err := guarded(cmd.Context(), "gmail-scan", func(ctx context.Context) error {
			for _, account := range accounts {
				out := gmailScanOutput{Account: account}
				credPath := resolveCredentials(root, account, gmailCredentials)
				service, err := auth.NewGmailService(ctx, credPath, logger.Named("auth"))
				if err != nil {
					out.Error = err.Error()
					results = append(results, out)
					if !quietFlag && !jsonOutput {
						display.WarnMsg("%s: %v, skipping", account, err)
					}
					continue
				}
				client := gmail.New(service, logger.Named("gmail"))

				ids, err := client.Search(ctx, query, gmailMaxResults)
				if err != nil {
					return fmt.Errorf("%s: %w", account, err)
				}
				for _, id := range ids {
					msg, err := client.Fetch(ctx, id)
					if err != nil {
						logger.Warn("message skipped", zap.String("account", account), zap.String("id", id), zap.Error(err))
						continue
					}
					v, err := svc.engine.Inspect(ctx, msg, engine.InspectOptions{Force: gmailForce})
					if errors.Is(err, engine.ErrNoMessageID) {
						continue
					}
					if err != nil {
						return err
					}
					out.Checked++
					out.Verdicts = append(out.Verdicts, v)
				}
				results = append(results, out)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd, results)
		}
		for _, r := range results {
			if r.Error != "" {
				continue
			}
			suspicious := 0
			for _, v := range r.Verdicts {
				if !v.Suspicious() {
					continue
				}
				suspicious++
				printVerdict(cmd.OutOrStdout(), v.MessageID, v)
			}
			display.SuccessMsg("%s: %d messages checked, %d suspicious", r.Account, r.Checked, suspicious)
		}
		return nil
	},
}

var gmailAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List Gmail accounts found in the project root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory)")
		}
		accounts := gmail.DiscoverAccounts(root)
		if jsonOutput {
			return printJSON(cmd, accounts)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found.")
			return nil
		}
		for _, a := range accounts {
			fmt.Println(a)
		}
		return nil
	},
}

// resolveAccounts returns the list of accounts to operate on.
func resolveAccounts(root, account string) []string {
	if account != "" {
		return []string{account}
	}
	return gmail.DiscoverAccounts(root)
}

// resolveCredentials returns the credentials path for an account.
func resolveCredentials(root, account, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(root, account, auth.CredentialsFile)
}

func init() {
	gmailCmd.PersistentFlags().StringVar(&gmailAccount, "account", "", "Gmail account to use (default: all accounts)")
	gmailCmd.PersistentFlags().StringVar(&gmailCredentials, "credentials", "", "Path to credentials.json")

	gmailScanCmd.Flags().IntVarP(&gmailMaxResults, "max-results", "n", 50, "Maximum messages per account")
	gmailScanCmd.Flags().BoolVar(&gmailForce, "force", false, "Ignore cached verdicts and check again")

	gmailCmd.AddCommand(gmailScanCmd)
	gmailCmd.AddCommand(gmailAccountsCmd)
	rootCmd.AddCommand(gmailCmd)
}
