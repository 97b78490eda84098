// Package beads files suspicious emails as issues in the bd (beads) CLI.
//
// Phishbeads keeps detection state in its own store; beads only receives a
// work item per suspicious email so a human can follow up. This package
// shells out to the bd binary and parses its JSON output.
package beads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/daviddao/phishbeads/internal/engine"
	"go.uber.org/zap"
)

// Labels carried by every filed issue.
var Labels = []string{"email", "phishing"}

// Issue is the subset of beads issue fields that phishbeads cares about.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	IssueType   string `json:"issue_type"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Runner executes bd with args and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Available checks if the bd binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("bd")
	return err == nil
}

// ExternalRef builds the external_ref string for an email.
func ExternalRef(messageID string) string {
	return "pb:" + messageID
}

// Client talks to bd.
type Client struct {
	run Runner
}

// NewClient returns a Client using run, or the bd binary when run is nil.
func NewClient(run Runner) *Client {
	if run == nil {
		run = Exec
	}
	return &Client{run: run}
}

// Create files a new issue and returns it.
func (c *Client) Create(ctx context.Context, title, description, messageID string) (*Issue, error) {
	args := []string{"create", title,
		"-p", "1",
		"-t", "bug",
		"--external-ref", ExternalRef(messageID),
		"-l", strings.Join(Labels, ","),
		"--json", "--silent",
	}
	if description != "" {
		args = append(args, "-d", description)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("parse bd create output: %w", err)
	}
	return &issue, nil
}

// Find returns the open issue filed for messageID, or nil.
func (c *Client) Find(ctx context.Context, messageID string) (*Issue, error) {
	out, err := c.run(ctx, "list", "--json", "-l", strings.Join(Labels, ","), "-s", "open")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parse bd list output: %w", err)
	}
	ref := ExternalRef(messageID)
	for i := range issues {
		if issues[i].ExternalRef == ref {
			return &issues[i], nil
		}
	}
	return nil, nil
}

// Comment adds a comment to an issue.
func (c *Client) Comment(ctx context.Context, beadID, text string) error {
	_, err := c.run(ctx, "comments", "add", beadID, text, "-q")
	return err
}

// Close closes an issue with a reason.
func (c *Client) Close(ctx context.Context, beadID, reason string) error {
	args := []string{"close", beadID, "-q"}
	if reason != "" {
		args = append(args, "-r", reason)
	}
	_, err := c.run(ctx, args...)
	return err
}

// Notifier files an issue for every suspicious verdict. A re-inspected
// email gets a comment on its existing issue instead.
type Notifier struct {
	client *Client
	logger *zap.Logger
}

// NewNotifier returns a Notifier.
func NewNotifier(client *Client, logger *zap.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

// Notify implements engine.Notifier.
func (n *Notifier) Notify(ctx context.Context, messageID string, v *engine.Verdict) error {
	if !v.Suspicious() {
		return nil
	}
	body := describe(v)

	existing, err := n.client.Find(ctx, messageID)
	if err != nil {
		return err
	}
	if existing != nil {
		n.logger.Debug("commenting on existing bead", zap.String("bead", existing.ID), zap.String("message_id", messageID))
		return n.client.Comment(ctx, existing.ID, body)
	}

	title := "Suspicious email"
	if v.Label != "" {
		title += ": " + v.Label
	}
	issue, err := n.client.Create(ctx, title, body, messageID)
	if err != nil {
		return err
	}
	n.logger.Info("filed bead", zap.String("bead", issue.ID), zap.String("message_id", messageID))
	return nil
}

// Forget closes the issue of messageID, if one is open.
func (n *Notifier) Forget(ctx context.Context, messageID string) error {
	existing, err := n.client.Find(ctx, messageID)
	if err != nil || existing == nil {
		return err
	}
	return n.client.Close(ctx, existing.ID, "email forgotten")
}

func describe(v *engine.Verdict) string {
	var b strings.Builder
	for _, line := range v.Indications {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	for _, inc := range v.Incidents {
		fmt.Fprintf(&b, "- %s %s (%s)\n", inc.Type, inc.Raw, inc.Reported)
	}
	return strings.TrimSpace(b.String())
}

// discoverBeadsDB walks up from cwd looking for a .beads/ directory
// and returns the path to .beads/beads.db, or empty string if not found.
func discoverBeadsDB() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".beads", "beads.db")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// Exec runs the bd binary. It passes the discovered beads database so bd
// works from nested repositories.
func Exec(ctx context.Context, args ...string) ([]byte, error) {
	sub := args[0]
	if dbPath := discoverBeadsDB(); dbPath != "" {
		args = append([]string{"--db", dbPath}, args...)
	}

	out, err := exec.CommandContext(ctx, "bd", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("bd %s: %s", sub, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("bd %s: %w", sub, err)
	}
	return out, nil
}
