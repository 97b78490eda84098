// Package gmail reads messages from Gmail in raw RFC 5322 form so they can
// be inspected like any other mail source.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/daviddao/phishbeads/internal/auth"
	"github.com/daviddao/phishbeads/internal/dissect"
	"go.uber.org/zap"
	gm "google.golang.org/api/gmail/v1"
)

const user = "me"

// pageSize caps one list call; Gmail allows up to 500.
const pageSize = 100

// Client lists and fetches messages of one account.
type Client struct {
	svc    *gm.Service
	logger *zap.Logger
}

// New wraps an authenticated service.
func New(svc *gm.Service, logger *zap.Logger) *Client {
	return &Client{svc: svc, logger: logger}
}

// Search returns the ids of up to limit messages matching a Gmail query,
// newest first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < limit {
		call := c.svc.Users.Messages.List(user).
			Q(query).
			MaxResults(int64(min(pageSize, limit-len(ids)))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// Fetch downloads one message and parses it.
func (c *Client) Fetch(ctx context.Context, id string) (*dissect.Message, error) {
	msg, err := c.svc.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	raw, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	parsed, err := dissect.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	c.logger.Debug("fetched message", zap.String("id", id), zap.Int("bytes", len(raw)))
	return parsed, nil
}

// decodeBase64URL decodes Gmail's base64url content, padded or not.
func decodeBase64URL(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// DiscoverAccounts finds account directories under root: directories
// named like an address that contain credentials.json.
func DiscoverAccounts(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var accounts []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), "@") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), auth.CredentialsFile)); err == nil {
			accounts = append(accounts, entry.Name())
		}
	}
	sort.Strings(accounts)
	return accounts
}
