package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const rawMessage = "Message-ID: <g1@evil.tld>\r\n" +
	"From: Alice <alice@evil.tld>\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"visit http://evil.tld/login\r\n"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := gm.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return New(svc, zap.NewNop())
}

func TestSearchPages(t *testing.T) {
	var queries []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages"), r.URL.Path)
		queries = append(queries, r.URL.Query().Get("q"))
		resp := gm.ListMessagesResponse{Messages: []*gm.Message{{Id: "m1"}, {Id: "m2"}}, NextPageToken: "p2"}
		if r.URL.Query().Get("pageToken") == "p2" {
			resp = gm.ListMessagesResponse{Messages: []*gm.Message{{Id: "m3"}}}
		}
		json.NewEncoder(w).Encode(resp)
	})

	ids, err := c.Search(context.Background(), "in:inbox", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	assert.Equal(t, []string{"in:inbox", "in:inbox"}, queries)
}

func TestSearchError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":401,"message":"unauthorized"}}`, http.StatusUnauthorized)
	})
	_, err := c.Search(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestFetchParsesRaw(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1"), r.URL.Path)
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		json.NewEncoder(w).Encode(gm.Message{Id: "m1", Raw: base64.URLEncoding.EncodeToString([]byte(rawMessage))})
	})

	msg, err := c.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "<g1@evil.tld>", msg.MessageID())
	assert.Equal(t, "Alice <alice@evil.tld>", msg.Get("from"))
	require.Len(t, msg.Parts, 1)
	assert.Contains(t, msg.Parts[0].Body, "http://evil.tld/login")
}

func TestDecodeBase64URL(t *testing.T) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding} {
		got, err := decodeBase64URL(enc.EncodeToString([]byte("ab?>")))
		require.NoError(t, err)
		assert.Equal(t, "ab?>", string(got))
	}
}

func TestDiscoverAccounts(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"b@example.com", "a@example.com", "no-at-sign", "c@example.com"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, dir), 0o755))
	}
	for _, dir := range []string{"b@example.com", "a@example.com", "no-at-sign"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "credentials.json"), []byte("{}"), 0o600))
	}
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, DiscoverAccounts(root))
	assert.Nil(t, DiscoverAccounts(filepath.Join(root, "missing")))
}
