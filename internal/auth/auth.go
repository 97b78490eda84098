// Package auth provides read-only Google OAuth2 access to a Gmail account.
//
// Each account lives in a directory named after its address holding
// credentials.json (the OAuth client) and token.json (the user token).
// Tokens written by google-auth's Python library are read as well.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes requested for scanning. Phishbeads never modifies a mailbox.
var Scopes = []string{gmail.GmailReadonlyScope}

// File names inside an account directory.
const (
	CredentialsFile = "credentials.json"
	TokenFile       = "token.json"
)

// tokenFile accepts both the oauth2 JSON layout and google-auth's.
type tokenFile struct {
	AccessToken  string `json:"access_token,omitempty"`
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
}

// NewGmailService returns a Gmail API service for the account whose
// credentials.json is at credentialsPath.
func NewGmailService(ctx context.Context, credentialsPath string, logger *zap.Logger) (*gmail.Service, error) {
	config, err := loadConfig(credentialsPath)
	if err != nil {
		return nil, err
	}
	tokenPath := filepath.Join(filepath.Dir(credentialsPath), TokenFile)
	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
	}

	ts := &persistingSource{
		src:    config.TokenSource(ctx, tok),
		path:   tokenPath,
		last:   tok.AccessToken,
		logger: logger,
	}
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
}

func loadConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}
	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

// LoadToken reads a token file.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = tf.Token
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tf.Expiry != "" {
		for _, layout := range expiryLayouts {
			if t, err := time.Parse(layout, tf.Expiry); err == nil {
				tok.Expiry = t
				break
			}
		}
	}
	return tok, nil
}

// SaveToken writes tok in the oauth2 layout, readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	tf := tokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		tf.Expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// persistingSource saves every refreshed token back to disk.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("could not save refreshed token", zap.String("path", s.path), zap.Error(err))
		}
	}
	return tok, nil
}
