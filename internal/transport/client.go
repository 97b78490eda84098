// Package transport talks to the PhishDetect-compatible back-end node: it
// fetches indicator feeds and submits incident reports.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Node API paths.
const (
	PathFetchIndicators = "/api/indicators/fetch/"
	PathAddEvent        = "/api/events/add/"
)

// maxBody caps how much of a node response is read.
const maxBody = 64 << 20

// ErrNode is wrapped by errors reported in a node response body.
var ErrNode = errors.New("node error")

// Indicators is the body of a fetch response. Entries are fingerprints.
type Indicators struct {
	Domains []string `json:"domains"`
	Emails  []string `json:"emails"`
	Error   string   `json:"error,omitempty"`
}

// Report is one incident as submitted to the node.
type Report struct {
	Type          string `json:"type"`
	Indicator     string `json:"indicator"`
	Hashed        string `json:"hashed"`
	TargetContact string `json:"target_contact"`
}

type nodeResponse struct {
	Error string `json:"error,omitempty"`
}

// Client is a node API client.
type Client struct {
	baseURL string
	http    HTTPDoer
	logger  *zap.Logger
}

// NewClient returns a client for the node at baseURL.
func NewClient(baseURL string, doer HTTPDoer, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		logger:  logger,
	}
}

// FetchIndicators returns the indicators published since the given unix
// time; 0 fetches everything.
func (c *Client) FetchIndicators(ctx context.Context, since int64) (*Indicators, error) {
	u := c.baseURL + PathFetchIndicators + "?last=" + url.QueryEscape(strconv.FormatInt(since, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	var out Indicators
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("fetch indicators: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("fetch indicators: %w: %s", ErrNode, out.Error)
	}
	c.logger.Debug("indicators fetched",
		zap.Int64("since", since),
		zap.Int("domains", len(out.Domains)),
		zap.Int("emails", len(out.Emails)))
	return &out, nil
}

// SubmitIncident posts one incident report.
func (c *Client) SubmitIncident(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathAddEvent, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out nodeResponse
	if err := c.do(req, &out); err != nil {
		return fmt.Errorf("submit incident: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("submit incident: %w: %s", ErrNode, out.Error)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var nr nodeResponse
		if json.Unmarshal(data, &nr) == nil && nr.Error != "" {
			return fmt.Errorf("status %d: %w: %s", resp.StatusCode, ErrNode, nr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
