package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/debuglog"
)

const (
	defaultUserAgent = "stashsave/1.0 (semantic search client; github.com/pders01/stashsave)"
	maxBodyBytes     = 8 << 20
)

// Client talks to the import and search backend.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       *debuglog.FieldLogger
}

func NewClient(cfg config.APIConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
		log:       debuglog.WithFields(map[string]interface{}{"component": "backend"}),
	}
}

// BaseURL is the normalized API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ingest asks the backend to import the user's starred repositories using
// the GitHub access token. The call returns once embeddings are stored.
func (c *Client) Ingest(ctx context.Context, userID, accessToken string) (*IngestResult, error) {
	endpoint := fmt.Sprintf("%s/ingest/github/%s?access_token=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(accessToken))

	var out IngestResult
	if err := c.do(ctx, http.MethodPost, endpoint, &out); err != nil {
		return nil, err
	}
	c.log.Infof("ingested %d items for user %s", out.Ingested, userID)
	return &out, nil
}

// Search runs a semantic query. Results keep the backend's order.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("user_id", q.UserID)
	params.Set("top_k", strconv.Itoa(q.TopK))

	var out SearchResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []SearchResult{}
	}
	c.log.Debugf("search %q returned %d results", q.Query, len(out.Results))
	return &out, nil
}

// Health queries the service root.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the provider token; report the transport error only
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: parseDetail(body)}
		c.log.Warnf("%s %s: %d %s", method, req.URL.Path, resp.StatusCode, apiErr.Detail)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
