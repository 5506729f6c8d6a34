// Package api implements the HTTP client for the in-app message backend.
//
// The client speaks two endpoints: a conditional catalog GET (ETag /
// If-None-Match) and a lifecycle-event POST. It performs no caching or retry
// itself; those policies belong to the service layer. Responses are decoded
// strictly and malformed catalog entries are dropped with a warning rather
// than failing the whole fetch.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-inapp-engine/internal/domain"
)

// catalogEnvelope mirrors the backend list response.
type catalogEnvelope struct {
	Data     domain.Catalog `json:"data"`
	Metadata struct {
		Total int `json:"total"`
	} `json:"metadata"`
}

// eventEnvelope mirrors the backend event acknowledgment body. The body may
// be empty; when present, Success must be true.
type eventEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CatalogResult is the outcome of one conditional catalog fetch.
type CatalogResult struct {
	// Messages holds the decoded catalog; empty when NotModified is set.
	Messages domain.Catalog
	// Token is the validation token from the response, if any.
	Token string
	// NotModified is set on a 304, meaning the cached catalog is current.
	NotModified bool
}

// Client talks to the in-app message backend. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL string
	apiKey  string
	limit   int
	httpc   *http.Client
	log     zerolog.Logger
}

// New constructs a Client. The caller supplies the http.Client so timeouts
// and transports stay configurable; nil falls back to http.DefaultClient.
func New(baseURL, apiKey string, limit int, httpc *http.Client, log zerolog.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if limit < 1 {
		limit = 100
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, limit: limit, httpc: httpc, log: log}
}

// FetchCatalog performs the conditional catalog GET. A non-empty etag is
// sent as If-None-Match. A 200 yields the decoded catalog plus any response
// validation token; a 304 yields NotModified. Any other status maps to
// *HTTPError, transport failures to *NetworkError, and an unparseable 200
// body to *DecodeError.
func (c *Client) FetchCatalog(ctx context.Context, etag string) (*CatalogResult, error) {
	u := fmt.Sprintf("%s/popups?search=&sortBy=newest&offset=0&limit=%d", c.baseURL, c.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &CatalogResult{NotModified: true}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var env catalogEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return &CatalogResult{
			Messages: c.validMessages(env.Data),
			Token:    resp.Header.Get("ETag"),
		}, nil
	default:
		return nil, &HTTPError{Status: resp.StatusCode}
	}
}

// PostEvent reports one lifecycle action for a message. It succeeds only on
// a 2xx status whose body, when non-empty, acknowledges with success=true.
func (c *Client) PostEvent(ctx context.Context, action, messageID string) error {
	body, err := json.Marshal(map[string]string{
		"action": action,
		"inApp":  messageID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inapp/event", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &NetworkError{Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &DecodeError{Err: err}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "backend rejected event"
		}
		return &APIError{Message: msg}
	}
	return nil
}

// validMessages drops catalog entries that fail structural validation so one
// bad row cannot take the whole catalog down.
func (c *Client) validMessages(in domain.Catalog) domain.Catalog {
	out := make(domain.Catalog, 0, len(in))
	for _, m := range in {
		if err := m.Validate(); err != nil {
			c.log.Warn().Err(err).Str("message_id", m.ID).Msg("dropping invalid catalog entry")
			continue
		}
		out = append(out, m)
	}
	return out
}

// BaseURL reports the configured backend base URL, mainly for logging.
func (c *Client) BaseURL() string { return c.baseURL }
