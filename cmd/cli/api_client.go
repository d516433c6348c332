// This file implements the HTTP client used by --remote to run commands on
// a netscope API server.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netscope/internal/api/handlers"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
	"github.com/anstrom/netscope/internal/services"
)

const (
	clientTimeout = 30 * time.Second
	pollInterval  = 500 * time.Millisecond
	cancelTimeout = 5 * time.Second
)

// APIClient talks to the netscope REST API.
type APIClient struct {
	baseURL      string
	httpClient   *http.Client
	userAgent    string
	pollInterval time.Duration
}

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Field      string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, msg)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, msg)
}

// NewAPIClient creates a client for the server at base, e.g.
// http://192.168.1.5:8080.
func NewAPIClient(base string) (*APIClient, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid server URL %q: expected http(s)://host:port", base)
	}

	return &APIClient{
		baseURL: u.String() + "/api/v1",
		httpClient: &http.Client{
			Timeout: clientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent:    "netscope-cli/" + version,
		pollInterval: pollInterval,
	}, nil
}

// request performs one API call and decodes a 2xx body into dest.
func (c *APIClient) request(ctx context.Context, method, endpoint string, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiResp handlers.ErrorResponse
		if json.Unmarshal(data, &apiResp) != nil || apiResp.Message == "" {
			apiResp.Message = strings.TrimSpace(string(data))
		}
		if apiResp.Message == "" {
			apiResp.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiResp.Message,
			Code:       apiResp.Code,
			Field:      apiResp.Field,
			RequestID:  apiResp.RequestID,
		}
	}

	if dest == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// TestConnection checks that the server answers its health endpoint.
func (c *APIClient) TestConnection(ctx context.Context) error {
	var health handlers.HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return fmt.Errorf("API connection test failed: %w", err)
	}
	if health.Status != handlers.StatusHealthy {
		return fmt.Errorf("API health check failed: %s", health.Status)
	}
	return nil
}

// StartRun posts to a run endpoint such as /scans.
func (c *APIClient) StartRun(ctx context.Context, endpoint, rangeSpec string) (handlers.StartedResponse, error) {
	var started handlers.StartedResponse
	err := c.request(ctx, http.MethodPost, endpoint, handlers.RangeRequest{Range: rangeSpec}, &started)
	return started, err
}

// Events fetches the run's events from seq onwards.
func (c *APIClient) Events(ctx context.Context, id uuid.UUID, from uint64) (handlers.EventsResponse, error) {
	var page handlers.EventsResponse
	err := c.request(ctx, http.MethodGet, fmt.Sprintf("/runs/%s/events?from=%d", id, from), nil, &page)
	return page, err
}

// Wait polls the run's events until its log closes, passing each event to
// onEvent. Canceling ctx cancels the run on the server.
func (c *APIClient) Wait(ctx context.Context, id uuid.UUID, onEvent func(events.Event)) error {
	from := uint64(1)
	for {
		page, err := c.Events(ctx, id, from)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelDetached(id)
				return ctx.Err()
			}
			return err
		}
		for _, ev := range page.Events {
			if onEvent != nil {
				onEvent(ev)
			}
		}
		from = page.Next
		if page.Done {
			return nil
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			c.cancelDetached(id)
			return ctx.Err()
		}
	}
}

func (c *APIClient) cancelDetached(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_ = c.CancelRun(ctx, id)
}

// Run fetches the run summary and decodes its result into result.
func (c *APIClient) Run(ctx context.Context, id uuid.UUID, result any) (runs.Summary, error) {
	var raw struct {
		runs.Summary
		Result json.RawMessage `json:"result"`
	}
	if err := c.request(ctx, http.MethodGet, "/runs/"+id.String(), nil, &raw); err != nil {
		return runs.Summary{}, err
	}
	if result != nil && len(raw.Result) > 0 && string(raw.Result) != "null" {
		if err := json.Unmarshal(raw.Result, result); err != nil {
			return raw.Summary, fmt.Errorf("failed to decode run result: %w", err)
		}
	}
	return raw.Summary, nil
}

// CancelRun cancels a run.
func (c *APIClient) CancelRun(ctx context.Context, id uuid.UUID) error {
	return c.request(ctx, http.MethodDelete, "/runs/"+id.String(), nil, nil)
}

// Services lists the server's service catalog.
func (c *APIClient) Services(ctx context.Context) ([]services.Definition, error) {
	var resp handlers.CatalogResponse
	if err := c.request(ctx, http.MethodGet, "/services", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// Wake asks the server to send a magic packet.
func (c *APIClient) Wake(ctx context.Context, mac, broadcast string) (handlers.WakeResponse, error) {
	var resp handlers.WakeResponse
	err := c.request(ctx, http.MethodPost, "/wake", handlers.WakeRequest{MAC: mac, Broadcast: broadcast}, &resp)
	return resp, err
}
