// Package client is a Go client for the datamigration admin API.
//
// It mirrors the server routes one method per endpoint and decodes the
// bodies declared in pkg/api. Non-2xx responses are returned as *APIError,
// carrying the status code and the server's error message.
//
//	c := client.NewClient("http://localhost:8080")
//	plugins, err := c.Plugins(ctx)
//	if err != nil {
//		return err
//	}
//	for _, p := range plugins {
//		fmt.Println(p.Name, p.Version, p.State)
//	}
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/surrealdb/datamigration/pkg/api"
)

// Client talks to one datamigration process.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL, for example http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client. Migrations can run
// for a long time, so callers of Migrate usually want a client without a
// timeout.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// APIError is returned for responses with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d, body=%s", e.StatusCode, e.Message)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// decodeResponse decodes the JSON response into target and closes the body.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var decoded api.ErrorResponse
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
		}
		return apiErr
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

func pluginPath(name string) string {
	return "/api/plugins/" + url.PathEscape(name)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var result api.HealthResponse
	err := c.call(ctx, http.MethodGet, "/api/health", nil, &result)
	return result, err
}

// Plugins lists every registered plugin in registration order.
func (c *Client) Plugins(ctx context.Context) ([]api.PluginStatus, error) {
	var result api.PluginList
	if err := c.call(ctx, http.MethodGet, "/api/plugins", nil, &result); err != nil {
		return nil, err
	}
	return result.Plugins, nil
}

// Plugin returns the state of one plugin.
func (c *Client) Plugin(ctx context.Context, name string) (api.PluginStatus, error) {
	var result api.PluginStatus
	err := c.call(ctx, http.MethodGet, pluginPath(name), nil, &result)
	return result, err
}

// Version returns the persisted version of a plugin.
func (c *Client) Version(ctx context.Context, name string) (int, error) {
	status, err := c.Plugin(ctx, name)
	if err != nil {
		return 0, err
	}
	return status.Version, nil
}

// ResetToVersion forces the persisted version of a plugin.
func (c *Client) ResetToVersion(ctx context.Context, name string, version int) (api.PluginStatus, error) {
	var result api.PluginStatus
	err := c.call(ctx, http.MethodPut, pluginPath(name)+"/version", api.SetVersionRequest{Version: &version}, &result)
	return result, err
}

// Migrate runs every pending plugin on the server and waits for the run to
// finish.
func (c *Client) Migrate(ctx context.Context) ([]api.PluginStatus, error) {
	var result api.PluginList
	if err := c.call(ctx, http.MethodPost, "/api/migrate", nil, &result); err != nil {
		return nil, err
	}
	return result.Plugins, nil
}

// IsRunning reports whether any plugin is running.
func (c *Client) IsRunning(ctx context.Context) (bool, error) {
	var result api.RunningResponse
	if err := c.call(ctx, http.MethodGet, "/api/running", nil, &result); err != nil {
		return false, err
	}
	return result.Running, nil
}

// Invalidate drops the server's cached plugin versions.
func (c *Client) Invalidate(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/invalidate", nil, nil)
}
