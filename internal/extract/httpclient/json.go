package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Get issues a GET request. The caller owns the response body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.Do(ctx, req)
}

// GetJSON issues a GET request and decodes the JSON response body into v.
// The response headers are returned for callers that need pagination
// metadata such as the Link header.
func (c *Client) GetJSON(ctx context.Context, url string, v any) (http.Header, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return resp.Header, nil
}
