package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// GetJSON sends an authenticated GET and decodes the JSON response into dst.
func (c *Client) GetJSON(ctx context.Context, path string, dst any) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	return DecodeJSON("GET "+path, resp, dst)
}

// PostJSON sends body as JSON and decodes the response into dst. A nil dst
// discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, body, dst any) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: path, JSON: body})
	if err != nil {
		return err
	}
	return DecodeJSON("POST "+path, resp, dst)
}

// DecodeJSON checks the status code, decodes the body into dst and closes
// it. Non-2xx responses become an *APIError carrying the body text.
func DecodeJSON(op string, resp *http.Response, dst any) error {
	defer drain(resp)
	if err := Classify(op, resp); err != nil {
		return err
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}
