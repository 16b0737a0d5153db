package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one outbound API call. The body is kept as bytes so the
// pipeline can replay it after a credential refresh.
type Request struct {
	Method string
	Path   string // relative to the client's base URL, or absolute
	Query  url.Values
	Header http.Header

	// JSON, when non-nil, is marshalled and sent as application/json.
	JSON any
	// Body is sent verbatim. ContentType is set only when non-empty, so
	// multipart and binary payloads keep the type the caller chose.
	Body        []byte
	ContentType string
}

func (r *Request) op() string {
	return r.Method + " " + r.Path
}

// payload resolves the body bytes and content type once per Do call.
func (r *Request) payload() ([]byte, string, error) {
	if r.JSON != nil {
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s body: %w", r.op(), err)
		}
		return b, "application/json", nil
	}
	return r.Body, r.ContentType, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

func (c *Client) newHTTPRequest(ctx context.Context, r *Request, body []byte, contentType, token, requestID string) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(r.Path, r.Query), rd)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", r.op(), err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(HeaderRequestID, requestID)
	return req, nil
}
