package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxBodyBytes bounds how much of a response body API clients read.
const maxBodyBytes = 8 << 20

// Response is the raw result of an API call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Get performs a GET with the given headers and reads the body. Non-2xx
// statuses are classified and returned together with the response so callers
// can inspect error payloads.
func Get(ctx context.Context, client *http.Client, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return Do(client, req)
}

func Do(client *http.Client, req *http.Request) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// API keys travel in query strings; keep them out of error text
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = withoutQuery(ue.URL)
		}
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, Classify(err, 0, withoutQuery(req.URL.String())))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", Classify(err, 0, withoutQuery(req.URL.String())))
	}

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, URL: finalURL}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, Classify(nil, resp.StatusCode, withoutQuery(finalURL))
	}
	return out, nil
}

// GetJSON performs a GET and decodes a successful JSON body into out.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, out any) error {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	resp, err := Get(ctx, client, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", withoutQuery(rawURL), err)
	}
	return nil
}

func withoutQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
