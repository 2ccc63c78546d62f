package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
)

const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	userAgent  string
}

// New builds a client without automatic retries. Per-call deadlines come from ctx; timeout
// is only the transport-level ceiling.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "dexswap/1.0",
	}
}

// DoJSON executes req and decodes a 2xx JSON body into out. It returns the HTTP status code
// when a response was received, 0 otherwise.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (int, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return 0, mapNetError(ctx, err)
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.StatusCode, mapNetError(ctx, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := clierr.CodeUpstream
		if resp.StatusCode == http.StatusTooManyRequests {
			code = clierr.CodeRateLimited
		}
		return resp.StatusCode, clierr.Wrap(code, statusMessage(resp.StatusCode, buf), &StatusError{StatusCode: resp.StatusCode})
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.StatusCode, clierr.New(clierr.CodeUpstream, "provider returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.StatusCode, clierr.Wrap(clierr.CodeUpstream, "decode provider JSON", err)
	}
	return resp.StatusCode, nil
}

// StatusError records the HTTP status of a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// StatusCode extracts the upstream HTTP status from err, or 0 when no response was received.
func StatusCode(err error) int {
	var sErr *StatusError
	if errors.As(err, &sErr) {
		return sErr.StatusCode
	}
	return 0
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body any, headers map[string]string, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, clierr.Wrap(clierr.CodeInternal, "encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func statusMessage(status int, body []byte) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "provider rate limited request"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "provider authentication failed"
	case status >= http.StatusInternalServerError:
		return fmt.Sprintf("provider unavailable (status %d)", status)
	}
	snippet := bytes.TrimSpace(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	if len(snippet) == 0 {
		return fmt.Sprintf("provider returned unexpected status %d", status)
	}
	return fmt.Sprintf("provider returned unexpected status %d: %s", status, snippet)
}

func mapNetError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return clierr.Wrap(clierr.CodeUpstreamTimeout, "provider timeout", err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUpstreamTimeout, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUpstream, "provider request failed", err)
}
