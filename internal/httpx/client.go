package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	apperr "github.com/obverse/obverse/internal/errors"
)

const maxErrorBody = 4096

// StatusError carries a non-success provider response. The body is kept for
// classification by the caller and must not be shown to end users.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.Status)
}

// Client is a JSON HTTP client with bounded retries for upstream providers.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

// New builds a client whose requests time out after timeout. retries is the
// number of extra attempts after the first; negative values mean none.
func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "obverse/1.0",
	}
}

// DoJSON executes req and decodes a JSON response into out. Rate limits,
// transport failures and 5xx responses are retried with backoff; other
// non-2xx responses are returned at once wrapped around a *StatusError.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, mapContextError(ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(ctx, err)
			if errors.Is(lastErr, apperr.ErrTimeout) && ctx.Err() != nil {
				return nil, lastErr
			}
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, apperr.Wrap(apperr.CodeRPCUnavailable, "read provider response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = apperr.Wrap(apperr.CodeRPCUnavailable, "provider rate limited request", statusError(resp.StatusCode, buf))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, apperr.Wrap(apperr.CodeInternal, "provider authentication failed", statusError(resp.StatusCode, buf))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = apperr.Wrap(apperr.CodeRPCUnavailable, "provider unavailable", statusError(resp.StatusCode, buf))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, apperr.Wrap(apperr.CodeRPCUnavailable, "provider rejected request", statusError(resp.StatusCode, buf))
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, apperr.New(apperr.CodeRPCUnavailable, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, apperr.Wrap(apperr.CodeRPCUnavailable, "decode provider JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.New(apperr.CodeRPCUnavailable, "request failed")
}

// DoBodyJSON builds a request with an optional JSON body and headers and runs
// it through c.DoJSON. The body is replayable so retries resend it.
func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func statusError(status int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Status: status, Body: body}
}

func mapNetError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return mapContextError(ctx.Err())
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return apperr.Wrap(apperr.CodeTimeout, "provider timeout", err)
	}
	return apperr.Wrap(apperr.CodeRPCUnavailable, "provider request failed", err)
}

func mapContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, "request deadline exceeded", err)
	}
	return apperr.Wrap(apperr.CodeRPCUnavailable, "request cancelled", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
