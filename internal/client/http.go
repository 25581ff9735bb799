package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxRetryWait caps a server-supplied Retry-After.
const maxRetryWait = 30 * time.Second

var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type poster struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
}

// postJSON POSTs body (nil means an empty body) to path and decodes the reply
// into out. 429 and 5xx replies are retried up to maxRetries times.
func (p poster) postJSON(ctx context.Context, path string, body, out any) error {
	client := p.httpClient
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		var reader io.Reader = http.NoBody
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		reqID := uuid.NewString()
		req.Header.Set("X-Request-ID", reqID)
		if p.logger != nil {
			p.logger.Debug("backend request", "url", endpoint, "request_id", reqID, "attempt", attempt+1)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = &ConnectivityError{URL: endpoint, Err: err}
			if attempt < p.maxRetries && ctx.Err() == nil {
				if err := sleepFn(ctx, backoff(attempt)); err != nil {
					return &ConnectivityError{URL: endpoint, Err: err}
				}
				continue
			}
			return lastErr
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = &ConnectivityError{URL: endpoint, Err: err}
			if attempt < p.maxRetries && ctx.Err() == nil {
				if err := sleepFn(ctx, backoff(attempt)); err != nil {
					return &ConnectivityError{URL: endpoint, Err: err}
				}
				continue
			}
			return lastErr
		}
		if p.logger != nil {
			p.logger.Debug("backend response", "url", endpoint, "request_id", reqID, "status", resp.StatusCode, "bytes", len(data))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = statusError(resp.StatusCode, data)
			if attempt < p.maxRetries {
				wait := backoff(attempt)
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = min(time.Duration(secs)*time.Second, maxRetryWait)
						}
					}
				}
				if err := sleepFn(ctx, wait); err != nil {
					return &ConnectivityError{URL: endpoint, Err: err}
				}
				continue
			}
			return lastErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError(resp.StatusCode, data)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w from %s: %v", ErrMalformedResponse, endpoint, err)
		}
		return nil
	}
	return lastErr
}

// statusError prefers the backend's own error field over the raw body.
func statusError(status int, data []byte) *ServiceError {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		return &ServiceError{StatusCode: status, Message: body.Error}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ServiceError{StatusCode: status, Message: fmt.Sprintf("backend error status %d: %s", status, msg)}
}

// stripCodeFence unwraps a markdown code block. Unfenced text is returned as is.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		trimmed = trimmed[idx+1:]
	} else {
		trimmed = ""
	}
	if end := strings.LastIndex(trimmed, "```"); end != -1 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}

func backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Second << attempt
}
