// Package daemonctl talks to a running vodpipe daemon over its HTTP API.
// The CLI uses it for status, cancel and metrics commands.
package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vodpipe/internal/api"
	"vodpipe/internal/config"
	"vodpipe/internal/progress"
)

// ErrUnavailable is returned when no daemon answers on the configured
// address.
var ErrUnavailable = errors.New("daemon unavailable")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status int
	api.ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("daemon returned %d: %s", e.Status, e.ErrorResponse.Error)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// Client issues requests against the daemon API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon described by cfg.
func NewClient(cfg *config.Config) *Client {
	return NewClientFor(BaseURL(cfg), cfg.Server.APIToken)
}

// NewClientFor builds a client for an explicit base URL.
func NewClientFor(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// BaseURL derives the API address from server.bind. Wildcard hosts are
// dialled on loopback.
func BaseURL(cfg *config.Config) string {
	bind := strings.TrimSpace(cfg.Server.Bind)
	switch {
	case strings.HasPrefix(bind, ":"):
		bind = "127.0.0.1" + bind
	case strings.HasPrefix(bind, "0.0.0.0:"):
		bind = "127.0.0.1:" + strings.TrimPrefix(bind, "0.0.0.0:")
	case strings.HasPrefix(bind, "[::]:"):
		bind = "[::1]:" + strings.TrimPrefix(bind, "[::]:")
	}
	return "http://" + bind
}

// Progress fetches the progress record of one upload.
func (c *Client) Progress(ctx context.Context, uploadID string) (progress.Record, error) {
	var rec progress.Record
	err := c.do(ctx, http.MethodGet, "/upload/"+uploadID+"/progress", &rec)
	return rec, err
}

// Cancel requests cancellation of one upload.
func (c *Client) Cancel(ctx context.Context, uploadID string) (api.CancelResponse, error) {
	var resp api.CancelResponse
	err := c.do(ctx, http.MethodDelete, "/upload/"+uploadID, &resp)
	return resp, err
}

// Audit lists the retained audit events of one upload.
func (c *Client) Audit(ctx context.Context, uploadID string) (api.AuditResponse, error) {
	var resp api.AuditResponse
	err := c.do(ctx, http.MethodGet, "/upload/"+uploadID+"/audit", &resp)
	return resp, err
}

// Metrics fetches the rolling metrics summary.
func (c *Client) Metrics(ctx context.Context) (api.MetricsResponse, error) {
	var resp api.MetricsResponse
	err := c.do(ctx, http.MethodGet, "/metrics", &resp)
	return resp, err
}

// Health fetches readiness. An unready daemon answers 503 with a body, which
// is returned without error.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return resp, nil
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) {
			return fmt.Errorf("%w at %s", ErrUnavailable, c.base)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, &apiErr.ErrorResponse); jsonErr != nil || apiErr.ErrorResponse.Error == "" {
			apiErr.ErrorResponse.Error = strings.TrimSpace(string(body))
		}
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ProcessInfo reads the pid file and reports whether that process is alive.
func ProcessInfo(pidPath string) (bool, int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0, fmt.Errorf("invalid pid file %s", pidPath)
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false, pid, nil
	}
	return true, pid, nil
}
