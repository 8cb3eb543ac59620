// Package client provides the HTTP client for the versioning API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bundlepush/bundlepush/internal/logging"
	"github.com/bundlepush/bundlepush/internal/metrics"
	"github.com/bundlepush/bundlepush/pkg/protocol"
)

// DefaultTimeout bounds each versioning call.
const DefaultTimeout = 30 * time.Second

// Client talks to the versioning endpoints of a remote server.
// It never retries; a failed call is reported to the caller as a *SyncError.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	AuthToken string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		authToken: cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token supplied by the surrounding application.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// DryRun uploads the archive to the changes endpoint and returns what the
// remote would change. The remote must not apply anything.
func (c *Client) DryRun(ctx context.Context, payload []byte) (protocol.DryRunResult, error) {
	var result protocol.DryRunResult

	err := c.post(ctx, PhaseDryRun, protocol.ChangesPath, payload, func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(&result); err != nil {
			return err
		}
		return validateDryRun(result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateDryRun rejects results that would otherwise read as "nothing
// blocking" and let a commit through unchecked.
func validateDryRun(result protocol.DryRunResult) error {
	if result == nil {
		return errors.New("dry-run result is null")
	}
	for i, unit := range result {
		if unit.Changes == nil {
			return fmt.Errorf("unit %d: changes missing", i)
		}
		for j, rec := range unit.Changes {
			if rec.Action == "" {
				return fmt.Errorf("unit %d change %d: action missing", i, j)
			}
		}
	}
	return nil
}

// Commit uploads the archive to the update endpoint, which applies it
// unconditionally. The response body is not interpreted.
func (c *Client) Commit(ctx context.Context, payload []byte) error {
	return c.post(ctx, PhaseCommit, protocol.UpdatePath, payload, func(body io.Reader) error {
		_, err := io.Copy(io.Discard, body)
		return err
	})
}

func (c *Client) post(ctx context.Context, phase Phase, path string, payload []byte, decode func(io.Reader) error) (err error) {
	start := time.Now()
	log := logging.WithContext(ctx)
	defer func() {
		metrics.RecordSyncCall(string(phase), time.Since(start), err == nil)
		if err != nil {
			log.Debug("versioning call failed",
				logging.String("phase", string(phase)),
				logging.Duration("elapsed", time.Since(start)),
				logging.Err(err),
			)
			return
		}
		log.Debug("versioning call completed",
			logging.String("phase", string(phase)),
			logging.Int("bytes", len(payload)),
			logging.Duration("elapsed", time.Since(start)),
		)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &SyncError{Phase: phase, Code: CodeNetwork, Cause: err}
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", protocol.ArchiveContentType)
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newTransportError(phase, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SyncError{
			Phase:      phase,
			Code:       CodeHTTPStatus,
			StatusCode: resp.StatusCode,
			Cause:      statusCause(resp),
		}
	}

	if err := decode(resp.Body); err != nil {
		if isTimeout(err) {
			return &SyncError{Phase: phase, Code: CodeTimeout, Cause: err}
		}
		return &SyncError{Phase: phase, Code: CodeDecode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusCause builds an error from a non-2xx response, preferring the
// server's own message.
func statusCause(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp protocol.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Text() != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Text())
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
