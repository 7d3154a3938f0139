package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Config holds backend client configuration
type Config struct {
	// BaseURL is the Jupyter server base URL, e.g. http://localhost:8888
	BaseURL string
	// Token is sent as "Authorization: token <Token>" when set
	Token string
	// Timeout bounds a single request
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the jupyter-fs server extension
type Client struct {
	baseURL *url.URL
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a new backend client
func NewClient(cfg *Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL scheme: %q", base.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

// Commit snapshots the backend's current state
func (c *Client) Commit(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "make-commit", nil)
	if err != nil {
		return "", err
	}

	if !gjson.ValidBytes(body) {
		return "", domain.NewError(domain.ErrCodeBackendProtocol, "", "commit returned invalid JSON", nil)
	}

	res := gjson.ParseBytes(body)
	hash := lastLine(res.Get("hash").String())
	stderr := strings.TrimSpace(res.Get("error").String())

	if hash == "" {
		msg := "commit returned no hash"
		if stderr != "" {
			msg = fmt.Sprintf("%s: %s", msg, stderr)
		}
		return "", domain.NewError(domain.ErrCodeBackendProtocol, "", msg, nil)
	}

	if stderr != "" {
		c.logger.Warn("commit reported diagnostics",
			zap.String("hash", hash),
			zap.String("stderr", stderr))
	}

	return hash, nil
}

// Revert restores the backend to hash
func (c *Client) Revert(ctx context.Context, hash string) error {
	body, err := c.get(ctx, "make-revert", url.Values{"hash": {hash}})
	if err != nil {
		return err
	}

	if !gjson.ValidBytes(body) {
		return domain.NewError(domain.ErrCodeBackendProtocol, "", "revert returned invalid JSON", nil)
	}

	res := gjson.ParseBytes(body)
	stdout := strings.TrimSpace(res.Get("res").String())
	stderr := strings.TrimSpace(res.Get("error").String())

	if stderr != "" && stdout == "" {
		return domain.NewError(domain.ErrCodeBackendProtocol, "", fmt.Sprintf("revert to %s failed: %s", hash, stderr), nil)
	}

	c.logger.Debug("revert acknowledged",
		zap.String("hash", hash),
		zap.String("output", stdout))

	return nil
}

// get issues a GET against <base>/jupyter-fs/<endpoint>
func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL.JoinPath("jupyter-fs", endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrCodeBackendUnavailable, "", "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrCodeBackendUnavailable, "", endpoint+" request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewError(domain.ErrCodeBackendUnavailable, "", "failed to read response", err)
	}

	c.logger.Debug("backend request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode >= 500:
		return nil, domain.NewError(domain.ErrCodeBackendUnavailable, "", fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return nil, domain.NewError(domain.ErrCodeBackendProtocol, "", fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode), nil)
	}

	return body, nil
}

// lastLine returns the last non-empty line of script output
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
