// Package trustframework talks to the DOME trust framework registry where
// issued organization DIDs are published.
package trustframework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"vcissuer/internal/domain"
	"vcissuer/internal/platform/config"
)

// Registry is the trust-framework contract consumed by the workflow layer.
type Registry interface {
	ValidateDidFormat(ctx context.Context, processID, did string) (bool, error)
	RegisterDid(ctx context.Context, processID, did string) error
}

// Client is the HTTP registry client.
type Client struct {
	cfg    config.TrustFrameworkConfig
	http   *http.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg config.TrustFrameworkConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateDidFormat checks the DID structurally before any network call; only
// well-formed did:elsi identifiers are worth registering.
func (c *Client) ValidateDidFormat(_ context.Context, processID, did string) (bool, error) {
	valid := domain.IsELSIDid(did)
	if !valid {
		c.logger.Info("rejected malformed organization DID", "process_id", processID, "did", did)
	}
	return valid, nil
}

// RegisterDid publishes the organization DID to the trust framework. Already
// registered DIDs are treated as success.
func (c *Client) RegisterDid(ctx context.Context, processID, did string) error {
	body, err := json.Marshal(map[string]string{"did": did})
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "issuers")
	if err != nil {
		return fmt.Errorf("build registration URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("register DID: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusConflict:
		c.logger.Info("organization DID already registered", "process_id", processID, "did", did)
	default:
		return fmt.Errorf("trust framework returned %d for DID registration", resp.StatusCode)
	}

	c.logger.Info("organization DID registered", "process_id", processID, "did", did)
	return nil
}
