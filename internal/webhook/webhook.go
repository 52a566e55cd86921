// Package webhook delivers signed certifications to the submitter's response
// URI.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Deliverer pushes a signed credential to an external endpoint. Stubbed in
// workflow tests.
type Deliverer interface {
	SendVCToResponseURI(ctx context.Context, uri, signedVC, productID, companyEmail, m2mToken string) error
}

// Client is the HTTP deliverer.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type deliveryPayload struct {
	VC           string `json:"vc"`
	ProductID    string `json:"productId"`
	CompanyEmail string `json:"companyEmail"`
}

func (c *Client) SendVCToResponseURI(ctx context.Context, uri, signedVC, productID, companyEmail, m2mToken string) error {
	body, err := json.Marshal(deliveryPayload{
		VC:           signedVC,
		ProductID:    productID,
		CompanyEmail: companyEmail,
	})
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m2mToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("response URI returned %d", resp.StatusCode)
	}

	c.logger.Info("signed credential delivered", "uri", uri, "product_id", productID)
	return nil
}
