package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"vcissuer/internal/platform/config"
)

// Signature envelope types understood by the remote signer.
const (
	SignatureTypeJAdES = "JAdES"
	SignatureTypeCOSE  = "COSE"
)

// SignRequest is the remote signer's document submission shape.
type SignRequest struct {
	Type     string `json:"type"`
	Document string `json:"document"`
}

type signResponse struct {
	Data string `json:"data"`
}

// CertificateInfo is the metadata the signer exposes for a signing credential.
type CertificateInfo struct {
	CredentialID string `json:"credentialId"`
	Subject      string `json:"subject"`
	SerialNumber string `json:"serialNumber"`
	Status       string `json:"status"`
}

// StatusError reports a non-2xx response from the remote signer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote signer returned %d: %s", e.Status, e.Body)
}

// Client talks to the remote signature provider. It covers the three
// endpoints the issuance flows need: document signing, service-account token
// exchange, and certificate metadata lookup.
type Client struct {
	cfg  config.SignerConfig
	http *http.Client
}

func NewClient(cfg config.SignerConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Sign submits a document for signing and returns the signed payload string.
func (c *Client) Sign(ctx context.Context, req SignRequest, authToken string) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SignURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+authToken)

	var resp signResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", fmt.Errorf("sign document: %w", err)
	}
	return resp.Data, nil
}

// Token exchanges the configured service credentials for an access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(httpReq, &resp); err != nil {
		return "", fmt.Errorf("request signer token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("signer token response carried no access_token")
	}
	return resp.AccessToken, nil
}

// Certificates fetches metadata for the organization's signing credential.
func (c *Client) Certificates(ctx context.Context, accessToken, credentialID string) (*CertificateInfo, error) {
	endpoint := c.cfg.CertificateURL + "?credentialId=" + url.QueryEscape(credentialID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build certificate request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	var info CertificateInfo
	if err := c.do(httpReq, &info); err != nil {
		return nil, fmt.Errorf("fetch certificate metadata: %w", err)
	}
	return &info, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsRecoverable classifies a signer failure for the retry policy. Timeouts
// and server-side errors are worth retrying; anything the signer rejected
// outright is not.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == http.StatusTooManyRequests
	}
	// Connection refused and similar transport failures surface as url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
