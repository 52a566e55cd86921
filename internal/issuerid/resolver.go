// Package issuerid produces the identity embedded as credential issuer,
// either from static default-signer configuration or from the cloud signer's
// certificate metadata.
package issuerid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/platform/metrics"
	"vcissuer/internal/procedure"
	"vcissuer/internal/signer"
	"vcissuer/internal/signingconfig"
	"vcissuer/internal/vault"
	"vcissuer/pkg/retry"
)

// SignerDirectory is the slice of the remote signer client used during
// resolution: token exchange and certificate metadata lookup.
type SignerDirectory interface {
	Token(ctx context.Context) (string, error)
	Certificates(ctx context.Context, accessToken, credentialID string) (*signer.CertificateInfo, error)
}

// RecoveryHook is invoked when cloud resolution gives up, so an operator-side
// channel (alert, dead-letter, pin email) learns the procedure needs a later
// retry. Resolution itself completes empty in that case.
type RecoveryHook func(ctx context.Context, procedureID uuid.UUID, cause error) error

// providerCredentials is the vault document shape for cloud signer access.
type providerCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	CredentialID string `json:"credentialId"`
}

func (c providerCredentials) valid() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.CredentialID != ""
}

// Resolver implements issuer resolution with bounded retry against the cloud
// signer. A nil issuer with a nil error means "no issuer resolved, retry
// later"; callers must not treat it as terminal.
type Resolver struct {
	static     config.IssuerConfig
	procedures procedure.Store
	configs    signingconfig.Provider
	secrets    vault.Store
	directory  SignerDirectory
	recover    RecoveryHook
	policy     retry.Policy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

func WithRecoveryHook(h RecoveryHook) Option {
	return func(r *Resolver) { r.recover = h }
}

func New(static config.IssuerConfig, procedures procedure.Store, configs signingconfig.Provider,
	secrets vault.Store, directory SignerDirectory, opts ...Option) *Resolver {
	r := &Resolver{
		static:     static,
		procedures: procedures,
		configs:    configs,
		secrets:    secrets,
		directory:  directory,
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the DetailedIssuer for a procedure. SERVER-mode
// organizations resolve synchronously from static configuration; CLOUD mode
// goes through the remote signer with bounded retry.
func (r *Resolver) Resolve(ctx context.Context, procedureID uuid.UUID, credentialType domain.CredentialType) (*domain.DetailedIssuer, error) {
	proc, err := r.procedures.FindByID(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}

	cfg, err := r.configs.Get(ctx, proc.OrganizationIdentifier)
	if err != nil {
		return nil, fmt.Errorf("load signature configuration: %w", err)
	}

	if cfg.SignatureMode != domain.SignatureModeCloud {
		return r.staticIssuer(), nil
	}
	return r.resolveCloud(ctx, proc, cfg, credentialType)
}

func (r *Resolver) staticIssuer() *domain.DetailedIssuer {
	return &domain.DetailedIssuer{
		ID:                     r.static.DID,
		OrganizationIdentifier: r.static.OrganizationIdentifier,
		Organization:           r.static.Organization,
		Country:                r.static.Country,
		CommonName:             r.static.CommonName,
		EmailAddress:           r.static.EmailAddress,
		SerialNumber:           r.static.SerialNumber,
	}
}

func (r *Resolver) resolveCloud(ctx context.Context, proc *procedure.Procedure,
	cfg *signingconfig.Configuration, credentialType domain.CredentialType) (*domain.DetailedIssuer, error) {

	var resolved *domain.DetailedIssuer
	attempt := 0
	err := retry.Do(ctx, r.policy, signer.IsRecoverable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if r.metrics != nil {
				r.metrics.SignerRetries.Inc()
			}
			r.logger.Info("retrying issuer resolution",
				"procedure_id", proc.ID, "attempt", attempt)
		}

		issuer, err := r.resolveOnce(ctx, proc, cfg, credentialType)
		if err != nil {
			return err
		}
		resolved = issuer
		return nil
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.SignerFailures.WithLabelValues(
				fmt.Sprintf("%t", signer.IsRecoverable(err))).Inc()
		}
		return r.giveUp(ctx, proc.ID, err)
	}
	return resolved, nil
}

// giveUp invokes the recovery hook and completes empty. Only a hook failure
// surfaces the original resolution error to the caller.
func (r *Resolver) giveUp(ctx context.Context, procedureID uuid.UUID, cause error) (*domain.DetailedIssuer, error) {
	r.logger.Warn("issuer resolution exhausted, leaving procedure for later retry",
		"procedure_id", procedureID, "error", cause.Error())
	if r.recover != nil {
		if hookErr := r.recover(ctx, procedureID, cause); hookErr != nil {
			r.logger.Error("issuer resolution recovery hook failed",
				"procedure_id", procedureID, "error", hookErr.Error())
			return nil, cause
		}
	}
	return nil, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, proc *procedure.Procedure,
	cfg *signingconfig.Configuration, credentialType domain.CredentialType) (*domain.DetailedIssuer, error) {

	creds, err := r.providerCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	contactEmail, err := contactEmail(credentialType, proc.CredentialDecoded)
	if err != nil {
		return nil, err
	}

	token, err := r.directory.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("signer token exchange: %w", err)
	}

	cert, err := r.directory.Certificates(ctx, token, creds.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("signer certificate lookup: %w", err)
	}

	return issuerFromCertificate(cert, contactEmail)
}

func (r *Resolver) providerCredentials(ctx context.Context, cfg *signingconfig.Configuration) (*providerCredentials, error) {
	secret, err := r.secrets.Get(ctx, cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("load signer credentials: %w", err)
	}
	var creds providerCredentials
	if err := json.Unmarshal(secret, &creds); err != nil {
		return nil, fmt.Errorf("decode signer credentials: %w", err)
	}
	if creds.CredentialID == "" {
		creds.CredentialID = cfg.CredentialID
	}
	if !creds.valid() {
		return nil, fmt.Errorf("signer credentials for %q are incomplete", cfg.OrganizationIdentifier)
	}
	return &creds, nil
}

// contactEmail extracts the address the certificate subject is cross-checked
// against: the mandator's for employee mandates, the company's for
// certifications.
func contactEmail(credentialType domain.CredentialType, decoded json.RawMessage) (string, error) {
	switch credentialType {
	case domain.CredentialTypeLEAREmployee:
		cred, err := domain.ParseLEAREmployee(decoded)
		if err != nil {
			return "", fmt.Errorf("decode stored credential: %w", err)
		}
		return cred.CredentialSubject.Mandate.Mandator.EmailAddress, nil
	case domain.CredentialTypeCertification:
		cred, err := domain.ParseCertification(decoded)
		if err != nil {
			return "", fmt.Errorf("decode stored credential: %w", err)
		}
		return cred.CredentialSubject.Company.Email, nil
	default:
		return "", fmt.Errorf("unsupported credential type %q", credentialType)
	}
}

// issuerFromCertificate maps the certificate subject RDNs onto a
// DetailedIssuer. The organizationIdentifier RDN is mandatory; without it no
// did:elsi identity can be derived.
func issuerFromCertificate(cert *signer.CertificateInfo, contactEmail string) (*domain.DetailedIssuer, error) {
	rdns := parseSubject(cert.Subject)

	orgID := rdns["organizationidentifier"]
	if orgID == "" {
		orgID = rdns["2.5.4.97"]
	}
	if orgID == "" {
		return nil, fmt.Errorf("certificate subject %q carries no organizationIdentifier", cert.Subject)
	}

	serial := rdns["serialnumber"]
	if serial == "" {
		serial = cert.SerialNumber
	}

	email := rdns["emailaddress"]
	if email == "" {
		email = contactEmail
	} else if contactEmail != "" && !strings.EqualFold(email, contactEmail) {
		return nil, fmt.Errorf("certificate email %q does not match procedure contact %q", email, contactEmail)
	}

	return &domain.DetailedIssuer{
		ID:                     domain.ELSIDid(orgID),
		OrganizationIdentifier: orgID,
		Organization:           rdns["o"],
		Country:                rdns["c"],
		CommonName:             rdns["cn"],
		EmailAddress:           email,
		SerialNumber:           serial,
	}, nil
}

// parseSubject splits an RFC 2253 style subject string into lowercase-keyed
// RDN values. Escaped commas inside values are respected.
func parseSubject(subject string) map[string]string {
	rdns := make(map[string]string)
	var field strings.Builder
	escaped := false
	flush := func() {
		part := strings.TrimSpace(field.String())
		field.Reset()
		key, value, found := strings.Cut(part, "=")
		if !found {
			return
		}
		rdns[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	for _, r := range subject {
		switch {
		case escaped:
			field.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			flush()
		default:
			field.WriteRune(r)
		}
	}
	flush()
	return rdns
}
