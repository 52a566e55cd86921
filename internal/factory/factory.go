// Package factory maps raw submission payloads into canonical, timestamped,
// ID-populated credential structures. The factory never trusts client-supplied
// identifiers: mandate and power IDs are always regenerated.
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/deferred"
	"vcissuer/internal/domain"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/procedure"
	dErrors "vcissuer/pkg/domain-errors"
)

// Factory builds creation requests for the procedure store and binds
// post-validation identities into already-stored credentials.
type Factory struct {
	cfg        config.IssuanceConfig
	procedures procedure.Store
	deferred   deferred.Store
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Factory)

func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

func New(cfg config.IssuanceConfig, procedures procedure.Store, deferredStore deferred.Store, opts ...Option) *Factory {
	f := &Factory{
		cfg:        cfg,
		procedures: procedures,
		deferred:   deferredStore,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// employeePayload is the submitted shape for a LEAR Employee request.
type employeePayload struct {
	Mandate struct {
		Mandator domain.Mandator `json:"mandator"`
		Mandatee domain.Mandatee `json:"mandatee"`
		Power    []domain.Power  `json:"power"`
	} `json:"mandate"`
}

// Build maps the raw payload into a creation request for the procedure store.
// The signature mode is decided later by the signing-configuration lookup, so
// it is left to the caller to fill in.
func (f *Factory) Build(schema domain.CredentialType, rawPayload json.RawMessage, operationMode domain.OperationMode, responseURI string) (*procedure.CreationRequest, error) {
	switch schema {
	case domain.CredentialTypeLEAREmployee:
		return f.buildEmployee(rawPayload, operationMode)
	case domain.CredentialTypeCertification:
		return f.buildCertification(rawPayload, operationMode, responseURI)
	default:
		return nil, dErrors.New(dErrors.CodeCredentialTypeUnsupported,
			fmt.Sprintf("unsupported credential type %q", schema))
	}
}

func (f *Factory) buildEmployee(rawPayload json.RawMessage, operationMode domain.OperationMode) (*procedure.CreationRequest, error) {
	var payload employeePayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode employee payload")
	}
	if payload.Mandate.Mandator.OrganizationIdentifier == "" {
		return nil, dErrors.New(dErrors.CodeMissingRequiredField, "mandator organizationIdentifier is required")
	}

	validFrom := f.now().UTC()
	validUntil := validFrom.AddDate(0, 0, f.cfg.ValidityDays)

	var cred domain.LEARCredentialEmployee
	cred.Context = domain.StringList{domain.ContextCredentialsV2, domain.ContextLEAREmployeeV1}
	cred.ID = "urn:uuid:" + f.newID()
	cred.Type = domain.StringList{"VerifiableCredential", "LEARCredentialEmployee"}
	cred.ValidFrom = validFrom.Format(time.RFC3339)
	cred.ValidUntil = validUntil.Format(time.RFC3339)
	cred.CredentialSubject.Mandate = domain.Mandate{
		ID:       "urn:uuid:" + f.newID(),
		Mandator: payload.Mandate.Mandator,
		Mandatee: payload.Mandate.Mandatee,
		Power:    f.freshPowers(payload.Mandate.Power),
		LifeSpan: domain.LifeSpan{
			StartDateTime: validFrom.Format(time.RFC3339),
			EndDateTime:   validUntil.Format(time.RFC3339),
		},
	}

	decoded, err := json.Marshal(cred)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode employee credential")
	}

	mandatee := payload.Mandate.Mandatee
	return &procedure.CreationRequest{
		OrganizationIdentifier: payload.Mandate.Mandator.OrganizationIdentifier,
		CredentialType:         domain.CredentialTypeLEAREmployee,
		CredentialDecoded:      decoded,
		OperationMode:          operationMode,
		Subject:                strings.TrimSpace(mandatee.FirstName + " " + mandatee.LastName),
		ValidUntil:             validUntil,
	}, nil
}

func (f *Factory) buildCertification(rawPayload json.RawMessage, operationMode domain.OperationMode, responseURI string) (*procedure.CreationRequest, error) {
	if strings.TrimSpace(responseURI) == "" {
		return nil, dErrors.New(dErrors.CodeMissingRequiredField, "response_uri is required")
	}

	cert, err := domain.ParseCertification(rawPayload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode certification payload")
	}
	if cert.CredentialSubject.Product.ProductID == "" {
		return nil, dErrors.New(dErrors.CodeMissingRequiredField, "credentialSubject.product.productId is required")
	}
	if cert.CredentialSubject.Company.Email == "" {
		return nil, dErrors.New(dErrors.CodeMissingRequiredField, "credentialSubject.company.email is required")
	}

	validFrom := f.now().UTC()
	validUntil := validFrom.AddDate(0, 0, f.cfg.ValidityDays)

	cert.Context = domain.StringList{domain.ContextCredentialsV2, domain.ContextCertificationV1}
	cert.ID = "urn:uuid:" + f.newID()
	cert.Type = domain.StringList{"VerifiableCredential", "VerifiableCertification"}
	cert.ValidFrom = validFrom.Format(time.RFC3339)
	cert.ValidUntil = validUntil.Format(time.RFC3339)

	decoded, err := json.Marshal(cert)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode certification credential")
	}

	return &procedure.CreationRequest{
		OrganizationIdentifier: cert.CredentialSubject.Company.ID,
		CredentialType:         domain.CredentialTypeCertification,
		CredentialDecoded:      decoded,
		OperationMode:          operationMode,
		Subject:                cert.CredentialSubject.Company.Name,
		ValidUntil:             validUntil,
	}, nil
}

// freshPowers copies the submitted powers with regenerated IDs so a caller can
// never smuggle in a chosen power identifier.
func (f *Factory) freshPowers(in []domain.Power) []domain.Power {
	out := make([]domain.Power, len(in))
	for i, p := range in {
		p.ID = f.newID()
		out[i] = p
	}
	return out
}

// BindMandateeID writes the subject DID obtained from proof validation into
// the stored credential.
func (f *Factory) BindMandateeID(ctx context.Context, procedureID uuid.UUID, mandateeID string) error {
	proc, err := f.procedures.FindByID(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("load procedure: %w", err)
	}
	if proc.CredentialType != domain.CredentialTypeLEAREmployee {
		return dErrors.New(dErrors.CodeCredentialTypeUnsupported,
			"subject binding only applies to employee credentials")
	}

	cred, err := domain.ParseLEAREmployee(proc.CredentialDecoded)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
	}
	cred.CredentialSubject.Mandate.Mandatee.ID = mandateeID

	decoded, err := json.Marshal(cred)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode bound credential")
	}
	if err := f.procedures.UpdateCredential(ctx, procedureID, decoded); err != nil {
		return fmt.Errorf("persist bound credential: %w", err)
	}
	return nil
}

// BindIssuerAndPersist writes the resolved issuer into the stored credential
// and records the requested wire format on the deferred metadata row, keeping
// the two in step.
func (f *Factory) BindIssuerAndPersist(ctx context.Context, procedureID uuid.UUID, issuer *domain.DetailedIssuer, format domain.Format) error {
	proc, err := f.procedures.FindByID(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("load procedure: %w", err)
	}

	decoded, err := bindIssuer(proc.CredentialType, proc.CredentialDecoded, issuer)
	if err != nil {
		return err
	}
	if err := f.procedures.UpdateCredential(ctx, procedureID, decoded); err != nil {
		return fmt.Errorf("persist issued credential: %w", err)
	}
	if err := f.deferred.UpdateFormat(ctx, procedureID, format); err != nil {
		return fmt.Errorf("record credential format: %w", err)
	}
	return nil
}

func bindIssuer(credentialType domain.CredentialType, raw json.RawMessage, issuer *domain.DetailedIssuer) (json.RawMessage, error) {
	switch credentialType {
	case domain.CredentialTypeLEAREmployee:
		cred, err := domain.ParseLEAREmployee(raw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
		}
		cred.Issuer = domain.IssuerRef{ID: issuer.ID}
		return marshalBound(cred)
	case domain.CredentialTypeCertification:
		cred, err := domain.ParseCertification(raw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
		}
		cred.Issuer = domain.IssuerRef{ID: issuer.ID}
		cred.Atester.ID = issuer.ID
		cred.Atester.Organization = issuer.Organization
		cred.Atester.Country = issuer.Country
		return marshalBound(cred)
	default:
		return nil, dErrors.New(dErrors.CodeCredentialTypeUnsupported,
			fmt.Sprintf("unsupported credential type %q", credentialType))
	}
}

func marshalBound(cred any) (json.RawMessage, error) {
	decoded, err := json.Marshal(cred)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode bound credential")
	}
	return decoded, nil
}
