// Package workflow drives the issuance state machine across the synchronous
// and deferred OID4VCI flows. It is the sole writer of procedure and deferred
// metadata state; every other component is stateless or read-only.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vcissuer/internal/audit"
	"vcissuer/internal/deferred"
	"vcissuer/internal/domain"
	"vcissuer/internal/offer"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/platform/metrics"
	"vcissuer/internal/procedure"
	"vcissuer/internal/proofcheck"
	"vcissuer/internal/signingconfig"
	"vcissuer/internal/trustframework"
	"vcissuer/internal/webhook"
	dErrors "vcissuer/pkg/domain-errors"
)

// Authorizer decides whether a caller may request a credential schema.
type Authorizer interface {
	Authorize(token string, schema domain.CredentialType, payload json.RawMessage, idToken string) error
}

// Builder maps raw payloads to canonical credentials and binds identities
// into stored ones.
type Builder interface {
	Build(schema domain.CredentialType, rawPayload json.RawMessage, operationMode domain.OperationMode, responseURI string) (*procedure.CreationRequest, error)
	BindMandateeID(ctx context.Context, procedureID uuid.UUID, mandateeID string) error
	BindIssuerAndPersist(ctx context.Context, procedureID uuid.UUID, issuer *domain.DetailedIssuer, format domain.Format) error
}

// IssuerResolver produces the issuer identity for a procedure. A nil issuer
// with nil error means resolution gave up recoverably; the procedure stays in
// its pre-signing status for a later retry.
type IssuerResolver interface {
	Resolve(ctx context.Context, procedureID uuid.UUID, credentialType domain.CredentialType) (*domain.DetailedIssuer, error)
}

// CredentialSigner is the signing pipeline contract.
type CredentialSigner interface {
	Sign(ctx context.Context, unsigned json.RawMessage, format domain.Format, authToken string, procedureID uuid.UUID) (string, error)
}

// TokenSource exchanges service credentials for a signer access token, also
// used as the M2M token on webhook delivery.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EmailSender is the slice of the notifier the workflow uses.
type EmailSender interface {
	SendCredentialActivationEmail(ctx context.Context, to, name, activationLink, transactionCode string) error
	SendPendingCredentialNotification(ctx context.Context, to, name string) error
	SendCredentialSignedNotification(ctx context.Context, to, name, subjectLine, sentence string) error
	SendPin(ctx context.Context, to, pin string) error
}

// Deps bundles the workflow's collaborators.
type Deps struct {
	Procedures procedure.Store
	Metadata   deferred.Store
	Offers     offer.Cache
	Authz      Authorizer
	Builder    Builder
	Configs    signingconfig.Provider
	Resolver   IssuerResolver
	Pipeline   CredentialSigner
	Tokens     TokenSource
	Proofs     proofcheck.Validator
	Registry   trustframework.Registry
	Notifier   EmailSender
	Deliverer  webhook.Deliverer
	Audit      audit.Recorder
}

// Service orchestrates issuance.
type Service struct {
	cfg    config.IssuanceConfig
	server config.ServerConfig
	deps   Deps

	logger  *slog.Logger
	metrics *metrics.Metrics

	newCode  func(int) (string, error)
	newNonce func() string
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(cfg config.IssuanceConfig, server config.ServerConfig, deps Deps, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		server:   server,
		deps:     deps,
		logger:   slog.Default(),
		newCode:  newTransactionCode,
		newNonce: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute validates and persists a pre-submitted issuance request. Employee
// mandates get an activation email carrying a transaction code; certifications
// run the resolve-sign-deliver pipeline immediately since they have no
// holder-interactive step.
func (s *Service) Execute(ctx context.Context, req PreSubmittedRequest, token, idToken string) (*ExecuteResult, error) {
	if req.Format != string(domain.FormatJWTVC) {
		return nil, dErrors.New(dErrors.CodeUnsupportedFormat,
			fmt.Sprintf("format %q is not supported for issuance", req.Format))
	}
	schema, err := domain.ParseCredentialType(req.Schema)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCredentialTypeUnsupported, "unsupported credential schema")
	}
	opMode := domain.OperationMode(req.OperationMode)
	if opMode != domain.OperationModeSync && opMode != domain.OperationModeAsync {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unsupported operation mode %q", req.OperationMode))
	}
	if schema == domain.CredentialTypeCertification {
		if req.ResponseURI == "" {
			return nil, dErrors.New(dErrors.CodeMissingRequiredField, "response_uri is required")
		}
		if idToken == "" {
			return nil, dErrors.New(dErrors.CodeMissingRequiredField, "id_token is required")
		}
	}

	if err := s.deps.Authz.Authorize(token, schema, req.Payload, idToken); err != nil {
		return nil, err
	}

	creation, err := s.deps.Builder.Build(schema, req.Payload, opMode, req.ResponseURI)
	if err != nil {
		return nil, err
	}

	sigCfg, err := s.deps.Configs.Get(ctx, creation.OrganizationIdentifier)
	if err != nil {
		return nil, fmt.Errorf("load signature configuration: %w", err)
	}
	creation.SignatureMode = sigCfg.SignatureMode

	proc, err := s.deps.Procedures.Create(ctx, *creation)
	if err != nil {
		return nil, fmt.Errorf("persist procedure: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementProceduresCreated(string(schema))
	}
	s.recordAudit(ctx, "procedure.created", proc.ID, map[string]any{
		"credential_type": string(schema),
		"operation_mode":  string(opMode),
	})

	code, err := s.newCode(s.cfg.TransactionCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate transaction code: %w", err)
	}
	if err := s.deps.Metadata.Create(ctx, deferred.Metadata{
		ProcedureID:     proc.ID,
		TransactionCode: code,
		OperationMode:   opMode,
		ResponseURI:     req.ResponseURI,
	}); err != nil {
		return nil, fmt.Errorf("persist deferred metadata: %w", err)
	}

	switch schema {
	case domain.CredentialTypeLEAREmployee:
		if err := s.sendActivation(ctx, proc, code); err != nil {
			return nil, err
		}
		return &ExecuteResult{ProcedureID: proc.ID, Status: domain.StatusDraft}, nil
	case domain.CredentialTypeCertification:
		return s.issueCertification(ctx, proc)
	default:
		return nil, dErrors.New(dErrors.CodeCredentialTypeUnsupported,
			fmt.Sprintf("unsupported credential type %q", schema))
	}
}

func (s *Service) sendActivation(ctx context.Context, proc *procedure.Procedure, code string) error {
	cred, err := domain.ParseLEAREmployee(proc.CredentialDecoded)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
	}
	mandatee := cred.CredentialSubject.Mandate.Mandatee
	if mandatee.Email == "" {
		return dErrors.New(dErrors.CodeMissingRequiredField, "mandatee email is required for activation")
	}

	link := s.server.ExternalURL + s.cfg.CredentialOfferPath + "?transaction_code=" + url.QueryEscape(code)
	name := mandatee.FirstName + " " + mandatee.LastName
	if err := s.deps.Notifier.SendCredentialActivationEmail(ctx, mandatee.Email, name, link, code); err != nil {
		// The procedure stays; the operator can resend the activation.
		return dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to send activation email")
	}
	return nil
}

func (s *Service) issueCertification(ctx context.Context, proc *procedure.Procedure) (*ExecuteResult, error) {
	issuer, err := s.deps.Resolver.Resolve(ctx, proc.ID, domain.CredentialTypeCertification)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		s.logger.Warn("issuer unresolved, certification left for later retry", "procedure_id", proc.ID)
		return &ExecuteResult{ProcedureID: proc.ID, Status: domain.StatusDraft}, nil
	}

	if err := s.deps.Builder.BindIssuerAndPersist(ctx, proc.ID, issuer, domain.FormatJWTVC); err != nil {
		return nil, err
	}
	if s.cfg.CertSyncMarksPending {
		if err := s.deps.Procedures.UpdateStatus(ctx, proc.ID, domain.StatusPendSignature); err != nil {
			return nil, fmt.Errorf("mark pending signature: %w", err)
		}
	}

	signed, err := s.signProcedure(ctx, proc.ID, domain.FormatJWTVC)
	if err != nil {
		return nil, err
	}

	meta, err := s.deps.Metadata.FindByProcedureID(ctx, proc.ID)
	if err != nil {
		return nil, fmt.Errorf("load deferred metadata: %w", err)
	}
	if err := s.deps.Metadata.UpdateVC(ctx, proc.ID, signed); err != nil {
		return nil, fmt.Errorf("store signed credential: %w", err)
	}

	if err := s.deliverCertification(ctx, proc.ID, meta.ResponseURI, signed); err != nil {
		return nil, err
	}
	if err := s.deps.Procedures.UpdateStatus(ctx, proc.ID, domain.StatusValid); err != nil {
		return nil, fmt.Errorf("mark valid: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementCredentialsIssued(string(domain.CredentialTypeCertification), string(domain.FormatJWTVC))
	}
	s.recordAudit(ctx, "certification.delivered", proc.ID, nil)
	return &ExecuteResult{ProcedureID: proc.ID, Status: domain.StatusValid, Delivered: true}, nil
}

// signProcedure reloads the stored credential and runs it through the signing
// pipeline with a fresh service token.
func (s *Service) signProcedure(ctx context.Context, procedureID uuid.UUID, format domain.Format) (string, error) {
	proc, err := s.deps.Procedures.FindByID(ctx, procedureID)
	if err != nil {
		return "", fmt.Errorf("load procedure: %w", err)
	}
	authToken, err := s.deps.Tokens.Token(ctx)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigning, "signer token exchange failed")
	}
	return s.deps.Pipeline.Sign(ctx, proc.CredentialDecoded, format, authToken, procedureID)
}

func (s *Service) deliverCertification(ctx context.Context, procedureID uuid.UUID, responseURI, signed string) error {
	if responseURI == "" {
		return dErrors.New(dErrors.CodeMissingRequiredField, "response_uri is missing for delivery")
	}
	proc, err := s.deps.Procedures.FindByID(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("load procedure: %w", err)
	}
	cert, err := domain.ParseCertification(proc.CredentialDecoded)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
	}
	m2mToken, err := s.deps.Tokens.Token(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeSigning, "M2M token exchange failed")
	}
	if err := s.deps.Deliverer.SendVCToResponseURI(ctx, responseURI, signed,
		cert.CredentialSubject.Product.ProductID, cert.CredentialSubject.Company.Email, m2mToken); err != nil {
		return fmt.Errorf("deliver certification: %w", err)
	}
	return nil
}

// GetCredentialOffer redeems a transaction code: it binds a fresh auth-server
// nonce, caches the offer under that nonce, and returns the wallet deeplink.
func (s *Service) GetCredentialOffer(ctx context.Context, transactionCode string) (string, error) {
	meta, err := s.deps.Metadata.FindByTransactionCode(ctx, transactionCode)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeExpiredOrUsedCode, "transaction code is expired or already used")
	}

	nonce := s.newNonce()
	if err := s.deps.Metadata.BindAuthServerNonce(ctx, transactionCode, nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeExpiredOrUsedCode, "transaction code is expired or already used")
	}

	proc, err := s.deps.Procedures.FindByID(ctx, meta.ProcedureID)
	if err != nil {
		return "", fmt.Errorf("load procedure: %w", err)
	}

	credentialOffer := offer.CredentialOffer{
		CredentialIssuer:           s.server.ExternalURL,
		CredentialConfigurationIDs: []string{configurationID(proc.CredentialType)},
		Grants: offer.Grants{
			PreAuthorizedCode: offer.PreAuthorizedCodeGrant{
				PreAuthorizedCode: nonce,
				TxCode: &offer.TxCode{
					InputMode:   "text",
					Length:      s.cfg.TransactionCodeLength,
					Description: "Enter the code from your activation email",
				},
			},
		},
	}
	if err := s.deps.Offers.Store(ctx, nonce, credentialOffer, s.cfg.OfferTTL); err != nil {
		return "", fmt.Errorf("cache credential offer: %w", err)
	}

	s.recordAudit(ctx, "offer.created", meta.ProcedureID, map[string]any{"nonce": nonce})

	if proc.CredentialType == domain.CredentialTypeLEAREmployee {
		s.sendOfferPin(ctx, proc.CredentialDecoded, transactionCode)
	}

	offerURI := s.server.ExternalURL + s.cfg.CredentialOfferPath + "/" + nonce
	return "openid-credential-offer://?credential_offer_uri=" + url.QueryEscape(offerURI), nil
}

// sendOfferPin mails the holder the code the wallet will prompt for as the
// tx_code of the pre-authorized grant. A lost pin email never voids the
// cached offer.
func (s *Service) sendOfferPin(ctx context.Context, decoded json.RawMessage, code string) {
	cred, err := domain.ParseLEAREmployee(decoded)
	if err != nil {
		s.logger.Warn("skipping pin email, credential undecodable", "error", err.Error())
		return
	}
	to := cred.CredentialSubject.Mandate.Mandatee.Email
	if to == "" {
		return
	}
	if err := s.deps.Notifier.SendPin(ctx, to, code); err != nil {
		s.logger.Warn("pin email failed", "to", to, "error", err.Error())
	}
}

// RedeemCredentialOffer hands the cached offer to the wallet. Single-use: a
// second call with the same nonce fails not-found.
func (s *Service) RedeemCredentialOffer(ctx context.Context, nonce string) (*offer.CredentialOffer, error) {
	cached, err := s.deps.Offers.Redeem(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OffersRedeemed.Inc()
	}
	return cached, nil
}

// Withdraw pulls a procedure out of circulation. Only DRAFT and PEND_DOWNLOAD
// procedures can be withdrawn.
func (s *Service) Withdraw(ctx context.Context, procedureID uuid.UUID) error {
	if err := s.deps.Procedures.UpdateStatus(ctx, procedureID, domain.StatusWithdrawn); err != nil {
		return err
	}
	s.recordAudit(ctx, "procedure.withdrawn", procedureID, nil)
	return nil
}

// Reactivate returns a withdrawn procedure to DRAFT.
func (s *Service) Reactivate(ctx context.Context, procedureID uuid.UUID) error {
	if err := s.deps.Procedures.UpdateStatus(ctx, procedureID, domain.StatusDraft); err != nil {
		return err
	}
	s.recordAudit(ctx, "procedure.reactivated", procedureID, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, procedureID uuid.UUID, details map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Record(ctx, audit.Event{
		Action:      action,
		ProcedureID: procedureID.String(),
		Details:     details,
	}); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err.Error())
	}
}

func configurationID(t domain.CredentialType) string {
	if t == domain.CredentialTypeCertification {
		return "VerifiableCertification"
	}
	return "LEARCredentialEmployee"
}

// authServerNonce reads the jti claim that correlates an access token with
// the deferred metadata row.
func authServerNonce(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to parse access token")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "access token carries no jti")
	}
	return jti, nil
}
