package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vcissuer/internal/domain"
	"vcissuer/internal/proofcheck"
	dErrors "vcissuer/pkg/domain-errors"
)

// GenerateCredentialResponse serves the OID4VCI credential endpoint. SYNC
// procedures get the signed credential inline; ASYNC ones get a transaction
// id and a pending notification to the organization's signer.
func (s *Service) GenerateCredentialResponse(ctx context.Context, accessToken string, req CredentialRequest) (*CredentialResponse, error) {
	nonce, err := authServerNonce(accessToken)
	if err != nil {
		return nil, err
	}

	ok, err := s.deps.Proofs.IsProofValid(req.Proof.JWT, accessToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidProof, "invalid or missing proof")
	}
	subjectDID, err := proofcheck.SubjectDID(req.Proof.JWT)
	if err != nil {
		return nil, err
	}

	meta, err := s.deps.Metadata.FindByAuthServerNonce(ctx, nonce)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExpiredOrUsedCode, "no pending issuance for this token")
	}
	proc, err := s.deps.Procedures.FindByID(ctx, meta.ProcedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}

	if proc.CredentialType == domain.CredentialTypeLEAREmployee {
		if err := s.deps.Builder.BindMandateeID(ctx, proc.ID, subjectDID); err != nil {
			return nil, err
		}
	}

	format, err := requestedFormat(req.Format)
	if err != nil {
		return nil, err
	}

	switch meta.OperationMode {
	case domain.OperationModeSync:
		return s.respondSync(ctx, proc.ID, proc.CredentialType, nonce, format)
	case domain.OperationModeAsync:
		return s.respondAsync(ctx, proc.ID, nonce)
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unsupported operation mode %q", meta.OperationMode))
	}
}

func (s *Service) respondSync(ctx context.Context, procedureID uuid.UUID, credentialType domain.CredentialType, nonce string, format domain.Format) (*CredentialResponse, error) {
	issuer, err := s.deps.Resolver.Resolve(ctx, procedureID, credentialType)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		// The holder is waiting; an unresolved issuer cannot be deferred here.
		return nil, dErrors.New(dErrors.CodeSigning, "issuer could not be resolved")
	}
	if err := s.deps.Builder.BindIssuerAndPersist(ctx, procedureID, issuer, format); err != nil {
		return nil, err
	}

	signed, err := s.signProcedure(ctx, procedureID, format)
	if err != nil {
		return nil, err
	}

	proc, err := s.deps.Procedures.FindByID(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}
	if proc.Status != domain.StatusPendSignature {
		if err := s.deps.Procedures.UpdateStatus(ctx, procedureID, domain.StatusValid); err != nil {
			return nil, fmt.Errorf("mark valid: %w", err)
		}
	}
	if err := s.deps.Metadata.DeleteByAuthServerNonce(ctx, nonce); err != nil {
		return nil, fmt.Errorf("clear deferred metadata: %w", err)
	}

	if proc.CredentialType == domain.CredentialTypeLEAREmployee {
		s.registerMandatorDid(ctx, nonce, proc.CredentialDecoded)
	}

	if s.metrics != nil {
		s.metrics.IncrementCredentialsIssued(string(proc.CredentialType), string(format))
	}
	s.recordAudit(ctx, "credential.issued", procedureID, map[string]any{"format": string(format)})
	return &CredentialResponse{Credential: signed, Format: string(format)}, nil
}

func (s *Service) respondAsync(ctx context.Context, procedureID uuid.UUID, nonce string) (*CredentialResponse, error) {
	proc, err := s.deps.Procedures.FindByID(ctx, procedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}
	cred, err := domain.ParseLEAREmployee(proc.CredentialDecoded)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode stored credential")
	}

	mandator := cred.CredentialSubject.Mandate.Mandator
	if mandator.EmailAddress != "" {
		if err := s.deps.Notifier.SendPendingCredentialNotification(ctx, mandator.EmailAddress, mandator.CommonName); err != nil {
			// Notification failure never blocks the deferred response.
			s.logger.Warn("pending notification failed",
				"procedure_id", procedureID, "error", err.Error())
		}
	}

	// The procedure now waits on the signer; repeated wallet calls while it
	// waits must not touch the status again.
	if proc.Status == domain.StatusDraft {
		if err := s.deps.Procedures.UpdateStatus(ctx, procedureID, domain.StatusPendSignature); err != nil {
			return nil, fmt.Errorf("mark pending signature: %w", err)
		}
	}

	s.recordAudit(ctx, "credential.deferred", procedureID, nil)
	return &CredentialResponse{TransactionID: nonce}, nil
}

// registerMandatorDid publishes the mandator's organization DID. Registration
// is a side effect of issuance; failures are logged, never raised.
func (s *Service) registerMandatorDid(ctx context.Context, processID string, decoded json.RawMessage) {
	cred, err := domain.ParseLEAREmployee(decoded)
	if err != nil {
		s.logger.Warn("skipping DID registration, credential undecodable", "error", err.Error())
		return
	}
	did := domain.ELSIDid(cred.CredentialSubject.Mandate.Mandator.OrganizationIdentifier)
	valid, err := s.deps.Registry.ValidateDidFormat(ctx, processID, did)
	if err != nil || !valid {
		s.logger.Warn("skipping DID registration", "did", did, "valid", valid)
		return
	}
	if err := s.deps.Registry.RegisterDid(ctx, processID, did); err != nil {
		s.logger.Warn("DID registration failed", "did", did, "error", err.Error())
	}
}

// GetDeferredCredential serves the deferred polling endpoint. While the
// credential is unsigned the transaction id is echoed back; once signed, the
// artifact is returned, the metadata row cleared, and the procedure moves
// from PEND_DOWNLOAD to VALID.
func (s *Service) GetDeferredCredential(ctx context.Context, transactionID string) (*CredentialResponse, error) {
	meta, err := s.deps.Metadata.FindByAuthServerNonce(ctx, transactionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExpiredOrUsedCode, "unknown transaction id")
	}
	if meta.VC == "" {
		return &CredentialResponse{TransactionID: transactionID}, nil
	}
	if err := s.deps.Metadata.DeleteByAuthServerNonce(ctx, transactionID); err != nil {
		return nil, fmt.Errorf("clear deferred metadata: %w", err)
	}

	proc, err := s.deps.Procedures.FindByID(ctx, meta.ProcedureID)
	if err != nil {
		return nil, fmt.Errorf("load procedure: %w", err)
	}
	if proc.Status == domain.StatusPendDownload {
		if err := s.deps.Procedures.UpdateStatus(ctx, meta.ProcedureID, domain.StatusValid); err != nil {
			return nil, fmt.Errorf("mark valid: %w", err)
		}
	}

	s.recordAudit(ctx, "credential.downloaded", meta.ProcedureID, nil)
	return &CredentialResponse{Credential: meta.VC, Format: string(meta.CredentialFormat)}, nil
}

// UpdateSignedCredentials records a batch of signed artifacts coming back
// from the backoffice signer. The first failure cancels the remaining
// updates.
func (s *Service) UpdateSignedCredentials(ctx context.Context, batch []SignedCredential) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, signed := range batch {
		signed := signed
		g.Go(func() error {
			return s.updateSignedCredential(ctx, signed.VC)
		})
	}
	return g.Wait()
}

func (s *Service) updateSignedCredential(ctx context.Context, signedVC string) error {
	credentialID, payload, err := signedCredentialPayload(signedVC)
	if err != nil {
		return err
	}

	proc, err := s.deps.Procedures.FindByCredentialID(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("correlate signed credential %q: %w", credentialID, err)
	}

	if err := s.deps.Procedures.UpdateCredential(ctx, proc.ID, payload); err != nil {
		return fmt.Errorf("update procedure credential: %w", err)
	}
	if err := s.deps.Metadata.UpdateVC(ctx, proc.ID, signedVC); err != nil {
		return fmt.Errorf("store signed artifact: %w", err)
	}
	if err := s.deps.Procedures.UpdateStatus(ctx, proc.ID, domain.StatusPendDownload); err != nil {
		return fmt.Errorf("mark pending download: %w", err)
	}
	s.recordAudit(ctx, "credential.signed", proc.ID, nil)

	if proc.OperationMode != domain.OperationModeAsync {
		return nil
	}
	return s.notifySigned(ctx, proc.CredentialType, payload)
}

// notifySigned tells the holder-side contact the credential is ready. Missing
// contact fields are terminal for the credential; a retry cannot invent an
// address.
func (s *Service) notifySigned(ctx context.Context, credentialType domain.CredentialType, payload json.RawMessage) error {
	var to, name, subjectLine, sentence string
	switch credentialType {
	case domain.CredentialTypeLEAREmployee:
		cred, err := domain.ParseLEAREmployee(payload)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode signed credential")
		}
		mandatee := cred.CredentialSubject.Mandate.Mandatee
		to, name = mandatee.Email, mandatee.FirstName+" "+mandatee.LastName
		subjectLine = "Your employee credential is ready"
		sentence = "Your LEAR employee credential has been signed and can now be downloaded from your wallet."
	case domain.CredentialTypeCertification:
		cred, err := domain.ParseCertification(payload)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode signed credential")
		}
		company := cred.CredentialSubject.Company
		to, name = company.Email, company.Name
		subjectLine = "Your product certification is ready"
		sentence = "The verifiable certification for your product has been signed."
	default:
		return dErrors.New(dErrors.CodeCredentialTypeUnsupported,
			fmt.Sprintf("unsupported credential type %q", credentialType))
	}

	if to == "" || name == "" {
		return dErrors.New(dErrors.CodeMissingRequiredField,
			"signed credential carries no notification contact")
	}
	if err := s.deps.Notifier.SendCredentialSignedNotification(ctx, to, name, subjectLine, sentence); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to send signed notification")
	}
	return nil
}

// RetrySignUnsignedCredential picks up a procedure whose earlier issuer
// resolution or signing gave up, and drives it to completion.
func (s *Service) RetrySignUnsignedCredential(ctx context.Context, procedureID uuid.UUID) error {
	proc, err := s.deps.Procedures.FindByID(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("load procedure: %w", err)
	}
	meta, err := s.deps.Metadata.FindByProcedureID(ctx, procedureID)
	if err != nil {
		return fmt.Errorf("load deferred metadata: %w", err)
	}
	format := meta.CredentialFormat
	if format == "" {
		format = domain.FormatJWTVC
	}

	issuer, err := s.deps.Resolver.Resolve(ctx, procedureID, proc.CredentialType)
	if err != nil {
		return err
	}
	if issuer == nil {
		s.logger.Warn("issuer still unresolved, procedure left for later retry", "procedure_id", procedureID)
		return nil
	}
	if err := s.deps.Builder.BindIssuerAndPersist(ctx, procedureID, issuer, format); err != nil {
		return err
	}

	signed, err := s.signProcedure(ctx, procedureID, format)
	if err != nil {
		return err
	}
	if err := s.deps.Metadata.UpdateVC(ctx, procedureID, signed); err != nil {
		return fmt.Errorf("store signed artifact: %w", err)
	}
	if err := s.deps.Procedures.UpdateStatus(ctx, procedureID, domain.StatusValid); err != nil {
		return fmt.Errorf("mark valid: %w", err)
	}
	s.recordAudit(ctx, "credential.resigned", procedureID, map[string]any{"format": string(format)})

	if proc.CredentialType != domain.CredentialTypeCertification {
		return nil
	}
	if meta.ResponseURI == "" {
		return dErrors.New(dErrors.CodeMissingRequiredField, "response_uri is missing for delivery")
	}
	return s.deliverCertification(ctx, procedureID, meta.ResponseURI, signed)
}

func requestedFormat(raw string) (domain.Format, error) {
	switch domain.Format(raw) {
	case domain.FormatJWTVC, domain.FormatCWT:
		return domain.Format(raw), nil
	case "":
		return domain.FormatJWTVC, nil
	default:
		return "", dErrors.New(dErrors.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported credential format %q", raw))
	}
}

// signedCredentialPayload parses a signed JWT artifact and returns the
// credential id plus the embedded credential JSON.
func signedCredentialPayload(signedVC string) (string, json.RawMessage, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signedVC, claims); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "signed artifact is not a valid JWT")
	}
	vcClaim, ok := claims["vc"]
	if !ok {
		return "", nil, dErrors.New(dErrors.CodeInvalidCredentialFormat, "signed artifact carries no vc claim")
	}
	payload, err := json.Marshal(vcClaim)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to re-encode vc claim")
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
		return "", nil, dErrors.New(dErrors.CodeInvalidCredentialFormat, "signed credential carries no id")
	}
	return probe.ID, payload, nil
}
