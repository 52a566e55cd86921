package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcissuer/internal/audit"
	"vcissuer/internal/deferred"
	"vcissuer/internal/domain"
	"vcissuer/internal/factory"
	"vcissuer/internal/offer"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/procedure"
	"vcissuer/internal/proofcheck"
	"vcissuer/internal/sentinel"
	"vcissuer/internal/signingconfig"
	dErrors "vcissuer/pkg/domain-errors"
)

type allowAuthz struct{ err error }

func (a allowAuthz) Authorize(string, domain.CredentialType, json.RawMessage, string) error {
	return a.err
}

type stubResolver struct {
	issuer *domain.DetailedIssuer
	err    error
}

func (r *stubResolver) Resolve(context.Context, uuid.UUID, domain.CredentialType) (*domain.DetailedIssuer, error) {
	return r.issuer, r.err
}

type stubPipeline struct {
	artifact string
	calls    int
}

func (p *stubPipeline) Sign(_ context.Context, _ json.RawMessage, _ domain.Format, _ string, _ uuid.UUID) (string, error) {
	p.calls++
	return p.artifact, nil
}

type stubTokens struct{}

func (stubTokens) Token(context.Context) (string, error) { return "service-token", nil }

type stubRegistry struct {
	registered []string
}

func (r *stubRegistry) ValidateDidFormat(_ context.Context, _, did string) (bool, error) {
	return domain.IsELSIDid(did), nil
}

func (r *stubRegistry) RegisterDid(_ context.Context, _, did string) error {
	r.registered = append(r.registered, did)
	return nil
}

type activationRecord struct {
	to, name, link, code string
}

type pinRecord struct {
	to, pin string
}

type stubNotifier struct {
	activations []activationRecord
	pending     []string
	signed      []string
	pins        []pinRecord
	err         error
}

func (n *stubNotifier) SendCredentialActivationEmail(_ context.Context, to, name, link, code string) error {
	if n.err != nil {
		return n.err
	}
	n.activations = append(n.activations, activationRecord{to, name, link, code})
	return nil
}

func (n *stubNotifier) SendPendingCredentialNotification(_ context.Context, to, _ string) error {
	n.pending = append(n.pending, to)
	return nil
}

func (n *stubNotifier) SendCredentialSignedNotification(_ context.Context, to, _, _, _ string) error {
	if n.err != nil {
		return n.err
	}
	n.signed = append(n.signed, to)
	return nil
}

func (n *stubNotifier) SendPin(_ context.Context, to, pin string) error {
	n.pins = append(n.pins, pinRecord{to, pin})
	return nil
}

type delivery struct {
	uri, vc, productID, email, token string
}

type stubDeliverer struct {
	deliveries []delivery
}

func (d *stubDeliverer) SendVCToResponseURI(_ context.Context, uri, vc, productID, email, token string) error {
	d.deliveries = append(d.deliveries, delivery{uri, vc, productID, email, token})
	return nil
}

type fixture struct {
	svc        *Service
	procedures *procedure.MemoryStore
	metadata   *deferred.MemoryStore
	offers     *offer.MemoryCache
	resolver   *stubResolver
	pipeline   *stubPipeline
	registry   *stubRegistry
	notifier   *stubNotifier
	deliverer  *stubDeliverer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	procedures := procedure.NewMemoryStore()
	metadata := deferred.NewMemoryStore()
	offers := offer.NewMemoryCache()
	configs := signingconfig.NewMemoryProvider(domain.SignatureModeServer)

	issuanceCfg := config.IssuanceConfig{
		ValidityDays:          365,
		TransactionCodeLength: 10,
		OfferTTL:              10 * time.Minute,
		CredentialOfferPath:   "/oid4vci/credential-offer",
	}
	serverCfg := config.ServerConfig{ExternalURL: "https://issuer.example.com"}

	f := &fixture{
		procedures: procedures,
		metadata:   metadata,
		offers:     offers,
		resolver: &stubResolver{issuer: &domain.DetailedIssuer{
			ID:                     "did:elsi:VATES-ISSUER",
			OrganizationIdentifier: "VATES-ISSUER",
		}},
		pipeline:  &stubPipeline{artifact: "signed.jwt.artifact"},
		registry:  &stubRegistry{},
		notifier:  &stubNotifier{},
		deliverer: &stubDeliverer{},
	}
	f.svc = New(issuanceCfg, serverCfg, Deps{
		Procedures: procedures,
		Metadata:   metadata,
		Offers:     offers,
		Authz:      allowAuthz{},
		Builder:    factory.New(issuanceCfg, procedures, metadata),
		Configs:    configs,
		Resolver:   f.resolver,
		Pipeline:   f.pipeline,
		Tokens:     stubTokens{},
		Proofs:     proofcheck.NewValidator(),
		Registry:   f.registry,
		Notifier:   f.notifier,
		Deliverer:  f.deliverer,
		Audit:      audit.NewMemoryRecorder(),
	})
	return f
}

const employeePayload = `{
	"mandate": {
		"mandator": {"organizationIdentifier": "VATES-B60645900", "commonName": "Jane Boss", "emailAddress": "boss@corp.example"},
		"mandatee": {"first_name": "John", "last_name": "Worker", "email": "john@example.com"},
		"power": [{"function": "Onboarding", "action": ["Execute"]}]
	}
}`

const certificationPayload = `{
	"credentialSubject": {
		"company": {"id": "VATES-CERT01", "commonName": "Cert Corp", "email": "ops@certcorp.example"},
		"product": {"productId": "prod-9", "productName": "Widget"}
	}
}`

func employeeRequest(opMode string) PreSubmittedRequest {
	return PreSubmittedRequest{
		Schema:        string(domain.CredentialTypeLEAREmployee),
		Format:        string(domain.FormatJWTVC),
		OperationMode: opMode,
		Payload:       json.RawMessage(employeePayload),
	}
}

func accessTokenWithJTI(t *testing.T, jti string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"jti": jti}).
		SignedString([]byte("auth-key"))
	require.NoError(t, err)
	return signed
}

func proofFor(t *testing.T, nonce string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"nonce": nonce})
	token.Header["typ"] = "openid4vci-proof+jwt"
	token.Header["kid"] = "did:key:z6MkHolder#key-1"
	signed, err := token.SignedString([]byte("holder-key"))
	require.NoError(t, err)
	return signed
}

func TestExecute_EmployeeAsyncCreatesDraftAndSendsActivation(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Execute(context.Background(), employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, result.Status)

	proc, err := f.procedures.FindByID(context.Background(), result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, proc.Status)
	assert.Equal(t, domain.SignatureModeServer, proc.SignatureMode)

	require.Len(t, f.notifier.activations, 1)
	activation := f.notifier.activations[0]
	assert.Equal(t, "john@example.com", activation.to)
	assert.Len(t, activation.code, 10)
	assert.Contains(t, activation.link, "transaction_code=")
}

func TestExecute_RejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t)

	req := employeeRequest("A")
	req.Format = "ldp_vc"
	_, err := f.svc.Execute(context.Background(), req, "bearer", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnsupportedFormat))
}

func TestExecute_CertificationBlankResponseURIFailsBeforePersisting(t *testing.T) {
	f := newFixture(t)

	req := PreSubmittedRequest{
		Schema:        string(domain.CredentialTypeCertification),
		Format:        string(domain.FormatJWTVC),
		OperationMode: "S",
		Payload:       json.RawMessage(certificationPayload),
	}
	_, err := f.svc.Execute(context.Background(), req, "bearer", "id-token")
	require.Error(t, err)
	assert.EqualError(t, err, "response_uri is required")

	procs, err := f.procedures.ListByOrganization(context.Background(), "VATES-CERT01")
	require.NoError(t, err)
	assert.Empty(t, procs, "no procedure may be persisted on validation failure")
}

func TestExecute_CertificationSignsAndDeliversImmediately(t *testing.T) {
	f := newFixture(t)

	req := PreSubmittedRequest{
		Schema:        string(domain.CredentialTypeCertification),
		Format:        string(domain.FormatJWTVC),
		OperationMode: "S",
		Payload:       json.RawMessage(certificationPayload),
		ResponseURI:   "https://client.example/hook",
	}
	result, err := f.svc.Execute(context.Background(), req, "bearer", "id-token")
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, domain.StatusValid, result.Status)

	require.Len(t, f.deliverer.deliveries, 1)
	d := f.deliverer.deliveries[0]
	assert.Equal(t, "https://client.example/hook", d.uri)
	assert.Equal(t, "signed.jwt.artifact", d.vc)
	assert.Equal(t, "prod-9", d.productID)
	assert.Equal(t, "ops@certcorp.example", d.email)
}

func TestGetCredentialOffer_BindsNonceAndBuildsDeeplink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	code := f.notifier.activations[0].code

	f.svc.newNonce = func() string { return "nonce-b" }
	deeplink, err := f.svc.GetCredentialOffer(ctx, code)
	require.NoError(t, err)

	require.Regexp(t, regexp.MustCompile(`^openid-credential-offer://\?credential_offer_uri=`), deeplink)
	encoded := strings.TrimPrefix(deeplink, "openid-credential-offer://?credential_offer_uri=")
	decoded, err := url.QueryUnescape(encoded)
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com/oid4vci/credential-offer/nonce-b", decoded)

	meta, err := f.metadata.FindByAuthServerNonce(ctx, "nonce-b")
	require.NoError(t, err)
	assert.Equal(t, result.ProcedureID, meta.ProcedureID)

	// the wallet will prompt for the tx_code; the holder gets it by mail
	require.Len(t, f.notifier.pins, 1)
	assert.Equal(t, pinRecord{to: "john@example.com", pin: code}, f.notifier.pins[0])

	// the transaction code is now dead
	_, err = f.svc.GetCredentialOffer(ctx, code)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpiredOrUsedCode))
}

func TestRedeemCredentialOffer_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-r" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	cached, err := f.svc.RedeemCredentialOffer(ctx, "nonce-r")
	require.NoError(t, err)
	assert.Equal(t, "nonce-r", cached.Grants.PreAuthorizedCode.PreAuthorizedCode)
	assert.Equal(t, []string{"LEARCredentialEmployee"}, cached.CredentialConfigurationIDs)

	_, err = f.svc.RedeemCredentialOffer(ctx, "nonce-r")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestGenerateCredentialResponse_SyncIssuesInline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("S"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-c" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	resp, err := f.svc.GenerateCredentialResponse(ctx,
		accessTokenWithJTI(t, "nonce-c"),
		credentialRequest(t, string(domain.FormatJWTVC), "nonce-c"))
	require.NoError(t, err)
	assert.Equal(t, "signed.jwt.artifact", resp.Credential)
	assert.Empty(t, resp.TransactionID)

	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, proc.Status)

	// the subject DID from the proof is bound into the credential
	cred, err := domain.ParseLEAREmployee(proc.CredentialDecoded)
	require.NoError(t, err)
	assert.Equal(t, "did:key:z6MkHolder", cred.CredentialSubject.Mandate.Mandatee.ID)
	assert.Equal(t, "did:elsi:VATES-ISSUER", cred.Issuer.ID)

	_, err = f.metadata.FindByAuthServerNonce(ctx, "nonce-c")
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "deferred metadata must be deleted")

	assert.Equal(t, []string{"did:elsi:VATES-B60645900"}, f.registry.registered)
}

func TestGenerateCredentialResponse_InvalidProofRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, employeeRequest("S"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-p" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	// proof minted for a different nonce
	_, err = f.svc.GenerateCredentialResponse(ctx,
		accessTokenWithJTI(t, "nonce-p"),
		credentialRequest(t, "", "other-nonce"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidProof))
}

func TestGenerateCredentialResponse_AsyncReturnsTransactionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-a" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	resp, err := f.svc.GenerateCredentialResponse(ctx,
		accessTokenWithJTI(t, "nonce-a"),
		credentialRequest(t, "", "nonce-a"))
	require.NoError(t, err)
	assert.Empty(t, resp.Credential)
	assert.Equal(t, "nonce-a", resp.TransactionID)
	assert.Equal(t, []string{"boss@corp.example"}, f.notifier.pending)
	assert.Zero(t, f.pipeline.calls, "nothing is signed on the deferred path")

	// the procedure now sits with the signer until the backoffice signs it
	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendSignature, proc.Status)

	// polling again must not disturb the pending status
	_, err = f.svc.GenerateCredentialResponse(ctx,
		accessTokenWithJTI(t, "nonce-a"),
		credentialRequest(t, "", "nonce-a"))
	require.NoError(t, err)
	proc, err = f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendSignature, proc.Status)
}

func credentialRequest(t *testing.T, format, nonce string) CredentialRequest {
	t.Helper()
	var req CredentialRequest
	req.Format = format
	req.Proof.ProofType = "jwt"
	req.Proof.JWT = proofFor(t, nonce)
	return req
}

func signedArtifact(t *testing.T, credentialJSON json.RawMessage) string {
	t.Helper()
	var vc map[string]any
	require.NoError(t, json.Unmarshal(credentialJSON, &vc))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"vc": vc}).
		SignedString([]byte("signer-key"))
	require.NoError(t, err)
	return signed
}

func TestUpdateSignedCredentials_AsyncNotifiesMandatee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)

	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	artifact := signedArtifact(t, proc.CredentialDecoded)

	require.NoError(t, f.svc.UpdateSignedCredentials(ctx, []SignedCredential{{VC: artifact}}))

	updated, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendDownload, updated.Status)

	meta, err := f.metadata.FindByProcedureID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, artifact, meta.VC)

	assert.Equal(t, []string{"john@example.com"}, f.notifier.signed)
}

func TestUpdateSignedCredentials_MissingContactIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)

	// strip the mandatee contact from the signed copy
	cred, err := domain.ParseLEAREmployee(proc.CredentialDecoded)
	require.NoError(t, err)
	cred.CredentialSubject.Mandate.Mandatee.Email = ""
	stripped, err := json.Marshal(cred)
	require.NoError(t, err)

	err = f.svc.UpdateSignedCredentials(ctx, []SignedCredential{{VC: signedArtifact(t, stripped)}})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRequiredField))
}

func TestGetDeferredCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-d" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	// still unsigned: polling echoes the transaction id
	resp, err := f.svc.GetDeferredCredential(ctx, "nonce-d")
	require.NoError(t, err)
	assert.Empty(t, resp.Credential)
	assert.Equal(t, "nonce-d", resp.TransactionID)

	require.NoError(t, f.metadata.UpdateVC(ctx, result.ProcedureID, "signed.later.jwt"))
	resp, err = f.svc.GetDeferredCredential(ctx, "nonce-d")
	require.NoError(t, err)
	assert.Equal(t, "signed.later.jwt", resp.Credential)

	_, err = f.svc.GetDeferredCredential(ctx, "nonce-d")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpiredOrUsedCode))
}

func TestDeferredLifecycle_StatusProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)
	f.svc.newNonce = func() string { return "nonce-l" }
	_, err = f.svc.GetCredentialOffer(ctx, f.notifier.activations[0].code)
	require.NoError(t, err)

	assertStatus := func(want domain.ProcedureStatus) {
		t.Helper()
		proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
		require.NoError(t, err)
		assert.Equal(t, want, proc.Status)
	}

	// wallet request parks the procedure with the signer
	_, err = f.svc.GenerateCredentialResponse(ctx,
		accessTokenWithJTI(t, "nonce-l"),
		credentialRequest(t, "", "nonce-l"))
	require.NoError(t, err)
	assertStatus(domain.StatusPendSignature)

	// backoffice signs: the artifact waits for the holder
	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	artifact := signedArtifact(t, proc.CredentialDecoded)
	require.NoError(t, f.svc.UpdateSignedCredentials(ctx, []SignedCredential{{VC: artifact}}))
	assertStatus(domain.StatusPendDownload)

	// holder downloads: the procedure settles in VALID
	resp, err := f.svc.GetDeferredCredential(ctx, "nonce-l")
	require.NoError(t, err)
	assert.Equal(t, artifact, resp.Credential)
	assertStatus(domain.StatusValid)
}

func TestRetrySignUnsignedCredential_CertificationDelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// first attempt: issuer unresolved, certification parks in DRAFT
	f.resolver.issuer = nil
	req := PreSubmittedRequest{
		Schema:        string(domain.CredentialTypeCertification),
		Format:        string(domain.FormatJWTVC),
		OperationMode: "S",
		Payload:       json.RawMessage(certificationPayload),
		ResponseURI:   "https://client.example/hook",
	}
	result, err := f.svc.Execute(ctx, req, "bearer", "id-token")
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, domain.StatusDraft, result.Status)
	assert.Empty(t, f.deliverer.deliveries)

	// the signer recovers; retry drives it to completion
	f.resolver.issuer = &domain.DetailedIssuer{ID: "did:elsi:VATES-ISSUER"}
	require.NoError(t, f.svc.RetrySignUnsignedCredential(ctx, result.ProcedureID))

	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, proc.Status)
	require.Len(t, f.deliverer.deliveries, 1)
	assert.Equal(t, "signed.jwt.artifact", f.deliverer.deliveries[0].vc)
}

func TestWithdrawAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, employeeRequest("A"), "bearer", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Withdraw(ctx, result.ProcedureID))
	proc, err := f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, proc.Status)

	require.NoError(t, f.svc.Reactivate(ctx, result.ProcedureID))
	proc, err = f.procedures.FindByID(ctx, result.ProcedureID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, proc.Status)
}

func TestNewTransactionCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := newTransactionCode(32)
		require.NoError(t, err)
		assert.Len(t, code, 32)
		assert.Regexp(t, regexp.MustCompile(fmt.Sprintf("^[%s]+$", codeAlphabet)), code)
		assert.False(t, seen[code], "codes must not repeat")
		seen[code] = true
	}
}
