package factory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcissuer/internal/deferred"
	"vcissuer/internal/domain"
	"vcissuer/internal/platform/config"
	"vcissuer/internal/procedure"
	dErrors "vcissuer/pkg/domain-errors"
)

func testConfig() config.IssuanceConfig {
	return config.IssuanceConfig{ValidityDays: 365, TransactionCodeLength: 32}
}

func newFactory(t *testing.T, opts ...Option) (*Factory, *procedure.MemoryStore, *deferred.MemoryStore) {
	t.Helper()
	procedures := procedure.NewMemoryStore()
	metadata := deferred.NewMemoryStore()
	return New(testConfig(), procedures, metadata, opts...), procedures, metadata
}

const employeeJSON = `{
	"mandate": {
		"mandator": {"organizationIdentifier": "VATES-B60645900", "commonName": "Jane Boss", "emailAddress": "boss@example.com"},
		"mandatee": {"first_name": "John", "last_name": "Worker", "email": "john@example.com"},
		"power": [
			{"id": "client-chosen-1", "function": "Onboarding", "action": ["Execute"]},
			{"id": "client-chosen-2", "function": "ProductOffering", "action": ["Create", "Update"]}
		]
	}
}`

func TestBuild_EmployeeRegeneratesPowerIDs(t *testing.T) {
	f, _, _ := newFactory(t)

	req, err := f.Build(domain.CredentialTypeLEAREmployee, json.RawMessage(employeeJSON), domain.OperationModeAsync, "")
	require.NoError(t, err)

	cred, err := domain.ParseLEAREmployee(req.CredentialDecoded)
	require.NoError(t, err)

	powers := cred.CredentialSubject.Mandate.Power
	require.Len(t, powers, 2)
	for _, p := range powers {
		assert.NotEmpty(t, p.ID)
		assert.NotEqual(t, "client-chosen-1", p.ID)
		assert.NotEqual(t, "client-chosen-2", p.ID)
	}
	assert.NotEqual(t, powers[0].ID, powers[1].ID)

	// functions and actions carry over untouched
	assert.Equal(t, "Onboarding", powers[0].Function)
	assert.Equal(t, domain.StringList{"Create", "Update"}, domain.StringList(powers[1].Action))
}

func TestBuild_EmployeeValidityWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f, _, _ := newFactory(t, WithClock(func() time.Time { return now }))

	req, err := f.Build(domain.CredentialTypeLEAREmployee, json.RawMessage(employeeJSON), domain.OperationModeAsync, "")
	require.NoError(t, err)

	cred, err := domain.ParseLEAREmployee(req.CredentialDecoded)
	require.NoError(t, err)
	assert.Equal(t, now.Format(time.RFC3339), cred.ValidFrom)
	assert.Equal(t, now.AddDate(0, 0, 365).Format(time.RFC3339), cred.ValidUntil)
	assert.Equal(t, now.AddDate(0, 0, 365), req.ValidUntil)
	assert.Equal(t, "John Worker", req.Subject)
	assert.Equal(t, "VATES-B60645900", req.OrganizationIdentifier)
}

func TestBuild_CertificationRequiresResponseURI(t *testing.T) {
	f, _, _ := newFactory(t)

	_, err := f.Build(domain.CredentialTypeCertification, json.RawMessage(`{}`), domain.OperationModeSync, "  ")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRequiredField))
	assert.EqualError(t, err, "response_uri is required")
}

func TestBuild_CertificationRequiredFields(t *testing.T) {
	f, _, _ := newFactory(t)

	noProduct := `{"credentialSubject": {"company": {"id": "c1", "email": "ops@corp.example"}, "product": {}}}`
	_, err := f.Build(domain.CredentialTypeCertification, json.RawMessage(noProduct), domain.OperationModeSync, "https://cb.example")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRequiredField))

	noEmail := `{"credentialSubject": {"company": {"id": "c1"}, "product": {"productId": "p1"}}}`
	_, err = f.Build(domain.CredentialTypeCertification, json.RawMessage(noEmail), domain.OperationModeSync, "https://cb.example")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRequiredField))

	ok := `{"credentialSubject": {"company": {"id": "c1", "commonName": "Corp", "email": "ops@corp.example"}, "product": {"productId": "p1"}}}`
	req, err := f.Build(domain.CredentialTypeCertification, json.RawMessage(ok), domain.OperationModeSync, "https://cb.example")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialTypeCertification, req.CredentialType)
	assert.Equal(t, "Corp", req.Subject)
}

func TestBuild_UnsupportedSchema(t *testing.T) {
	f, _, _ := newFactory(t)

	_, err := f.Build(domain.CredentialType("PASSPORT"), nil, domain.OperationModeSync, "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialTypeUnsupported))
}

func TestBindMandateeID(t *testing.T) {
	ctx := context.Background()
	f, procedures, _ := newFactory(t)

	req, err := f.Build(domain.CredentialTypeLEAREmployee, json.RawMessage(employeeJSON), domain.OperationModeAsync, "")
	require.NoError(t, err)
	proc, err := procedures.Create(ctx, *req)
	require.NoError(t, err)

	require.NoError(t, f.BindMandateeID(ctx, proc.ID, "did:key:z6MkTestSubject"))

	stored, err := procedures.FindByID(ctx, proc.ID)
	require.NoError(t, err)
	cred, err := domain.ParseLEAREmployee(stored.CredentialDecoded)
	require.NoError(t, err)
	assert.Equal(t, "did:key:z6MkTestSubject", cred.CredentialSubject.Mandate.Mandatee.ID)
}

func TestBindIssuerAndPersist(t *testing.T) {
	ctx := context.Background()
	f, procedures, metadata := newFactory(t)

	req, err := f.Build(domain.CredentialTypeLEAREmployee, json.RawMessage(employeeJSON), domain.OperationModeAsync, "")
	require.NoError(t, err)
	proc, err := procedures.Create(ctx, *req)
	require.NoError(t, err)
	require.NoError(t, metadata.Create(ctx, deferred.Metadata{
		ProcedureID:     proc.ID,
		TransactionCode: "txc-1",
		OperationMode:   domain.OperationModeAsync,
	}))

	issuer := &domain.DetailedIssuer{
		ID:                     "did:elsi:VATES-B60645900",
		OrganizationIdentifier: "VATES-B60645900",
		Organization:           "Example Corp",
		Country:                "ES",
	}
	require.NoError(t, f.BindIssuerAndPersist(ctx, proc.ID, issuer, domain.FormatJWTVC))

	stored, err := procedures.FindByID(ctx, proc.ID)
	require.NoError(t, err)
	cred, err := domain.ParseLEAREmployee(stored.CredentialDecoded)
	require.NoError(t, err)
	assert.Equal(t, "did:elsi:VATES-B60645900", cred.Issuer.ID)

	meta, err := metadata.FindByProcedureID(ctx, proc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatJWTVC, meta.CredentialFormat)
}
