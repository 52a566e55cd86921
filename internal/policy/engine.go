// Package policy decides whether a caller may request issuance of a given
// credential schema. The decision is pure: the only collaborator touched is
// the token verifier for id_token signature checks.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"vcissuer/internal/domain"
	"vcissuer/internal/platform/metrics"
	"vcissuer/internal/verifier"
	dErrors "vcissuer/pkg/domain-errors"
)

const (
	powerOnboarding      = "Onboarding"
	powerProductOffering = "ProductOffering"
	powerCertification   = "Certification"

	actionExecute = "Execute"
	actionCreate  = "Create"
	actionUpdate  = "Update"
	actionDelete  = "Delete"
	actionAttest  = "Attest"
)

// Engine evaluates issuance policies against the caller's mandate powers.
type Engine struct {
	verifier verifier.Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(v verifier.Verifier, opts ...Option) *Engine {
	e := &Engine{
		verifier: v,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether the bearer of token may request issuance of the
// given schema for payload. idToken is consulted only for certification
// requests, where the attester's identity token must independently satisfy
// the same policy.
func (e *Engine) Authorize(token string, schema domain.CredentialType, payload json.RawMessage, idToken string) error {
	claims, err := unverifiedClaims(token)
	if err != nil {
		return err
	}

	vcClaim, hasVC := claims["vc"]
	if !hasVC {
		return e.deny(authorizeByRole(claims))
	}

	mandate, err := mandateFromClaim(vcClaim)
	if err != nil {
		return e.deny(err)
	}

	switch schema {
	case domain.CredentialTypeLEAREmployee:
		return e.deny(e.authorizeEmployee(*mandate, payload))
	case domain.CredentialTypeCertification:
		return e.deny(e.authorizeCertification(*mandate, idToken))
	default:
		return e.deny(dErrors.New(dErrors.CodeInsufficientPermission, "Unsupported schema"))
	}
}

func (e *Engine) authorizeEmployee(tokenMandate domain.Mandate, payload json.RawMessage) error {
	if tokenMandate.HasPower(powerOnboarding, actionExecute) {
		return nil
	}

	// Fallback: a product-offering manager may onboard employees of its own
	// organization even without an explicit onboarding power.
	var request struct {
		Mandate domain.Mandate `json:"mandate"`
	}
	if err := json.Unmarshal(payload, &request); err == nil {
		if request.Mandate.HasPowerWithActions(powerProductOffering, actionCreate, actionUpdate, actionDelete) &&
			request.Mandate.Mandator.SameOrganization(tokenMandate.Mandator) {
			return nil
		}
	}

	return dErrors.New(dErrors.CodeInsufficientPermission,
		"LEARCredentialEmployee does not meet any issuance policies")
}

func (e *Engine) authorizeCertification(tokenMandate domain.Mandate, idToken string) error {
	if !tokenMandate.HasPower(powerCertification, actionAttest) {
		return dErrors.New(dErrors.CodeInsufficientPermission,
			"VerifiableCertification does not meet any issuance policies")
	}

	// The attester must present an id_token whose embedded credential grants
	// the same power. Expiry is not enforced here; the token may have been
	// minted well before the certification request reaches us.
	if err := e.verifier.VerifyTokenWithoutExpiration(idToken); err != nil {
		return err
	}
	idClaims, err := unverifiedClaims(idToken)
	if err != nil {
		return err
	}
	idMandate, err := mandateFromClaim(idClaims["vc_json"])
	if err != nil {
		return err
	}
	if !idMandate.HasPower(powerCertification, actionAttest) {
		return dErrors.New(dErrors.CodeInsufficientPermission,
			"VerifiableCertification does not meet any issuance policies")
	}
	return nil
}

func authorizeByRole(claims jwt.MapClaims) error {
	role, _ := claims["role"].(string)
	switch {
	case role == "":
		return dErrors.New(dErrors.CodeUnauthorizedRole, "Role is empty")
	case strings.EqualFold(role, "SYSADMIN"), strings.EqualFold(role, "LER"):
		return dErrors.New(dErrors.CodeUnauthorizedRole,
			"Roles SYSADMIN and LER have no defined permissions")
	default:
		return dErrors.New(dErrors.CodeUnauthorizedRole,
			fmt.Sprintf("Unauthorized Role '%s'", role))
	}
}

func (e *Engine) deny(err error) error {
	if err == nil {
		return nil
	}
	var reason string
	switch {
	case dErrors.HasCode(err, dErrors.CodeUnauthorizedRole):
		reason = "unauthorized_role"
	case dErrors.HasCode(err, dErrors.CodeInsufficientPermission):
		reason = "insufficient_permission"
	default:
		reason = "parse_error"
	}
	if e.metrics != nil {
		e.metrics.IncrementPolicyDenials(reason)
	}
	e.logger.Info("issuance request denied", "reason", reason, "error", err.Error())
	return err
}

// unverifiedClaims reads claims without checking the signature. Policy runs
// behind the gateway's bearer authentication; the engine only inspects what
// the already-accepted token carries.
func unverifiedClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to parse token")
	}
	return claims, nil
}

// mandateFromClaim decodes the vc claim of a token into the shared mandate
// shape, accepting both the employee and machine credential forms.
func mandateFromClaim(claim any) (*domain.Mandate, error) {
	if claim == nil {
		return nil, dErrors.New(dErrors.CodeInvalidCredentialFormat, "token carries no credential")
	}

	raw, err := normalizeClaim(claim)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Type domain.StringList `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode credential claim")
	}

	if probe.Type.Contains("LEARCredentialMachine") {
		var cred domain.LEARCredentialMachine
		if err := json.Unmarshal(raw, &cred); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode machine credential")
		}
		mandate := cred.CredentialSubject.Mandate.Powers()
		return &mandate, nil
	}

	var cred domain.LEARCredentialEmployee
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to decode employee credential")
	}
	return &cred.CredentialSubject.Mandate, nil
}

// normalizeClaim accepts the claim either as an embedded object or as a
// serialized JSON string, both of which appear in the wild.
func normalizeClaim(claim any) (json.RawMessage, error) {
	switch v := claim.(type) {
	case string:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredentialFormat, "failed to re-encode credential claim")
		}
		return raw, nil
	}
}
