package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Context URIs accepted for stored LEAR Employee credentials. The v2 variant
// predates the cleanup of the TMForum-prefixed power fields, so v2 payloads
// are normalized before structural parsing.
const (
	ContextCredentialsV2   = "https://www.w3.org/ns/credentials/v2"
	ContextLEAREmployeeV1  = "https://trust-framework.dome-marketplace.eu/credentials/learcredentialemployee/v1"
	ContextLEAREmployeeV2  = "https://trust-framework.dome-marketplace.eu/credentials/learcredentialemployee/v2"
	ContextCertificationV1 = "https://trust-framework.dome-marketplace.eu/credentials/verifiablecertification/v1"
)

// ErrUnknownContext marks a stored credential whose @context matches no
// supported variant.
var ErrUnknownContext = errors.New("unknown credential context")

const didELSIPrefix = "did:elsi:"

var elsiDIDPattern = regexp.MustCompile(`^did:elsi:[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ELSIDid builds the did:elsi identifier for an organization.
func ELSIDid(organizationIdentifier string) string {
	return didELSIPrefix + organizationIdentifier
}

// IsELSIDid reports whether s is a structurally valid did:elsi identifier.
func IsELSIDid(s string) bool {
	return elsiDIDPattern.MatchString(s)
}

// IssuerRef is the credential issuer reference. Upstream payloads encode it
// either as a bare DID string or as an object with an id field.
type IssuerRef struct {
	ID string `json:"id,omitempty"`
}

func (i *IssuerRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.ID = s
		return nil
	}
	type alias IssuerRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("issuer is neither string nor object: %w", err)
	}
	*i = IssuerRef(a)
	return nil
}

// Mandator is the legal representative granting the mandate.
type Mandator struct {
	OrganizationIdentifier string `json:"organizationIdentifier,omitempty"`
	CommonName             string `json:"commonName,omitempty"`
	GivenName              string `json:"givenName,omitempty"`
	Surname                string `json:"surname,omitempty"`
	EmailAddress           string `json:"emailAddress,omitempty"`
	SerialNumber           string `json:"serialNumber,omitempty"`
	Organization           string `json:"organization,omitempty"`
	Country                string `json:"country,omitempty"`
}

// SameOrganization reports whether two mandators represent the same legal
// entity. Identity is carried by the organizationIdentifier alone.
func (m Mandator) SameOrganization(other Mandator) bool {
	return m.OrganizationIdentifier != "" &&
		m.OrganizationIdentifier == other.OrganizationIdentifier
}

// Mandatee is the natural person receiving the mandate.
type Mandatee struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Mobile    string `json:"mobile_phone,omitempty"`
}

// Power is one (function, action) authorization grant inside a mandate.
type Power struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Domain   StringList `json:"domain,omitempty"`
	Function string     `json:"function,omitempty"`
	Action   StringList `json:"action,omitempty"`
}

// LifeSpan bounds the mandate validity window.
type LifeSpan struct {
	StartDateTime string `json:"start_date_time,omitempty"`
	EndDateTime   string `json:"end_date_time,omitempty"`
}

// Mandate is a LEAR credential's embedded authorization grant.
type Mandate struct {
	ID       string   `json:"id,omitempty"`
	Mandator Mandator `json:"mandator"`
	Mandatee Mandatee `json:"mandatee"`
	Power    []Power  `json:"power,omitempty"`
	LifeSpan LifeSpan `json:"life_span"`
}

// HasPower reports whether the mandate grants the function with at least one
// of its actions equal to action. Matching is case-insensitive, mirroring the
// tolerant matching of the trust-framework registry.
func (m Mandate) HasPower(function, action string) bool {
	for _, p := range m.Power {
		if !strings.EqualFold(p.Function, function) {
			continue
		}
		for _, a := range p.Action {
			if strings.EqualFold(a, action) {
				return true
			}
		}
	}
	return false
}

// HasPowerWithActions reports whether a single power grants the function with
// all required actions present.
func (m Mandate) HasPowerWithActions(function string, actions ...string) bool {
	for _, p := range m.Power {
		if !strings.EqualFold(p.Function, function) {
			continue
		}
		all := true
		for _, want := range actions {
			found := false
			for _, a := range p.Action {
				if strings.EqualFold(a, want) {
					found = true
					break
				}
			}
			if !found {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// LEARCredentialEmployee is the canonical employee mandate credential.
type LEARCredentialEmployee struct {
	Context           StringList `json:"@context,omitempty"`
	ID                string     `json:"id,omitempty"`
	Type              StringList `json:"type,omitempty"`
	Issuer            IssuerRef  `json:"issuer"`
	ValidFrom         string     `json:"validFrom,omitempty"`
	ValidUntil        string     `json:"validUntil,omitempty"`
	CredentialSubject struct {
		Mandate Mandate `json:"mandate"`
	} `json:"credentialSubject"`
}

// MachineMandatee identifies a machine service holding a mandate.
type MachineMandatee struct {
	ID          string `json:"id,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
	Domain      string `json:"domain,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	Contact     struct {
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
	} `json:"contact"`
}

// MachineMandate mirrors Mandate with a machine mandatee.
type MachineMandate struct {
	ID       string          `json:"id,omitempty"`
	Mandator Mandator        `json:"mandator"`
	Mandatee MachineMandatee `json:"mandatee"`
	Power    []Power         `json:"power,omitempty"`
	LifeSpan LifeSpan        `json:"life_span"`
}

// Powers adapts the machine mandate to the shared power-matching helpers.
func (m MachineMandate) Powers() Mandate {
	return Mandate{ID: m.ID, Mandator: m.Mandator, Power: m.Power}
}

// LEARCredentialMachine is the machine-service mandate credential, used only
// for decoding tokens presented by M2M callers.
type LEARCredentialMachine struct {
	Context           StringList `json:"@context,omitempty"`
	ID                string     `json:"id,omitempty"`
	Type              StringList `json:"type,omitempty"`
	Issuer            IssuerRef  `json:"issuer"`
	ValidFrom         string     `json:"validFrom,omitempty"`
	ValidUntil        string     `json:"validUntil,omitempty"`
	CredentialSubject struct {
		Mandate MachineMandate `json:"mandate"`
	} `json:"credentialSubject"`
}

// ParseLEAREmployee decodes a stored LEAR Employee credential, accepting both
// supported context variants. v2 payloads are normalized first; any other
// context fails with ErrUnknownContext.
func ParseLEAREmployee(raw []byte) (*LEARCredentialEmployee, error) {
	var probe struct {
		Context StringList `json:"@context"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode credential context: %w", err)
	}

	switch {
	case probe.Context.Contains(ContextLEAREmployeeV1):
		// current shape, parse directly
	case probe.Context.Contains(ContextLEAREmployeeV2):
		normalized, err := stripTMFPrefixes(raw)
		if err != nil {
			return nil, err
		}
		raw = normalized
	default:
		return nil, fmt.Errorf("context %v: %w", []string(probe.Context), ErrUnknownContext)
	}

	var cred LEARCredentialEmployee
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode employee credential: %w", err)
	}
	return &cred, nil
}

// stripTMFPrefixes rewrites legacy tmf_-prefixed keys on every power entry so
// the payload matches the current structural shape.
func stripTMFPrefixes(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode legacy credential: %w", err)
	}

	subject, ok := doc["credentialSubject"].(map[string]any)
	if !ok {
		return raw, nil
	}
	mandate, ok := subject["mandate"].(map[string]any)
	if !ok {
		return raw, nil
	}
	powers, ok := mandate["power"].([]any)
	if !ok {
		return raw, nil
	}

	for _, entry := range powers {
		power, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for key, value := range power {
			if trimmed, found := strings.CutPrefix(key, "tmf_"); found {
				delete(power, key)
				power[trimmed] = value
			}
		}
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode legacy credential: %w", err)
	}
	return normalized, nil
}
