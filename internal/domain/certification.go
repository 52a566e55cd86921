package domain

import (
	"encoding/json"
	"fmt"
)

// Company is the certified organization inside a VerifiableCertification.
type Company struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"commonName,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
}

// Product is the certified product.
type Product struct {
	ProductID      string `json:"productId,omitempty"`
	ProductName    string `json:"productName,omitempty"`
	ProductVersion string `json:"productVersion,omitempty"`
}

// Compliance is one standard the product was certified against.
type Compliance struct {
	ID       string `json:"id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Standard string `json:"standard,omitempty"`
}

// VerifiableCertification attests that a company's product complies with a
// set of standards. Unlike LEAR credentials it has no holder-interactive
// issuance step; it is delivered straight to the submitter's response URI.
type VerifiableCertification struct {
	Context           StringList `json:"@context,omitempty"`
	ID                string     `json:"id,omitempty"`
	Type              StringList `json:"type,omitempty"`
	Issuer            IssuerRef  `json:"issuer"`
	ValidFrom         string     `json:"validFrom,omitempty"`
	ValidUntil        string     `json:"validUntil,omitempty"`
	CredentialSubject struct {
		Company    Company      `json:"company"`
		Product    Product      `json:"product"`
		Compliance []Compliance `json:"compliance,omitempty"`
	} `json:"credentialSubject"`
	Atester struct {
		ID           string `json:"id,omitempty"`
		Organization string `json:"organization,omitempty"`
		Country      string `json:"country,omitempty"`
	} `json:"atester"`
}

// ParseCertification decodes a stored VerifiableCertification payload.
func ParseCertification(raw []byte) (*VerifiableCertification, error) {
	var cred VerifiableCertification
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode certification credential: %w", err)
	}
	return &cred, nil
}
