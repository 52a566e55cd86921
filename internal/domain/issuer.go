package domain

// DetailedIssuer is the identity bound into a credential as issuer. Immutable
// once built; sourced from static default-signer configuration or resolved
// from the remote signer's certificate subject.
type DetailedIssuer struct {
	ID                     string `json:"id"`
	OrganizationIdentifier string `json:"organizationIdentifier"`
	Organization           string `json:"organization"`
	Country                string `json:"country"`
	CommonName             string `json:"commonName"`
	EmailAddress           string `json:"emailAddress"`
	SerialNumber           string `json:"serialNumber"`
}
