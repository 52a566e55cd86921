package offer

// CredentialOffer is the OID4VCI credential offer object handed to the wallet
// once it dereferences the credential_offer_uri.
type CredentialOffer struct {
	CredentialIssuer           string   `json:"credential_issuer"`
	CredentialConfigurationIDs []string `json:"credential_configuration_ids"`
	Grants                     Grants   `json:"grants"`
}

type Grants struct {
	PreAuthorizedCode PreAuthorizedCodeGrant `json:"urn:ietf:params:oauth:grant-type:pre-authorized_code"`
}

type PreAuthorizedCodeGrant struct {
	PreAuthorizedCode string  `json:"pre-authorized_code"`
	TxCode            *TxCode `json:"tx_code,omitempty"`
}

// TxCode describes the transaction code the wallet must collect from the
// holder out of band.
type TxCode struct {
	InputMode   string `json:"input_mode,omitempty"`
	Length      int    `json:"length,omitempty"`
	Description string `json:"description,omitempty"`
}
