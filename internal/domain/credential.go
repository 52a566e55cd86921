package domain

import (
	"encoding/json"
	"fmt"
)

// CredentialType enumerates the credential schemas this issuer can mint.
// It is a closed set: every switch over it must handle all members so a new
// schema is a compile-time hole until wired through factory, policy, and
// signing.
type CredentialType string

const (
	CredentialTypeLEAREmployee  CredentialType = "LEAR_CREDENTIAL_EMPLOYEE"
	CredentialTypeCertification CredentialType = "VERIFIABLE_CERTIFICATION"
)

// ParseCredentialType validates a raw schema string.
func ParseCredentialType(s string) (CredentialType, error) {
	switch CredentialType(s) {
	case CredentialTypeLEAREmployee, CredentialTypeCertification:
		return CredentialType(s), nil
	default:
		return "", fmt.Errorf("unsupported credential type %q", s)
	}
}

// OperationMode selects the synchronous or deferred OID4VCI flow.
type OperationMode string

const (
	OperationModeSync  OperationMode = "S"
	OperationModeAsync OperationMode = "A"
)

// SignatureMode identifies where the signing keys live.
type SignatureMode string

const (
	SignatureModeLocal  SignatureMode = "LOCAL"
	SignatureModeServer SignatureMode = "SERVER"
	SignatureModeCloud  SignatureMode = "CLOUD"
)

// Format is the requested wire encoding of the signed credential.
type Format string

const (
	FormatJWTVC Format = "jwt_vc_json"
	FormatCWT   Format = "cwt_vc"
)

// ProcedureStatus is the lifecycle state of one issuance procedure.
type ProcedureStatus string

const (
	StatusDraft         ProcedureStatus = "DRAFT"
	StatusPendSignature ProcedureStatus = "PEND_SIGNATURE"
	StatusValid         ProcedureStatus = "VALID"
	StatusPendDownload  ProcedureStatus = "PEND_DOWNLOAD"
	StatusWithdrawn     ProcedureStatus = "WITHDRAWN"
)

// statusRank orders the forward-only progression. VALID and PEND_DOWNLOAD are
// both success states and share a rank, distinguished only by whether the
// holder has downloaded the artifact; the one edge between them is the
// download itself.
var statusRank = map[ProcedureStatus]int{
	StatusDraft:         0,
	StatusPendSignature: 1,
	StatusValid:         2,
	StatusPendDownload:  2,
}

// CanTransition reports whether a status change is legal. Status only moves
// forward; PEND_DOWNLOAD becomes VALID once the holder downloads the
// artifact, and WITHDRAWN is reachable from DRAFT and PEND_DOWNLOAD and is
// only left again through explicit reactivation back to DRAFT.
func CanTransition(from, to ProcedureStatus) bool {
	if from == to {
		return false
	}
	if from == StatusPendDownload && to == StatusValid {
		return true
	}
	if to == StatusWithdrawn {
		return from == StatusDraft || from == StatusPendDownload
	}
	if from == StatusWithdrawn {
		return to == StatusDraft
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// StringList unmarshals JSON values that upstream systems encode either as a
// single string or as an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("value is neither string nor string array: %w", err)
	}
	*l = many
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// Contains reports whether the list holds the value (exact match).
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}
