// Package proofcheck validates OID4VCI proof-of-possession JWTs presented
// with credential requests.
package proofcheck

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "vcissuer/pkg/domain-errors"
)

const proofType = "openid4vci-proof+jwt"

// Validator checks proof-of-possession JWTs. Stubbed in workflow tests.
type Validator interface {
	IsProofValid(proofJWT, accessToken string) (bool, error)
}

// JWTValidator performs the structural checks: proof type header, key binding
// header, and nonce correlation with the access token's jti.
type JWTValidator struct{}

func NewValidator() *JWTValidator {
	return &JWTValidator{}
}

func (v *JWTValidator) IsProofValid(proofJWT, accessToken string) (bool, error) {
	parser := jwt.NewParser()

	proofClaims := jwt.MapClaims{}
	proof, _, err := parser.ParseUnverified(proofJWT, proofClaims)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInvalidProof, "proof is not a valid JWT")
	}

	if typ, _ := proof.Header["typ"].(string); typ != proofType {
		return false, nil
	}
	if kid, _ := proof.Header["kid"].(string); kid == "" {
		return false, nil
	}

	tokenClaims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, tokenClaims); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInvalidProof, "access token is not a valid JWT")
	}
	jti, _ := tokenClaims["jti"].(string)
	nonce, _ := proofClaims["nonce"].(string)
	if nonce == "" {
		nonce, _ = proofClaims["jti"].(string)
	}
	return jti != "" && nonce == jti, nil
}

// SubjectDID extracts the holder's DID from the proof JWS header kid,
// dropping any verification-method fragment.
func SubjectDID(proofJWT string) (string, error) {
	proof, _, err := jwt.NewParser().ParseUnverified(proofJWT, jwt.MapClaims{})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidProof, "proof is not a valid JWT")
	}
	kid, _ := proof.Header["kid"].(string)
	if kid == "" {
		return "", dErrors.New(dErrors.CodeInvalidProof, "proof carries no kid header")
	}
	did, _, _ := strings.Cut(kid, "#")
	if did == "" {
		return "", dErrors.New(dErrors.CodeInvalidProof, "proof kid carries no DID")
	}
	return did, nil
}
