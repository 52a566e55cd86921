// Package verifier checks the signatures of bearer and id tokens presented to
// the issuance surface.
package verifier

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	dErrors "vcissuer/pkg/domain-errors"
)

// Verifier validates token signatures. VerifyTokenWithoutExpiration exists for
// id_token checks where the token may legitimately have expired by the time
// authorization runs.
type Verifier interface {
	VerifyToken(token string) error
	VerifyTokenWithoutExpiration(token string) error
}

// JWTVerifier validates HMAC-signed tokens against a shared signing key.
type JWTVerifier struct {
	key []byte
}

func NewJWT(signingKey string) *JWTVerifier {
	return &JWTVerifier{key: []byte(signingKey)}
}

func (v *JWTVerifier) VerifyToken(token string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	return v.verify(parser, token)
}

func (v *JWTVerifier) VerifyTokenWithoutExpiration(token string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithoutClaimsValidation(),
	)
	return v.verify(parser, token)
}

func (v *JWTVerifier) verify(parser *jwt.Parser, token string) error {
	_, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("verify token: %w", err), dErrors.CodeUnauthorized, "token verification failed")
	}
	return nil
}
