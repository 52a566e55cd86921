package workflow

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newTransactionCode draws a holder-facing code of the configured length from
// a crypto-strength source. The alphabet avoids lowercase so the code
// survives being read aloud or typed from a phone screen.
func newTransactionCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("transaction code length %d is not positive", length)
	}
	code := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("draw transaction code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
