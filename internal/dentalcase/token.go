package dentalcase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewClaimToken returns 128 bits from crypto/rand as hex. The token is
// the only thing standing between the public broadcast and the claim
// endpoint, so it must be unguessable.
func NewClaimToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// randomDigits returns n decimal digits for human-facing ids
// (CS-1234, ST-12345). Collisions are handled by retrying the insert.
func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	digits := make([]byte, n)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}
