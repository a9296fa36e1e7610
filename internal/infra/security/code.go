package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateNumericCode draws a uniformly distributed integer in [0, 10^length)
// from the cryptographic random source and renders it as a zero-padded
// decimal string of exactly length digits.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
