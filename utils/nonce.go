package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passcodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomPasscode returns n characters drawn uniformly from [0-9a-z]
func RandomPasscode(n int) (string, error) {
	max := big.NewInt(int64(len(passcodeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate passcode: %w", err)
		}
		buf[i] = passcodeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// NonceMillis returns the wall-clock milliseconds as the 13-digit nonce the
// provider APIs expect in their __t parameter
func NonceMillis(ms int64) string {
	return fmt.Sprintf("%013d", ms)
}
