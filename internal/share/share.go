// Package share generates the short secrets that gate shared snippet links.
package share

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the number of characters in a generated secret.
const Length = 8

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a fresh secret drawn uniformly from [A-Za-z0-9].
//
// rand.Int rejects out-of-range samples internally, so there is no modulo
// bias towards the first characters of the alphabet.
func Generate() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("share: reading random bytes: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
