package expense

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// Share codes avoid the ambiguous characters 0, O, 1 and I so they survive
// being read aloud or copied from a photo.
const (
	shareCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	shareCodeLength = 6
)

var shareCodePattern = regexp.MustCompile(`^[A-Z2-9]{6}$`)

// ValidShareCode reports whether code is a well-formed share code.
func ValidShareCode(code string) bool {
	return shareCodePattern.MatchString(code)
}

// generateShareCode returns a random share code.
func generateShareCode() (string, error) {
	code := make([]byte, shareCodeLength)
	max := big.NewInt(int64(len(shareCodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating share code: %w", err)
		}
		code[i] = shareCodeChars[n.Int64()]
	}
	return string(code), nil
}
