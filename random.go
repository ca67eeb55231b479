package auth

import (
	"crypto/rand"
	"encoding/base64"
)

const tokenBytes = 32

// randomToken returns a url safe string backed by n bytes of crypto/rand.
func randomToken(n int) (string, error) {
	if n <= 0 {
		n = tokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", internalError(err, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
