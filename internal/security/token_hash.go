package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the SHA-256 digest of a raw token, hex-encoded.
// Session rows and cache keys only ever carry this digest.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual reports whether raw hashes to storedHash, in constant time.
// Empty inputs never match.
func TokenHashEqual(raw, storedHash string) bool {
	if raw == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(storedHash)) == 1
}
