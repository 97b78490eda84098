// Package fingerprint computes the lookup keys shared by the indicator
// store, the membership filter and the tag ledger.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Sum returns the lowercase hex SHA-256 digest of s.
func Sum(s string) string {
	return Of([]byte(s))
}

// Of returns the lowercase hex SHA-256 digest of b.
func Of(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Valid reports whether s looks like a fingerprint produced by Sum.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
