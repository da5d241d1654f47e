// Package tokenhash derives the storage key for a client token.
//
// Tokens are bearer secrets chosen with high entropy by the client, so an
// unsalted SHA-256 digest is enough to make the stored key useless for
// recovering the token. A per-deployment salt would also break clients that
// talk to several relays with the same token.
package tokenhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Size is the length of a hash returned by Sum.
const Size = sha256.Size * 2

const refLen = 12

// Sum returns the lowercase hex SHA-256 digest of token.
func Sum(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// Ref shortens a hash for log correlation.
func Ref(hash string) string {
	if len(hash) <= refLen {
		return hash
	}
	return hash[:refLen]
}

// Valid reports whether hash has the shape produced by Sum.
func Valid(hash string) bool {
	if len(hash) != Size {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil && hash == strings.ToLower(hash)
}
