package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 24 hex characters of cryptographic randomness. Used for
// request ids; session tokens concatenate two of these.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
