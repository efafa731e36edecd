package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SystemAddress derives a 64-char identity for a service-held account from
// label. It has the shape of a public key but no private key is known for it,
// so no transaction can ever be signed on its behalf.
func SystemAddress(label string) string {
	return Hash([]byte("tolmarket/system/" + label))
}
