package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken returns SHA256 hex of the token; only the hash is stored server-side
func HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
