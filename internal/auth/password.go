package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// HashPassword derives a salted SHA-256 digest for storage. The salt is
// random per credential and stored alongside the hash.
func HashPassword(password string) (hash, salt string, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	salt = hex.EncodeToString(raw)
	return digest(password, salt), salt, nil
}

// CheckPassword reports whether password matches the stored hash/salt pair,
// in constant time.
func CheckPassword(password, salt, hash string) bool {
	return hmac.Equal([]byte(digest(password, salt)), []byte(hash))
}

func digest(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}
