package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
)

// SHA256Hasher verifies credentials written by the previous platform release:
// hex(sha256(salt || password)) with a base64 salt stored beside the hash.
type SHA256Hasher struct{}

// NewSHA256Hasher builds the legacy hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// Algorithm reports sha256.
func (h *SHA256Hasher) Algorithm() domain.HashAlgorithm {
	return domain.HashAlgorithmSHA256
}

// Hash exists for seeding tests and migrations; production never selects sha256 as current.
func (h *SHA256Hasher) Hash(password string) (string, string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("sha256: generate salt: %w", err)
	}
	encodedSalt := base64.StdEncoding.EncodeToString(salt)
	return legacyDigest(salt, password), encodedSalt, nil
}

// Verify compares password against the stored digest.
func (h *SHA256Hasher) Verify(password, hash, salt string) (bool, error) {
	if password == "" || hash == "" {
		return false, nil
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("sha256: decode salt: %w", err)
	}
	computed := legacyDigest(rawSalt, password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}

func legacyDigest(salt []byte, password string) string {
	sum := sha256.New()
	sum.Write(salt)
	sum.Write([]byte(password))
	return hex.EncodeToString(sum.Sum(nil))
}

var _ port.PasswordHasher = (*SHA256Hasher)(nil)
