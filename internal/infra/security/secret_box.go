package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/arklim/dispense-auth/internal/core/port"
)

var errSecretTooShort = errors.New("secret box: ciphertext too short")

// SecretBox encrypts directory system-account passwords with AES-GCM.
// Ciphertexts are base64(nonce || sealed).
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a box from a base64 encoded 16, 24 or 32 byte key.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secret box: decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Encrypt seals plaintext.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret box: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (b *SecretBox) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secret box: decode: %w", err)
	}
	size := b.aead.NonceSize()
	if len(raw) < size {
		return "", errSecretTooShort
	}
	plain, err := b.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("secret box: open: %w", err)
	}
	return string(plain), nil
}

var _ port.SecretDecrypter = (*SecretBox)(nil)
