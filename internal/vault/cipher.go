// Package vault stores per-tenant vendor secrets encrypted at rest and hands
// decrypted credentials to the vendor adapters.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// FieldCipher encrypts and decrypts individual credential fields with
// AES-256-CTR. Each Encrypt draws a fresh random IV and the IV is stored as a
// prefix of the ciphertext, so decryption always reuses the exact IV the
// field was encrypted with.
type FieldCipher struct {
	block cipher.Block
}

// NewFieldCipher creates a cipher from a 32-byte master key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return &FieldCipher{block: block}, nil
}

// Encrypt returns base64(iv || ciphertext) for the given plaintext.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	out := make([]byte, aes.BlockSize+len(plaintext))
	copy(out, iv)
	cipher.NewCTR(c.block, iv).XORKeyStream(out[aes.BlockSize:], []byte(plaintext))

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext shorter than IV: %d bytes", len(raw))
	}

	iv := raw[:aes.BlockSize]
	plaintext := make([]byte, len(raw)-aes.BlockSize)
	cipher.NewCTR(c.block, iv).XORKeyStream(plaintext, raw[aes.BlockSize:])

	return string(plaintext), nil
}
