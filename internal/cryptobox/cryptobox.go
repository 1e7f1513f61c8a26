// Package cryptobox implements C1: authenticated symmetric encryption
// for label images at rest in the blob store. A random per-message
// nonce is prefixed to the ciphertext so Decrypt is self-contained
// given only the key.
package cryptobox

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthFailure is returned when decryption fails authentication —
// wrong key, truncated/corrupted ciphertext, or tampering.
var ErrAuthFailure = errors.New("cryptobox: authentication failed")

// KeySize is the required key length in bytes (256 bits).
const KeySize = chacha20poly1305.KeySize

// Box encrypts and decrypts with a single fixed key.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a 256-bit key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: init aead: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext, prefixing the ciphertext with a fresh
// random nonce.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt: the leading NonceSize
// bytes are the nonce, the rest is ciphertext+tag.
func (b *Box) Decrypt(blob []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrAuthFailure
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
