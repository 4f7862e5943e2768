// Package cryptox provides at-rest sealing for persisted session material.
// The durable session store holds a refresh token that outlives the process,
// so the SessionTokens value is encrypted with AES-256-GCM under a key
// derived from an application passphrase.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16

	// Argon2id parameters. Derivation happens once per seal/open, not per
	// request, so the cost can sit above interactive defaults.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32
)

// ErrSealedValue reports ciphertext that is truncated or fails
// authentication, typically a storage value written by a different
// passphrase or tampered with on disk.
var ErrSealedValue = errors.New("cryptox: invalid sealed value")

// Sealer encrypts and decrypts storage values under a passphrase-derived key.
// The zero value is not usable; construct with NewSealer.
type Sealer struct {
	passphrase []byte
}

// NewSealer creates a Sealer for the given passphrase.
func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase)}
}

func (s *Sealer) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, keySize)
}

// Seal encrypts plaintext and returns a self-contained base64 blob:
// salt || nonce || ciphertext+tag. A fresh salt and nonce are drawn for
// every call.
func (s *Sealer) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(s.deriveKey(salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := append(salt, gcm.Seal(nonce, nonce, []byte(plaintext), nil)...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedValue
	}
	if len(blob) < saltSize {
		return "", ErrSealedValue
	}

	salt, rest := blob[:saltSize], blob[saltSize:]

	gcm, err := newGCM(s.deriveKey(salt))
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrSealedValue
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
