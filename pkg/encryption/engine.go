// Package encryption seals stored snapshots with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Engine provides AES-256-GCM sealing with a single key.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine creates an engine for a 32-byte key.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Engine{aead: aead}, nil
}

// NewEngineFromPassphrase derives the key from a passphrase with PBKDF2.
// Derivation is slow; derive once per process.
func NewEngineFromPassphrase(passphrase string, salt []byte, iterations int) (*Engine, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes", SaltSize)
	}
	if iterations <= 0 {
		iterations = PBKDF2Iterations
	}
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
	return NewEngine(key)
}

// LoadKeyFile reads a hex-encoded key.
func LoadKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return DecodeHex(strings.TrimSpace(string(raw)), KeySize)
}

// DecodeHex decodes a hex string of exactly size bytes.
func DecodeHex(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	return random(SaltSize)
}

// GenerateKey generates a cryptographically secure random key.
func GenerateKey() ([]byte, error) {
	return random(KeySize)
}

func random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Seal encrypts plaintext. The result is nonce | ciphertext | tag.
func (e *Engine) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce, err := random(NonceSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce)
	return e.aead.Seal(out, nonce, plaintext, additional), nil
}

// Open reverses Seal. Any modification of sealed or a different additional
// value yields ErrAuthenticationFailed.
func (e *Engine) Open(sealed, additional []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], additional)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Overhead is the number of bytes Seal adds.
func (e *Engine) Overhead() int { return NonceSize + TagSize }
