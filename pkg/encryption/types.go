package encryption

import "errors"

const (
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard nonce size
	TagSize   = 16 // GCM authentication tag size
	SaltSize  = 32 // Salt for PBKDF2

	// PBKDF2Iterations is the OWASP recommended minimum for SHA-256.
	PBKDF2Iterations = 600000
)

var (
	ErrInvalidKey           = errors.New("invalid encryption key")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
	ErrAuthenticationFailed = errors.New("authentication failed - data may be tampered")
)

// Sealer encrypts and authenticates snapshot payloads. The additional data
// is authenticated but not stored; Open must be given the same value.
type Sealer interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(sealed, additional []byte) ([]byte, error)
}

var _ Sealer = (*Engine)(nil)
