// Package canonical produces RFC 8785 (JCS) canonical JSON and digests over
// it. Everything that must be byte-stable across runs (entity ids, finding
// hashes, attribute comparison) goes through here.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Transform returns the canonical form of JSON input.
func Transform(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// Marshal encodes v as canonical JSON.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return out, nil
}

// Digest returns the hex SHA-256 of v's canonical JSON.
func Digest(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ShortDigest returns the first 16 bytes of Digest, hex encoded.
func ShortDigest(v any) (string, error) {
	d, err := Digest(v)
	if err != nil {
		return "", err
	}
	return d[:32], nil
}

// MustShortDigest is ShortDigest for values that are always encodable, such
// as maps of strings. It panics on encoding failure.
func MustShortDigest(v any) string {
	d, err := ShortDigest(v)
	if err != nil {
		panic(err)
	}
	return d
}

// Equal reports whether a and b have the same canonical JSON form.
func Equal(a, b any) (bool, error) {
	ca, err := Marshal(a)
	if err != nil {
		return false, err
	}
	cb, err := Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
