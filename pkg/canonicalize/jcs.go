// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing and comparison of certificate content.
//
// Every content hash the kernel computes or checks goes through this package so
// that hashes are reproducible bit-for-bit by independent implementations.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashRule names the pinned canonicalization + digest convention. Bump it when
// either the canonical form or the digest algorithm changes.
const HashRule = "jcs-rfc8785+sha256/v1"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// 1. Object keys are sorted by UTF-16 code units.
// 2. No insignificant whitespace, no HTML escaping.
// 3. Numbers use the ECMAScript shortest round-trip form (1.0 -> 1).
func JCS(v any) ([]byte, error) {
	// Marshal first so json tags on structs are honoured, then let the
	// transformer rewrite the document into canonical form.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v any) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CanonicalHash returns the lower-case SHA-256 hex digest of the canonical JSON form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns a hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether a and b have the same canonical JSON form.
// Values that cannot be canonicalized are never equal to anything.
func Equal(a, b any) bool {
	ab, err := JCS(a)
	if err != nil {
		return false
	}
	bb, err := JCS(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Normalize round-trips v through its canonical form so that Go values of
// different static types (int vs float64, structs vs maps) compare and print
// identically. The result only contains JSON-native Go types.
func Normalize(v any) (any, error) {
	b, err := JCS(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("jcs: normalize decode failed: %w", err)
	}
	return out, nil
}
