// Package canon provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of governance artifacts.
//
// Every content hash in Aegis (ledger events and entries, contract bodies,
// reflexive decisions) is SHA-256 over the canonical form produced here:
// keys sorted lexicographically at every level, UTF-8 bytes, no HTML
// escaping, timestamps as RFC 3339 UTC strings.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json so struct tags are respected,
// then transformed to canonical form (sorted keys, minimal number
// formatting) by the JCS transformer.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := marshalNoEscape(v)
	if err != nil {
		return nil, fmt.Errorf("canon: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canon: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical JSON
// representation of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as a lowercase hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString computes the SHA-256 hash of a string as a lowercase hex string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// Time formats t as an RFC 3339 UTC string with nanosecond precision.
// All hashable timestamps go through this so recomputation is bit-exact.
func Time(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// TimePtr formats an optional timestamp; nil stays nil so omitted fields
// canonicalize to JSON null rather than a zero time.
func TimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := Time(*t)
	return &s
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
