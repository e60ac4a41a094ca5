// Package crypto provides the Ed25519 signing primitives used for contract
// signatures. Keys and signatures travel as base64 strings so they can be
// embedded in JSON bodies and database rows without further encoding.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateKeyPair generates a new Ed25519 key pair and returns
// (public, private) as base64 strings. The private key is the full
// 64-byte Ed25519 private key (seed plus public half).
func GenerateKeyPair() (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub),
		base64.StdEncoding.EncodeToString(priv), nil
}

// Sign signs message with a base64-encoded private key and returns the
// signature as a base64 string.
func Sign(privateKeyB64, message string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key encoding: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return "", fmt.Errorf("crypto: invalid private key size %d", len(raw))
	}
	sig := ed25519.Sign(priv, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks signatureB64 over message against a base64-encoded public
// key. Any decode failure, size mismatch or signature mismatch returns
// false; Verify never returns an error and never panics.
func Verify(publicKeyB64, message, signatureB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

// PublicKeyFromPrivate derives the base64 public key from a base64 private
// key. Used when a caller stores only the private half.
func PublicKeyFromPrivate(privateKeyB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key encoding: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return "", fmt.Errorf("crypto: invalid private key size %d", len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}
