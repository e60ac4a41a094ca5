package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(priv, "the quick brown fox")
	require.NoError(t, err)

	assert.True(t, Verify(pub, "the quick brown fox", sig))
}

func TestVerifyRejectsMutatedMessage(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(priv, "original message")
	require.NoError(t, err)

	assert.False(t, Verify(pub, "original messagf", sig))
}

func TestVerifyRejectsMutatedSignature(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(priv, "payload")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	raw[0] ^= 0x01
	mutated := base64.StdEncoding.EncodeToString(raw)

	assert.False(t, Verify(pub, "payload", mutated))
}

func TestVerifyNeverErrors(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	// Garbage inputs must yield false, not panic or error.
	assert.False(t, Verify("not base64!!", "msg", "sig"))
	assert.False(t, Verify(pub, "msg", "not base64!!"))
	assert.False(t, Verify(base64.StdEncoding.EncodeToString([]byte("short")), "msg",
		base64.StdEncoding.EncodeToString(make([]byte, 64))))
	assert.False(t, Verify(pub, "msg", base64.StdEncoding.EncodeToString([]byte("tiny"))))
}

func TestSignVerifyProperties(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)

	properties.Property("every message round-trips", prop.ForAll(
		func(msg string) bool {
			sig, err := Sign(priv, msg)
			if err != nil {
				return false
			}
			return Verify(pub, msg, sig)
		},
		gen.AnyString(),
	))

	properties.Property("any appended byte breaks verification", prop.ForAll(
		func(msg string, extra byte) bool {
			sig, err := Sign(priv, msg)
			if err != nil {
				return false
			}
			return !Verify(pub, msg+string([]byte{extra}), sig)
		},
		gen.AnyString(), gen.UInt8(),
	))

	properties.Property("flipping a signature bit breaks verification", prop.ForAll(
		func(msg string, pos uint8) bool {
			sig, err := Sign(priv, msg)
			if err != nil {
				return false
			}
			raw, err := base64.StdEncoding.DecodeString(sig)
			if err != nil {
				return false
			}
			raw[int(pos)%len(raw)] ^= 0x01
			return !Verify(pub, msg, base64.StdEncoding.EncodeToString(raw))
		},
		gen.AnyString(), gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestPublicKeyFromPrivate(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	derived, err := PublicKeyFromPrivate(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, derived)
}
