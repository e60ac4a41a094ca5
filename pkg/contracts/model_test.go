package contracts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateDraft, StateProposed, true},
		{StateDraft, StateRevoked, true},
		{StateDraft, StateSigned, false},
		{StateProposed, StateSigned, true},
		{StateProposed, StateRevoked, true},
		{StateProposed, StateDraft, true},
		{StateSigned, StateRevoked, true},
		{StateSigned, StateProposed, false},
		{StateRevoked, StateDraft, false},
		{StateExpired, StateRevoked, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, StateRevoked.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.False(t, StateSigned.Terminal())
}

func TestTransitionToError(t *testing.T) {
	c := &Contract{State: StateRevoked}
	err := c.TransitionTo(StateDraft)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "revoked -> draft")
}

func TestContentHashStability(t *testing.T) {
	c := &Contract{
		ID:          uuid.MustParse("7b0661e6-9c4d-4c2e-9d4e-0b60a1f0a000"),
		Title:       "Data sharing agreement",
		Description: "Terms for PHI exchange",
		Clauses:     []Clause{{ID: "c1", Title: "Scope", Content: "Billing records only", Type: "hipaa"}},
		Parties:     []Party{{ID: "p1", Type: "provider"}, {ID: "p2", Type: "patient"}},
		Version:     "1.0.0",
	}

	h1, err := c.ContentHash()
	require.NoError(t, err)
	h2, err := c.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	// Signatures and state do not affect the content hash.
	c.State = StateSigned
	c.Signatures = append(c.Signatures, Signature{SignerID: "p1"})
	h3, err := c.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	// Content changes do.
	c.Title = "Amended agreement"
	h4, err := c.ContentHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestSignatureCoverage(t *testing.T) {
	c := &Contract{
		Parties: []Party{{ID: "p1", Type: "provider"}, {ID: "p2", Type: "patient"}},
	}
	assert.False(t, c.IsFullySigned())
	assert.Len(t, c.UnsignedParties(), 2)

	c.Signatures = append(c.Signatures, Signature{SignerID: "p1"})
	assert.False(t, c.IsFullySigned())
	assert.Equal(t, "p2", c.UnsignedParties()[0].ID)

	// A signature from a non-party does not count toward coverage.
	c.Signatures = append(c.Signatures, Signature{SignerID: "witness"})
	assert.False(t, c.IsFullySigned())

	c.Signatures = append(c.Signatures, Signature{SignerID: "p2"})
	assert.True(t, c.IsFullySigned())
	assert.Empty(t, c.UnsignedParties())
}
