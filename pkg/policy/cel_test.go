package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELAllowDeny(t *testing.T) {
	p, err := NewCEL("office_hours", "1.0.0",
		`context.action == "read" || "admin" in context.user.roles`)
	require.NoError(t, err)

	decision, err := p.Evaluate(context.Background(), Context{
		"action": "read",
		"user":   map[string]interface{}{"roles": []interface{}{"guest"}},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)

	decision, err = p.Evaluate(context.Background(), Context{
		"action": "delete",
		"user":   map[string]interface{}{"roles": []interface{}{"guest"}},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, "office_hours", decision.Proof["policy"])
}

func TestCELCompileError(t *testing.T) {
	_, err := NewCEL("broken", "1.0.0", `context.action ==`)
	assert.Error(t, err)
}

func TestCELRuntimeErrorSurfaces(t *testing.T) {
	p, err := NewCEL("needs_field", "1.0.0", `context.missing.field == "x"`)
	require.NoError(t, err)

	// Engine converts this error into a deny naming the policy.
	reg := NewRegistry(nil)
	reg.Register(p)
	engine := NewEngine(reg, nil)

	decision := engine.Evaluate(context.Background(), Context{"action": "read"}, nil)
	assert.False(t, decision.Allow)
	assert.Equal(t, "needs_field", decision.Proof["policy"])
}
