package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
policies:
  - name: hipaa
    type: hipaa
    version: 1.0.0
  - name: min_necessary
    type: minimum_necessary
    version: 1.2.0
    parameters:
      sensitive_actions: [delete, purge]
      required_justification: false
  - name: deny_root
    type: cel
    parameters:
      expression: 'context.action != "root_access"'
`)

	reg := NewRegistry(nil)
	require.NoError(t, reg.LoadYAML(path))

	assert.Equal(t, []string{"hipaa", "min_necessary", "deny_root"}, reg.Names())
	assert.Equal(t, "1.2.0", reg.Get("min_necessary").Version())

	decision, err := reg.Get("deny_root").Evaluate(context.Background(),
		Context{"action": "root_access"})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
}

func TestLoadYAMLSchemaRejection(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.LoadYAML(writeConfig(t, `
policies:
  - type: hipaa
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLoadYAMLUnknownType(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.LoadYAML(writeConfig(t, `
policies:
  - name: mystery
    type: not_a_registered_type
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy type")
}

func TestLoadYAMLBadVersion(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.LoadYAML(writeConfig(t, `
policies:
  - name: hipaa
    type: hipaa
    version: not-semver
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestReloadReplacesInstances(t *testing.T) {
	first := writeConfig(t, `
policies:
  - name: hipaa
    type: hipaa
`)
	reg := NewRegistry(nil)
	require.NoError(t, reg.LoadYAML(first))
	reg.Register(NewRBAC("manual", "1.0.0", nil, nil, nil))
	require.Len(t, reg.Names(), 2)

	second := writeConfig(t, `
policies:
  - name: rbac
    type: rbac
`)
	require.NoError(t, reg.Reload(second))

	assert.Equal(t, []string{"rbac"}, reg.Names())
	assert.Nil(t, reg.Get("hipaa"))
	assert.Nil(t, reg.Get("manual"))
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewHIPAA("", ""))

	removed := reg.Unregister("hipaa")
	assert.NotNil(t, removed)
	assert.Nil(t, reg.Get("hipaa"))
	assert.Nil(t, reg.Unregister("hipaa"))
}
