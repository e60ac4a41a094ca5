package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHIPAANonPHIAllow(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"resource": map[string]interface{}{"is_phi": false},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestHIPAAPayeeCannotWriteClinical(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":   map[string]interface{}{"id": "b1", "roles": []interface{}{"payee"}},
		"action": "write",
		"resource": map[string]interface{}{
			"is_phi":        true,
			"is_clinical":   true,
			"data_elements": []interface{}{"diagnosis_code"},
		},
		"purpose": "Payment",
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Equal(t, "164.312(c)(1)", decision.Proof["citation"])
	assert.Contains(t, decision.Reason, "integrity")
}

func TestHIPAAEmergencyAccess(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":                map[string]interface{}{"id": "dr1"},
		"resource":            map[string]interface{}{"is_phi": true},
		"is_emergency_access": true,
	})
	require.NoError(t, err)

	assert.True(t, decision.Allow)
	assert.True(t, decision.HasObligation("audit_log"))
	assert.True(t, decision.HasObligation("follow_up"))
}

func TestHIPAAPatientRestriction(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":      map[string]interface{}{"id": "dr1", "roles": []interface{}{"provider"}},
		"action":    "disclose",
		"resource":  map[string]interface{}{"is_phi": true},
		"recipient": map[string]interface{}{"id": "insurer-9"},
		"patient": map[string]interface{}{
			"id":              "pt1",
			"has_restriction": true,
			"restriction_details": map[string]interface{}{
				"action":    "disclose",
				"recipient": "insurer-9",
			},
		},
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Equal(t, "§ 164.522(a)(1)", decision.Proof["citation"])
}

func TestHIPAADeceasedOver50Years(t *testing.T) {
	p := NewHIPAA("", "")
	p.clock = func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	decision, err := p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "r1", "roles": []interface{}{"researcher"}},
		"resource": map[string]interface{}{"is_phi": true},
		"patient": map[string]interface{}{
			"is_deceased":   true,
			"date_of_death": "1950-06-15",
		},
	})
	require.NoError(t, err)

	assert.True(t, decision.Allow)
	assert.Equal(t, "§ 164.502(f)", decision.Proof["citation"])
}

func TestHIPAABadDateOfDeathIsError(t *testing.T) {
	p := NewHIPAA("", "")

	_, err := p.Evaluate(context.Background(), Context{
		"resource": map[string]interface{}{"is_phi": true},
		"patient": map[string]interface{}{
			"is_deceased":   true,
			"date_of_death": "not-a-date",
		},
	})
	assert.Error(t, err)
}

func TestHIPAAPsychotherapyNotesRequireAuthorization(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user": map[string]interface{}{"id": "dr1", "roles": []interface{}{"provider"}},
		"resource": map[string]interface{}{
			"is_phi": true,
			"type":   "psychotherapy_notes",
		},
		"purpose": "research",
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Equal(t, "§ 164.508(a)(2)", decision.Proof["citation"])

	// With authorization present the provider branch allows.
	decision, err = p.Evaluate(context.Background(), Context{
		"user": map[string]interface{}{"id": "dr1", "roles": []interface{}{"provider"}},
		"resource": map[string]interface{}{
			"is_phi": true,
			"type":   "psychotherapy_notes",
		},
		"purpose": "research",
		"request": map[string]interface{}{"authorization_present": true},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestHIPAAMarketingRequiresAuthorization(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "m1", "roles": []interface{}{"provider"}},
		"resource": map[string]interface{}{"is_phi": true},
		"purpose":  "marketing",
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Equal(t, "§ 164.508(a)(3-4)", decision.Proof["citation"])
}

func TestHIPAAProviderDiscloseObligations(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "dr1", "roles": []interface{}{"provider"}},
		"action":   "disclose",
		"resource": map[string]interface{}{"is_phi": true},
		"purpose":  "treatment",
	})
	require.NoError(t, err)

	assert.True(t, decision.Allow)
	assert.True(t, decision.HasObligation("audit_log"))
	assert.True(t, decision.HasObligation("transmission_security"))
}

func TestHIPAAPayeeExceedsMinimumNecessary(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":   map[string]interface{}{"id": "b1", "roles": []interface{}{"payee"}},
		"action": "read",
		"resource": map[string]interface{}{
			"is_phi":        true,
			"data_elements": []interface{}{"billing_codes", "diagnosis_code"},
		},
		"purpose": "payment",
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Equal(t, "§ 164.502(b)", decision.Proof["citation"])
}

func TestHIPAAPayeeExportObligations(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":   map[string]interface{}{"id": "b1", "roles": []interface{}{"payee"}},
		"action": "export",
		"resource": map[string]interface{}{
			"is_phi":        true,
			"data_elements": []interface{}{"billing_codes", "insurance_info"},
		},
		"purpose": "payment",
	})
	require.NoError(t, err)

	assert.True(t, decision.Allow)
	assert.True(t, decision.HasObligation("encryption"))
}

func TestHIPAAPatientSelfAccess(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "pt1", "roles": []interface{}{"patient"}},
		"action":   "read",
		"resource": map[string]interface{}{"is_phi": true},
		"patient":  map[string]interface{}{"id": "pt1"},
		"purpose":  "self_access",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)

	decision, err = p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "pt2", "roles": []interface{}{"patient"}},
		"action":   "read",
		"resource": map[string]interface{}{"is_phi": true},
		"patient":  map[string]interface{}{"id": "pt1"},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
}

func TestHIPAAUnrecognizedRole(t *testing.T) {
	p := NewHIPAA("", "")

	decision, err := p.Evaluate(context.Background(), Context{
		"user":     map[string]interface{}{"id": "x1", "roles": []interface{}{"janitor"}},
		"resource": map[string]interface{}{"is_phi": true},
	})
	require.NoError(t, err)

	assert.False(t, decision.Allow)
	assert.Contains(t, decision.Reason, "recognized HIPAA actor role")
}
