package policy

import (
	"context"
	"strings"
	"time"
)

// MinimumNecessary denies sensitive operations unless they are justified,
// privileged and inside business hours.
type MinimumNecessary struct {
	name    string
	version string

	sensitiveActions     map[string]struct{}
	sensitiveResources   map[string]struct{}
	requireJustification bool
	clock                func() time.Time
}

// NewMinimumNecessary builds the policy. Nil slices fall back to defaults.
func NewMinimumNecessary(name, version string, sensitiveActions, sensitiveResources []string,
	requireJustification bool) *MinimumNecessary {
	if name == "" {
		name = "minimum_necessary_access"
	}
	if version == "" {
		version = "1.0.0"
	}
	if sensitiveActions == nil {
		sensitiveActions = []string{"delete", "modify", "admin", "root", "sudo", "privileged"}
	}
	if sensitiveResources == nil {
		sensitiveResources = []string{"user_data", "financial", "medical", "personal", "confidential"}
	}
	return &MinimumNecessary{
		name:                 name,
		version:              version,
		sensitiveActions:     toSet(sensitiveActions),
		sensitiveResources:   toSet(sensitiveResources),
		requireJustification: requireJustification,
		clock:                time.Now,
	}
}

func minimumNecessaryFactory(name, version string, params map[string]interface{}) (Policy, error) {
	p := Context(params)
	require := true
	if v, ok := params["required_justification"].(bool); ok {
		require = v
	}
	return NewMinimumNecessary(name, version,
		p.Strings("sensitive_actions"),
		p.Strings("sensitive_resources"),
		require), nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

func (p *MinimumNecessary) Name() string    { return p.name }
func (p *MinimumNecessary) Version() string { return p.version }

func (p *MinimumNecessary) Evaluate(ctx context.Context, pc Context) (Decision, error) {
	user := pc.Sub("user")
	resource := pc.Sub("resource")
	action := strings.ToLower(pc.String("action"))

	sensitiveAction := false
	for sensitive := range p.sensitiveActions {
		if strings.Contains(action, sensitive) {
			sensitiveAction = true
			break
		}
	}

	sensitiveResource := false
	if _, ok := p.sensitiveResources[resource.String("type")]; ok {
		sensitiveResource = true
	}
	for _, tag := range resource.Strings("tags") {
		if _, ok := p.sensitiveResources[tag]; ok {
			sensitiveResource = true
			break
		}
	}

	if !sensitiveAction && !sensitiveResource {
		return Allowed("Action and resource are not sensitive").
			WithProof(map[string]interface{}{
				"action_sensitive":   false,
				"resource_sensitive": false,
			}), nil
	}

	if p.requireJustification {
		justification := strings.TrimSpace(pc.String("justification"))
		if len(justification) < 10 {
			return Denied("Sensitive operation requires justification").
				WithObligation("provide_justification",
					"Provide a detailed justification for this sensitive operation").
				WithProof(map[string]interface{}{
					"action_sensitive":       sensitiveAction,
					"resource_sensitive":     sensitiveResource,
					"justification_provided": justification != "",
					"justification_length":   len(justification),
				}), nil
		}
	}

	userRoles := user.Strings("roles")
	userPerms := user.Strings("permissions")
	if contains(userRoles, "admin") || contains(userPerms, "privileged") {
		return Allowed("User has privileged access").
			WithObligation("audit_log", "Log this sensitive operation for audit purposes").
			WithProof(map[string]interface{}{
				"user_roles":         userRoles,
				"user_permissions":   userPerms,
				"action_sensitive":   sensitiveAction,
				"resource_sensitive": sensitiveResource,
			}), nil
	}

	// Callers may pin the evaluation hour via time.hour; otherwise the
	// wall clock decides.
	hour, ok := pc.Sub("time").Int("hour")
	if !ok {
		hour = p.clock().Hour()
	}
	if sensitiveAction && (hour >= 22 || hour < 6) {
		return Denied("Sensitive operations restricted during off-hours").
			WithObligation("schedule_operation", "Schedule this operation during business hours").
			WithProof(map[string]interface{}{
				"current_hour":     hour,
				"off_hours":        true,
				"action_sensitive": true,
			}), nil
	}

	return Denied("Insufficient permissions for sensitive operation").
		WithObligation("request_approval", "Request approval from administrator").
		WithProof(map[string]interface{}{
			"action_sensitive":   sensitiveAction,
			"resource_sensitive": sensitiveResource,
			"user_roles":         userRoles,
			"user_permissions":   userPerms,
		}), nil
}
