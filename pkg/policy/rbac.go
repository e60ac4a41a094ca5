package policy

import (
	"context"
)

// RoleConfig describes one role's direct permission grants.
type RoleConfig struct {
	Description string
	Permissions []string
}

// RBAC implements role-based access control with permission synonyms, a
// role hierarchy and per-resource scope checks.
type RBAC struct {
	name    string
	version string

	roles       map[string]RoleConfig
	permissions map[string][]string // permission -> action synonyms
	hierarchy   map[string][]string // role -> inherited roles
}

// NewRBAC builds the policy. Nil maps fall back to a default admin/user/
// guest configuration.
func NewRBAC(name, version string, roles map[string]RoleConfig,
	permissions map[string][]string, hierarchy map[string][]string) *RBAC {
	if name == "" {
		name = "rbac"
	}
	if version == "" {
		version = "1.0.0"
	}
	if roles == nil {
		roles = map[string]RoleConfig{
			"admin": {Description: "Administrator with full access", Permissions: []string{"*"}},
			"user":  {Description: "Regular user with basic access", Permissions: []string{"read", "write"}},
			"guest": {Description: "Guest user with read-only access", Permissions: []string{"read"}},
		}
	}
	if permissions == nil {
		permissions = map[string][]string{
			"read":   {"get", "list", "view", "read"},
			"write":  {"create", "update", "modify", "write"},
			"delete": {"remove", "delete", "destroy"},
			"admin":  {"admin", "manage", "configure", "privileged"},
		}
	}
	if hierarchy == nil {
		hierarchy = map[string][]string{
			"admin": {"user", "guest"},
			"user":  {"guest"},
		}
	}
	return &RBAC{
		name:        name,
		version:     version,
		roles:       roles,
		permissions: permissions,
		hierarchy:   hierarchy,
	}
}

func rbacFactory(name, version string, params map[string]interface{}) (Policy, error) {
	var roles map[string]RoleConfig
	if raw, ok := params["roles"].(map[string]interface{}); ok {
		roles = make(map[string]RoleConfig, len(raw))
		for role, v := range raw {
			cfg := Context{}
			if m, ok := v.(map[string]interface{}); ok {
				cfg = Context(m)
			}
			roles[role] = RoleConfig{
				Description: cfg.String("description"),
				Permissions: cfg.Strings("permissions"),
			}
		}
	}
	return NewRBAC(name, version,
		roles,
		stringListMap(params["permissions"]),
		stringListMap(params["role_hierarchy"])), nil
}

func stringListMap(v interface{}) map[string][]string {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for key := range raw {
		out[key] = Context(raw).Strings(key)
	}
	return out
}

func (p *RBAC) Name() string    { return p.name }
func (p *RBAC) Version() string { return p.version }

// userPermissions collects the union of permissions across the user's roles
// and every role reachable through the hierarchy. A wildcard anywhere
// grants everything.
func (p *RBAC) userPermissions(userRoles []string) map[string]struct{} {
	perms := make(map[string]struct{})
	visited := make(map[string]struct{})

	var walk func(role string)
	walk = func(role string) {
		if _, seen := visited[role]; seen {
			return
		}
		visited[role] = struct{}{}
		if cfg, ok := p.roles[role]; ok {
			for _, perm := range cfg.Permissions {
				perms[perm] = struct{}{}
			}
		}
		for _, inherited := range p.hierarchy[role] {
			walk(inherited)
		}
	}
	for _, role := range userRoles {
		walk(role)
	}
	return perms
}

func (p *RBAC) hasPermission(perms map[string]struct{}, action string) bool {
	if _, ok := perms["*"]; ok {
		return true
	}
	if _, ok := perms[action]; ok {
		return true
	}
	for perm := range perms {
		for _, synonym := range p.permissions[perm] {
			if synonym == action {
				return true
			}
		}
	}
	return false
}

func (p *RBAC) Evaluate(ctx context.Context, pc Context) (Decision, error) {
	user := pc.Sub("user")
	resource := pc.Sub("resource")
	action := pc.String("action")

	userRoles := user.Strings("roles")
	if len(userRoles) == 0 {
		return Denied("User has no assigned roles").WithProof(map[string]interface{}{
			"user_roles": userRoles,
			"action":     action,
		}), nil
	}

	perms := p.userPermissions(userRoles)
	permList := make([]string, 0, len(perms))
	for perm := range perms {
		permList = append(permList, perm)
	}

	if !p.hasPermission(perms, action) {
		return Denied("User lacks permission for this action").
			WithObligation("request_permission", "Request permission from administrator").
			WithProof(map[string]interface{}{
				"user_roles":       userRoles,
				"user_permissions": permList,
				"action":           action,
				"permission_check": false,
			}), nil
	}

	userID := user.String("id")
	resourceOwner := resource.String("owner")
	_, wildcard := perms["*"]

	if resourceOwner == userID || contains(userRoles, "admin") || wildcard {
		return Allowed("User has permission and owns resource or is admin").
			WithObligation("audit_log", "Log this RBAC-authorized operation").
			WithProof(map[string]interface{}{
				"user_roles":       userRoles,
				"user_permissions": permList,
				"action":           action,
				"resource_owner":   resourceOwner,
				"user_id":          userID,
				"permission_check": true,
			}), nil
	}

	visibility := resource.String("visibility")
	if visibility == "public" || visibility == "shared" {
		return Allowed("User has permission and resource is public/shared").
			WithProof(map[string]interface{}{
				"user_roles":          userRoles,
				"user_permissions":    permList,
				"action":              action,
				"resource_visibility": visibility,
				"permission_check":    true,
			}), nil
	}

	if grants := resource.Sub("permissions").Strings(userID); len(grants) > 0 {
		if contains(grants, action) || contains(grants, "*") {
			return Allowed("User has explicit resource permission").
				WithProof(map[string]interface{}{
					"user_roles":           userRoles,
					"user_permissions":     permList,
					"action":               action,
					"resource_permissions": grants,
					"permission_check":     true,
				}), nil
		}
	}

	return Denied("User lacks permission for this private resource").
		WithObligation("request_access", "Request access from resource owner").
		WithProof(map[string]interface{}{
			"user_roles":          userRoles,
			"user_permissions":    permList,
			"action":              action,
			"resource_owner":      resourceOwner,
			"user_id":             userID,
			"resource_visibility": visibility,
			"permission_check":    true,
			"ownership_check":     false,
		}), nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
