package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Factory instantiates a policy of a registered type from YAML parameters.
type Factory func(name, version string, params map[string]interface{}) (Policy, error)

// configSchema validates the YAML policy file before instantiation so a
// malformed file is rejected as a whole instead of policy by policy.
const configSchema = `{
	"type": "object",
	"required": ["policies"],
	"properties": {
		"policies": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"version": {"type": "string"},
					"parameters": {"type": "object"}
				}
			}
		}
	}
}`

var compiledConfigSchema = jsonschema.MustCompileString("policies.schema.json", configSchema)

type policyConfig struct {
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Version    string                 `yaml:"version"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

type configFile struct {
	Policies []policyConfig `yaml:"policies"`
}

// Registry holds policy instances in registration order plus the factories
// used for YAML-declared instantiation.
type Registry struct {
	mu        sync.RWMutex
	policies  map[string]Policy
	order     []string
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry returns a registry with the built-in policy types (rbac,
// minimum_necessary, hipaa, cel) pre-registered as factories.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		policies:  make(map[string]Policy),
		factories: make(map[string]Factory),
		logger:    logger,
	}
	r.RegisterFactory("rbac", rbacFactory)
	r.RegisterFactory("minimum_necessary", minimumNecessaryFactory)
	r.RegisterFactory("hipaa", hipaaFactory)
	r.RegisterFactory("cel", celFactory)
	return r
}

// Register adds a policy instance, replacing any previous one of the same
// name while keeping its position in the evaluation order.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.policies[p.Name()] = p
	r.logger.Info("registered policy", "name", p.Name(), "version", p.Version())
}

// Unregister removes a policy by name and returns it, or nil.
func (r *Registry) Unregister(name string) Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[name]
	if !ok {
		return nil
	}
	delete(r.policies, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p
}

// Get returns a policy by name, or nil.
func (r *Registry) Get(name string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[name]
}

// Names returns the policy names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns metadata for all registered policies in order.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		p := r.policies[name]
		out = append(out, Metadata{Name: p.Name(), Version: p.Version()})
	}
	return out
}

// RegisterFactory maps a YAML `type` to a constructor.
func (r *Registry) RegisterFactory(policyType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[policyType] = f
}

// LoadYAML instantiates and registers every policy declared in the file.
// The file is schema-validated first; an unknown type, a bad version string
// or a failing constructor rejects the whole load.
func (r *Registry) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read config: %w", err)
	}
	return r.loadYAMLBytes(data)
}

func (r *Registry) loadYAMLBytes(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("policy: parse config: %w", err)
	}
	if err := compiledConfigSchema.Validate(normalizeForSchema(raw)); err != nil {
		return fmt.Errorf("policy: config schema: %w", err)
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("policy: decode config: %w", err)
	}

	for _, pc := range cfg.Policies {
		version := pc.Version
		if version == "" {
			version = "1.0.0"
		}
		if _, err := semver.NewVersion(version); err != nil {
			return fmt.Errorf("policy: %s has invalid version %q: %w", pc.Name, version, err)
		}

		r.mu.RLock()
		factory, ok := r.factories[pc.Type]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("policy: unknown policy type %q", pc.Type)
		}

		p, err := factory(pc.Name, version, pc.Parameters)
		if err != nil {
			return fmt.Errorf("policy: build %s: %w", pc.Name, err)
		}
		r.Register(p)
	}
	return nil
}

// Reload clears all registered instances, keeping factories, then loads the
// file again.
func (r *Registry) Reload(path string) error {
	r.mu.Lock()
	r.policies = make(map[string]Policy)
	r.order = nil
	r.mu.Unlock()
	return r.LoadYAML(path)
}

// normalizeForSchema converts YAML-decoded values into the shapes the JSON
// schema validator expects (string-keyed maps, json.Number-free scalars).
func normalizeForSchema(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
