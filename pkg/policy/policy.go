// Package policy implements the pluggable authorization engine. Policies
// are evaluated in a configured order against a request context; the first
// deny wins, and an allow may carry obligations the caller must honor.
package policy

import (
	"context"
)

// Context is the free-form evaluation input, typically decoded straight
// from a JSON request body. Accessor helpers cover the fields the built-in
// policies read; everything else rides along untouched.
type Context map[string]interface{}

// Sub returns a nested object, or an empty Context when absent.
func (c Context) Sub(key string) Context {
	if m, ok := c[key].(map[string]interface{}); ok {
		return Context(m)
	}
	return Context{}
}

// String returns a string field, or "".
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns a boolean field, or false.
func (c Context) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Strings returns a string-list field, tolerating the []interface{} shape
// JSON decoding produces.
func (c Context) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Int returns an integer field, tolerating the float64 shape JSON decoding
// produces. Returns (0, false) when absent or non-numeric.
func (c Context) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Policy is one rule evaluator. Implementations are stateless across calls;
// their parameters are fixed at construction. A returned error is converted
// by the engine into a deny naming the policy, never propagated.
type Policy interface {
	Name() string
	Version() string
	Evaluate(ctx context.Context, pc Context) (Decision, error)
}

// Metadata describes a registered policy.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Type    string `json:"type,omitempty"`
}
