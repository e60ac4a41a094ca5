package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Engine coordinates policy evaluation over a registry. Order matters: the
// first denying policy short-circuits the chain.
type Engine struct {
	registry *Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	order []string
}

// NewEngine wraps a registry. A nil registry gets a fresh one.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Engine{registry: registry, logger: logger}
}

// Registry exposes the underlying registry for registration and reload.
func (e *Engine) Registry() *Registry { return e.registry }

// SetEvaluationOrder fixes the default chain used when Evaluate is called
// without explicit names.
func (e *Engine) SetEvaluationOrder(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append([]string(nil), names...)
	e.logger.Info("policy evaluation order set", "order", names)
}

// Evaluate runs the named policies in order, or the configured chain (or
// every registered policy) when names is nil. The first deny is returned
// as-is; a policy error becomes a deny naming the policy; unknown names are
// skipped with a warning. If everything allows, the aggregate allow lists
// the evaluated policies as proof.
func (e *Engine) Evaluate(ctx context.Context, pc Context, names []string) Decision {
	if names == nil {
		e.mu.RLock()
		names = append([]string(nil), e.order...)
		e.mu.RUnlock()
		if len(names) == 0 {
			names = e.registry.Names()
		}
	}

	for _, name := range names {
		p := e.registry.Get(name)
		if p == nil {
			e.logger.Warn("policy not found", "name", name)
			continue
		}
		decision, err := p.Evaluate(ctx, pc)
		if err != nil {
			e.logger.Error("policy evaluation failed", "name", name, "error", err)
			return Denied(fmt.Sprintf("policy evaluation error: %v", err)).
				WithProof(map[string]interface{}{"policy": name, "error": err.Error()})
		}
		e.logger.Debug("policy evaluated", "name", name, "allow", decision.Allow,
			"reason", decision.Reason)
		if !decision.Allow {
			return decision
		}
	}

	return Allowed("All policies evaluated successfully").
		WithProof(map[string]interface{}{"evaluated_policies": names})
}

// EvaluateSingle runs exactly one policy. The second return is false when
// the policy is not registered.
func (e *Engine) EvaluateSingle(ctx context.Context, name string, pc Context) (Decision, bool) {
	p := e.registry.Get(name)
	if p == nil {
		e.logger.Warn("policy not found", "name", name)
		return Decision{}, false
	}
	decision, err := p.Evaluate(ctx, pc)
	if err != nil {
		e.logger.Error("policy evaluation failed", "name", name, "error", err)
		return Denied(fmt.Sprintf("policy evaluation error: %v", err)).
			WithProof(map[string]interface{}{"policy": name, "error": err.Error()}), true
	}
	return decision, true
}

// Metadata lists the registered policies.
func (e *Engine) Metadata() []Metadata { return e.registry.List() }
