package reflexive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/ledger"
)

const defaultQueueSize = 256

// Engine runs the reflexive loop: actions are submitted onto a bounded
// queue, a single consumer evaluates each one against the registered
// monitors, executes the resulting decision and writes it to the ledger.
type Engine struct {
	ledger   *ledger.Store
	executor *Executor
	logger   *slog.Logger
	clock    func() time.Time

	mu       sync.RWMutex
	monitors []Monitor

	queue   chan *ActionContext
	stop    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLedger enables decision logging and the ledger integrity monitor.
func WithLedger(store *ledger.Store) EngineOption {
	return func(e *Engine) { e.ledger = store }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithQueueSize sets the submission queue capacity. Submissions beyond
// capacity are rejected with ErrQueueFull rather than blocking callers.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queue = make(chan *ActionContext, n)
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine builds an engine with the default monitor set: policy
// violations, behavioral anomalies, and ledger integrity when a ledger
// is attached.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		executor: NewExecutor(),
		logger:   slog.Default(),
		clock:    time.Now,
		queue:    make(chan *ActionContext, defaultQueueSize),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.monitors = []Monitor{NewPolicyMonitor(), NewAnomalyDetector()}
	if e.ledger != nil {
		e.monitors = append(e.monitors, NewLedgerMonitor(e.ledger))
	}
	return e
}

// AddMonitor registers an additional monitor.
func (e *Engine) AddMonitor(m Monitor) {
	e.mu.Lock()
	e.monitors = append(e.monitors, m)
	e.mu.Unlock()
	e.logger.Info("monitor added", "monitor", m.Name())
}

// RemoveMonitor removes the monitor with the given name.
func (e *Engine) RemoveMonitor(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.monitors {
		if m.Name() == name {
			e.monitors = append(e.monitors[:i], e.monitors[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) monitorSnapshot() []Monitor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Monitor, len(e.monitors))
	copy(out, e.monitors)
	return out
}

// Start launches the consumer goroutine. Starting a running engine is a
// no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.loop()
	e.logger.Info("reflexive engine started", "queue_capacity", cap(e.queue))
}

// Stop shuts the consumer down and waits for it, or returns the context
// error if the wait is abandoned. Queued actions that were not consumed
// yet are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	close(e.stop)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("reflexive engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case ac := <-e.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := e.EvaluateAction(ctx, ac); err != nil {
				e.logger.Error("reflexive evaluation failed",
					"action_id", ac.ActionID, "error", err)
			}
			cancel()
		}
	}
}

// Submit queues an action for asynchronous evaluation. A full queue
// rejects the submission so callers are never blocked by the reflexive
// core.
func (e *Engine) Submit(ac *ActionContext) error {
	if err := ac.Validate(); err != nil {
		return err
	}
	select {
	case e.queue <- ac:
		return nil
	default:
		return ErrQueueFull
	}
}

// EvaluateAction runs the full pipeline synchronously: monitors, risk
// assessment, decision, action execution and ledger logging.
func (e *Engine) EvaluateAction(ctx context.Context, ac *ActionContext) (*Decision, error) {
	decision, err := e.evaluate(ctx, ac, e.monitorSnapshot())
	if err != nil {
		return nil, err
	}

	action, err := NewAction(decision, e.logger)
	if err != nil {
		return nil, err
	}
	if _, err := e.executor.Execute(ctx, action); err != nil {
		e.logger.Error("reflexive action failed",
			"action_type", action.Type(), "decision_id", decision.ID, "error", err)
	}

	e.logDecision(ctx, decision)
	return decision, nil
}

// SimulateRisk evaluates an action against the registered monitors plus
// any scenario-supplied extras without executing the decision or writing
// to the ledger.
func (e *Engine) SimulateRisk(ctx context.Context, ac *ActionContext, extra ...Monitor) (*Decision, error) {
	monitors := append(e.monitorSnapshot(), extra...)
	return e.evaluate(ctx, ac, monitors)
}

func (e *Engine) evaluate(ctx context.Context, ac *ActionContext, monitors []Monitor) (*Decision, error) {
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	if ac.Timestamp.IsZero() {
		ac.Timestamp = e.clock().UTC()
	}

	var ev Evidence
	for _, m := range monitors {
		finding, err := m.Check(ctx, ac)
		if err != nil {
			e.logger.Error("monitor error", "monitor", m.Name(), "error", err)
			continue
		}
		if finding == nil {
			continue
		}
		switch finding.Type {
		case FindingViolation:
			ev.Violations = append(ev.Violations, finding)
		case FindingAnomaly:
			ev.Anomalies = append(ev.Anomalies, finding)
		}
	}

	risk := RiskLow
	reason := "no violations or anomalies detected"
	if ev.total() > 0 {
		risk = AssessRisk(ev)
		reason = fmt.Sprintf("%s risk detected: %d violations, %d anomalies",
			risk, len(ev.Violations), len(ev.Anomalies))
	}

	decision := &Decision{
		ID:            uuid.New(),
		Type:          DecisionFor(risk, ev),
		RiskLevel:     risk,
		ActionContext: ac,
		Reason:        reason,
		Evidence:      ev,
		Timestamp:     e.clock().UTC(),
	}
	if decision.Type == DecisionEscalate {
		decision.EscalatedTo = EscalationTarget(risk)
	}
	if err := decision.Seal(); err != nil {
		return nil, fmt.Errorf("reflexive: seal decision: %w", err)
	}
	return decision, nil
}

// logDecision writes the decision to the provenance ledger. Logging
// failures are reported but never surface to the caller; the decision
// stands regardless.
func (e *Engine) logDecision(ctx context.Context, d *Decision) {
	if e.ledger == nil {
		e.logger.Info("reflexive decision",
			"decision_type", d.Type, "risk_level", d.RiskLevel,
			"reason", d.Reason, "decision_id", d.ID)
		return
	}
	event := &ledger.Event{
		EventType:  ledger.EventReflexiveDecision,
		ActorID:    "reflexive_core",
		ResourceID: d.ActionContext.ActionID,
		Action:     "reflexive_" + string(d.Type),
		Timestamp:  e.clock().UTC(),
		Metadata: map[string]interface{}{
			"decision_id":  d.ID.String(),
			"risk_level":   string(d.RiskLevel),
			"reason":       d.Reason,
			"proof_hash":   d.ProofHash,
			"escalated_to": d.EscalatedTo,
		},
	}
	if _, err := e.ledger.AppendEvent(ctx, event); err != nil {
		e.logger.Error("failed to log reflexive decision",
			"decision_id", d.ID, "error", err)
	}
}

// MonitorStats collects stats from every monitor that exposes them,
// keyed by monitor name, plus the action executor's totals.
func (e *Engine) MonitorStats() map[string]interface{} {
	out := make(map[string]interface{})
	for _, m := range e.monitorSnapshot() {
		if sp, ok := m.(StatsProvider); ok {
			out[m.Name()] = sp.Stats()
		}
	}
	out["executor"] = e.executor.Stats()
	return out
}

// Status reports the engine's runtime state.
func (e *Engine) Status() map[string]interface{} {
	return map[string]interface{}{
		"is_running":     e.running.Load(),
		"monitor_count":  len(e.monitorSnapshot()),
		"queue_depth":    len(e.queue),
		"queue_capacity": cap(e.queue),
	}
}
