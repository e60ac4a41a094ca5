package reflexive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionStatus tracks a reflexive action through its lifecycle.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusExecuting ActionStatus = "executing"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// Action is the executable response to a decision.
type Action interface {
	ID() uuid.UUID
	Type() string
	Status() ActionStatus
	Decision() *Decision
	Execute(ctx context.Context) (map[string]interface{}, error)
}

type baseAction struct {
	id       uuid.UUID
	decision *Decision
	created  time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	status ActionStatus
}

func newBase(d *Decision, logger *slog.Logger) baseAction {
	if logger == nil {
		logger = slog.Default()
	}
	return baseAction{
		id:       uuid.New(),
		decision: d,
		created:  time.Now().UTC(),
		logger:   logger,
		status:   StatusPending,
	}
}

func (b *baseAction) ID() uuid.UUID       { return b.id }
func (b *baseAction) Decision() *Decision { return b.decision }

func (b *baseAction) Status() ActionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *baseAction) setStatus(s ActionStatus) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// HaltAction stops the offending operation immediately.
type HaltAction struct {
	baseAction
	Reason             string
	Level              string
	AffectedOperations []string
}

func (a *HaltAction) Type() string { return "halt" }

func (a *HaltAction) Execute(_ context.Context) (map[string]interface{}, error) {
	a.setStatus(StatusExecuting)
	a.logger.Error("halting operations",
		"reason", a.Reason,
		"affected", a.AffectedOperations,
		"decision_id", a.decision.ID)
	result := map[string]interface{}{
		"halted_operations": a.AffectedOperations,
		"halt_timestamp":    a.created.Format(time.RFC3339Nano),
		"halt_reason":       a.Reason,
		"halt_level":        a.Level,
		"decision_id":       a.decision.ID.String(),
	}
	a.setStatus(StatusCompleted)
	return result, nil
}

// EscalateAction routes the decision to a responsible party.
type EscalateAction struct {
	baseAction
	Target   string
	Priority string
	Channels []string
}

func (a *EscalateAction) Type() string { return "escalate" }

func (a *EscalateAction) Execute(_ context.Context) (map[string]interface{}, error) {
	a.setStatus(StatusExecuting)
	a.logger.Warn("escalating decision",
		"target", a.Target,
		"priority", a.Priority,
		"decision_id", a.decision.ID)
	result := map[string]interface{}{
		"escalation_target":     a.Target,
		"escalation_priority":   a.Priority,
		"escalation_timestamp":  a.created.Format(time.RFC3339Nano),
		"notification_channels": a.Channels,
		"decision_id":           a.decision.ID.String(),
	}
	a.setStatus(StatusCompleted)
	return result, nil
}

// MonitorAction enables enhanced monitoring for a scope and duration.
type MonitorAction struct {
	baseAction
	Level    string
	Duration time.Duration
	Scope    []string
}

func (a *MonitorAction) Type() string { return "monitor" }

func (a *MonitorAction) Execute(_ context.Context) (map[string]interface{}, error) {
	a.setStatus(StatusExecuting)
	a.logger.Info("enhancing monitoring",
		"level", a.Level,
		"duration", a.Duration,
		"scope", a.Scope,
		"decision_id", a.decision.ID)
	result := map[string]interface{}{
		"monitoring_level":     a.Level,
		"monitoring_duration":  int(a.Duration.Seconds()),
		"monitoring_scope":     a.Scope,
		"monitoring_timestamp": a.created.Format(time.RFC3339Nano),
		"decision_id":          a.decision.ID.String(),
	}
	a.setStatus(StatusCompleted)
	return result, nil
}

// AllowAction lets the operation proceed.
type AllowAction struct {
	baseAction
	Conditions   []string
	Restrictions []string
}

func (a *AllowAction) Type() string { return "allow" }

func (a *AllowAction) Execute(_ context.Context) (map[string]interface{}, error) {
	a.setStatus(StatusExecuting)
	a.logger.Debug("allowing operation",
		"action_id", a.decision.ActionContext.ActionID,
		"decision_id", a.decision.ID)
	result := map[string]interface{}{
		"allowed":            true,
		"allow_timestamp":    a.created.Format(time.RFC3339Nano),
		"allow_conditions":   a.Conditions,
		"allow_restrictions": a.Restrictions,
		"decision_id":        a.decision.ID.String(),
	}
	a.setStatus(StatusCompleted)
	return result, nil
}

// NewAction builds the action matching the decision type.
func NewAction(d *Decision, logger *slog.Logger) (Action, error) {
	switch d.Type {
	case DecisionHalt:
		return &HaltAction{
			baseAction:         newBase(d, logger),
			Reason:             d.Reason,
			Level:              "immediate",
			AffectedOperations: []string{d.ActionContext.ActionID},
		}, nil
	case DecisionEscalate:
		target := d.EscalatedTo
		if target == "" {
			target = EscalationTarget(d.RiskLevel)
		}
		return &EscalateAction{
			baseAction: newBase(d, logger),
			Target:     target,
			Priority:   "normal",
			Channels:   []string{"email", "pager"},
		}, nil
	case DecisionMonitor:
		return &MonitorAction{
			baseAction: newBase(d, logger),
			Level:      "enhanced",
			Duration:   time.Hour,
			Scope:      []string{d.ActionContext.ActorID},
		}, nil
	case DecisionAllow:
		return &AllowAction{baseAction: newBase(d, logger)}, nil
	default:
		return nil, fmt.Errorf("reflexive: unknown decision type %q", d.Type)
	}
}

// ExecutionRecord is one row of executor history.
type ExecutionRecord struct {
	ActionID   uuid.UUID              `json:"action_id"`
	ActionType string                 `json:"action_type"`
	DecisionID uuid.UUID              `json:"decision_id"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	Status     ActionStatus           `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Executor runs actions and keeps their execution history.
type Executor struct {
	mu      sync.Mutex
	history []ExecutionRecord
	active  map[uuid.UUID]Action
}

// NewExecutor returns an executor with empty history.
func NewExecutor() *Executor {
	return &Executor{active: make(map[uuid.UUID]Action)}
}

// Execute runs the action and records the outcome either way.
func (e *Executor) Execute(ctx context.Context, a Action) (map[string]interface{}, error) {
	start := time.Now().UTC()
	e.mu.Lock()
	e.active[a.ID()] = a
	e.mu.Unlock()

	result, err := a.Execute(ctx)

	rec := ExecutionRecord{
		ActionID:   a.ID(),
		ActionType: a.Type(),
		DecisionID: a.Decision().ID,
		StartTime:  start,
		EndTime:    time.Now().UTC(),
		Status:     a.Status(),
		Result:     result,
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}

	e.mu.Lock()
	delete(e.active, a.ID())
	e.history = append(e.history, rec)
	e.mu.Unlock()

	return result, err
}

// History returns a copy of the execution records.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Stats summarizes executor outcomes.
func (e *Executor) Stats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := len(e.history)
	completed, failed := 0, 0
	for _, rec := range e.history {
		switch rec.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	return map[string]interface{}{
		"total_actions":     total,
		"completed_actions": completed,
		"failed_actions":    failed,
		"active_actions":    len(e.active),
		"success_rate":      rate,
	}
}
