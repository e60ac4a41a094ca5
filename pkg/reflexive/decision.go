package reflexive

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/canon"
)

var (
	// ErrInvalidAction is returned for a malformed action context.
	ErrInvalidAction = errors.New("reflexive: invalid action context")
	// ErrQueueFull is returned when the evaluation queue rejects a submission.
	ErrQueueFull = errors.New("reflexive: evaluation queue is full")
)

// Severity grades a single finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// RiskLevel is the aggregate grade of all findings for one action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DecisionType is the reflexive response to an assessed risk level.
type DecisionType string

const (
	DecisionHalt     DecisionType = "halt"
	DecisionEscalate DecisionType = "escalate"
	DecisionMonitor  DecisionType = "monitor"
	DecisionAllow    DecisionType = "allow"
)

// FindingType separates policy violations from behavioral anomalies.
type FindingType string

const (
	FindingViolation FindingType = "violation"
	FindingAnomaly   FindingType = "anomaly"
)

// Issue is one concrete problem inside a finding.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Finding is a monitor's verdict on one action. A nil finding means the
// monitor saw nothing of note.
type Finding struct {
	Type      FindingType `json:"type"`
	Severity  Severity    `json:"severity"`
	Issues    []Issue     `json:"issues"`
	ActorID   string      `json:"actor_id"`
	ActionID  string      `json:"action_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// Evidence collects the findings a decision was based on.
type Evidence struct {
	Violations []*Finding `json:"violations"`
	Anomalies  []*Finding `json:"anomalies"`
}

func (e Evidence) total() int { return len(e.Violations) + len(e.Anomalies) }

func (e Evidence) hasSeverity(s Severity) bool {
	for _, f := range e.Violations {
		if f.Severity == s {
			return true
		}
	}
	for _, f := range e.Anomalies {
		if f.Severity == s {
			return true
		}
	}
	return false
}

// AssessRisk grades collected evidence. Any critical finding is critical
// risk; a high finding or five total issues is high; a medium finding or
// two total issues is medium; anything else is low.
func AssessRisk(ev Evidence) RiskLevel {
	switch {
	case ev.hasSeverity(SeverityCritical):
		return RiskCritical
	case ev.hasSeverity(SeverityHigh) || ev.total() >= 5:
		return RiskHigh
	case ev.hasSeverity(SeverityMedium) || ev.total() >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DecisionFor maps a risk level onto the response type. Low risk with
// findings still gets enhanced monitoring.
func DecisionFor(risk RiskLevel, ev Evidence) DecisionType {
	switch {
	case risk == RiskCritical || risk == RiskHigh:
		return DecisionHalt
	case risk == RiskMedium:
		return DecisionEscalate
	case ev.total() > 0:
		return DecisionMonitor
	default:
		return DecisionAllow
	}
}

// EscalationTarget names who handles an escalation at a given risk level.
func EscalationTarget(risk RiskLevel) string {
	switch risk {
	case RiskCritical:
		return "security_admin"
	case RiskHigh:
		return "system_admin"
	default:
		return "monitoring_team"
	}
}

// Decision is the reflexive core's verdict on one action.
type Decision struct {
	ID            uuid.UUID      `json:"decision_id"`
	Type          DecisionType   `json:"decision_type"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	ActionContext *ActionContext `json:"action_context"`
	Reason        string         `json:"reason"`
	Evidence      Evidence       `json:"evidence"`
	Timestamp     time.Time      `json:"timestamp"`
	EscalatedTo   string         `json:"escalated_to,omitempty"`
	ProofHash     string         `json:"proof_hash,omitempty"`
}

// Seal computes and stores the decision's proof hash over its canonical
// content, binding the verdict to the action it judged.
func (d *Decision) Seal() error {
	contextHash, err := d.ActionContext.ContextHash()
	if err != nil {
		return err
	}
	hash, err := canon.Hash(map[string]interface{}{
		"decision_id":   d.ID.String(),
		"decision_type": string(d.Type),
		"risk_level":    string(d.RiskLevel),
		"context_hash":  contextHash,
		"reason":        d.Reason,
		"timestamp":     canon.Time(d.Timestamp),
		"escalated_to":  d.EscalatedTo,
	})
	if err != nil {
		return err
	}
	d.ProofHash = hash
	return nil
}
