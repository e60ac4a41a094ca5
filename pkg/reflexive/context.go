// Package reflexive implements the self-monitoring core: monitors inspect
// every submitted action, findings are graded into a risk level, and the
// resulting decision (halt, escalate, monitor, allow) is executed and
// written to the provenance ledger.
package reflexive

import (
	"fmt"
	"time"

	"github.com/praxis-systems/aegis/pkg/canon"
)

// ActionContext describes one action under reflexive evaluation.
type ActionContext struct {
	ActionID   string                 `json:"action_id"`
	ActorID    string                 `json:"actor_id"`
	ActionType string                 `json:"action_type"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"session_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// Validate checks the identifying fields are present.
func (ac *ActionContext) Validate() error {
	if ac.ActionID == "" {
		return fmt.Errorf("%w: action_id is required", ErrInvalidAction)
	}
	if ac.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidAction)
	}
	if ac.ActionType == "" {
		return fmt.Errorf("%w: action_type is required", ErrInvalidAction)
	}
	return nil
}

// ContextHash returns the SHA-256 hash of the canonicalized context.
// The timestamp is excluded so replays of the same action hash alike.
func (ac *ActionContext) ContextHash() (string, error) {
	return canon.Hash(map[string]interface{}{
		"action_id":   ac.ActionID,
		"actor_id":    ac.ActorID,
		"action_type": ac.ActionType,
		"resource_id": ac.ResourceID,
		"metadata":    ac.Metadata,
		"session_id":  ac.SessionID,
		"request_id":  ac.RequestID,
	})
}
