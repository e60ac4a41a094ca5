// Package ledger implements the provenance ledger: an append-only,
// hash-chained, block-batched event log with Merkle-rooted block sealing.
//
// Entries are chained by entry hash, batched into blocks of a configured
// size, and sealed blocks carry a Merkle root over their entry hashes so a
// single entry can be proven against the block without replaying the chain.
package ledger

import (
	"fmt"
	"time"

	"github.com/praxis-systems/aegis/pkg/canon"
)

// EventType categorizes ledger events.
type EventType string

const (
	EventToolCall          EventType = "tool_call"
	EventPolicyDecision    EventType = "policy_decision"
	EventDataFlow          EventType = "data_flow"
	EventContractAction    EventType = "contract_action"
	EventAuthentication    EventType = "authn"
	EventAuthorization     EventType = "authz"
	EventSystem            EventType = "system"
	EventReflexiveDecision EventType = "reflexive_decision"
)

var knownEventTypes = map[EventType]struct{}{
	EventToolCall:          {},
	EventPolicyDecision:    {},
	EventDataFlow:          {},
	EventContractAction:    {},
	EventAuthentication:    {},
	EventAuthorization:     {},
	EventSystem:            {},
	EventReflexiveDecision: {},
}

// Event is the payload written to the log.
type Event struct {
	EventType  EventType              `json:"event_type"`
	ActorID    string                 `json:"actor_id"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Action     string                 `json:"action"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	DataHash   string                 `json:"data_hash,omitempty"`
}

// Validate checks the event is well-formed before it is accepted.
func (e *Event) Validate() error {
	if _, ok := knownEventTypes[e.EventType]; !ok {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	}
	if e.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidEvent)
	}
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	return nil
}

// ContentHash returns the SHA-256 hash of the canonicalized event content.
func (e *Event) ContentHash() (string, error) {
	return canon.Hash(map[string]interface{}{
		"event_type":  string(e.EventType),
		"actor_id":    e.ActorID,
		"resource_id": e.ResourceID,
		"action":      e.Action,
		"metadata":    e.Metadata,
		"timestamp":   canon.Time(e.Timestamp),
		"data_hash":   e.DataHash,
	})
}

// encode serializes the event to its canonical JSON form, which is what
// gets persisted in the entry row and covered by the entry hash.
func (e *Event) encode() (string, error) {
	b, err := canon.Marshal(map[string]interface{}{
		"event_type":  string(e.EventType),
		"actor_id":    e.ActorID,
		"resource_id": e.ResourceID,
		"action":      e.Action,
		"metadata":    e.Metadata,
		"timestamp":   canon.Time(e.Timestamp),
		"data_hash":   e.DataHash,
	})
	if err != nil {
		return "", fmt.Errorf("ledger: encode event: %w", err)
	}
	return string(b), nil
}
