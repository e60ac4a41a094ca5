// Package contracts implements multi-party agreements with Ed25519
// signatures and a strict lifecycle state machine. Contracts move
// draft -> proposed -> signed, may be revoked from any non-terminal state,
// and expire past their expiry timestamp.
package contracts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/canon"
)

var (
	// ErrNotFound is returned when no contract exists for an ID.
	ErrNotFound = errors.New("contracts: contract not found")
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("contracts: invalid state transition")
	// ErrAlreadySigned is returned when a signer_id signs twice.
	ErrAlreadySigned = errors.New("contracts: party has already signed")
	// ErrInvalidSignature is returned when a signature fails verification.
	ErrInvalidSignature = errors.New("contracts: invalid signature")
	// ErrInvalidContract is returned for malformed creation input.
	ErrInvalidContract = errors.New("contracts: invalid contract")
)

// State is a contract lifecycle state.
type State string

const (
	StateDraft    State = "draft"
	StateProposed State = "proposed"
	StateSigned   State = "signed"
	StateRevoked  State = "revoked"
	StateExpired  State = "expired"
)

// States lists every lifecycle state, used for statistics buckets.
var States = []State{StateDraft, StateProposed, StateSigned, StateRevoked, StateExpired}

var transitions = map[State][]State{
	StateDraft:    {StateProposed, StateRevoked},
	StateProposed: {StateSigned, StateRevoked, StateDraft},
	StateSigned:   {StateRevoked},
	StateRevoked:  {},
	StateExpired:  {},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return len(transitions[s]) == 0 && s.Valid() }

// CanTransitionTo consults the transition table.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Clause is one structured contract term.
type Clause struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Party is one participant whose signature is required.
type Party struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name,omitempty"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Signature is a recorded Ed25519 signature over the signing message.
type Signature struct {
	SignerID   string                 `json:"signer_id"`
	SignerType string                 `json:"signer_type"`
	Signature  string                 `json:"signature"`
	PublicKey  string                 `json:"public_key"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Contract is the persisted agreement. Clauses, parties and signatures are
// owned exclusively by the contract and serialized into its row.
type Contract struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Clauses     []Clause  `json:"clauses"`
	Parties     []Party   `json:"parties"`

	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	ProposedAt *time.Time `json:"proposed_at"`
	SignedAt   *time.Time `json:"signed_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	ExpiresAt  *time.Time `json:"expires_at"`

	Signatures []Signature `json:"signatures"`

	IsHIPAACompliant bool                     `json:"is_hipaa_compliant"`
	HIPAAEntities    []map[string]interface{} `json:"hipaa_entities,omitempty"`

	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Version      string                 `json:"version"`
	CreatedBy    string                 `json:"created_by"`
	LastModified time.Time              `json:"last_modified"`
}

// ContentHash covers the immutable agreement content. Clauses and parties
// are hashed through their canonical JSON encodings so the hash matches
// what signers actually committed to.
func (c *Contract) ContentHash() (string, error) {
	clausesJSON, err := canon.Marshal(c.Clauses)
	if err != nil {
		return "", fmt.Errorf("contracts: encode clauses: %w", err)
	}
	partiesJSON, err := canon.Marshal(c.Parties)
	if err != nil {
		return "", fmt.Errorf("contracts: encode parties: %w", err)
	}
	return canon.Hash(map[string]interface{}{
		"id":          c.ID.String(),
		"title":       c.Title,
		"description": c.Description,
		"clauses":     string(clausesJSON),
		"parties":     string(partiesJSON),
		"version":     c.Version,
	})
}

// SigningMessage is the exact string a party signs.
func (c *Contract) SigningMessage(signerID, signerType string) (string, error) {
	hash, err := c.ContentHash()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s:%s", c.ID, hash, signerID, signerType), nil
}

// TransitionTo moves the contract through the state machine, or fails with
// an explicit from->to error.
func (c *Contract) TransitionTo(next State) error {
	if !c.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
	}
	c.State = next
	return nil
}

// HasSigned reports whether signerID already has a recorded signature.
func (c *Contract) HasSigned(signerID string) bool {
	for _, sig := range c.Signatures {
		if sig.SignerID == signerID {
			return true
		}
	}
	return false
}

// IsFullySigned reports whether the signer set covers every party. A
// signature from an ID not listed as a party is stored but does not count
// toward coverage.
func (c *Contract) IsFullySigned() bool {
	for _, party := range c.Parties {
		if !c.HasSigned(party.ID) {
			return false
		}
	}
	return true
}

// UnsignedParties returns the parties still missing a signature.
func (c *Contract) UnsignedParties() []Party {
	var out []Party
	for _, party := range c.Parties {
		if !c.HasSigned(party.ID) {
			out = append(out, party)
		}
	}
	return out
}

// View is the externally served shape of a contract, extended with derived
// fields callers otherwise recompute.
type View struct {
	*Contract
	ContentHash     string  `json:"content_hash"`
	IsFullySigned   bool    `json:"is_fully_signed"`
	UnsignedParties []Party `json:"unsigned_parties"`
}

// NewView derives the served shape.
func NewView(c *Contract) (*View, error) {
	hash, err := c.ContentHash()
	if err != nil {
		return nil, err
	}
	return &View{
		Contract:        c,
		ContentHash:     hash,
		IsFullySigned:   c.IsFullySigned(),
		UnsignedParties: c.UnsignedParties(),
	}, nil
}
