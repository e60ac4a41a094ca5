package contracts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/canon"
	"github.com/praxis-systems/aegis/pkg/crypto"
	"github.com/praxis-systems/aegis/pkg/ledger"
)

// CreateRequest carries the fields of a new draft contract.
type CreateRequest struct {
	Title            string                   `json:"title"`
	Description      string                   `json:"description"`
	Clauses          []Clause                 `json:"clauses"`
	Parties          []Party                  `json:"parties"`
	ExpiresAt        *time.Time               `json:"expires_at,omitempty"`
	IsHIPAACompliant bool                     `json:"is_hipaa_compliant"`
	HIPAAEntities    []map[string]interface{} `json:"hipaa_entities,omitempty"`
	Metadata         map[string]interface{}   `json:"metadata,omitempty"`
	Version          string                   `json:"version,omitempty"`
}

// ProposeRequest moves a draft to the proposed state.
type ProposeRequest struct {
	ProposedTo []string `json:"proposed_to"`
	Message    string   `json:"message,omitempty"`
}

// SignRequest records one party's signature.
type SignRequest struct {
	SignerID   string                 `json:"signer_id"`
	SignerType string                 `json:"signer_type"`
	Signature  string                 `json:"signature"`
	PublicKey  string                 `json:"public_key"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RevokeRequest terminates a contract.
type RevokeRequest struct {
	Reason    string                 `json:"reason"`
	RevokedBy string                 `json:"revoked_by"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Statistics summarizes the contract store.
type Statistics struct {
	TotalContracts  int           `json:"total_contracts"`
	ByState         map[State]int `json:"by_state"`
	HIPAACompliant  int           `json:"hipaa_compliant"`
	SignedContracts int           `json:"signed_contracts"`
	ExpiredPending  int           `json:"expired_pending"`
}

// Engine runs the contract lifecycle over a Store. Mutations of one
// contract serialize on a per-contract lock so racing signatures both land
// and no state update is lost. Every transition appends a contract_action
// event to the ledger when one is attached.
type Engine struct {
	store  *Store
	ledger *ledger.Store
	logger *slog.Logger
	clock  func() time.Time

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLedger attaches a provenance ledger for contract_action events.
func WithLedger(store *ledger.Store) EngineOption {
	return func(e *Engine) { e.ledger = store }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine wraps a store.
func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lock(id uuid.UUID) func() {
	e.locksMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// releaseLock drops a contract's lock entry once it reaches a terminal
// state, so the lock map does not grow with lifetime contract count.
// Terminal contracts accept no further mutations, so a waiter racing the
// eviction only observes the terminal state and fails its transition check.
func (e *Engine) releaseLock(id uuid.UUID) {
	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
}

// Create validates the request and persists a new draft.
func (e *Engine) Create(ctx context.Context, req CreateRequest, createdBy string) (*Contract, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidContract)
	}
	if createdBy == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalidContract)
	}
	if len(req.Parties) == 0 {
		return nil, fmt.Errorf("%w: at least one party is required", ErrInvalidContract)
	}
	seen := make(map[string]struct{}, len(req.Parties))
	for _, party := range req.Parties {
		if party.ID == "" {
			return nil, fmt.Errorf("%w: party id is required", ErrInvalidContract)
		}
		if _, dup := seen[party.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate party id %q", ErrInvalidContract, party.ID)
		}
		seen[party.ID] = struct{}{}
	}

	now := e.clock().UTC()
	version := req.Version
	if version == "" {
		version = "1.0.0"
	}
	clauses := req.Clauses
	for i := range clauses {
		if clauses[i].ID == "" {
			clauses[i].ID = uuid.NewString()
		}
		if clauses[i].Type == "" {
			clauses[i].Type = "general"
		}
	}

	c := &Contract{
		ID:               uuid.New(),
		Title:            req.Title,
		Description:      req.Description,
		Clauses:          clauses,
		Parties:          req.Parties,
		State:            StateDraft,
		CreatedAt:        now,
		ExpiresAt:        req.ExpiresAt,
		Signatures:       []Signature{},
		IsHIPAACompliant: req.IsHIPAACompliant,
		HIPAAEntities:    req.HIPAAEntities,
		Metadata:         req.Metadata,
		Version:          version,
		CreatedBy:        createdBy,
		LastModified:     now,
	}
	if err := e.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info("contract created", "contract_id", c.ID, "created_by", createdBy)
	e.recordAction(ctx, c, createdBy, "create", nil)
	return c, nil
}

// Get fetches one contract.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return e.store.Get(ctx, id)
}

// List returns contracts filtered by state and creator.
func (e *Engine) List(ctx context.Context, state *State, createdBy string) ([]*Contract, error) {
	return e.store.List(ctx, state, createdBy)
}

// ByParty returns contracts that name partyID as a party.
func (e *Engine) ByParty(ctx context.Context, partyID string) ([]*Contract, error) {
	all, err := e.store.List(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	var out []*Contract
	for _, c := range all {
		for _, party := range c.Parties {
			if party.ID == partyID {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// Propose moves a draft to proposed, stamping proposed_at and recording the
// proposal details in the contract metadata.
func (e *Engine) Propose(ctx context.Context, id uuid.UUID, req ProposeRequest, proposedBy string) (*Contract, error) {
	unlock := e.lock(id)
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.TransitionTo(StateProposed); err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	c.ProposedAt = &now
	c.LastModified = now
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata["proposal"] = map[string]interface{}{
		"proposed_to": req.ProposedTo,
		"message":     req.Message,
		"proposed_by": proposedBy,
		"timestamp":   canon.Time(now),
	}

	if err := e.store.Update(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info("contract proposed", "contract_id", id, "proposed_by", proposedBy,
		"proposed_to", req.ProposedTo)
	e.recordAction(ctx, c, proposedBy, "propose", map[string]interface{}{
		"proposed_to": req.ProposedTo,
	})
	return c, nil
}

// Sign verifies and appends one signature. When the signer set covers every
// party the contract auto-advances to signed.
func (e *Engine) Sign(ctx context.Context, id uuid.UUID, req SignRequest) (*Contract, error) {
	unlock := e.lock(id)
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != StateProposed && c.State != StateSigned {
		return nil, fmt.Errorf("%w: cannot sign in state %s", ErrInvalidTransition, c.State)
	}
	if c.HasSigned(req.SignerID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySigned, req.SignerID)
	}

	message, err := c.SigningMessage(req.SignerID, req.SignerType)
	if err != nil {
		return nil, err
	}
	if !crypto.Verify(req.PublicKey, message, req.Signature) {
		return nil, fmt.Errorf("%w: signer %s", ErrInvalidSignature, req.SignerID)
	}

	now := e.clock().UTC()
	c.Signatures = append(c.Signatures, Signature{
		SignerID:   req.SignerID,
		SignerType: req.SignerType,
		Signature:  req.Signature,
		PublicKey:  req.PublicKey,
		Timestamp:  now,
		Metadata:   req.Metadata,
	})

	fullySigned := false
	if c.IsFullySigned() && c.State == StateProposed {
		if err := c.TransitionTo(StateSigned); err != nil {
			return nil, err
		}
		c.SignedAt = &now
		fullySigned = true
	}
	c.LastModified = now

	if err := e.store.Update(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info("contract signed", "contract_id", id, "signer_id", req.SignerID,
		"fully_signed", fullySigned)
	e.recordAction(ctx, c, req.SignerID, "sign", map[string]interface{}{
		"fully_signed": fullySigned,
	})
	return c, nil
}

// Revoke terminates a non-terminal contract, recording the revocation
// details in the contract metadata.
func (e *Engine) Revoke(ctx context.Context, id uuid.UUID, req RevokeRequest) (*Contract, error) {
	unlock := e.lock(id)
	defer unlock()

	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.TransitionTo(StateRevoked); err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	c.RevokedAt = &now
	c.LastModified = now
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata["revocation"] = map[string]interface{}{
		"reason":     req.Reason,
		"revoked_by": req.RevokedBy,
		"timestamp":  canon.Time(now),
	}

	if err := e.store.Update(ctx, c); err != nil {
		return nil, err
	}
	e.releaseLock(id)

	e.logger.Info("contract revoked", "contract_id", id, "revoked_by", req.RevokedBy,
		"reason", req.Reason)
	e.recordAction(ctx, c, req.RevokedBy, "revoke", map[string]interface{}{
		"reason": req.Reason,
	})
	return c, nil
}

// CleanupExpired marks every overdue non-terminal contract expired and
// returns the count.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	now := e.clock().UTC()
	candidates, err := e.store.ExpiredCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range candidates {
		unlock := e.lock(c.ID)
		fresh, err := e.store.Get(ctx, c.ID)
		if err != nil {
			unlock()
			return count, err
		}
		if fresh.State.Terminal() {
			unlock()
			continue
		}
		fresh.State = StateExpired
		fresh.LastModified = now
		if err := e.store.Update(ctx, fresh); err != nil {
			unlock()
			return count, err
		}
		unlock()
		e.releaseLock(c.ID)
		count++
		e.recordAction(ctx, fresh, "system", "expire", nil)
	}
	if count > 0 {
		e.logger.Info("expired contracts cleaned up", "count", count)
	}
	return count, nil
}

// Statistics returns contract counts by state plus compliance totals.
func (e *Engine) Statistics(ctx context.Context) (*Statistics, error) {
	byState, err := e.store.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	hipaa, err := e.store.CountHIPAACompliant(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := e.store.ExpiredCandidates(ctx, e.clock().UTC())
	if err != nil {
		return nil, err
	}

	total := 0
	for _, count := range byState {
		total += count
	}
	return &Statistics{
		TotalContracts:  total,
		ByState:         byState,
		HIPAACompliant:  hipaa,
		SignedContracts: byState[StateSigned],
		ExpiredPending:  len(pending),
	}, nil
}

// recordAction appends a contract_action ledger event. Ledger failures are
// logged, not surfaced; the contract mutation has already committed.
func (e *Engine) recordAction(ctx context.Context, c *Contract, actorID, action string, extra map[string]interface{}) {
	if e.ledger == nil {
		return
	}
	metadata := map[string]interface{}{
		"contract_id": c.ID.String(),
		"state":       string(c.State),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	hash, err := c.ContentHash()
	if err == nil {
		metadata["content_hash"] = hash
	}

	_, err = e.ledger.AppendEvent(ctx, &ledger.Event{
		EventType:  ledger.EventContractAction,
		ActorID:    actorID,
		ResourceID: c.ID.String(),
		Action:     action,
		Metadata:   metadata,
	})
	if err != nil {
		e.logger.Error("failed to record contract action", "contract_id", c.ID,
			"action", action, "error", err)
	}
}
