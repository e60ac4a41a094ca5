// Package anchor publishes sealed ledger blocks to external backends so the
// Merkle roots are held somewhere the ledger process cannot rewrite. An
// adapter records the block summary at submit time and answers existence
// and root-match queries afterwards.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/praxis-systems/aegis/pkg/canon"
	"github.com/praxis-systems/aegis/pkg/ledger"
)

// ErrBlockNotAnchored is returned when a queried block was never submitted.
var ErrBlockNotAnchored = errors.New("anchor: block not anchored")

// Receipt is the backend's acknowledgement of an anchored block.
type Receipt struct {
	Provider   string    `json:"provider"`
	Ref        string    `json:"ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Record is the block summary an adapter persists. It deliberately carries
// no entry data, only the chain commitment.
type Record struct {
	BlockID            string  `json:"block_id"`
	BlockNumber        uint64  `json:"block_number"`
	MerkleRoot         string  `json:"merkle_root"`
	EntryCount         int     `json:"entry_count"`
	FirstEntrySequence uint64  `json:"first_entry_sequence"`
	LastEntrySequence  uint64  `json:"last_entry_sequence"`
	SealedAt           *string `json:"sealed_at"`
	AnchoredAt         string  `json:"anchored_at"`
}

// Adapter anchors sealed blocks to one backend.
type Adapter interface {
	// Name identifies the backend in receipts and proofs.
	Name() string
	// SubmitBlock publishes the block summary and returns a receipt.
	SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error)
	// VerifyBlock reports whether the block is anchored with the given root.
	VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error)
	// BlockProof returns the anchored record plus backend metadata, or
	// ErrBlockNotAnchored.
	BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error)
}

func newRecord(block *ledger.Block, now time.Time) Record {
	return Record{
		BlockID:            block.ID.String(),
		BlockNumber:        block.BlockNumber,
		MerkleRoot:         block.MerkleRoot,
		EntryCount:         block.EntryCount,
		FirstEntrySequence: block.FirstEntrySequence,
		LastEntrySequence:  block.LastEntrySequence,
		SealedAt:           canon.TimePtr(block.SealedAt),
		AnchoredAt:         canon.Time(now),
	}
}

// refFor derives the submission reference: the hash of the canonical record.
func refFor(rec Record) (string, error) {
	b, err := canon.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("anchor: encode record: %w", err)
	}
	return canon.HashBytes(b), nil
}

// Memory is an in-process adapter used for tests and single-node
// deployments with no external anchoring backend configured.
type Memory struct {
	mu      sync.RWMutex
	records map[uint64]Record
	clock   func() time.Time
}

// NewMemory returns an empty in-process adapter.
func NewMemory() *Memory {
	return &Memory{records: make(map[uint64]Record), clock: time.Now}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error) {
	now := m.clock().UTC()
	rec := newRecord(block, now)
	ref, err := refFor(rec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.records[block.BlockNumber] = rec
	m.mu.Unlock()

	return &Receipt{Provider: m.Name(), Ref: ref, AnchoredAt: now}, nil
}

func (m *Memory) VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error) {
	m.mu.RLock()
	rec, ok := m.records[blockNumber]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return rec.MerkleRoot == merkleRoot, nil
}

func (m *Memory) BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error) {
	m.mu.RLock()
	rec, ok := m.records[blockNumber]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotAnchored, blockNumber)
	}
	return map[string]interface{}{
		"proof_type":   m.Name(),
		"block_number": rec.BlockNumber,
		"merkle_root":  rec.MerkleRoot,
		"entry_count":  rec.EntryCount,
		"anchored_at":  rec.AnchoredAt,
	}, nil
}

// Multi fans a submission out to several backends. Submission fails if any
// backend fails; verification succeeds only when every backend agrees.
type Multi struct {
	adapters []Adapter
}

// NewMulti combines adapters into one. At least one is required.
func NewMulti(adapters ...Adapter) (*Multi, error) {
	if len(adapters) == 0 {
		return nil, errors.New("anchor: multi adapter needs at least one backend")
	}
	return &Multi{adapters: adapters}, nil
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error) {
	var first *Receipt
	for _, a := range m.adapters {
		receipt, err := a.SubmitBlock(ctx, block)
		if err != nil {
			return nil, fmt.Errorf("anchor: %s submit: %w", a.Name(), err)
		}
		if first == nil {
			first = receipt
		}
	}
	return first, nil
}

func (m *Multi) VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error) {
	for _, a := range m.adapters {
		ok, err := a.VerifyBlock(ctx, blockNumber, merkleRoot)
		if err != nil {
			return false, fmt.Errorf("anchor: %s verify: %w", a.Name(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Multi) BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error) {
	proofs := make([]map[string]interface{}, 0, len(m.adapters))
	for _, a := range m.adapters {
		proof, err := a.BlockProof(ctx, blockNumber)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}
	return map[string]interface{}{
		"proof_type":   m.Name(),
		"block_number": blockNumber,
		"proofs":       proofs,
	}, nil
}
