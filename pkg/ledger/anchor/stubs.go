package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/praxis-systems/aegis/pkg/ledger"
)

// anchored pairs a stored record with the reference its submission returned.
type anchored struct {
	rec Record
	ref string
}

// recordStore is the shared in-memory backing for the stub adapters.
type recordStore struct {
	mu      sync.RWMutex
	byBlock map[uint64]anchored
}

func newRecordStore() *recordStore {
	return &recordStore{byBlock: make(map[uint64]anchored)}
}

func (r *recordStore) put(blockNumber uint64, rec Record, ref string) {
	r.mu.Lock()
	r.byBlock[blockNumber] = anchored{rec: rec, ref: ref}
	r.mu.Unlock()
}

func (r *recordStore) get(blockNumber uint64) (anchored, bool) {
	r.mu.RLock()
	a, ok := r.byBlock[blockNumber]
	r.mu.RUnlock()
	return a, ok
}

// Hyperledger anchors blocks to a Hyperledger Fabric channel. The Fabric
// submission path is stubbed: records are held in memory, but receipts and
// proofs keep the shapes a chaincode invocation would produce, so callers
// written against this adapter survive a real backend swap.
type Hyperledger struct {
	channel   string
	chaincode string
	records   *recordStore
	clock     func() time.Time
}

// NewHyperledger returns a Fabric anchor stub. Empty arguments take the
// default channel and chaincode names.
func NewHyperledger(channel, chaincode string) *Hyperledger {
	if channel == "" {
		channel = "governance-channel"
	}
	if chaincode == "" {
		chaincode = "provenance-ledger"
	}
	return &Hyperledger{
		channel:   channel,
		chaincode: chaincode,
		records:   newRecordStore(),
		clock:     time.Now,
	}
}

func (h *Hyperledger) Name() string { return "hyperledger_fabric" }

func (h *Hyperledger) SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error) {
	now := h.clock().UTC()
	rec := newRecord(block, now)
	ref, err := refFor(rec)
	if err != nil {
		return nil, err
	}
	h.records.put(block.BlockNumber, rec, ref)
	return &Receipt{Provider: h.Name(), Ref: ref, AnchoredAt: now}, nil
}

func (h *Hyperledger) VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error) {
	a, ok := h.records.get(blockNumber)
	if !ok {
		return false, nil
	}
	return a.rec.MerkleRoot == merkleRoot, nil
}

func (h *Hyperledger) BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error) {
	a, ok := h.records.get(blockNumber)
	if !ok {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotAnchored, blockNumber)
	}
	return map[string]interface{}{
		"proof_type":     h.Name(),
		"block_number":   a.rec.BlockNumber,
		"merkle_root":    a.rec.MerkleRoot,
		"entry_count":    a.rec.EntryCount,
		"anchored_at":    a.rec.AnchoredAt,
		"channel":        h.channel,
		"chaincode":      h.chaincode,
		"transaction_id": a.ref,
	}, nil
}

// OmniSeal anchors blocks to the OmniSeal notarization API. The HTTP
// submission path is stubbed in memory with API-shaped receipts and proofs.
type OmniSeal struct {
	endpoint  string
	networkID string
	records   *recordStore
	clock     func() time.Time
}

// NewOmniSeal returns an OmniSeal anchor stub. Empty arguments take the
// public API endpoint and the mainnet network.
func NewOmniSeal(endpoint, networkID string) *OmniSeal {
	if endpoint == "" {
		endpoint = "https://api.omniseal.com"
	}
	if networkID == "" {
		networkID = "mainnet"
	}
	return &OmniSeal{
		endpoint:  endpoint,
		networkID: networkID,
		records:   newRecordStore(),
		clock:     time.Now,
	}
}

func (o *OmniSeal) Name() string { return "omniseal" }

func (o *OmniSeal) SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error) {
	now := o.clock().UTC()
	rec := newRecord(block, now)
	ref, err := refFor(rec)
	if err != nil {
		return nil, err
	}
	o.records.put(block.BlockNumber, rec, ref)
	return &Receipt{Provider: o.Name(), Ref: ref, AnchoredAt: now}, nil
}

func (o *OmniSeal) VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error) {
	a, ok := o.records.get(blockNumber)
	if !ok {
		return false, nil
	}
	return a.rec.MerkleRoot == merkleRoot, nil
}

func (o *OmniSeal) BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error) {
	a, ok := o.records.get(blockNumber)
	if !ok {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotAnchored, blockNumber)
	}
	return map[string]interface{}{
		"proof_type":     o.Name(),
		"block_number":   a.rec.BlockNumber,
		"merkle_root":    a.rec.MerkleRoot,
		"entry_count":    a.rec.EntryCount,
		"anchored_at":    a.rec.AnchoredAt,
		"network_id":     o.networkID,
		"endpoint":       o.endpoint,
		"transaction_id": a.ref,
	}, nil
}
