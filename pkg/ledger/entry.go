package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/canon"
)

var (
	// ErrInvalidEvent is returned when an event fails validation.
	ErrInvalidEvent = errors.New("ledger: invalid event")
	// ErrEntryNotFound is returned when no entry exists for a sequence number.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrBlockNotFound is returned when no block exists for a block number.
	ErrBlockNotFound = errors.New("ledger: block not found")
	// ErrBlockNotSealed is returned when a proof is requested against a
	// block whose Merkle root has not been computed yet.
	ErrBlockNotSealed = errors.New("ledger: block not sealed")
)

// Entry is one link in the hash chain. EventData holds the canonical JSON
// of the event; PreviousHash is nil only for the first entry.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	SequenceNumber uint64    `json:"sequence_number"`
	EventData      string    `json:"event_data"`
	PreviousHash   *string   `json:"previous_hash"`
	EntryHash      string    `json:"entry_hash"`
	BlockID        uuid.UUID `json:"block_id"`
	CreatedAt      time.Time `json:"created_at"`
	IsVerified     bool      `json:"is_verified"`
}

// CalculateHash computes the entry hash over the chained fields. The hash
// deliberately excludes the entry ID and block assignment so it is stable
// across re-batching.
func (e *Entry) CalculateHash() (string, error) {
	return canon.Hash(map[string]interface{}{
		"sequence_number": e.SequenceNumber,
		"event_data":      e.EventData,
		"previous_hash":   e.PreviousHash,
		"created_at":      canon.Time(e.CreatedAt),
	})
}

// VerifyIntegrity recomputes the hash and compares it to the stored value.
func (e *Entry) VerifyIntegrity() bool {
	h, err := e.CalculateHash()
	if err != nil {
		return false
	}
	return h == e.EntryHash
}

// Block batches consecutive entries. A sealed block carries a Merkle root
// over its entry hashes plus the full tree levels so proofs can be served
// without reloading entries.
type Block struct {
	ID                 uuid.UUID  `json:"id"`
	BlockNumber        uint64     `json:"block_number"`
	EntryCount         int        `json:"entry_count"`
	FirstEntrySequence uint64     `json:"first_entry_sequence"`
	LastEntrySequence  uint64     `json:"last_entry_sequence"`
	MerkleRoot         string     `json:"merkle_root"`
	MerkleTreeData     [][]string `json:"merkle_tree_data,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	SealedAt           *time.Time `json:"sealed_at"`
	IsVerified         bool       `json:"is_verified"`
}

// Sealed reports whether the block has been closed and rooted.
func (b *Block) Sealed() bool { return b.SealedAt != nil }
