// Package merkle implements the Merkle tree used to seal ledger blocks.
//
// Leaves are lowercase hex SHA-256 digests. Parent nodes hash the ASCII
// concatenation of the two child hex strings, and a level with an odd node
// count pairs its last node with itself. The full level structure is kept
// so inclusion proofs can be generated without the original entries.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrEmptyLeaves is returned when a tree is built from no leaves.
	ErrEmptyLeaves = errors.New("merkle: cannot build tree with no leaves")
	// ErrLeafNotFound is returned when a proof is requested for a hash
	// that was not among the construction leaves.
	ErrLeafNotFound = errors.New("merkle: leaf not found in tree")
)

// Position says which side of the current hash a proof sibling sits on.
type Position string

const (
	Left  Position = "left"
	Right Position = "right"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	SiblingHash string   `json:"hash"`
	Position    Position `json:"position"`
}

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	LeafHash string      `json:"leaf_hash"`
	Path     []ProofStep `json:"path"`
	RootHash string      `json:"root_hash"`
}

// Verify folds the leaf hash through the proof path and compares the
// result with the root. A sibling on the left is prepended, a sibling on
// the right is appended, matching tree construction.
func (p Proof) Verify() bool {
	current := p.LeafHash
	for _, step := range p.Path {
		if step.Position == Left {
			current = hashPair(step.SiblingHash, current)
		} else {
			current = hashPair(current, step.SiblingHash)
		}
	}
	return current == p.RootHash
}

// Tree is a Merkle tree over an ordered list of leaf hashes.
type Tree struct {
	leaves []string
	levels [][]string // levels[0] = leaves, last level = [root]
	root   string
}

// New builds a tree bottom-up from ordered leaf hashes.
func New(leafHashes []string) (*Tree, error) {
	if len(leafHashes) == 0 {
		return nil, ErrEmptyLeaves
	}

	leaves := make([]string, len(leafHashes))
	copy(leaves, leafHashes)

	levels := [][]string{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([]string, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left // odd count: pair last node with itself
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{leaves: leaves, levels: levels, root: current[0]}, nil
}

// FromLevels reconstructs a tree from persisted level data, as stored in
// ledger_blocks.merkle_tree_data.
func FromLevels(levels [][]string) (*Tree, error) {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return nil, ErrEmptyLeaves
	}
	top := levels[len(levels)-1]
	if len(top) != 1 {
		return nil, fmt.Errorf("merkle: top level has %d nodes, want 1", len(top))
	}
	leaves := make([]string, len(levels[0]))
	copy(leaves, levels[0])
	return &Tree{leaves: leaves, levels: levels, root: top[0]}, nil
}

// Root returns the root hash.
func (t *Tree) Root() string { return t.root }

// Levels returns the full level structure, leaves first.
func (t *Tree) Levels() [][]string { return t.levels }

// LeafCount returns the number of construction leaves.
func (t *Tree) LeafCount() int { return len(t.leaves) }

// Height returns the number of levels, including the root level.
func (t *Tree) Height() int { return len(t.levels) }

// ContainsLeaf reports whether hash was among the construction leaves.
func (t *Tree) ContainsLeaf(hash string) bool {
	for _, l := range t.leaves {
		if l == hash {
			return true
		}
	}
	return false
}

// GenerateProof produces an inclusion proof for the first leaf equal to
// leafHash. A single-leaf tree yields an empty path with root == leaf.
func (t *Tree) GenerateProof(leafHash string) (Proof, error) {
	index := -1
	for i, l := range t.leaves {
		if l == leafHash {
			index = i
			break
		}
	}
	if index < 0 {
		return Proof{}, ErrLeafNotFound
	}

	proof := Proof{LeafHash: leafHash, RootHash: t.root}
	if len(t.leaves) == 1 {
		return proof, nil
	}

	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		pos := Right
		if index%2 == 1 {
			pos = Left
		}
		hash := level[index] // odd tail duplicates itself as sibling
		if sibling < len(level) {
			hash = level[sibling]
		}
		proof.Path = append(proof.Path, ProofStep{SiblingHash: hash, Position: pos})
		index /= 2
	}
	return proof, nil
}

func hashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}
