// Package merkle builds binary SHA-256 Merkle trees over event leaf hashes
// and produces per-leaf inclusion proofs.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNoLeaves = errors.New("merkle: no leaves")

// Tree is the result of committing a fixed, ordered set of leaves.
// Leaf order is the caller's selection order and is part of the commitment.
type Tree struct {
	Root   string        // lowercase hex of the 32-byte root
	Leaves []string      // normalized leaf hex, in commitment order
	Proofs [][]ProofStep // Proofs[i] is the path for Leaves[i], leaf to root
}

// Build constructs the tree. Leaves must be even-length lowercase hex;
// callers normalize first. An odd layer duplicates its last node (the
// node's sibling is itself, recorded as an R step).
func Build(leaves []string) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		b, err := hex.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("merkle: leaf %d is not valid hex: %w", i, err)
		}
		level[i] = b
	}

	proofs := make([][]ProofStep, len(leaves))
	// groups[j] holds the leaf indexes under node j of the current level.
	groups := make([][]int, len(leaves))
	for i := range leaves {
		groups[i] = []int{i}
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
			groups = append(groups, groups[len(groups)-1])
		}

		nextLevel := make([][]byte, 0, len(level)/2)
		nextGroups := make([][]int, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			for _, li := range groups[i] {
				proofs[li] = append(proofs[li], ProofStep{Pos: "R", Hash: hex.EncodeToString(right)})
			}
			// The duplicated last node shares its leaf group with the left
			// half; skip it to avoid double-recording the self sibling.
			if i+1 < len(level) && !sameGroup(groups[i], groups[i+1]) {
				for _, ri := range groups[i+1] {
					proofs[ri] = append(proofs[ri], ProofStep{Pos: "L", Hash: hex.EncodeToString(left)})
				}
			}
			nextLevel = append(nextLevel, nodeHash(left, right))
			nextGroups = append(nextGroups, mergeGroups(groups[i], groups[i+1]))
		}
		level = nextLevel
		groups = nextGroups
	}

	return &Tree{
		Root:   hex.EncodeToString(level[0]),
		Leaves: append([]string(nil), leaves...),
		Proofs: proofs,
	}, nil
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func sameGroup(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return len(a) > 0
}

func mergeGroups(a, b []int) []int {
	if sameGroup(a, b) {
		return a
	}
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
