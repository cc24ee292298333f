package merkle

import (
	"encoding/hex"
	"fmt"
)

// ProofStep is one sibling on the path from a leaf to the root. Pos is the
// sibling's position relative to the node being hashed up: "L" or "R".
type ProofStep struct {
	Pos  string `json:"pos"`
	Hash string `json:"hash"`
}

// Fold recomputes the root implied by a leaf and its proof path.
func Fold(leaf string, path []ProofStep) (string, error) {
	node, err := hex.DecodeString(leaf)
	if err != nil {
		return "", fmt.Errorf("merkle: leaf is not valid hex: %w", err)
	}

	for i, step := range path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return "", fmt.Errorf("merkle: proof step %d is not valid hex: %w", i, err)
		}
		switch step.Pos {
		case "L":
			node = nodeHash(sibling, node)
		case "R":
			node = nodeHash(node, sibling)
		default:
			return "", fmt.Errorf("merkle: proof step %d has invalid pos %q", i, step.Pos)
		}
	}
	return hex.EncodeToString(node), nil
}

// Verify reports whether folding leaf through path yields root.
func Verify(leaf string, path []ProofStep, root string) bool {
	computed, err := Fold(leaf, path)
	if err != nil {
		return false
	}
	return computed == root
}
