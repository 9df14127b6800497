// Package types defines the small identifier types shared across the
// deployer: group ids, tree depths, batch sizes, prover modes and the
// ArtifactKey tuple that names every generated key file and verifier
// contract.
package types

import (
	"fmt"
)

// GroupID identifies a configured group (a distinct identity-tree
// population).
type GroupID uint64

// TreeDepth is the height of a group's Merkle tree.
type TreeDepth int

// BatchSize is the number of membership updates aggregated into a single
// proof.
type BatchSize int

// ProverMode is the operation type a verifier supports.
type ProverMode string

const (
	ProverModeInsertion ProverMode = "insertion"
	ProverModeDeletion  ProverMode = "deletion"
)

// Modes lists all supported prover modes in canonical order.
var Modes = []ProverMode{ProverModeInsertion, ProverModeDeletion}

// Valid reports whether the mode is one of the supported prover modes.
func (m ProverMode) Valid() bool {
	return m == ProverModeInsertion || m == ProverModeDeletion
}

// ArtifactKey uniquely identifies a proving key and its verifier contract.
// Two groups sharing the same mode, depth and batch size collapse to the
// same key, so generation and deployment work is shared between them.
type ArtifactKey struct {
	Mode      ProverMode
	TreeDepth TreeDepth
	BatchSize BatchSize
}

func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Mode, k.TreeDepth, k.BatchSize)
}

// KeysFilename returns the cache filename for the key material,
// e.g. "keys_insertion_30_100".
func (k ArtifactKey) KeysFilename() string {
	return fmt.Sprintf("keys_%s_%d_%d", k.Mode, k.TreeDepth, k.BatchSize)
}

// VerifierFilename returns the cache filename for the verifier contract
// source, e.g. "insertion_30_100.sol".
func (k ArtifactKey) VerifierFilename() string {
	return fmt.Sprintf("%s_%d_%d.sol", k.Mode, k.TreeDepth, k.BatchSize)
}

// Less imposes a total order on artifact keys: mode first (insertion before
// deletion), then tree depth, then batch size. Plans are sorted with it so
// that two runs over the same config emit steps in the same order.
func (k ArtifactKey) Less(other ArtifactKey) bool {
	if k.Mode != other.Mode {
		return modeRank(k.Mode) < modeRank(other.Mode)
	}
	if k.TreeDepth != other.TreeDepth {
		return k.TreeDepth < other.TreeDepth
	}
	return k.BatchSize < other.BatchSize
}

func modeRank(m ProverMode) int {
	for i, mode := range Modes {
		if m == mode {
			return i
		}
	}
	return len(Modes)
}
