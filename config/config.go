// Package config holds the declarative deployment configuration: the set of
// named groups with their tree depths and batch sizes, plus process-wide
// constants.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/zkgroups/deployer/types"
)

const (
	// MinTreeDepth and MaxTreeDepth bound the valid Merkle tree depths,
	// matching the range enforced by the on-chain tree validator.
	MinTreeDepth = 16
	MaxTreeDepth = 32
)

// Config is the top-level deployment configuration, loaded from YAML.
type Config struct {
	Groups map[types.GroupID]*GroupConfig `yaml:"groups"`
	Misc   MiscConfig                     `yaml:"misc"`
}

// GroupConfig describes a single group (one identity-tree population).
type GroupConfig struct {
	TreeDepth types.TreeDepth `yaml:"tree_depth"`
	// InsertionBatchSizes lists the batch sizes supported for insertion.
	// The legacy key "batch_sizes" is accepted as an alias.
	InsertionBatchSizes []types.BatchSize `yaml:"insertion_batch_sizes"`
	LegacyBatchSizes    []types.BatchSize `yaml:"batch_sizes"`
	// DeletionBatchSizes lists the batch sizes supported for deletion.
	// May be empty: the group then gets no deletion verifiers.
	DeletionBatchSizes []types.BatchSize `yaml:"deletion_batch_sizes"`
	// InitialRoot overrides the initial tree root constructor argument.
	InitialRoot types.HexBytes `yaml:"initial_root,omitempty"`
}

// MiscConfig holds process-wide constants shared by all groups.
type MiscConfig struct {
	// InitialLeafValue is the fixed-width hash used to initialize empty
	// tree leaves.
	InitialLeafValue types.HexBytes `yaml:"initial_leaf_value"`
	// DeployRouter enables the final router deployment step that maps each
	// group id to its dispatcher address.
	DeployRouter bool `yaml:"deploy_router"`
}

// ValidationError is a fatal configuration error. It is never retried.
type ValidationError struct {
	Group  types.GroupID
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config for group %d: %s", e.Group, e.Reason)
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants: tree depth within range,
// at least one batch size per group, batch sizes positive and unique.
func (c *Config) Validate() error {
	if len(c.Groups) == 0 {
		return &ValidationError{Reason: "no groups configured"}
	}
	for id, group := range c.Groups {
		if group == nil {
			return &ValidationError{Group: id, Reason: "empty group definition"}
		}
		if group.TreeDepth < MinTreeDepth || group.TreeDepth > MaxTreeDepth {
			return &ValidationError{
				Group: id,
				Reason: fmt.Sprintf("tree_depth %d out of range [%d, %d]",
					group.TreeDepth, MinTreeDepth, MaxTreeDepth),
			}
		}
		insertion := group.BatchSizes(types.ProverModeInsertion)
		deletion := group.BatchSizes(types.ProverModeDeletion)
		if len(insertion)+len(deletion) == 0 {
			return &ValidationError{Group: id, Reason: "no batch sizes configured"}
		}
		for _, sizes := range [][]types.BatchSize{insertion, deletion} {
			seen := make(map[types.BatchSize]struct{}, len(sizes))
			for _, size := range sizes {
				if size <= 0 {
					return &ValidationError{
						Group:  id,
						Reason: fmt.Sprintf("batch size %d is not positive", size),
					}
				}
				if _, dup := seen[size]; dup {
					return &ValidationError{
						Group:  id,
						Reason: fmt.Sprintf("duplicate batch size %d", size),
					}
				}
				seen[size] = struct{}{}
			}
		}
	}
	return nil
}

// BatchSizes returns the batch sizes the group supports for the given mode.
// For insertion, the legacy "batch_sizes" key is honored when the explicit
// insertion list is absent.
func (g *GroupConfig) BatchSizes(mode types.ProverMode) []types.BatchSize {
	switch mode {
	case types.ProverModeInsertion:
		if len(g.InsertionBatchSizes) > 0 {
			return g.InsertionBatchSizes
		}
		return g.LegacyBatchSizes
	case types.ProverModeDeletion:
		return g.DeletionBatchSizes
	default:
		return nil
	}
}

// ArtifactKeys returns the distinct artifact keys required across all
// groups, sorted in canonical order. Groups sharing (mode, depth, batch)
// contribute a single key.
func (c *Config) ArtifactKeys() []types.ArtifactKey {
	set := make(map[types.ArtifactKey]struct{})
	for _, group := range c.Groups {
		for _, mode := range types.Modes {
			for _, size := range group.BatchSizes(mode) {
				set[types.ArtifactKey{
					Mode:      mode,
					TreeDepth: group.TreeDepth,
					BatchSize: size,
				}] = struct{}{}
			}
		}
	}
	keys := make([]types.ArtifactKey, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// GroupIDs returns the configured group ids in ascending order.
func (c *Config) GroupIDs() []types.GroupID {
	ids := make([]types.GroupID, 0, len(c.Groups))
	for id := range c.Groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GroupArtifactKeys returns the artifact keys required by a single group,
// sorted in canonical order.
func (c *Config) GroupArtifactKeys(id types.GroupID) []types.ArtifactKey {
	group, ok := c.Groups[id]
	if !ok {
		return nil
	}
	var keys []types.ArtifactKey
	for _, mode := range types.Modes {
		for _, size := range group.BatchSizes(mode) {
			keys = append(keys, types.ArtifactKey{
				Mode:      mode,
				TreeDepth: group.TreeDepth,
				BatchSize: size,
			})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
