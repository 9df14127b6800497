package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/zkgroups/deployer/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	qt.Assert(t, os.WriteFile(path, []byte(content), 0o600), qt.IsNil)
	return path
}

func TestLoad(t *testing.T) {
	c := qt.New(t)

	path := writeConfig(t, `
# comments are fine
groups:
  0:
    tree_depth: 30
    insertion_batch_sizes: [100]
  1:
    tree_depth: 30
    insertion_batch_sizes: [10, 100, 1000]
misc:
  initial_leaf_value: "0x0000000000000000000000000000000000000000000000000000000000000000"
`)
	cfg, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Groups, qt.HasLen, 2)
	c.Assert(cfg.Groups[0].TreeDepth, qt.Equals, types.TreeDepth(30))
	c.Assert(cfg.Misc.InitialLeafValue, qt.HasLen, 32)
}

func TestLegacyBatchSizesAlias(t *testing.T) {
	c := qt.New(t)

	path := writeConfig(t, `
groups:
  0:
    tree_depth: 20
    batch_sizes: [5, 10]
misc:
  initial_leaf_value: "0x00"
`)
	cfg, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Groups[0].BatchSizes(types.ProverModeInsertion),
		qt.DeepEquals, []types.BatchSize{5, 10})
	c.Assert(cfg.Groups[0].BatchSizes(types.ProverModeDeletion), qt.HasLen, 0)
}

func TestTreeDepthBoundaries(t *testing.T) {
	c := qt.New(t)

	for depth, wantErr := range map[int]bool{
		15: true,
		16: false,
		32: false,
		33: true,
	} {
		cfg := &Config{
			Groups: map[types.GroupID]*GroupConfig{
				0: {
					TreeDepth:           types.TreeDepth(depth),
					InsertionBatchSizes: []types.BatchSize{10},
				},
			},
		}
		err := cfg.Validate()
		if wantErr {
			c.Assert(err, qt.IsNotNil, qt.Commentf("depth %d", depth))
			var verr *ValidationError
			c.Assert(errors.As(err, &verr), qt.IsTrue)
		} else {
			c.Assert(err, qt.IsNil, qt.Commentf("depth %d", depth))
		}
	}
}

func TestValidateBatchSizes(t *testing.T) {
	c := qt.New(t)

	// no batch sizes at all
	cfg := &Config{
		Groups: map[types.GroupID]*GroupConfig{
			0: {TreeDepth: 20},
		},
	}
	c.Assert(cfg.Validate(), qt.IsNotNil)

	// non-positive batch size
	cfg.Groups[0].InsertionBatchSizes = []types.BatchSize{0}
	c.Assert(cfg.Validate(), qt.IsNotNil)

	// duplicate batch size
	cfg.Groups[0].InsertionBatchSizes = []types.BatchSize{10, 10}
	c.Assert(cfg.Validate(), qt.IsNotNil)

	// deletion-only group is fine
	cfg.Groups[0].InsertionBatchSizes = nil
	cfg.Groups[0].DeletionBatchSizes = []types.BatchSize{10}
	c.Assert(cfg.Validate(), qt.IsNil)
}

func TestArtifactKeysDedup(t *testing.T) {
	c := qt.New(t)

	cfg := &Config{
		Groups: map[types.GroupID]*GroupConfig{
			0: {TreeDepth: 30, InsertionBatchSizes: []types.BatchSize{100}},
			1: {TreeDepth: 30, InsertionBatchSizes: []types.BatchSize{10, 100, 1000}},
		},
	}
	c.Assert(cfg.Validate(), qt.IsNil)

	keys := cfg.ArtifactKeys()
	c.Assert(keys, qt.DeepEquals, []types.ArtifactKey{
		{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 10},
		{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 100},
		{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 1000},
	})

	c.Assert(cfg.GroupArtifactKeys(0), qt.DeepEquals, []types.ArtifactKey{
		{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 100},
	})
	c.Assert(cfg.GroupIDs(), qt.DeepEquals, []types.GroupID{0, 1})
}

func TestKeygenToolURLs(t *testing.T) {
	c := qt.New(t)

	tool := DefaultKeygenTool()
	c.Assert(tool.BinaryURL("linux", "amd64"), qt.Equals,
		"https://github.com/worldcoin/semaphore-mtb/releases/download/1.2.1/mtb-linux-amd64")

	_, ok := tool.BinaryHash("linux", "amd64")
	c.Assert(ok, qt.IsFalse)

	tool.SHA256["linux-amd64"] = "abc"
	h, ok := tool.BinaryHash("linux", "amd64")
	c.Assert(ok, qt.IsTrue)
	c.Assert(h, qt.Equals, "abc")
}
