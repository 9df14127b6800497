package types

import (
	"sort"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestArtifactKeyFilenames(t *testing.T) {
	c := qt.New(t)

	k := ArtifactKey{Mode: ProverModeInsertion, TreeDepth: 30, BatchSize: 100}
	c.Assert(k.KeysFilename(), qt.Equals, "keys_insertion_30_100")
	c.Assert(k.VerifierFilename(), qt.Equals, "insertion_30_100.sol")

	k = ArtifactKey{Mode: ProverModeDeletion, TreeDepth: 16, BatchSize: 10}
	c.Assert(k.KeysFilename(), qt.Equals, "keys_deletion_16_10")
	c.Assert(k.VerifierFilename(), qt.Equals, "deletion_16_10.sol")
}

func TestArtifactKeyOrdering(t *testing.T) {
	c := qt.New(t)

	keys := []ArtifactKey{
		{Mode: ProverModeDeletion, TreeDepth: 16, BatchSize: 10},
		{Mode: ProverModeInsertion, TreeDepth: 30, BatchSize: 1000},
		{Mode: ProverModeInsertion, TreeDepth: 16, BatchSize: 100},
		{Mode: ProverModeInsertion, TreeDepth: 30, BatchSize: 10},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	c.Assert(keys, qt.DeepEquals, []ArtifactKey{
		{Mode: ProverModeInsertion, TreeDepth: 16, BatchSize: 100},
		{Mode: ProverModeInsertion, TreeDepth: 30, BatchSize: 10},
		{Mode: ProverModeInsertion, TreeDepth: 30, BatchSize: 1000},
		{Mode: ProverModeDeletion, TreeDepth: 16, BatchSize: 10},
	})
}

func TestHexBytesRoundTrip(t *testing.T) {
	c := qt.New(t)

	b, err := HexStringToHexBytes("0xdeadbeef")
	c.Assert(err, qt.IsNil)
	c.Assert(b.String(), qt.Equals, "0xdeadbeef")

	// prefix is optional
	b2, err := HexStringToHexBytes("deadbeef")
	c.Assert(err, qt.IsNil)
	c.Assert(b.Equal(b2), qt.IsTrue)

	_, err = HexStringToHexBytes("0xzz")
	c.Assert(err, qt.IsNotNil)
}

func TestHexBytesLeftPad(t *testing.T) {
	c := qt.New(t)

	b := HexBytes{0x01}
	c.Assert(b.LeftPad(4), qt.DeepEquals, HexBytes{0, 0, 0, 0x01})
	c.Assert(b.LeftPad(1), qt.DeepEquals, HexBytes{0x01})
}
