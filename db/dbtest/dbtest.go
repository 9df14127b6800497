// Package dbtest holds conformance tests shared by every db.Database
// backend.
package dbtest

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/zkgroups/deployer/db"
)

// TestWriteTx checks basic transactional semantics: reads see pending
// writes, Discard drops them, Commit applies them.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("1")), qt.IsNil)

	// pending write visible inside the tx, not outside
	v, err := tx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("1"))
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)

	tx.Discard()
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)

	tx = database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("2")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("2"))

	// double commit is an error
	c.Assert(tx.Commit(), qt.IsNotNil)

	// delete
	tx = database.WriteTx()
	c.Assert(tx.Delete([]byte("a")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}

// TestIterate checks prefix iteration order and early termination.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	for _, kv := range [][2]string{
		{"step/a", "1"},
		{"step/b", "2"},
		{"step/c", "3"},
		{"other/x", "9"},
	} {
		c.Assert(tx.Set([]byte(kv[0]), []byte(kv[1])), qt.IsNil)
	}
	c.Assert(tx.Commit(), qt.IsNil)

	var keys []string
	err := database.Iterate([]byte("step/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"step/a", "step/b", "step/c"})

	// early termination
	count := 0
	err = database.Iterate([]byte("step/"), func(key, value []byte) bool {
		count++
		return false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, 1)
}
