package inmemory

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/zkgroups/deployer/db"
	"github.com/zkgroups/deployer/db/dbtest"
	"github.com/zkgroups/deployer/db/prefixeddb"
)

func TestWriteTx(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	dbtest.TestWriteTx(t, database)
}

func TestIterate(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	dbtest.TestIterate(t, database)
}

func TestPrefixed(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{})
	c.Assert(err, qt.IsNil)

	scoped := prefixeddb.NewPrefixedDatabase(database, []byte("one/"))
	tx := scoped.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("v")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	// visible through the prefixed view with the short key
	v, err := scoped.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("v"))

	// stored under the full key in the parent
	v, err = database.Get([]byte("one/k"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("v"))

	// other prefixes do not leak in
	other := prefixeddb.NewPrefixedDatabase(database, []byte("two/"))
	_, err = other.Get([]byte("k"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}
