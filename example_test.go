package tdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarioOpenAddColumnInsertReopen walks the open/add-table/add-column/
// insert/commit/reopen path end to end.
func TestScenarioOpenAddColumnInsertReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")

	db, err := Open(Options{Filepath: path})
	require.NoError(t, err)

	rt, err := db.StartRead()
	require.NoError(t, err)
	n, err := rt.TableCount()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, rt.Close())

	wt, err := db.StartWrite()
	require.NoError(t, err)
	people, err := wt.CreateTable("people", nil)
	require.NoError(t, err)
	require.NoError(t, people.AddColumn(ColumnInt))
	require.NoError(t, people.Insert(0, []any{int64(42)}))
	require.NoError(t, wt.Commit())
	require.NoError(t, db.Close())

	db2, err := Open(Options{Filepath: path})
	require.NoError(t, err)
	defer db2.Close()

	rt2, err := db2.StartRead()
	require.NoError(t, err)
	defer rt2.Close()

	tbl, err := rt2.GetTable("people")
	require.NoError(t, err)
	row, err := tbl.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(42), row.Values[0])
}

// TestScenarioBulkInsertIterateInOrder inserts 1000 rows and confirms the
// iterator walks them in key order with the expected derived value.
func TestScenarioBulkInsertIterateInOrder(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("series", []ColumnType{ColumnInt})
	require.NoError(t, err)
	for k := Key(0); k < 1000; k++ {
		require.NoError(t, tbl.Insert(k, []any{int64(k) * 2}))
	}
	require.NoError(t, wt.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl2, err := rt.GetTable("series")
	require.NoError(t, err)
	it, err := tbl2.Iterator()
	require.NoError(t, err)

	var want Key
	count := 0
	for {
		row, err := it.Next()
		require.NoError(t, err)
		if row == nil {
			break
		}
		require.Equal(t, want, row.Key)
		require.Equal(t, int64(want)*2, row.Values[0])
		want++
		count++
	}
	require.Equal(t, 1000, count)
}

// TestScenarioReaderPinnedAgainstLaterWriter confirms a reader opened before
// a commit keeps observing its own snapshot, while a fresh reader observes
// the new data.
func TestScenarioReaderPinnedAgainstLaterWriter(t *testing.T) {
	db := openTestDB(t, Options{})

	wt0, err := db.StartWrite()
	require.NoError(t, err)
	tbl0, err := wt0.CreateTable("events", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, tbl0.Insert(1, []any{int64(1)}))
	require.NoError(t, wt0.Commit())

	r1, err := db.StartRead()
	require.NoError(t, err)
	defer r1.Close()

	wt1, err := db.StartWrite()
	require.NoError(t, err)
	tbl1, err := wt1.GetTable("events")
	require.NoError(t, err)
	require.NoError(t, tbl1.Insert(1000, []any{int64(1000)}))
	require.NoError(t, wt1.Commit())

	oldTbl, err := r1.GetTable("events")
	require.NoError(t, err)
	_, err = oldTbl.Get(1000)
	require.ErrorIs(t, err, ErrKeyNotFound)

	r2, err := db.StartRead()
	require.NoError(t, err)
	defer r2.Close()
	newTbl, err := r2.GetTable("events")
	require.NoError(t, err)
	row, err := newTbl.Get(1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), row.Values[0])
}

// TestScenarioRollbackLeavesNoTrace writes 500 rows then rolls back; after
// reopening, the table must not exist and the transaction must have left no
// visible state.
func TestScenarioRollbackLeavesNoTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback.db")
	db, err := Open(Options{Filepath: path})
	require.NoError(t, err)

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("scratch", []ColumnType{ColumnInt})
	require.NoError(t, err)
	for k := Key(0); k < 500; k++ {
		require.NoError(t, tbl.Insert(k, []any{int64(k)}))
	}
	require.NoError(t, wt.Rollback())
	require.NoError(t, db.Close())

	db2, err := Open(Options{Filepath: path})
	require.NoError(t, err)
	defer db2.Close()

	rt, err := db2.StartRead()
	require.NoError(t, err)
	defer rt.Close()
	has, err := rt.HasTable("scratch")
	require.NoError(t, err)
	require.False(t, has)
}
