package tdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	if opts.Filepath == "" {
		opts.Filepath = filepath.Join(t.TempDir(), "test.tdb")
	}
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateTableInsertGet(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)

	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt, ColumnString})
	require.NoError(t, err)

	require.NoError(t, tbl.Insert(1, []any{int64(42), "a"}))
	require.NoError(t, tbl.Insert(2, []any{int64(7), "b"}))
	require.NoError(t, wt.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	got, err := rt.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, 2, got.Size())

	row, err := got.Get(1)
	require.NoError(t, err)
	require.Equal(t, Key(1), row.Key)
	require.Equal(t, []any{int64(42), "a"}, row.Values)
}

func TestGetMissingKeyReturnsSentinel(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(1)}))
	require.NoError(t, wt.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl2, err := rt.GetTable("widgets")
	require.NoError(t, err)

	_, err = tbl2.Get(99)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestGetTableMissingNameReturnsSentinel(t *testing.T) {
	db := openTestDB(t, Options{})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.GetTable("nope")
	require.ErrorIs(t, err, ErrNoSuchTable)
}

func TestRollbackDiscardsChanges(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	_, err = wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, wt.Rollback())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	has, err := rt.HasTable("widgets")
	require.NoError(t, err)
	require.False(t, has)
}

func TestUpdateAndErase(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt, ColumnString})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(1), "orig"}))
	require.NoError(t, wt.Commit())

	wt2, err := db.StartWrite()
	require.NoError(t, err)
	tbl2, err := wt2.GetTable("widgets")
	require.NoError(t, err)
	require.NoError(t, tbl2.Update(1, 1, "updated"))
	require.NoError(t, wt2.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()
	tbl3, err := rt.GetTable("widgets")
	require.NoError(t, err)
	row, err := tbl3.Get(1)
	require.NoError(t, err)
	require.Equal(t, "updated", row.Values[1])

	wt3, err := db.StartWrite()
	require.NoError(t, err)
	tbl4, err := wt3.GetTable("widgets")
	require.NoError(t, err)
	require.NoError(t, tbl4.Erase(1))
	require.NoError(t, wt3.Commit())

	rt2, err := db.StartRead()
	require.NoError(t, err)
	defer rt2.Close()
	tbl5, err := rt2.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, 0, tbl5.Size())
}

func TestSnapshotIsolation(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(1)}))
	require.NoError(t, wt.Commit())

	rtOld, err := db.StartRead()
	require.NoError(t, err)
	defer rtOld.Close()

	wt2, err := db.StartWrite()
	require.NoError(t, err)
	tbl2, err := wt2.GetTable("widgets")
	require.NoError(t, err)
	require.NoError(t, tbl2.Insert(2, []any{int64(2)}))
	require.NoError(t, wt2.Commit())

	oldTbl, err := rtOld.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, 1, oldTbl.Size())

	rtNew, err := db.StartRead()
	require.NoError(t, err)
	defer rtNew.Close()
	newTbl, err := rtNew.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, 2, newTbl.Size())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.tdb")

	db := openTestDB(t, Options{Filepath: path})
	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt, ColumnString})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(9), "persisted"}))
	require.NoError(t, wt.Commit())
	require.NoError(t, db.Close())

	db2 := openTestDB(t, Options{Filepath: path})
	rt, err := db2.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl2, err := rt.GetTable("widgets")
	require.NoError(t, err)
	row, err := tbl2.Get(1)
	require.NoError(t, err)
	require.Equal(t, []any{int64(9), "persisted"}, row.Values)
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.tdb")
	db := openTestDB(t, Options{Filepath: path})
	wt, err := db.StartWrite()
	require.NoError(t, err)
	_, err = wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, wt.Commit())
	require.NoError(t, db.Close())

	roDB, err := Open(Options{Filepath: path, ReadOnly: true})
	require.NoError(t, err)
	defer roDB.Close()

	_, err = roDB.StartWrite()
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestAddAndRemoveColumn(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(1)}))
	require.NoError(t, tbl.AddColumn(ColumnString))
	require.NoError(t, wt.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()
	tbl2, err := rt.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, []ColumnType{ColumnInt, ColumnString}, tbl2.Columns())
	row, err := tbl2.Get(1)
	require.NoError(t, err)
	require.Equal(t, "", row.Values[1])

	wt2, err := db.StartWrite()
	require.NoError(t, err)
	tbl3, err := wt2.GetTable("widgets")
	require.NoError(t, err)
	require.NoError(t, tbl3.RemoveColumn(0))
	require.NoError(t, wt2.Commit())

	rt2, err := db.StartRead()
	require.NoError(t, err)
	defer rt2.Close()
	tbl4, err := rt2.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, []ColumnType{ColumnString}, tbl4.Columns())
}

func TestDuplicateTableNameRejected(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	_, err = wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	_, err = wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.ErrorIs(t, err, ErrInvalidColumn)
}
