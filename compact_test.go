package tdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compact.tdb")
	db := openTestDB(t, Options{Filepath: path})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt, ColumnString})
	require.NoError(t, err)
	for i := Key(0); i < 500; i++ {
		require.NoError(t, tbl.Insert(i, []any{int64(i), "row"}))
	}
	require.NoError(t, wt.Commit())

	wt2, err := db.StartWrite()
	require.NoError(t, err)
	tbl2, err := wt2.GetTable("widgets")
	require.NoError(t, err)
	for i := Key(0); i < 400; i++ {
		require.NoError(t, tbl2.Erase(i))
	}
	require.NoError(t, wt2.Commit())

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, db.Compact())

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Less(t, after.Size(), before.Size())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl3, err := rt.GetTable("widgets")
	require.NoError(t, err)
	require.Equal(t, 100, tbl3.Size())

	row, err := tbl3.Get(450)
	require.NoError(t, err)
	require.Equal(t, []any{int64(450), "row"}, row.Values)

	_, err = tbl3.Get(10)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCompactRejectsReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro-compact.tdb")
	db := openTestDB(t, Options{Filepath: path})
	require.NoError(t, db.Close())

	roDB, err := Open(Options{Filepath: path, ReadOnly: true})
	require.NoError(t, err)
	defer roDB.Close()

	require.ErrorIs(t, roDB.Compact(), ErrReadOnly)
}

func TestCompactRejectsWithOpenReader(t *testing.T) {
	db := openTestDB(t, Options{})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	err = db.Compact()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWriteLocked)
}

func TestCompactOnEmptyDatabaseIsNoop(t *testing.T) {
	db := openTestDB(t, Options{})
	require.NoError(t, db.Compact())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	n, err := rt.TableCount()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
