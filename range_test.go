package tdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedWidgets(t *testing.T, db *DB, keys []Key) {
	t.Helper()
	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, tbl.Insert(k, []any{int64(k)}))
	}
	require.NoError(t, wt.Commit())
}

func drain(t *testing.T, it *RowIterator) []Key {
	t.Helper()
	var out []Key
	for {
		row, err := it.Next()
		require.NoError(t, err)
		if row == nil {
			return out
		}
		out = append(out, row.Key)
	}
}

func TestIteratorWalksInKeyOrder(t *testing.T) {
	db := openTestDB(t, Options{})
	seedWidgets(t, db, []Key{5, 1, 9, 3, 7})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl, err := rt.GetTable("widgets")
	require.NoError(t, err)

	it, err := tbl.Iterator()
	require.NoError(t, err)
	require.Equal(t, []Key{1, 3, 5, 7, 9}, drain(t, it))
}

func TestRangeBounds(t *testing.T) {
	db := openTestDB(t, Options{})
	seedWidgets(t, db, []Key{1, 2, 3, 4, 5, 6, 7})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl, err := rt.GetTable("widgets")
	require.NoError(t, err)

	it, err := tbl.Range(3, 5, nil)
	require.NoError(t, err)
	require.Equal(t, []Key{3, 4, 5}, drain(t, it))
}

func TestRangeRejectsInvertedBounds(t *testing.T) {
	db := openTestDB(t, Options{})
	seedWidgets(t, db, []Key{1, 2, 3})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl, err := rt.GetTable("widgets")
	require.NoError(t, err)

	_, err = tbl.Range(5, 3, nil)
	require.ErrorIs(t, err, ErrInvalidColumn)
}

func TestRangeMinVersionFilter(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.StartWrite()
	require.NoError(t, err)
	tbl, err := wt.CreateTable("widgets", []ColumnType{ColumnInt})
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(1, []any{int64(1)}))
	require.NoError(t, wt.Commit())

	wt2, err := db.StartWrite()
	require.NoError(t, err)
	tbl2, err := wt2.GetTable("widgets")
	require.NoError(t, err)
	require.NoError(t, tbl2.Insert(2, []any{int64(2)}))
	require.NoError(t, wt2.Commit())

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()
	tbl3, err := rt.GetTable("widgets")
	require.NoError(t, err)

	minVer := tbl3.Version()
	it, err := tbl3.Range(1, 2, &RangeOpts{MinVersion: &minVer})
	require.NoError(t, err)
	require.Equal(t, []Key{2}, drain(t, it))
}

func TestRangeTransform(t *testing.T) {
	db := openTestDB(t, Options{})
	seedWidgets(t, db, []Key{1, 2, 3})

	rt, err := db.StartRead()
	require.NoError(t, err)
	defer rt.Close()

	tbl, err := rt.GetTable("widgets")
	require.NoError(t, err)

	var transform ObjectTransform = func(kv *KeyValuePair) *KeyValuePair {
		kv.Values[0] = kv.Values[0].(int64) * 10
		return kv
	}

	it, err := tbl.Range(1, 3, &RangeOpts{Transform: &transform})
	require.NoError(t, err)

	row, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, int64(10), row.Values[0])
}
