package tdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCtx() *txContext {
	return newTxContext(MMap{}, newSlabAllocator(), nil)
}

func TestArrayInsertGetErase(t *testing.T) {
	ctx := newTestCtx()
	a, err := createArray(ctx, false, false, false, wtypeBits, 0, 0, 0)
	require.NoError(t, err)

	for i, v := range []uint64{10, 20, 30} {
		require.NoError(t, a.Insert(i, v))
	}
	require.Equal(t, 3, a.Size())
	require.Equal(t, uint64(10), a.Get(0))
	require.Equal(t, uint64(20), a.Get(1))
	require.Equal(t, uint64(30), a.Get(2))

	require.NoError(t, a.Erase(1))
	require.Equal(t, 2, a.Size())
	require.Equal(t, uint64(10), a.Get(0))
	require.Equal(t, uint64(30), a.Get(1))
}

func TestArrayWidensOnLargeValue(t *testing.T) {
	ctx := newTestCtx()
	a, err := createArray(ctx, false, false, false, wtypeBits, 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, a.Append(1))
	require.Equal(t, 1, a.width())

	require.NoError(t, a.Append(1<<40))
	require.Equal(t, uint64(1), a.Get(0))
	require.Equal(t, uint64(1<<40), a.Get(1))
}

func TestArrayTaggedLiteralRoundtrip(t *testing.T) {
	ctx := newTestCtx()
	a, err := createArray(ctx, false, true, false, wtypeBits, 64, 1, 0)
	require.NoError(t, err)

	require.NoError(t, a.Set(0, tagLiteral(-7)))
	require.Equal(t, int64(-7), a.GetTagged(0))
	require.False(t, a.IsRef(0))
}

func TestArrayRefSlotRoundtrip(t *testing.T) {
	ctx := newTestCtx()
	child, err := createArray(ctx, false, false, false, wtypeBits, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, child.Append(42))

	parent, err := createArray(ctx, false, true, false, wtypeBits, 64, 1, 0)
	require.NoError(t, err)
	require.NoError(t, parent.Set(0, uint64(child.ref)))
	child.setParent(parent, 0)

	require.True(t, parent.IsRef(0))
	require.Equal(t, child.ref, parent.GetRef(0))

	bound, err := bindArray(ctx, parent.GetRef(0))
	require.NoError(t, err)
	require.Equal(t, uint64(42), bound.Get(0))
}

func TestArrayCowOnBaselineMutation(t *testing.T) {
	baselineCtx := newTxContext(MMap{}, newSlabAllocator(), nil)
	a, err := createArray(baselineCtx, false, false, false, wtypeBits, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, a.Append(1))

	mapped := make(MMap, baselineCtx.alloc_.slabs[0].refEnd)
	copy(mapped, baselineCtx.alloc_.slabs[0].data)

	readCtx := newTxContext(mapped, newSlabAllocator(), nil)
	bound, err := bindArray(readCtx, a.ref)
	require.NoError(t, err)

	require.NoError(t, bound.Set(0, 99))
	require.NotEqual(t, a.ref, bound.ref)
	require.Equal(t, uint64(99), bound.Get(0))
}

func TestArrayTruncate(t *testing.T) {
	ctx := newTestCtx()
	a, err := createArray(ctx, false, false, false, wtypeBits, 0, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Append(uint64(i)))
	}
	require.NoError(t, a.Truncate(0))
	require.Equal(t, 0, a.Size())
}
