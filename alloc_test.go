package tdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlabAllocatorAllocGrowsAndZeroes(t *testing.T) {
	sa := newSlabAllocator()
	ref, buf, err := sa.alloc(0, 16)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
	require.Len(t, sa.slabs, 1)

	back, err := sa.translate(ref, 16)
	require.NoError(t, err)
	require.Equal(t, buf, back)
}

func TestSlabAllocatorRejectsNonMultipleOf8(t *testing.T) {
	sa := newSlabAllocator()
	_, _, err := sa.alloc(0, 15)
	require.Error(t, err)
}

func TestSlabAllocatorFreeListReuseAndCoalesce(t *testing.T) {
	sa := newSlabAllocator()
	a, abuf, err := sa.alloc(0, 64)
	require.NoError(t, err)
	b, bbuf, err := sa.alloc(0, 64)
	require.NoError(t, err)
	// free reads a block's size from its array header's capacity field.
	encodeHeader(abuf, false, false, false, wtypeBits, 0, 0, 64)
	encodeHeader(bbuf, false, false, false, wtypeBits, 0, 0, 64)

	sa.free(0, a, nil)
	sa.free(0, b, nil)

	// Both blocks coalesce with the rest of the 8192-byte first slab, whose
	// unused tail has been on the free list since the slab was created.
	require.Len(t, sa.freeList, 1)
	require.Equal(t, uint32(8192), sa.freeList[0].size)

	ref, buf, err := sa.alloc(0, 128)
	require.NoError(t, err)
	require.Equal(t, a, ref)
	require.Len(t, buf, 128)
	require.Len(t, sa.freeList, 1)
	require.Equal(t, uint32(8064), sa.freeList[0].size)
}

func TestSlabAllocatorFreeListSplitsLargerBlock(t *testing.T) {
	sa := newSlabAllocator()
	a, abuf, err := sa.alloc(0, 256)
	require.NoError(t, err)
	encodeHeader(abuf, false, false, false, wtypeBits, 0, 0, 256)
	sa.free(0, a, nil)

	ref, buf, err := sa.alloc(0, 64)
	require.NoError(t, err)
	require.Equal(t, a, ref)
	require.Len(t, buf, 64)
	require.Len(t, sa.freeList, 1)
	require.Equal(t, uint32(8128), sa.freeList[0].size)
}

func TestTxContextReallocCopiesPrefix(t *testing.T) {
	ctx := newTxContext(MMap{}, newSlabAllocator(), nil)
	ref, buf, err := ctx.alloc(16)
	require.NoError(t, err)
	copy(buf, []byte{1, 2, 3, 4})

	newRef, newBuf, err := ctx.realloc(ref, 16, 32, true)
	require.NoError(t, err)
	require.NotEqual(t, ref, newRef)
	require.Equal(t, []byte{1, 2, 3, 4}, newBuf[:4])
}

func TestTxContextReadOnlyRejectsAllocAndTranslate(t *testing.T) {
	ctx := newReadTxContext(MMap{}, nil)
	_, _, err := ctx.alloc(8)
	require.ErrorIs(t, err, ErrReadOnly)

	_, err = ctx.translate(0, 8)
	require.Error(t, err)
}

func TestTxContextNewRowFallsBackWithoutPool(t *testing.T) {
	ctx := newTxContext(MMap{}, newSlabAllocator(), nil)
	row := ctx.newRow()
	require.NotNil(t, row)
	ctx.releaseRow(row) // must not panic with a nil pool
}

func TestTxContextNewRowUsesPool(t *testing.T) {
	pool := newNodePool(4)
	ctx := newTxContext(MMap{}, newSlabAllocator(), pool)

	row := ctx.newRow()
	row.Key = 7
	ctx.releaseRow(row)
	require.Equal(t, int64(0), pool.inFlight())

	again := ctx.newRow()
	require.Equal(t, Key(0), again.Key) // put() clears fields before returning to the pool
}
