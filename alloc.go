package tdb

import "sort"

// txContext is the allocation/translation substrate handed to every array
// during one transaction (spec.md §4.C). It stitches together the baseline
// zone (the read-only snapshot mapped or decrypted at transaction start)
// and the slab zone (in-process heap growth for everything the transaction
// writes), mirroring the split the teacher's Mari.go draws between the
// mapped file and nodePool-backed working set.
type txContext struct {
	baseline Ref // first ref address belonging to the slab zone
	mapped   MMap
	readOnly bool

	alloc_ *slabAllocator
	pool   *nodePool // nil is fine; every accessor nil-checks before use
}

func newTxContext(mapped MMap, alloc *slabAllocator, pool *nodePool) *txContext {
	return &txContext{baseline: Ref(len(mapped)), mapped: mapped, alloc_: alloc, pool: pool}
}

func newReadTxContext(mapped MMap, pool *nodePool) *txContext {
	return &txContext{baseline: Ref(len(mapped)), mapped: mapped, readOnly: true, pool: pool}
}

// newRow allocates a KeyValuePair from the pool when one is available,
// falling back to a plain allocation otherwise (e.g. in tests that build a
// txContext directly).
func (ctx *txContext) newRow() *KeyValuePair {
	if ctx.pool != nil {
		return ctx.pool.get()
	}
	return &KeyValuePair{}
}

// releaseRow returns row to the pool. Only call this on a KeyValuePair that
// is guaranteed not to escape to a caller outside the current function: a
// pooled object may be handed back out and mutated by an unrelated accessor
// at any point after this call.
func (ctx *txContext) releaseRow(row *KeyValuePair) {
	if ctx.pool != nil {
		ctx.pool.put(row)
	}
}

func (ctx *txContext) isSlabZone(ref Ref) bool { return ref >= ctx.baseline }

func (ctx *txContext) translate(ref Ref, length uint32) ([]byte, error) {
	if ref < ctx.baseline {
		end := uint64(ref) + uint64(length)
		if end > uint64(len(ctx.mapped)) {
			return nil, newErr(KindCorruptedFile, "ref out of baseline bounds", nil)
		}
		return ctx.mapped[ref:end], nil
	}
	if ctx.readOnly {
		return nil, ErrReadOnly
	}
	return ctx.alloc_.translate(ref, length)
}

func (ctx *txContext) alloc(size uint32) (Ref, []byte, error) {
	if ctx.readOnly {
		return 0, nil, ErrReadOnly
	}
	return ctx.alloc_.alloc(ctx.baseline, size)
}

func (ctx *txContext) free(ref Ref) {
	if ctx.readOnly {
		return
	}
	ctx.alloc_.free(ctx.baseline, ref, ctx.mapped)
}

// slab is one in-process heap growth chunk of the slab zone.
type slab struct {
	refBegin Ref
	refEnd   Ref // exclusive
	data     []byte
}

// freeBlock is one entry in the slab zone's in-memory free list, coalesced
// by adjacency on every free.
type freeBlock struct {
	ref  Ref
	size uint32
}

// pendingFree is a baseline-zone allocation released during this
// transaction. The committer (commit.go), not the allocator, decides when
// it becomes safe to reuse: not before every reader pinned to an older
// version has moved on (spec.md §4.C "Free space accounting").
type pendingFree struct {
	ref  Ref
	size uint32
}

// slabAllocator implements component C. One instance is created per write
// transaction over a given baseline snapshot; its slabs and slab-zone free
// list are discarded when the transaction ends. Only the baseline-zone
// ranges recorded in pending are folded into the committed free-list
// arrays on commit (see commit.go accountNewFreeSpace).
type slabAllocator struct {
	slabs        []*slab
	freeList     []freeBlock
	pending      []pendingFree
	lastSlabSize int
}

func newSlabAllocator() *slabAllocator {
	return &slabAllocator{lastSlabSize: 4096}
}

const minSlabSize = 256

// translate resolves a slab-zone ref to its backing bytes.
func (sa *slabAllocator) translate(ref Ref, length uint32) ([]byte, error) {
	i := sort.Search(len(sa.slabs), func(i int) bool { return sa.slabs[i].refEnd > ref })
	if i == len(sa.slabs) {
		return nil, newErr(KindCorruptedFile, "ref not resolvable in slab zone", nil)
	}
	s := sa.slabs[i]
	if ref < s.refBegin {
		return nil, newErr(KindCorruptedFile, "ref not resolvable in slab zone", nil)
	}
	off := uint64(ref - s.refBegin)
	end := off + uint64(length)
	if end > uint64(len(s.data)) {
		return nil, newErr(KindCorruptedFile, "ref extent exceeds slab bounds", nil)
	}
	return s.data[off:end], nil
}

// alloc returns a fresh, zeroed block of exactly size bytes in the slab
// zone: first-fit against the free list, else grown from a new slab sized
// at double the previous slab (floored at minSlabSize), per spec.md §4.C.
func (sa *slabAllocator) alloc(baseline Ref, size uint32) (Ref, []byte, error) {
	if size == 0 || size%8 != 0 {
		return 0, nil, newErr(KindCorruptedFile, "allocation size must be a non-zero multiple of 8", nil)
	}

	for i, fb := range sa.freeList {
		if fb.size == size {
			sa.freeList = append(sa.freeList[:i], sa.freeList[i+1:]...)
			buf, err := sa.translate(fb.ref, size)
			if err != nil {
				return 0, nil, err
			}
			zero(buf)
			return fb.ref, buf, nil
		}
		if fb.size > size {
			rem := fb.size - size
			sa.freeList[i] = freeBlock{ref: fb.ref + Ref(size), size: rem}
			buf, err := sa.translate(fb.ref, size)
			if err != nil {
				return 0, nil, err
			}
			zero(buf)
			return fb.ref, buf, nil
		}
	}

	slabSize := sa.lastSlabSize * 2
	if slabSize < minSlabSize {
		slabSize = minSlabSize
	}
	if uint32(slabSize) < size {
		slabSize = int(size)
	}
	sa.lastSlabSize = slabSize

	refBegin := baseline
	if len(sa.slabs) > 0 {
		refBegin = sa.slabs[len(sa.slabs)-1].refEnd
	}

	s := &slab{refBegin: refBegin, refEnd: refBegin + Ref(slabSize), data: make([]byte, slabSize)}
	sa.slabs = append(sa.slabs, s)

	if uint32(slabSize) > size {
		sa.freeList = append(sa.freeList, freeBlock{ref: refBegin + Ref(size), size: uint32(slabSize) - size})
	}

	return refBegin, s.data[:size], nil
}

// free releases ref. A slab-zone ref returns to the in-memory free list
// (coalesced with adjacent blocks); a baseline-zone ref is recorded as
// pending, to be folded into the durable free-list arrays at commit once
// no pinned reader can still reach it.
func (sa *slabAllocator) free(baseline Ref, ref Ref, mapped MMap) {
	if ref >= baseline {
		size := sa.capacityOf(ref)
		sa.freeList = append(sa.freeList, freeBlock{ref: ref, size: size})
		sa.coalesce()
		return
	}

	size := capacityFromHeader(mapped[ref:])
	sa.pending = append(sa.pending, pendingFree{ref: ref, size: size})
}

func (sa *slabAllocator) capacityOf(ref Ref) uint32 {
	i := sort.Search(len(sa.slabs), func(i int) bool { return sa.slabs[i].refEnd > ref })
	if i == len(sa.slabs) {
		return 0
	}
	s := sa.slabs[i]
	off := ref - s.refBegin
	return capacityFromHeader(s.data[off:])
}

func capacityFromHeader(buf []byte) uint32 {
	_, _, _, _, _, _, capacity := decodeHeader(buf)
	return capacity
}

// slabIndexOf returns the index into sa.slabs of the slab containing ref.
func (sa *slabAllocator) slabIndexOf(ref Ref) int {
	return sort.Search(len(sa.slabs), func(i int) bool { return sa.slabs[i].refEnd > ref })
}

// coalesce merges adjacent free blocks, sorted by ref. It never merges
// across a slab boundary: slabs are allocated back to back in ref space
// (alloc's refBegin/refEnd), so a freed tail of one slab can be ref-adjacent
// to a freed head of the next, but they are two separate backing buffers —
// merging them would produce an entry translate() cannot resolve as one
// contiguous slice. It is O(n log n) per call; the slab zone free list is
// bounded by one write transaction's working set, so this is not on the hot
// path for large scans.
func (sa *slabAllocator) coalesce() {
	if len(sa.freeList) < 2 {
		return
	}
	sort.Slice(sa.freeList, func(i, j int) bool { return sa.freeList[i].ref < sa.freeList[j].ref })

	merged := sa.freeList[:1]
	for _, fb := range sa.freeList[1:] {
		last := &merged[len(merged)-1]
		sameSlab := sa.slabIndexOf(last.ref) == sa.slabIndexOf(fb.ref)
		if sameSlab && last.ref+Ref(last.size) == fb.ref {
			last.size += fb.size
		} else {
			merged = append(merged, fb)
		}
	}
	sa.freeList = merged
}

// realloc always allocates fresh and optionally copies the overlapping
// prefix, matching the "no true in-place growth" rule spec.md §4.C derives
// from the baseline zone being immutable.
func (ctx *txContext) realloc(ref Ref, oldSize, newSize uint32, doCopy bool) (Ref, []byte, error) {
	newRef, newBuf, err := ctx.alloc(newSize)
	if err != nil {
		return 0, nil, err
	}
	if doCopy {
		old, err := ctx.translate(ref, oldSize)
		if err != nil {
			return 0, nil, err
		}
		n := oldSize
		if newSize < n {
			n = newSize
		}
		copy(newBuf[:n], old[:n])
	}
	ctx.free(ref)
	return newRef, newBuf, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
