package tdb

import "sort"

// commit.go implements component G, the group writer. It turns the
// in-memory (slab zone) mutations a write transaction accumulated into a
// durable, crash-consistent file state.
//
// Ordinary dirty nodes (tables, clusters, columns — everything reachable
// below the top array except the top array itself and the three free-list
// arrays) are placed by freePool.reserve: first-fit against the durable free
// list, gated by minPinnedVersion so a range a live reader might still
// reach is never handed out (spec.md §4.G reserve_free_space/
// extend_free_space). The top array and free_positions/free_lengths(/
// free_versions) are always appended at the current end of file instead of
// going through the pool: those arrays describe the free list, so placing
// them via the same pool they are about to rewrite is self-referential
// (spec's literal algorithm resolves this with a worst-case size bound and
// a split reservation; this engine sidesteps it by exempting the handful
// of small, fixed-shape bookkeeping arrays from reuse and only ever growing
// the file for them). See DESIGN.md.
//
// Durability hinges on a single step: the select-byte flip in the file
// header (fileHeader.flipSelector). Every byte written before that flip is
// reachable only from the *new* top ref, which is not yet live; a crash
// at any point before the flip leaves the previously committed state
// completely intact, including the bytes this transaction appended (they
// simply become unreachable garbage the next write transaction's free
// space accounting never references, since the old free-list arrays
// remain as they were).
type committer struct {
	ctx       *txContext
	endOfFile int64
	pool      *freePool
}

// fileForCommit (defined in db.go, alongside its two implementations)
// abstracts the byte sink a committer writes into: either the live mmap
// (unencrypted path) or the plaintext shadow buffer plus a deferred
// re-encrypt pass (encrypted path).

func newCommitter(ctx *txContext, oldSize int64) *committer {
	return &committer{ctx: ctx, endOfFile: oldSize}
}

// freePoolEntry is the committer's working copy of one durable free-list
// row, consumed (and split) as freePool.reserve places nodes.
type freePoolEntry struct {
	pos, length, version uint64
}

// freePool is loaded once per commit, after mergeFreeSpace/
// accountNewFreeSpace have settled the durable free list's content, and is
// flushed back at the end once every ordinary node has had a chance to
// draw from it.
type freePool struct {
	entries          []freePoolEntry
	versioned        bool
	minPinnedVersion uint64
}

// reserve first-fits size against eligible entries, splitting the match and
// returning the remainder to the pool. An entry is eligible when there is
// no version tracking at all, when there are no live readers
// (minPinnedVersion == 0), or when the entry's stamp is no newer than the
// oldest pinned reader — the same rule spec.md §4.G states for
// reserve_free_space.
func (p *freePool) reserve(size uint32) (Ref, bool) {
	for i, e := range p.entries {
		if e.length < uint64(size) {
			continue
		}
		eligible := !p.versioned || p.minPinnedVersion == 0 || e.version <= p.minPinnedVersion
		if !eligible {
			continue
		}
		ref := Ref(e.pos)
		if e.length == uint64(size) {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
		} else {
			p.entries[i] = freePoolEntry{pos: e.pos + uint64(size), length: e.length - uint64(size), version: e.version}
		}
		return ref, true
	}
	return 0, false
}

// loadFreePool snapshots the durable free list into a plain working copy.
// It must run after mergeFreeSpace/accountNewFreeSpace so the pool reflects
// every range eligible for this commit, including ranges this same
// transaction's own erases just freed.
func (c *committer) loadFreePool(g *group, minPinnedVersion uint64) (*freePool, error) {
	pos, err := g.freePositions()
	if err != nil {
		return nil, err
	}
	lengths, err := g.freeLengths()
	if err != nil {
		return nil, err
	}

	versioned := g.hasFreeVersions()
	var versions *array
	if versioned {
		versions, err = g.freeVersions()
		if err != nil {
			return nil, err
		}
	}

	n := pos.Size()
	entries := make([]freePoolEntry, n)
	for i := 0; i < n; i++ {
		e := freePoolEntry{pos: pos.Get(i), length: lengths.Get(i)}
		if versions != nil {
			e.version = versions.Get(i)
		}
		entries[i] = e
	}
	return &freePool{entries: entries, versioned: versioned, minPinnedVersion: minPinnedVersion}, nil
}

// flushPool rewrites pos/lengths/versions from the pool's final state,
// sorted by position to match the convention mergeFreeSpace relies on for
// the next commit's coalescing pass.
func (c *committer) flushPool(pos, lengths, versions *array) error {
	entries := append([]freePoolEntry(nil), c.pool.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	if err := pos.Truncate(0); err != nil {
		return err
	}
	if err := lengths.Truncate(0); err != nil {
		return err
	}
	if versions != nil {
		if err := versions.Truncate(0); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := pos.Append(e.pos); err != nil {
			return err
		}
		if err := lengths.Append(e.length); err != nil {
			return err
		}
		if versions != nil {
			if err := versions.Append(e.version); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendAtEOF serializes a's full backing buffer to the current end of
// file and advances it, unconditionally — the placement path reserved for
// the top array and the free-list arrays themselves (see package doc
// above).
func (c *committer) appendAtEOF(a *array, file fileForCommit) (Ref, error) {
	buf := make([]byte, len(a.buf))
	copy(buf, a.buf)

	finalRef := Ref(c.endOfFile)
	c.endOfFile += int64(len(buf))

	if err := file.writeAt(finalRef, buf); err != nil {
		return 0, err
	}
	return finalRef, nil
}

// commitGroup runs the write phases described above and returns the final
// baseline ref of the group's top array, ready to be installed in the file
// header's inactive slot.
func (c *committer) commitGroup(g *group, file fileForCommit, minPinnedVersion uint64) (Ref, error) {
	if err := c.mergeFreeSpace(g); err != nil {
		return 0, err
	}
	if err := c.accountNewFreeSpace(g); err != nil {
		return 0, err
	}
	if err := g.setTxNumber(g.txNumber() + 1); err != nil {
		return 0, err
	}

	posArr, err := g.freePositions()
	if err != nil {
		return 0, err
	}
	lenArr, err := g.freeLengths()
	if err != nil {
		return 0, err
	}
	var verArr *array
	if g.hasFreeVersions() {
		verArr, err = g.freeVersions()
		if err != nil {
			return 0, err
		}
	}

	pool, err := c.loadFreePool(g, minPinnedVersion)
	if err != nil {
		return 0, err
	}
	c.pool = pool

	exempt := map[Ref]bool{posArr.ref: true, lenArr.ref: true}
	if verArr != nil {
		exempt[verArr.ref] = true
	}

	top := g.top
	buf := make([]byte, len(top.buf))
	copy(buf, top.buf)

	skippedSlot := map[*array]int{}
	visited := make(map[Ref]Ref)

	for i := 0; i < int(top.size); i++ {
		raw := getBitsOrBytes(top, buf, i)
		if raw&1 != 0 {
			continue // tagged literal, not a ref
		}
		childRef := Ref(raw)
		if childRef == NullRef {
			continue
		}
		if exempt[childRef] {
			switch childRef {
			case posArr.ref:
				skippedSlot[posArr] = i
			case lenArr.ref:
				skippedSlot[lenArr] = i
			default:
				skippedSlot[verArr] = i
			}
			continue
		}
		finalChild, err := c.dfsWrite(childRef, file, visited)
		if err != nil {
			return 0, err
		}
		setBitsOrBytes(top, buf, i, uint64(finalChild))
	}

	// Every ordinary node's placement above has finished drawing from the
	// pool; its final state is what the durable free list must reflect.
	if err := c.flushPool(posArr, lenArr, verArr); err != nil {
		return 0, err
	}

	for a, slot := range skippedSlot {
		finalRef, err := c.appendAtEOF(a, file)
		if err != nil {
			return 0, err
		}
		setBitsOrBytes(top, buf, slot, uint64(finalRef))
	}

	finalTop, err := c.appendAtEOF(&array{buf: buf}, file)
	if err != nil {
		return 0, err
	}

	if err := file.extend(c.endOfFile); err != nil {
		return 0, err
	}

	return finalTop, nil
}

// mergeFreeSpace coalesces adjacent free ranges so the free list does not
// grow without bound across many small frees. Entries carrying different
// free-versions are never merged across each other: doing so would let a
// reader pinned to an older version's free-list view see an entry that
// looks safe to reuse before it actually is (spec.md §4.G "Merge free
// space respects reader pinning").
func (c *committer) mergeFreeSpace(g *group) error {
	pos, err := g.freePositions()
	if err != nil {
		return err
	}
	lengths, err := g.freeLengths()
	if err != nil {
		return err
	}

	var versions *array
	if g.hasFreeVersions() {
		versions, err = g.freeVersions()
		if err != nil {
			return err
		}
	}

	n := pos.Size()
	if n < 2 {
		return nil
	}

	type entry struct {
		pos, length uint64
		version     uint64
	}
	entries := make([]entry, n)
	for i := 0; i < n; i++ {
		e := entry{pos: pos.Get(i), length: lengths.Get(i)}
		if versions != nil {
			e.version = versions.Get(i)
		}
		entries[i] = e
	}

	sortEntriesByPos(entries)

	merged := entries[:1]
	for _, e := range entries[1:] {
		last := &merged[len(merged)-1]
		if last.pos+last.length == e.pos && last.version == e.version {
			last.length += e.length
		} else {
			merged = append(merged, e)
		}
	}

	if len(merged) == len(entries) {
		return nil
	}

	if err := pos.Truncate(0); err != nil {
		return err
	}
	if err := lengths.Truncate(0); err != nil {
		return err
	}
	if versions != nil {
		if err := versions.Truncate(0); err != nil {
			return err
		}
	}
	for _, e := range merged {
		if err := pos.Append(e.pos); err != nil {
			return err
		}
		if err := lengths.Append(e.length); err != nil {
			return err
		}
		if versions != nil {
			if err := versions.Append(e.version); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortEntriesByPos(entries []struct {
	pos, length uint64
	version     uint64
}) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].pos > entries[j].pos; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// accountNewFreeSpace folds this transaction's baseline-zone frees
// (collected by the allocator while the transaction ran) into the
// durable free list, stamped with the version this commit is about to
// become so a concurrent reader pinned to an older version is never
// handed a range it might still be reading (spec.md §4.H "Reader
// pinning").
func (c *committer) accountNewFreeSpace(g *group) error {
	pending := c.ctx.alloc_.pending
	if len(pending) == 0 {
		return nil
	}

	pos, err := g.freePositions()
	if err != nil {
		return err
	}
	lengths, err := g.freeLengths()
	if err != nil {
		return err
	}

	newVersion := g.txNumber() + 1

	var versions *array
	if g.hasFreeVersions() {
		versions, err = g.freeVersions()
		if err != nil {
			return err
		}
	}

	for _, pf := range pending {
		if err := pos.Append(uint64(pf.ref)); err != nil {
			return err
		}
		if err := lengths.Append(uint64(pf.size)); err != nil {
			return err
		}
		if versions != nil {
			if err := versions.Append(newVersion); err != nil {
				return err
			}
		}
	}

	c.ctx.alloc_.pending = nil
	return nil
}

// dfsWrite assigns every slab-zone node reachable from ref a final
// baseline offset — drawn from c.pool when an eligible free range fits,
// otherwise appended at the current end of file — and writes it out,
// patching any refs it holds to slab-zone children to their own final
// offsets first (post-order, so a parent is never written before its
// children's final addresses are known). Refs already in the baseline zone
// are left untouched: they were not modified this transaction.
func (c *committer) dfsWrite(ref Ref, file fileForCommit, visited map[Ref]Ref) (Ref, error) {
	if !c.ctx.isSlabZone(ref) {
		return ref, nil
	}
	if final, ok := visited[ref]; ok {
		return final, nil
	}

	node, err := bindArray(c.ctx, ref)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, len(node.buf))
	copy(buf, node.buf)

	if node.hasRefs {
		for i := 0; i < int(node.size); i++ {
			raw := getBitsOrBytes(node, buf, i)
			if raw&1 != 0 {
				continue // tagged literal, not a ref
			}
			childRef := Ref(raw)
			if childRef == NullRef {
				continue
			}
			finalChild, err := c.dfsWrite(childRef, file, visited)
			if err != nil {
				return 0, err
			}
			setBitsOrBytes(node, buf, i, uint64(finalChild))
		}
	}

	var finalRef Ref
	if reused, ok := c.pool.reserve(uint32(len(buf))); ok {
		finalRef = reused
	} else {
		finalRef = Ref(c.endOfFile)
		c.endOfFile += int64(len(buf))
	}

	if err := file.writeAt(finalRef, buf); err != nil {
		return 0, err
	}

	visited[ref] = finalRef
	return finalRef, nil
}

// getBitsOrBytes/setBitsOrBytes read/patch element i of node's *copied*
// buffer (not node.buf directly, since patched child refs must not be
// written back into the live slab-zone array other code in this
// transaction might still be mutating).
func getBitsOrBytes(node *array, buf []byte, i int) uint64 {
	w := node.width()
	switch node.wt {
	case wtypeBits:
		return getBits(buf[headerSize:], i, w)
	case wtypeMultiply:
		return getBytesLE(buf[headerSize:], i, w/8)
	default:
		return uint64(buf[headerSize+i])
	}
}

func setBitsOrBytes(node *array, buf []byte, i int, v uint64) {
	w := node.width()
	switch node.wt {
	case wtypeBits:
		setBits(buf[headerSize:], i, w, v)
	case wtypeMultiply:
		setBytesLE(buf[headerSize:], i, w/8, v)
	default:
		buf[headerSize+i] = byte(v)
	}
}
