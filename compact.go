package tdb

// compact.go implements the maintenance operation that reclaims the free
// space commit.go's placement leaves behind: the bookkeeping arrays it
// always appends at end of file, and freed ranges no commit reused. Grounded
// on the teacher's Compact.go/CompactUtils.go: teacher likewise treats
// compaction as a distinct, explicitly user-invoked operation rather than
// something folded into every commit.
//
// Compaction runs in two phases. Phase one walks every array reachable
// from the current top ref (baseline and slab zone alike) and appends a
// dense copy of each one, in post order, to a fresh byte buffer; this
// becomes the new file body, installed with its own fresh top ref and a
// single header flip. Phase two is an ordinary write transaction against
// that now-fully-baseline file that truncates the free-list bookkeeping
// arrays to empty: every free range they described pointed into the old
// file's layout and has no meaning against the new one.
type compactor struct {
	ctx     *txContext
	out     []byte
	visited map[Ref]Ref
}

func newCompactor(ctx *txContext) *compactor {
	return &compactor{ctx: ctx, visited: make(map[Ref]Ref)}
}

// rewrite appends a dense copy of everything reachable from ref to
// c.out and returns ref's new, final offset. Unlike commit.go's dfsWrite,
// it does not stop at the baseline/slab boundary: compaction rewrites the
// whole graph, not just what one transaction touched.
func (c *compactor) rewrite(ref Ref) (Ref, error) {
	if ref == NullRef {
		return NullRef, nil
	}
	if final, ok := c.visited[ref]; ok {
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
			finalChild, err := c.rewrite(childRef)
			if err != nil {
				return 0, err
			}
			setBitsOrBytes(node, buf, i, uint64(finalChild))
		}
	}

	finalRef := Ref(len(c.out))
	c.out = append(c.out, buf...)
	c.visited[ref] = finalRef
	return finalRef, nil
}

// Compact rewrites the database file densely, discarding every range the
// running commit path has accumulated in the free list. It requires
// exclusive write access, same as a normal write transaction, and is safe
// to call on a database with no tables yet: phase one has nothing to
// rewrite, and phase two commits an empty group.
func (db *DB) Compact() error {
	if db.opts.ReadOnly {
		return ErrReadOnly
	}

	if err := db.compactPhaseOne(); err != nil {
		return err
	}

	wt, err := db.StartWrite()
	if err != nil {
		return err
	}

	if err := wt.dropFreeList(); err != nil {
		wt.Rollback()
		return err
	}

	return wt.Commit()
}

// dropFreeList truncates every free-list bookkeeping array to empty. Any
// entry it held described a byte range in the pre-compaction file layout
// and has no meaning against the freshly rewritten one.
func (wt *WriteTxn) dropFreeList() error {
	pos, err := wt.group.freePositions()
	if err != nil {
		return err
	}
	if err := pos.Truncate(0); err != nil {
		return err
	}

	lengths, err := wt.group.freeLengths()
	if err != nil {
		return err
	}
	if err := lengths.Truncate(0); err != nil {
		return err
	}

	if wt.group.hasFreeVersions() {
		versions, err := wt.group.freeVersions()
		if err != nil {
			return err
		}
		if err := versions.Truncate(0); err != nil {
			return err
		}
	}

	return nil
}

// compactPhaseOne performs the dense rewrite and installs it as the new
// file body under its own short exclusive section.
func (db *DB) compactPhaseOne() error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	db.readers.Lock()
	pinned := len(db.readerSet)
	db.readers.Unlock()
	if pinned > 0 {
		return newErr(KindWriteLocked, "compact requires no open read transactions: unlike a normal commit, it discards the mapping every open snapshot points into", nil)
	}

	if err := flock(db.mapper.file, true, true); err != nil {
		return err
	}
	defer funlock(db.mapper.file)

	header, err := db.readHeader()
	if err != nil {
		return err
	}
	topRef := header.currentTopRef()
	if topRef == NullRef {
		return nil
	}

	payload := db.payload()
	ctx := newTxContext(payload, newSlabAllocator(), db.pool)

	c := newCompactor(ctx)
	newTopRef, err := c.rewrite(topRef)
	if err != nil {
		return err
	}

	newHeader := newFileHeader()
	newHeader.writeNextTopRef(newTopRef)
	newHeader.flipSelector()

	full := make([]byte, fileHeaderSize+len(c.out))
	copy(full[fileHeaderSize:], c.out)
	copy(full[:fileHeaderSize], newHeader.serialize())

	if db.cryptor != nil {
		onDiskSize := fileHeaderSize + db.cryptor.encryptedSize(int64(len(c.out)))
		if err := db.mapper.file.Truncate(onDiskSize); err != nil {
			return translateTruncateErr(err)
		}
		if _, err := db.mapper.file.WriteAt(full[:fileHeaderSize], 0); err != nil {
			return newErr(KindIO, "write compacted file header", err)
		}
		if err := db.cryptor.encryptRegion(offsetFile{db.mapper.file, fileHeaderSize}, MMap(c.out), 0, uint64(len(c.out))); err != nil {
			return err
		}
		if err := db.mapper.file.Sync(); err != nil {
			return newErr(KindIO, "sync compacted database file", err)
		}
		db.data.Store(MMap(append([]byte(nil), c.out...)))
		return nil
	}

	if err := db.mapper.replaceContents(full); err != nil {
		return err
	}
	db.data.Store(MMap(db.mapper.mapped[fileHeaderSize:]))
	return nil
}
