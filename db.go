package tdb

import (
	"os"
	"time"
)

// offsetFile shifts every ReadAt/WriteAt by base bytes, letting pageCryptor
// address the ciphertext region without knowing the plaintext file header
// sits in front of it.
type offsetFile struct {
	f    *os.File
	base int64
}

func (o offsetFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, o.base+off) }
func (o offsetFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, o.base+off) }

// Open opens (creating if necessary) the database file at opts.Filepath
// per component H. The returned DB is safe for concurrent use by multiple
// goroutines: reads never block on each other or on a writer, and at most
// one write transaction runs at a time within this process (and, via an
// exclusive flock on the database file itself, across processes).
func Open(opts Options) (*DB, error) {
	if opts.Filepath == "" {
		return nil, newErr(KindIO, "Options.Filepath is required", nil)
	}

	mode := ReadWrite
	if opts.ReadOnly {
		mode = ReadOnly
	}

	fm, err := openFileMapper(opts.Filepath, mode)
	if err != nil {
		return nil, err
	}

	lock, err := openLockFile(opts.Filepath + ".lock")
	if err != nil {
		fm.close()
		return nil, err
	}

	db := &DB{
		opts:         opts,
		log:          resolveLogger(opts),
		mapper:       fm,
		lock:         lock,
		signalResize: make(chan struct{}, 1),
		signalFlush:  make(chan struct{}, 1),
		readerSet:    make(map[*ReadTxn]uint64),
		pool:         newNodePool(opts.NodePoolSize),
	}

	if opts.MetricsRegisterer != nil {
		db.metrics = newMetricsSet(opts.MetricsRegisterer, "tdb")
	}

	if len(opts.EncryptionKey) > 0 {
		cryptor, err := newPageCryptor(opts.EncryptionKey)
		if err != nil {
			fm.close()
			lock.close()
			return nil, err
		}
		db.cryptor = cryptor
	}

	if err := db.bootstrap(); err != nil {
		fm.close()
		lock.close()
		return nil, err
	}

	db.opened.Store(true)
	go db.backgroundLoop()

	return db, nil
}

// bootstrap establishes the initial in-memory view: either loading an
// existing file's header and payload, or laying down a fresh header for a
// brand new file. db.data always holds the *payload* view: bytes starting
// immediately after the fixed 24-byte file header, so every Ref in the
// rest of this package is payload-relative regardless of encryption mode.
func (db *DB) bootstrap() error {
	fm := db.mapper

	size, err := fm.size()
	if err != nil {
		return err
	}

	if size == 0 {
		header := newFileHeader()
		if err := fm.file.Truncate(fileHeaderSize); err != nil {
			return translateTruncateErr(err)
		}
		if _, err := fm.file.WriteAt(header.serialize(), 0); err != nil {
			return newErr(KindIO, "write initial file header", err)
		}
		if err := fm.file.Sync(); err != nil {
			return newErr(KindIO, "sync initial file header", err)
		}
		size = fileHeaderSize
	}

	headerBuf := make([]byte, fileHeaderSize)
	if _, err := fm.file.ReadAt(headerBuf, 0); err != nil {
		return newErr(KindIO, "read file header", err)
	}
	if _, err := parseFileHeader(headerBuf); err != nil {
		return err
	}

	if db.cryptor != nil {
		logicalSize := (size - fileHeaderSize) / cryptoOnDiskPage * cryptoPageSize
		payload, err := db.cryptor.decryptAll(offsetFile{fm.file, fileHeaderSize}, logicalSize)
		if err != nil {
			return err
		}
		db.data.Store(payload)
	} else {
		if err := fm.mmapDirect(); err != nil {
			return err
		}
		if len(fm.mapped) < fileHeaderSize {
			return newErr(KindCorruptedFile, "file shorter than header", nil)
		}
		db.data.Store(MMap(fm.mapped[fileHeaderSize:]))
	}

	return nil
}

func (db *DB) readHeader() (*fileHeader, error) {
	headerBuf := make([]byte, fileHeaderSize)
	if _, err := db.mapper.file.ReadAt(headerBuf, 0); err != nil {
		return nil, newErr(KindIO, "read file header", err)
	}
	return parseFileHeader(headerBuf)
}

func (db *DB) payload() MMap { return db.data.Load().(MMap) }

// backgroundLoop mirrors the teacher's habit of running resize/flush work
// off a dedicated goroutine; any error is logged, never dropped silently,
// replacing Mari.go's fmt.Println calls.
func (db *DB) backgroundLoop() {
	for db.opened.Load() {
		select {
		case <-db.signalFlush:
			if err := db.mapper.file.Sync(); err != nil {
				db.log.Error().Err(err).Msg("background flush failed")
			}
		case <-time.After(time.Second):
		}
	}
}

// Close waits for any in-flight write transaction to finish, flushes, and
// releases the file and lock handles.
func (db *DB) Close() error {
	db.opened.Store(false)
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	err := db.mapper.close()
	if lerr := db.lock.close(); lerr != nil && err == nil {
		err = newErr(KindIO, "close lock file", lerr)
	}
	return err
}

// --- read transactions -------------------------------------------------

// ReadTxn is a point-in-time snapshot: it never blocks a writer and is
// unaffected by transactions committed after it started.
type ReadTxn struct {
	db      *DB
	ctx     *txContext
	group   *group
	version uint64
}

func (db *DB) StartRead() (*ReadTxn, error) {
	payload := db.payload()

	header, err := db.readHeader()
	if err != nil {
		return nil, err
	}

	ctx := newReadTxContext(payload, db.pool)
	rt := &ReadTxn{db: db, ctx: ctx}

	if header.currentTopRef() != NullRef {
		g, err := bindGroup(ctx, header.currentTopRef())
		if err != nil {
			return nil, err
		}
		rt.group = g
		rt.version = g.txNumber()
	}

	db.readers.Lock()
	db.readerSet[rt] = rt.version
	n := len(db.readerSet)
	db.readers.Unlock()
	db.metrics.setActiveReaders(n)

	return rt, nil
}

func (rt *ReadTxn) Close() error {
	rt.db.readers.Lock()
	delete(rt.db.readerSet, rt)
	n := len(rt.db.readerSet)
	rt.db.readers.Unlock()
	rt.db.metrics.setActiveReaders(n)
	return nil
}

func (rt *ReadTxn) HasTable(name string) (bool, error) {
	if rt.group == nil {
		return false, nil
	}
	return rt.group.hasTable(name)
}

func (rt *ReadTxn) GetTable(name string) (*table, error) {
	if rt.group == nil {
		return nil, ErrNoSuchTable
	}
	return rt.group.getTable(name)
}

func (rt *ReadTxn) TableCount() (int, error) {
	if rt.group == nil {
		return 0, nil
	}
	return rt.group.tableCount()
}

// TableNames lists every table currently registered, in registry order.
func (rt *ReadTxn) TableNames() ([]string, error) {
	if rt.group == nil {
		return nil, nil
	}
	n, err := rt.group.tableCount()
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i], err = rt.group.tableName(i)
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Version reports the transaction number this snapshot is pinned to.
func (rt *ReadTxn) Version() uint64 { return rt.version }

// --- write transactions -------------------------------------------------

// WriteTxn is the single, serialized writer. Every mutation it makes is
// invisible to concurrent readers (who keep seeing the snapshot they
// started with) until Commit succeeds.
type WriteTxn struct {
	db      *DB
	ctx     *txContext
	group   *group
	oldSize int64 // payload length (bytes) when this transaction started
	header  *fileHeader
	done    bool
}

func (db *DB) StartWrite() (*WriteTxn, error) {
	if db.opts.ReadOnly {
		return nil, ErrReadOnly
	}

	db.writerMu.Lock()
	if err := flock(db.mapper.file, true, true); err != nil {
		db.writerMu.Unlock()
		return nil, err
	}
	if err := db.lock.claim(); err != nil {
		funlock(db.mapper.file)
		db.writerMu.Unlock()
		return nil, err
	}

	payload := db.payload()

	header, err := db.readHeader()
	if err != nil {
		funlock(db.mapper.file)
		db.writerMu.Unlock()
		return nil, err
	}

	ctx := newTxContext(payload, newSlabAllocator(), db.pool)

	var g *group
	if header.currentTopRef() == NullRef {
		g, err = createGroup(ctx, db.opts.IsShared)
	} else {
		g, err = bindGroup(ctx, header.currentTopRef())
	}
	if err != nil {
		funlock(db.mapper.file)
		db.writerMu.Unlock()
		return nil, err
	}

	return &WriteTxn{
		db:      db,
		ctx:     ctx,
		group:   g,
		oldSize: int64(len(payload)),
		header:  header,
	}, nil
}

func (wt *WriteTxn) release() {
	if wt.done {
		return
	}
	wt.done = true
	funlock(wt.db.mapper.file)
	wt.db.writerMu.Unlock()
}

func (wt *WriteTxn) HasTable(name string) (bool, error) { return wt.group.hasTable(name) }

func (wt *WriteTxn) GetTable(name string) (*table, error) { return wt.group.getTable(name) }

func (wt *WriteTxn) CreateTable(name string, columns []ColumnType) (*table, error) {
	return wt.group.addTable(name, columns)
}

// Rollback discards every mutation made through this transaction. Nothing
// written to the slab zone was ever made reachable from the file header,
// so releasing the writer lock without committing is sufficient: there is
// no on-disk state to undo.
func (wt *WriteTxn) Rollback() error {
	wt.release()
	return nil
}

// fileForCommit abstracts the byte sink a committer writes into: either
// the live mmap (unencrypted path, grown on demand) or an in-memory
// plaintext buffer that gets encrypted as a whole once the graph write
// finishes (encrypted path).
type fileForCommit interface {
	writeAt(ref Ref, buf []byte) error
	extend(newSize int64) error
}

type mmapFileForCommit struct{ db *DB }

func (m *mmapFileForCommit) writeAt(ref Ref, buf []byte) error {
	needed := fileHeaderSize + int64(ref) + int64(len(buf))
	if needed > int64(len(m.db.mapper.mapped)) {
		if err := m.db.mapper.remapDirect(needed); err != nil {
			return err
		}
	}
	copy(m.db.mapper.mapped[fileHeaderSize+int64(ref):], buf)
	return nil
}

func (m *mmapFileForCommit) extend(newSize int64) error {
	needed := fileHeaderSize + newSize
	if needed > int64(len(m.db.mapper.mapped)) {
		return m.db.mapper.remapDirect(needed)
	}
	return nil
}

type bufferFileForCommit struct{ buf *[]byte }

func (b *bufferFileForCommit) writeAt(ref Ref, buf []byte) error {
	needed := int64(ref) + int64(len(buf))
	if needed > int64(len(*b.buf)) {
		grown := make([]byte, needed)
		copy(grown, *b.buf)
		*b.buf = grown
	}
	copy((*b.buf)[ref:], buf)
	return nil
}

func (b *bufferFileForCommit) extend(newSize int64) error {
	if newSize > int64(len(*b.buf)) {
		grown := make([]byte, newSize)
		copy(grown, *b.buf)
		*b.buf = grown
	}
	return nil
}

// Commit durably installs this transaction's changes, following the
// algorithm in commit.go, and finishes with the single atomic step that
// makes it visible: flipping the file header's select byte.
func (wt *WriteTxn) Commit() error {
	defer wt.release()

	start := time.Now()
	minPinned := wt.db.minPinnedReaderVersion()

	var fileImpl fileForCommit
	var plainBuf []byte

	if wt.db.cryptor != nil {
		plainBuf = make([]byte, len(wt.ctx.mapped))
		copy(plainBuf, wt.ctx.mapped)
		fileImpl = &bufferFileForCommit{buf: &plainBuf}
	} else {
		fileImpl = &mmapFileForCommit{db: wt.db}
	}

	if err := wt.group.setFileSize(wt.oldSize); err != nil {
		return err
	}

	committer := newCommitter(wt.ctx, wt.oldSize)
	finalTopRef, err := committer.commitGroup(wt.group, fileImpl, minPinned)
	if err != nil {
		return err
	}

	newLogicalSize := committer.endOfFile

	var freeBytes, slabBytes int64
	for _, e := range committer.pool.entries {
		freeBytes += int64(e.length)
	}
	for _, s := range wt.ctx.alloc_.slabs {
		slabBytes += int64(len(s.data))
	}
	wt.db.metrics.setFreeListBytes(freeBytes)
	wt.db.metrics.setSlabBytesInUse(slabBytes)

	if wt.db.cryptor != nil {
		if err := wt.db.cryptor.encryptRegion(offsetFile{wt.db.mapper.file, fileHeaderSize}, MMap(plainBuf), 0, uint64(len(plainBuf))); err != nil {
			return err
		}
		if err := wt.db.mapper.file.Sync(); err != nil {
			return newErr(KindIO, "sync encrypted payload", err)
		}
		wt.db.data.Store(MMap(plainBuf))
	} else {
		if err := wt.db.mapper.msync(wt.db.mapper.mapped, uint64(fileHeaderSize+wt.oldSize), uint64(fileHeaderSize+newLogicalSize)); err != nil {
			return err
		}
		wt.db.data.Store(MMap(wt.db.mapper.mapped[fileHeaderSize:]))
	}

	// The select byte flip below is the sole durability boundary (spec.md
	// §4.G): everything written above is unreachable from the currently
	// active top ref until this write lands, so a crash at any earlier
	// point leaves the file exactly as the last successful commit left it.
	wt.header.writeNextTopRef(finalTopRef)
	wt.header.flipSelector()
	if _, err := wt.db.mapper.file.WriteAt(wt.header.serialize(), 0); err != nil {
		wt.db.log.Error().Err(err).Msg("commit: write file header failed")
		return newErr(KindIO, "write file header", err)
	}
	if err := wt.db.mapper.file.Sync(); err != nil {
		wt.db.log.Error().Err(err).Msg("commit: sync file header failed")
		return newErr(KindIO, "sync file header", err)
	}

	wt.db.metrics.observeCommit(time.Since(start).Seconds(), newLogicalSize-wt.oldSize)

	return nil
}

// minPinnedReaderVersion returns the oldest version any open ReadTxn is
// still pinned to, or zero if there are no readers.
func (db *DB) minPinnedReaderVersion() uint64 {
	db.readers.Lock()
	defer db.readers.Unlock()

	var min uint64
	first := true
	for _, v := range db.readerSet {
		if first || v < min {
			min = v
			first = false
		}
	}
	return min
}
