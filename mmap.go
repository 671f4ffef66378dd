package tdb

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileMapper implements component A: it owns the OS file handle and the
// current mapping, and translates logical file offsets to addressable
// byte slices. Plain (unencrypted) databases map the file directly with
// MAP_SHARED so writes through the slice land in the file; encrypted
// databases are not mapped at all: DB keeps the decrypted payload in
// DB.data and pageCryptor.encryptRegion (crypto.go) re-encrypts it at
// commit.
type fileMapper struct {
	file     *os.File
	readOnly bool
	mapped   MMap // the real mmap; empty for encrypted databases
}

func openFileMapper(path string, mode AccessMode) (*fileMapper, error) {
	flag := os.O_RDWR | os.O_CREATE
	if mode == ReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, mapOpenErr(err)
	}

	return &fileMapper{file: f, readOnly: mode == ReadOnly}, nil
}

func mapOpenErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return newErr(KindFileNotFound, "open database file", err)
	case os.IsPermission(err):
		return newErr(KindPermissionDenied, "open database file", err)
	default:
		return newErr(KindIO, "open database file", err)
	}
}

func (fm *fileMapper) size() (int64, error) {
	st, err := fm.file.Stat()
	if err != nil {
		return 0, newErr(KindIO, "stat database file", err)
	}
	return st.Size(), nil
}

// mmapDirect memory-maps the file directly (the unencrypted path).
func (fm *fileMapper) mmapDirect() error {
	sz, err := fm.size()
	if err != nil {
		return err
	}
	if sz == 0 {
		fm.mapped = MMap{}
		return nil
	}

	prot := unix.PROT_READ
	if !fm.readOnly {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(fm.file.Fd()), 0, int(sz), prot, unix.MAP_SHARED)
	if err != nil {
		return newErr(KindIO, "mmap database file", err)
	}

	fm.mapped = MMap(data)
	return nil
}

func (fm *fileMapper) munmapDirect() error {
	if len(fm.mapped) == 0 {
		return nil
	}
	if err := unix.Munmap(fm.mapped); err != nil {
		return newErr(KindIO, "munmap database file", err)
	}
	fm.mapped = MMap{}
	return nil
}

// remapDirect grows the mapping, first extending and zero-filling the
// underlying file. On failure the previous mapping is left intact.
func (fm *fileMapper) remapDirect(newSize int64) error {
	prev := fm.mapped

	if err := fm.file.Truncate(newSize); err != nil {
		return translateTruncateErr(err)
	}

	if err := fm.mmapDirect(); err != nil {
		fm.mapped = prev
		return err
	}

	if len(prev) > 0 {
		if err := unix.Munmap(prev); err != nil {
			return newErr(KindIO, "munmap database file", err)
		}
	}

	return nil
}

// replaceContents discards the current mapping and lays full down as the
// entire file content, starting at offset 0, then remaps. Used only by
// Compact, which builds a brand new dense file image out-of-line before
// installing it.
func (fm *fileMapper) replaceContents(full []byte) error {
	if err := fm.munmapDirect(); err != nil {
		return err
	}
	if err := fm.file.Truncate(int64(len(full))); err != nil {
		return translateTruncateErr(err)
	}
	if _, err := fm.file.WriteAt(full, 0); err != nil {
		return newErr(KindIO, "write compacted database file", err)
	}
	if err := fm.file.Sync(); err != nil {
		return newErr(KindIO, "sync compacted database file", err)
	}
	return fm.mmapDirect()
}

func translateTruncateErr(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		if pe.Err == unix.ENOSPC {
			return newErr(KindDiskFull, "extend database file", err)
		}
	}
	return newErr(KindIO, "extend database file", err)
}

func (fm *fileMapper) msync(data MMap, startOffset, endOffset uint64) error {
	if len(data) == 0 {
		return nil
	}
	pageMask := uint64(DefaultPageSize - 1)
	alignedStart := startOffset &^ pageMask
	if endOffset > uint64(len(data)) {
		endOffset = uint64(len(data))
	}
	if alignedStart >= endOffset {
		return nil
	}
	if err := unix.Msync([]byte(data[alignedStart:endOffset]), unix.MS_SYNC); err != nil {
		return newErr(KindIO, "msync database file", err)
	}
	return nil
}

func (fm *fileMapper) close() error {
	var firstErr error
	if err := fm.munmapDirect(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fm.file.Sync(); err != nil && firstErr == nil {
		firstErr = newErr(KindIO, "sync database file", err)
	}
	if err := fm.file.Close(); err != nil && firstErr == nil {
		firstErr = newErr(KindIO, "close database file", err)
	}
	return firstErr
}

// flock is the advisory, cross-process lock used for writer exclusion
// (spec.md §5). blocking selects LOCK_EX (wait) vs LOCK_EX|LOCK_NB (fail
// immediately with write_locked).
func flock(f *os.File, exclusive, blocking bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if !blocking {
		how |= unix.LOCK_NB
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		if err == unix.EWOULDBLOCK {
			return newErr(KindWriteLocked, "acquire writer lock", err)
		}
		return newErr(KindIO, "flock database file", err)
	}
	return nil
}

func funlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return newErr(KindIO, "funlock database file", err)
	}
	return nil
}
