package tdb

import (
	"encoding/binary"
	"os"

	"github.com/google/uuid"
)

// lockFile is the sidecar "<path>.lock" that records which process last
// started a write transaction (spec.md §5, §6 "Persisted state"). Layout:
// 8 bytes PID (little-endian) + 16 bytes instance UUID, rewritten by claim
// on every StartWrite. Writer exclusion itself comes from the flock that
// StartWrite takes on the database file, not on this file; nothing in the
// package reads the payload back to decide whether a previous writer is
// still alive.
type lockFile struct {
	file *os.File
	id   uuid.UUID
}

func openLockFile(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, mapOpenErr(err)
	}
	return &lockFile{file: f, id: uuid.New()}, nil
}

// claim records this process's identity in the lock file. Call only after
// successfully acquiring the flock, so the write itself is never
// contended.
func (lf *lockFile) claim() error {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[:8], uint64(os.Getpid()))
	copy(buf[8:], lf.id[:])

	if _, err := lf.file.WriteAt(buf, 0); err != nil {
		return newErr(KindIO, "write lock file", err)
	}
	return lf.file.Sync()
}

// holder reads back the PID/UUID currently recorded, for diagnostics. It
// does not indicate liveness, and no caller in the package uses it.
func (lf *lockFile) holder() (pid uint64, id uuid.UUID, err error) {
	buf := make([]byte, 24)
	n, readErr := lf.file.ReadAt(buf, 0)
	if readErr != nil && n < 24 {
		return 0, uuid.Nil, nil
	}
	pid = binary.LittleEndian.Uint64(buf[:8])
	copy(id[:], buf[8:])
	return pid, id, nil
}

func (lf *lockFile) close() error {
	return lf.file.Close()
}
