package tdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileMapperMmapDirectEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tdb")
	fm, err := openFileMapper(path, ReadWrite)
	require.NoError(t, err)
	defer fm.close()

	require.NoError(t, fm.mmapDirect())
	require.Equal(t, 0, len(fm.mapped))
}

func TestFileMapperRemapDirectGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.tdb")
	fm, err := openFileMapper(path, ReadWrite)
	require.NoError(t, err)
	defer fm.close()

	require.NoError(t, fm.remapDirect(4096))
	require.Equal(t, 4096, len(fm.mapped))

	fm.mapped[0] = 0xAB
	require.NoError(t, fm.remapDirect(8192))
	require.Equal(t, 8192, len(fm.mapped))
	require.Equal(t, byte(0xAB), fm.mapped[0])
}

func TestFileMapperReplaceContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replace.tdb")
	fm, err := openFileMapper(path, ReadWrite)
	require.NoError(t, err)
	defer fm.close()

	require.NoError(t, fm.remapDirect(4096))
	full := make([]byte, 128)
	for i := range full {
		full[i] = byte(i)
	}
	require.NoError(t, fm.replaceContents(full))
	require.Equal(t, 128, len(fm.mapped))
	require.Equal(t, full, []byte(fm.mapped))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(128), st.Size())
}

func TestFlockExclusiveBlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.tdb")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	require.NoError(t, err)
	defer f.Close()

	g, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, flock(f, true, true))
	defer funlock(f)

	err = flock(g, true, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWriteLocked)
}

func TestOpenFileMapperMissingReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.tdb")
	_, err := openFileMapper(path, ReadOnly)
	require.ErrorIs(t, err, ErrFileNotFound)
}
