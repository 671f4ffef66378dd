package tdb

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Ref is the byte offset of an array's header inside the logical file (the
// baseline zone) or inside slab address space (the slab zone, for an
// in-flight write). NullRef means "no array".
type Ref uint64

const NullRef Ref = 0

// Key identifies an Object within a table's cluster tree. It is a 63-bit
// signed integer; NullKey is reserved and never assigned.
type Key int64

const NullKey Key = -1

// ColumnType enumerates the concrete value types a table column can hold.
// Nested subtables are deliberately absent: the source design documents
// them as an unbounded in-file leak and they are not supported here.
type ColumnType int

const (
	ColumnInt ColumnType = iota
	ColumnBool
	ColumnFloat
	ColumnDouble
	ColumnString
	ColumnBinary
	ColumnTimestamp
	ColumnLink
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt:
		return "int"
	case ColumnBool:
		return "bool"
	case ColumnFloat:
		return "float"
	case ColumnDouble:
		return "double"
	case ColumnString:
		return "string"
	case ColumnBinary:
		return "binary"
	case ColumnTimestamp:
		return "timestamp"
	case ColumnLink:
		return "link"
	default:
		return "unknown"
	}
}

// Array header layout (8 bytes), see SPEC_FULL.md / spec.md §3.
const (
	headerSize = 8

	flagIsInnerBPTreeNode = byte(1 << 0)
	flagHasRefs           = byte(1 << 1)
	flagContext           = byte(1 << 2)

	// bits 3-4 of byte 0: wtype
	wtypeShift = 3
	wtypeMask  = 0x3

	// bits 5-7 of byte 0: width_exp
	widthExpShift = 5
	widthExpMask  = 0x7
)

type wtype int

const (
	wtypeBits wtype = iota
	wtypeMultiply
	wtypeIgnore
)

// widthForExp maps the 3-bit width_exp field to an element width in bits,
// per spec.md §3: width = (1 << width_exp) >> 1.
func widthForExp(exp byte) int { return (1 << exp) >> 1 }

// expForWidth is the inverse of widthForExp, used when upgrading width.
func expForWidth(width int) byte {
	switch width {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 4:
		return 3
	case 8:
		return 4
	case 16:
		return 5
	case 32:
		return 6
	case 64:
		return 7
	default:
		panic("tdb: invalid array width")
	}
}

const maxArrayCapacity = 16 * 1024 * 1024 // 16 MiB, 24-bit capacity field ceiling

// Cluster tuning, fixed per the Open Questions resolution in SPEC_FULL.md.
const (
	ClusterCapacity = 256
	minLeafSizeBase = ClusterCapacity / 4
)

func minLeafSize() int {
	if minLeafSizeBase < 1 {
		return 1
	}
	return minLeafSizeBase
}

// File header: 24 bytes at offset 0. See spec.md §6.
const (
	fileHeaderSize  = 24
	formatStampText = "T-DB"
)

// Group top array slot indices, see spec.md §3 "Group / top array".
const (
	topTableNames    = 0
	topTables        = 1
	topFileSize      = 2
	topFreePositions = 3
	topFreeLengths   = 4
	topFreeVersions  = 5
	topTxNumber      = 6
	topArraySlots    = 7
)

// Table top array slot indices.
const (
	tableClusterRoot = 0
	tableColumnTypes = 1
	tableSize        = 2
	tableVersion     = 3
	tableArraySlots  = 4
)

// Leaf slot 0 is always the keys array; column c lives at slot c+1.
const leafKeysSlot = 0

// AccessMode controls how the file mapper opens the backing file.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

// Options configures Open. Filepath is the only required field.
type Options struct {
	// Filepath is the path to the database file. A sidecar lock file
	// ("<Filepath>.lock") is created alongside it.
	Filepath string

	// ReadOnly maps the file read-only; all write transactions fail.
	ReadOnly bool

	// IsShared marks the file as concurrently accessed by multiple
	// processes, enabling the reader-version-stamped free list (spec.md
	// §3 Group / top array, slots 5-6).
	IsShared bool

	// EncryptionKey, when non-nil, must be exactly 64 bytes and enables
	// the encrypted page layer (spec.md §4.B).
	EncryptionKey []byte

	// NodePoolSize is recorded on the KeyValuePair row pool; the pool does
	// not enforce it as a limit, and array accessors are not pooled. Zero
	// or a negative value selects 1024.
	NodePoolSize int64

	// CompactAtVersion is accepted but not read anywhere in the package;
	// compaction runs only when Compact is called.
	CompactAtVersion *uint64

	// Logger overrides the default structured logger. Nil selects a
	// console logger at info level.
	Logger *zerolog.Logger

	// MetricsRegisterer, when non-nil, receives the DB's prometheus
	// collectors. Nil disables metrics registration entirely.
	MetricsRegisterer prometheus.Registerer
}

const MaxCompactVersion = ^uint64(0) >> 1

// DefaultPageSize is the OS page size, used to page-align msync ranges.
// The encrypted layer uses its own fixed cryptoPageSize.
var DefaultPageSize = os.Getpagesize()

// MMap is the in-memory view of a mapped file region.
type MMap []byte

// DB owns the file mapper, the optional encrypted layer, the slab
// allocator substrate, and the writer-exclusion/version-tracking state
// for one database file. It implements component H (Transaction / DB).
type DB struct {
	opts Options
	log  zerolog.Logger

	mapper *fileMapper
	lock   *lockFile

	data atomic.Value // MMap

	cryptor *pageCryptor // nil unless Options.EncryptionKey is set

	isResizing   uint32
	resizeLock   sync.RWMutex
	signalResize chan struct{}
	signalFlush  chan struct{}

	opened atomic.Bool

	// writerMu serializes write transactions within this process; the
	// advisory file lock serializes them across processes.
	writerMu sync.Mutex

	// readers tracks versions currently pinned by open read snapshots so
	// the committer never reuses a free range a live reader might still
	// reach (spec.md §4.H "Reader pinning").
	readers   sync.Mutex
	readerSet map[*ReadTxn]uint64

	pool    *nodePool
	metrics *metricsSet

	nextTxSeq uint64
}

// MariOpTransform-equivalent: a transform applied to each object visited
// during iteration/range scans.
type ObjectTransform = func(obj *KeyValuePair) *KeyValuePair

// KeyValuePair is a denormalized snapshot of one row's key plus its column
// values as read by an iteration/range scan, decoupled from the live
// cluster tree so callers can hold it after the transaction closes.
type KeyValuePair struct {
	Key     Key
	Values  []any
	Version uint64
}

// RangeOpts configures Iterate/Range scans over a cluster tree.
type RangeOpts struct {
	MinVersion *uint64
	Transform  *ObjectTransform
}
