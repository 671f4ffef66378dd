package tdb

import "encoding/binary"

// Little-endian primitive (de)serialization helpers, the same shape the
// teacher's Serialize.go uses for its metadata block, retargeted at the
// dual-header file layout (component G).

func putU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func getU64LE(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }

func putU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func getU32LE(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

// fileHeader is the fixed 24-byte block at offset 0 of every database
// file. It never moves and is never part of the COW graph: its select
// byte is the single bit whose flip makes a commit durable (spec.md §4.G
// "Flip the select byte").
//
// Layout per spec.md §6 "File format": offset 0..7 top_ref_0, offset
// 8..15 top_ref_1, offset 16..22 a 7-byte format stamp (ASCII "T-DB"
// followed by 3 reserved bytes), offset 23 the select byte.
type fileHeader struct {
	selectByte byte
	topRefA    Ref
	topRefB    Ref
}

func (h *fileHeader) currentTopRef() Ref {
	if h.selectByte == 0 {
		return h.topRefA
	}
	return h.topRefB
}

// writeNextTopRef stores newTop in the *inactive* slot, leaving
// currentTopRef() unchanged until flipSelector is called. This is what
// lets a crash between this write and the flip leave the file exactly as
// it was before the commit (spec.md Invariant "a crash before the select
// byte flips is equivalent to the transaction never having happened").
func (h *fileHeader) writeNextTopRef(newTop Ref) {
	if h.selectByte == 0 {
		h.topRefB = newTop
	} else {
		h.topRefA = newTop
	}
}

func (h *fileHeader) flipSelector() {
	h.selectByte ^= 1
}

func (h *fileHeader) serialize() []byte {
	buf := make([]byte, fileHeaderSize)
	putU64LE(buf[0:8], uint64(h.topRefA))
	putU64LE(buf[8:16], uint64(h.topRefB))
	copy(buf[16:20], formatStampText)
	buf[23] = h.selectByte
	return buf
}

func parseFileHeader(buf []byte) (*fileHeader, error) {
	if len(buf) < fileHeaderSize {
		return nil, newErr(KindCorruptedFile, "file header truncated", nil)
	}
	if string(buf[16:20]) != formatStampText {
		return nil, newErr(KindCorruptedFile, "bad file format stamp", nil)
	}
	return &fileHeader{
		selectByte: buf[23],
		topRefA:    Ref(getU64LE(buf[0:8])),
		topRefB:    Ref(getU64LE(buf[8:16])),
	}, nil
}

func newFileHeader() *fileHeader {
	return &fileHeader{selectByte: 0, topRefA: NullRef, topRefB: NullRef}
}
