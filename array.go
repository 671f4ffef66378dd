package tdb

import (
	"encoding/binary"
)

// array is the universal persistent primitive from spec.md §3/§4.D: a
// self-describing, 8-byte-header sequence of fixed-width integers or refs.
// It is copy-on-write on mutation when its ref lies in the baseline
// (read-only, mapped) zone, and its width auto-expands when a written
// value no longer fits.
type array struct {
	ctx *txContext
	ref Ref
	buf []byte // view over the array's allocation, len == capacity

	isInner  bool
	hasRefs  bool
	ctxFlag  bool
	wt       wtype
	widthExp byte
	size     uint32
	capacity uint32

	parent      *array
	parentIndex int
}

func decodeHeader(buf []byte) (isInner, hasRefs, ctxFlag bool, wt wtype, widthExp byte, size, capacity uint32) {
	b0 := buf[0]
	isInner = b0&flagIsInnerBPTreeNode != 0
	hasRefs = b0&flagHasRefs != 0
	ctxFlag = b0&flagContext != 0
	wt = wtype((b0 >> wtypeShift) & wtypeMask)
	widthExp = (b0 >> widthExpShift) & widthExpMask

	size = uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	capacity = uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6])
	return
}

func encodeHeader(buf []byte, isInner, hasRefs, ctxFlag bool, wt wtype, widthExp byte, size, capacity uint32) {
	var b0 byte
	if isInner {
		b0 |= flagIsInnerBPTreeNode
	}
	if hasRefs {
		b0 |= flagHasRefs
	}
	if ctxFlag {
		b0 |= flagContext
	}
	b0 |= byte(wt) << wtypeShift
	b0 |= (widthExp & widthExpMask) << widthExpShift

	buf[0] = b0
	buf[1] = byte(size >> 16)
	buf[2] = byte(size >> 8)
	buf[3] = byte(size)
	buf[4] = byte(capacity >> 16)
	buf[5] = byte(capacity >> 8)
	buf[6] = byte(capacity)
	buf[7] = 0
}

// payloadBytes returns the byte length needed to hold `size` elements at
// the given width/wtype, not including the header.
func payloadBytes(wt wtype, widthBits int, size uint32) uint32 {
	switch wt {
	case wtypeBits:
		bits := uint64(size) * uint64(widthBits)
		bytes := bits / 8
		if bits%8 != 0 {
			bytes++
		}
		return uint32(bytes)
	case wtypeMultiply:
		return size * uint32(widthBits/8)
	case wtypeIgnore:
		return size
	default:
		panic("tdb: invalid wtype")
	}
}

// roundCapacity pads a raw byte length to an 8-byte aligned allocation
// including the header, capped at the 16 MiB ceiling (spec.md §3).
func roundCapacity(payload uint32) (uint32, error) {
	total := payload + headerSize
	if rem := total % 8; rem != 0 {
		total += 8 - rem
	}
	if total > maxArrayCapacity {
		return 0, newErr(KindOutOfMemory, "array exceeds 16 MiB capacity ceiling", nil)
	}
	return total, nil
}

// bindArray loads an existing array accessor from ref.
func bindArray(ctx *txContext, ref Ref) (*array, error) {
	buf, err := ctx.translate(ref, headerSize)
	if err != nil {
		return nil, err
	}

	isInner, hasRefs, ctxFlag, wt, widthExp, size, capacity := decodeHeader(buf)
	if isInner && !hasRefs {
		return nil, newErr(KindCorruptedFile, "inner node without has_refs", nil)
	}
	if capacity == 0 || capacity%8 != 0 || capacity > maxArrayCapacity {
		return nil, newErr(KindCorruptedFile, "invalid array capacity in header", nil)
	}

	full, err := ctx.translate(ref, capacity)
	if err != nil {
		return nil, err
	}

	return &array{
		ctx: ctx, ref: ref, buf: full,
		isInner: isInner, hasRefs: hasRefs, ctxFlag: ctxFlag,
		wt: wt, widthExp: widthExp, size: size, capacity: capacity,
	}, nil
}

// createArray allocates and initializes a brand new array in the slab zone.
func createArray(ctx *txContext, isInner, hasRefs, ctxFlag bool, wt wtype, widthBits int, size uint32, initValue uint64) (*array, error) {
	payload := payloadBytes(wt, widthBits, size)
	capacity, err := roundCapacity(payload)
	if err != nil {
		return nil, err
	}

	ref, buf, err := ctx.alloc(capacity)
	if err != nil {
		return nil, err
	}

	widthExp := expForWidth(widthBits)
	encodeHeader(buf, isInner, hasRefs, ctxFlag, wt, widthExp, size, capacity)

	a := &array{
		ctx: ctx, ref: ref, buf: buf,
		isInner: isInner, hasRefs: hasRefs, ctxFlag: ctxFlag,
		wt: wt, widthExp: widthExp, size: size, capacity: capacity,
	}

	if initValue != 0 {
		for i := uint32(0); i < size; i++ {
			a.setRaw(int(i), initValue)
		}
	}

	return a, nil
}

func (a *array) width() int { return widthForExp(a.widthExp) }

func (a *array) Size() int { return int(a.size) }

func (a *array) setParent(p *array, index int) {
	a.parent = p
	a.parentIndex = index
}

// Get reads element i, tag intact (callers that know this is a has_refs
// array should use GetRef/GetTagged).
func (a *array) Get(i int) uint64 {
	if i < 0 || i >= int(a.size) {
		panic("tdb: array index out of range")
	}
	return a.getRaw(i)
}

func (a *array) getRaw(i int) uint64 {
	w := a.width()
	switch a.wt {
	case wtypeBits:
		return getBits(a.buf[headerSize:], i, w)
	case wtypeMultiply:
		return getBytesLE(a.buf[headerSize:], i, w/8)
	case wtypeIgnore:
		return uint64(a.buf[headerSize+i])
	default:
		panic("tdb: invalid wtype")
	}
}

func (a *array) setRaw(i int, v uint64) {
	w := a.width()
	switch a.wt {
	case wtypeBits:
		setBits(a.buf[headerSize:], i, w, v)
	case wtypeMultiply:
		setBytesLE(a.buf[headerSize:], i, w/8, v)
	case wtypeIgnore:
		a.buf[headerSize+i] = byte(v)
	default:
		panic("tdb: invalid wtype")
	}
}

// IsRef reports whether element i (of a has_refs array) is a ref as opposed
// to a tagged literal integer.
func (a *array) IsRef(i int) bool { return a.getRaw(i)&1 == 0 }

func (a *array) GetRef(i int) Ref { return Ref(a.getRaw(i)) }

func (a *array) GetTagged(i int) int64 { return int64(a.getRaw(i)) >> 1 }

func tagLiteral(v int64) uint64 { return uint64(v)<<1 | 1 }

// fitsWidth reports whether v can be represented exactly in widthBits
// bits.
func fitsWidth(v uint64, widthBits int) bool {
	if widthBits >= 64 {
		return true
	}
	return v>>uint(widthBits) == 0
}

// requiredWidth returns the smallest legal width that can hold v.
func requiredWidth(v uint64) int {
	for _, w := range []int{0, 1, 2, 4, 8, 16, 32, 64} {
		if fitsWidth(v, w) {
			return w
		}
	}
	return 64
}

// cow copies this array into fresh slab storage if its ref lies in the
// baseline zone, wiring the copy's parent pointer so the caller's mutation
// propagates upward (spec.md §4.D "Copy-on-write rule"). It returns the
// (possibly identical) writable array.
func (a *array) cow() (*array, error) {
	if a.ctx.isSlabZone(a.ref) {
		return a, nil
	}

	newRef, newBuf, err := a.ctx.alloc(a.capacity)
	if err != nil {
		return nil, err
	}
	copy(newBuf, a.buf)

	cp := &array{
		ctx: a.ctx, ref: newRef, buf: newBuf,
		isInner: a.isInner, hasRefs: a.hasRefs, ctxFlag: a.ctxFlag,
		wt: a.wt, widthExp: a.widthExp, size: a.size, capacity: a.capacity,
		parent: a.parent, parentIndex: a.parentIndex,
	}

	a.ctx.free(a.ref)

	if cp.parent != nil {
		if err := cp.parent.setChildRef(cp.parentIndex, newRef); err != nil {
			return nil, err
		}
	}

	return cp, nil
}

// setChildRef updates element index of a has_refs array to point at ref,
// copy-on-writing and recursing toward the root as needed.
func (a *array) setChildRef(index int, ref Ref) error {
	self, err := a.cow()
	if err != nil {
		return err
	}
	self.setRaw(index, uint64(ref))
	if self != a && a.parent == nil {
		// self replaced the top-level binding the caller holds; nothing
		// further to propagate here, the caller re-reads through self.
	}
	*a = *self
	return nil
}

// Set writes v at index i, copy-on-writing and widening as needed.
func (a *array) Set(i int, v uint64) error {
	self, err := a.cow()
	if err != nil {
		return err
	}
	*a = *self

	if !fitsWidth(v, a.width()) {
		if err := a.widen(requiredWidth(v)); err != nil {
			return err
		}
	}

	a.setRaw(i, v)
	return nil
}

// widen reallocates the array's payload at a wider packing, preserving all
// existing element values (spec.md §4.D "Width upgrade").
func (a *array) widen(newWidthBits int) error {
	if a.wt != wtypeBits {
		return nil // multiply/ignore arrays do not auto-widen
	}

	old := make([]uint64, a.size)
	for i := range old {
		old[i] = a.getRaw(i)
	}

	payload := payloadBytes(a.wt, newWidthBits, a.size)
	capacity, err := roundCapacity(payload)
	if err != nil {
		return err
	}

	newRef, newBuf, err := a.ctx.alloc(capacity)
	if err != nil {
		return err
	}

	widthExp := expForWidth(newWidthBits)
	encodeHeader(newBuf, a.isInner, a.hasRefs, a.ctxFlag, a.wt, widthExp, a.size, capacity)

	if !a.ctx.isSlabZone(a.ref) {
		// old storage is still the baseline copy; nothing to free here,
		// cow() already freed it when applicable. Widening a
		// freshly-cowed (slab-zone) array frees its previous slab block.
	} else {
		a.ctx.free(a.ref)
	}

	a.ref = newRef
	a.buf = newBuf
	a.widthExp = widthExp
	a.capacity = capacity

	for i, v := range old {
		a.setRaw(i, v)
	}

	if a.parent != nil {
		if err := a.parent.setChildRef(a.parentIndex, newRef); err != nil {
			return err
		}
	}

	return nil
}

// Insert grows the array by one element at index i, shifting the tail.
func (a *array) Insert(i int, v uint64) error {
	self, err := a.cow()
	if err != nil {
		return err
	}
	*a = *self

	needWidth := a.width()
	if !fitsWidth(v, needWidth) {
		needWidth = requiredWidth(v)
	}

	newSize := a.size + 1
	payload := payloadBytes(a.wt, widthForExp(a.widthExp), newSize)
	if needWidth > a.width() {
		payload = payloadBytes(a.wt, needWidth, newSize)
	}
	neededCap, err := roundCapacity(payload)
	if err != nil {
		return err
	}

	if neededCap > a.capacity || needWidth > a.width() {
		if err := a.growTo(neededCap, needWidth, newSize); err != nil {
			return err
		}
	} else {
		a.size = newSize
		buf := a.buf
		encodeHeader(buf, a.isInner, a.hasRefs, a.ctxFlag, a.wt, a.widthExp, a.size, a.capacity)
	}

	for j := int(a.size) - 1; j > i; j-- {
		a.setRaw(j, a.getRaw(j-1))
	}
	a.setRaw(i, v)

	return nil
}

// growTo reallocates to hold newSize elements at widthBits, preserving the
// existing (pre-insert) element values at their original indices.
func (a *array) growTo(minCapacity uint32, widthBits int, newSize uint32) error {
	old := make([]uint64, a.size)
	for i := range old {
		old[i] = a.getRaw(i)
	}

	payload := payloadBytes(a.wt, widthBits, newSize)
	capacity, err := roundCapacity(payload)
	if err != nil {
		return err
	}
	if capacity < minCapacity {
		capacity = minCapacity
	}

	newRef, newBuf, err := a.ctx.alloc(capacity)
	if err != nil {
		return err
	}

	widthExp := expForWidth(widthBits)
	encodeHeader(newBuf, a.isInner, a.hasRefs, a.ctxFlag, a.wt, widthExp, newSize, capacity)

	if a.ctx.isSlabZone(a.ref) {
		a.ctx.free(a.ref)
	}

	a.ref = newRef
	a.buf = newBuf
	a.widthExp = widthExp
	a.capacity = capacity
	a.size = newSize

	for i, v := range old {
		a.setRaw(i, v)
	}

	if a.parent != nil {
		if err := a.parent.setChildRef(a.parentIndex, newRef); err != nil {
			return err
		}
	}

	return nil
}

// Erase removes the element at index i, shrinking the array by one.
func (a *array) Erase(i int) error {
	self, err := a.cow()
	if err != nil {
		return err
	}
	*a = *self

	for j := i; j < int(a.size)-1; j++ {
		a.setRaw(j, a.getRaw(j+1))
	}

	a.size--
	encodeHeader(a.buf, a.isInner, a.hasRefs, a.ctxFlag, a.wt, a.widthExp, a.size, a.capacity)
	return nil
}

// Truncate shrinks the array to the first n elements.
func (a *array) Truncate(n int) error {
	self, err := a.cow()
	if err != nil {
		return err
	}
	*a = *self

	a.size = uint32(n)
	encodeHeader(a.buf, a.isInner, a.hasRefs, a.ctxFlag, a.wt, a.widthExp, a.size, a.capacity)
	return nil
}

// Append is shorthand for Insert at the end.
func (a *array) Append(v uint64) error { return a.Insert(int(a.size), v) }

// --- bit/byte packing helpers -------------------------------------------------

func getBits(data []byte, i, width int) uint64 {
	if width == 0 {
		return 0
	}
	bitPos := i * width
	bytePos := bitPos / 8
	bitOff := uint(bitPos % 8)

	need := bitOff + uint(width)
	nbytes := int((need + 7) / 8)

	var buf [9]byte
	copy(buf[:nbytes], data[bytePos:bytePos+nbytes])

	var v uint64
	for k := nbytes - 1; k >= 0; k-- {
		v = v<<8 | uint64(buf[k])
	}
	v >>= bitOff
	if width < 64 {
		v &= (uint64(1) << uint(width)) - 1
	}
	return v
}

func setBits(data []byte, i, width int, value uint64) {
	if width == 0 {
		return
	}
	bitPos := i * width
	bytePos := bitPos / 8
	bitOff := uint(bitPos % 8)

	need := bitOff + uint(width)
	nbytes := int((need + 7) / 8)

	var buf [9]byte
	copy(buf[:nbytes], data[bytePos:bytePos+nbytes])

	var cur uint64
	for k := nbytes - 1; k >= 0; k-- {
		cur = cur<<8 | uint64(buf[k])
	}

	var mask uint64
	if width < 64 {
		mask = ((uint64(1) << uint(width)) - 1) << bitOff
	} else {
		mask = ^uint64(0)
	}

	cur = (cur &^ mask) | ((value << bitOff) & mask)

	for k := 0; k < nbytes; k++ {
		buf[k] = byte(cur)
		cur >>= 8
	}

	copy(data[bytePos:bytePos+nbytes], buf[:nbytes])
}

func getBytesLE(data []byte, i, widthBytes int) uint64 {
	off := i * widthBytes
	switch widthBytes {
	case 1:
		return uint64(data[off])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data[off:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data[off:]))
	case 8:
		return binary.LittleEndian.Uint64(data[off:])
	default:
		panic("tdb: invalid byte width")
	}
}

func setBytesLE(data []byte, i, widthBytes int, v uint64) {
	off := i * widthBytes
	switch widthBytes {
	case 1:
		data[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(data[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(data[off:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(data[off:], v)
	default:
		panic("tdb: invalid byte width")
	}
}
