package tdb

import "math"

// Column value codec: translates between a column's on-disk array
// representation and the Go value surfaced in a KeyValuePair. Numeric,
// bool and timestamp columns store their value directly, packed at the
// narrowest width the array upgrades to on write. String and binary
// columns store a ref to a small "blob" array (wtypeIgnore, one byte per
// element) per row, since row values are variable length and the leaf's
// column array only holds fixed-width/ref elements.

func decodeColumnValue(ctx *txContext, col *array, idx int, ct ColumnType) (any, error) {
	switch ct {
	case ColumnInt:
		return int64(col.Get(idx)), nil
	case ColumnBool:
		return col.Get(idx) != 0, nil
	case ColumnFloat:
		return math.Float32frombits(uint32(col.Get(idx))), nil
	case ColumnDouble:
		return math.Float64frombits(col.Get(idx)), nil
	case ColumnTimestamp:
		return int64(col.Get(idx)), nil
	case ColumnLink:
		return Ref(col.getRaw(idx)), nil
	case ColumnString, ColumnBinary:
		ref := col.GetRef(idx)
		if ref == NullRef {
			if ct == ColumnString {
				return "", nil
			}
			return []byte(nil), nil
		}
		blob, err := bindArray(ctx, ref)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, blob.Size())
		for i := range raw {
			raw[i] = byte(blob.getRaw(i))
		}
		if ct == ColumnString {
			return string(raw), nil
		}
		return raw, nil
	default:
		return nil, newErr(KindInvalidColumn, "unknown column type", nil)
	}
}

// encodeColumnValue writes value at idx, appending (insert) or overwriting
// (update) depending on insert.
func encodeColumnValue(ctx *txContext, col *array, idx int, ct ColumnType, value any, insert bool) error {
	write := col.Set
	if insert {
		write = func(i int, v uint64) error { return col.Insert(i, v) }
	}

	switch ct {
	case ColumnInt, ColumnTimestamp:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		return write(idx, uint64(v))

	case ColumnBool:
		b, ok := value.(bool)
		if !ok {
			return newErr(KindInvalidColumn, "expected bool value", nil)
		}
		v := uint64(0)
		if b {
			v = 1
		}
		return write(idx, v)

	case ColumnFloat:
		f, err := asFloat64(value)
		if err != nil {
			return err
		}
		return write(idx, uint64(math.Float32bits(float32(f))))

	case ColumnDouble:
		f, err := asFloat64(value)
		if err != nil {
			return err
		}
		return write(idx, math.Float64bits(f))

	case ColumnLink:
		switch v := value.(type) {
		case Ref:
			return write(idx, uint64(v))
		case nil:
			return write(idx, uint64(NullRef))
		default:
			return newErr(KindInvalidColumn, "expected Ref value for link column", nil)
		}

	case ColumnString, ColumnBinary:
		var raw []byte
		switch v := value.(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		case nil:
			raw = nil
		default:
			return newErr(KindInvalidColumn, "expected string/[]byte value", nil)
		}

		if len(raw) == 0 {
			return write(idx, uint64(NullRef))
		}

		blob, err := createArray(ctx, false, false, false, wtypeIgnore, 8, uint32(len(raw)), 0)
		if err != nil {
			return err
		}
		for i, b := range raw {
			blob.setRaw(i, uint64(b))
		}
		return write(idx, uint64(blob.ref))

	default:
		return newErr(KindInvalidColumn, "unknown column type", nil)
	}
}

// zeroValueFor returns the value AddColumn backfills into rows that existed
// before the column did.
func zeroValueFor(ct ColumnType) any {
	switch ct {
	case ColumnInt, ColumnTimestamp:
		return int64(0)
	case ColumnBool:
		return false
	case ColumnFloat:
		return float32(0)
	case ColumnDouble:
		return float64(0)
	case ColumnLink:
		return Ref(NullRef)
	case ColumnString:
		return ""
	case ColumnBinary:
		return []byte(nil)
	default:
		return nil
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	default:
		return 0, newErr(KindInvalidColumn, "expected integer value", nil)
	}
}

func asFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	default:
		return 0, newErr(KindInvalidColumn, "expected floating point value", nil)
	}
}
