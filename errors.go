package tdb

import "errors"

// Kind classifies an Error into one of the semantic categories from the
// error handling design. Callers should match on Kind via errors.Is against
// the Err* sentinels below, never on the message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindCorruptedFile
	KindDecryptionFailed
	KindIO
	KindOutOfMemory
	KindDiskFull
	KindPermissionDenied
	KindFileNotFound
	KindWriteLocked
	KindKeyNotFound
	KindKeyAlreadyUsed
	KindNoSuchTable
	KindInvalidColumn
	KindStaleAccessor
	KindReadOnly
)

func (k Kind) String() string {
	switch k {
	case KindCorruptedFile:
		return "corrupted_file"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindIO:
		return "io_error"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindDiskFull:
		return "disk_full"
	case KindPermissionDenied:
		return "permission_denied"
	case KindFileNotFound:
		return "file_not_found"
	case KindWriteLocked:
		return "write_locked"
	case KindKeyNotFound:
		return "key_not_found"
	case KindKeyAlreadyUsed:
		return "key_already_used"
	case KindNoSuchTable:
		return "no_such_table"
	case KindInvalidColumn:
		return "invalid_column"
	case KindStaleAccessor:
		return "stale_accessor"
	case KindReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// Error is the error type returned at every tdb API boundary. It carries a
// Kind so callers can branch with errors.Is, a human message, and an
// optional wrapped cause from the underlying I/O or codec layer.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's Kind, so that
// errors.Is(err, ErrKeyNotFound) works regardless of message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinels for errors.Is comparisons. Only Kind is compared.
var (
	ErrCorruptedFile    = &Error{Kind: KindCorruptedFile}
	ErrDecryptionFailed = &Error{Kind: KindDecryptionFailed}
	ErrIO               = &Error{Kind: KindIO}
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
	ErrDiskFull         = &Error{Kind: KindDiskFull}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrFileNotFound     = &Error{Kind: KindFileNotFound}
	ErrWriteLocked      = &Error{Kind: KindWriteLocked}
	ErrKeyNotFound      = &Error{Kind: KindKeyNotFound}
	ErrKeyAlreadyUsed   = &Error{Kind: KindKeyAlreadyUsed}
	ErrNoSuchTable      = &Error{Kind: KindNoSuchTable}
	ErrInvalidColumn    = &Error{Kind: KindInvalidColumn}
	ErrStaleAccessor    = &Error{Kind: KindStaleAccessor}
	ErrReadOnly         = &Error{Kind: KindReadOnly}
)

// errIs is a small helper mirroring errors.Is but tolerant of nil.
func errIs(err error, target *Error) bool {
	return err != nil && errors.Is(err, target)
}
