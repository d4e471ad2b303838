package mar

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fatal, no-partial-result conditions of §7.
// Mirrors the icza/mpq convention of package-level sentinel errors,
// generalized with Go 1.13+ wrapping so callers can errors.Is/As.
var (
	ErrBadMagic             = errors.New("mar: bad magic")
	ErrTruncatedFile        = errors.New("mar: truncated file")
	ErrMalformedIndex       = errors.New("mar: malformed index")
	ErrMalformedString      = errors.New("mar: malformed string")
	ErrOffsetOutOfRange     = errors.New("mar: offset out of range")
	ErrIndexNotSorted       = errors.New("mar: index not sorted")
	ErrDuplicateName        = errors.New("mar: duplicate name")
	ErrNameTooLong          = errors.New("mar: name too long")
	ErrUnsupportedCompressd = errors.New("mar: unsupported compression")
	ErrCorruptCompressed    = errors.New("mar: corrupt compressed stream")
	ErrFailedSignature      = errors.New("mar: signature verification failed")
	ErrMemberTooLarge       = errors.New("mar: member too large")
	ErrSigningFailed        = errors.New("mar: signing failed")
)

// FormatError wraps one of the sentinel errors above with the byte
// offset in the archive at which the violation was detected, per §7's
// "each carrying a position where meaningful".
type FormatError struct {
	Kind   error
	Offset int64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v (at offset %d)", e.Kind, e.Offset)
}

func (e *FormatError) Unwrap() error {
	return e.Kind
}

func newFormatError(kind error, offset int64) *FormatError {
	return &FormatError{Kind: kind, Offset: offset}
}
