package main

import (
	"errors"
	"io/fs"

	"github.com/mozilla-releng/build-mar/mar"
)

// exitCodeFor maps a library error to the §6 exit code table.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	var fe *mar.FormatError
	if errors.As(err, &fe) {
		return exitFormat
	}
	switch {
	case errors.Is(err, mar.ErrBadMagic),
		errors.Is(err, mar.ErrTruncatedFile),
		errors.Is(err, mar.ErrMalformedIndex),
		errors.Is(err, mar.ErrMalformedString),
		errors.Is(err, mar.ErrOffsetOutOfRange),
		errors.Is(err, mar.ErrIndexNotSorted),
		errors.Is(err, mar.ErrDuplicateName),
		errors.Is(err, mar.ErrCorruptCompressed),
		errors.Is(err, mar.ErrMemberTooLarge),
		errors.Is(err, mar.ErrSigningFailed):
		return exitFormat
	case errors.Is(err, mar.ErrFailedSignature):
		return exitVerifyFail
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return exitIO
	default:
		return exitIO
	}
}
