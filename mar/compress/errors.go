package compress

import "errors"

// Error conditions per §4.2.
var (
	ErrUnsupported = errors.New("compress: unsupported compression")
	ErrCorrupt     = errors.New("compress: corrupt compressed stream")
)
