package compress

import (
	"compress/bzip2"
	"fmt"
	"io"

	dsnetbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// nopWriteCloser adapts a plain io.Writer (the None codec's passthrough
// case) to io.WriteCloser.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// corruptMappingReader maps a wrapped reader's I/O errors to ErrCorrupt,
// since both bzip2.StructuralError and xz's internal format errors
// surface at Read time rather than at construction.
type corruptMappingReader struct {
	r io.Reader
}

func (c corruptMappingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, err
}

// Reader returns a decompressing read stream over r for the given
// codec. The stdlib compress/bzip2 decoder is decode-only, which is why
// bzip2 pairs a stdlib reader with a third-party writer below (§4.2).
func (a Algorithm) Reader(r io.Reader) (io.ReadCloser, error) {
	switch a {
	case Bzip2:
		return io.NopCloser(corruptMappingReader{bzip2.NewReader(r)}), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return io.NopCloser(corruptMappingReader{xr}), nil
	default:
		return io.NopCloser(r), nil
	}
}

// Writer returns a compressing write stream over w for the given codec.
// Closing the returned writer flushes the compressed trailer but does
// not close w.
func (a Algorithm) Writer(w io.Writer) (io.WriteCloser, error) {
	switch a {
	case Bzip2:
		return dsnetbzip2.NewWriter(w, nil)
	case XZ:
		return xz.NewWriter(w)
	default:
		return nopWriteCloser{w}, nil
	}
}
