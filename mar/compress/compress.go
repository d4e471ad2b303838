// Package compress provides a uniform streaming read/write adapter over
// the compression codecs a MAR member payload may use: none, bzip2, or
// xz. The whole archive shares one codec (§4.2) — a codec is selected
// once for write, and on read it is auto-detected from the first bytes
// of each member's stream.
//
// Grounded on nabbar-golib's archive/compress package, which wires the
// same three-codec-plus-none shape to the same underlying libraries:
// the stdlib compress/bzip2 decoder paired with github.com/dsnet/compress/bzip2
// for encoding (the stdlib package is decode-only), and
// github.com/ulikunitz/xz for both directions of xz.
package compress

import (
	"bufio"
	"bytes"
	"io"
)

// Algorithm selects a MAR member compression codec (§3, §4.2).
type Algorithm uint8

const (
	None Algorithm = iota
	Bzip2
	XZ
)

func (a Algorithm) String() string {
	switch a {
	case Bzip2:
		return "bzip2"
	case XZ:
		return "xz"
	default:
		return "none"
	}
}

// header byte sequences used to auto-detect a codec on read (§4.2).
var (
	bzip2Magic = []byte{'B', 'Z', 'h'}
	xzMagic    = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

func (a Algorithm) detectHeader(peek []byte) bool {
	switch a {
	case Bzip2:
		return len(peek) >= 3 && bytes.Equal(peek[:3], bzip2Magic)
	case XZ:
		return len(peek) >= 6 && bytes.Equal(peek[:6], xzMagic)
	default:
		return false
	}
}

// Detect inspects the first bytes of r to choose a codec, then returns a
// decompressing reader for the whole stream. Detection exists only
// because the MAR container itself does not record the codec per file
// (§4.2); the same archive-wide choice applies to every member.
func Detect(r io.Reader) (Algorithm, io.ReadCloser, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return None, nil, err
	}

	var alg Algorithm
	switch {
	case Bzip2.detectHeader(peek):
		alg = Bzip2
	case XZ.detectHeader(peek):
		alg = XZ
	default:
		alg = None
	}

	rc, err := alg.Reader(br)
	if err != nil {
		return None, nil, err
	}
	return alg, rc, nil
}
