// Package hashhole computes digests over a byte stream as if specified
// ranges were replaced by zero bytes, without mutating the underlying
// source or buffering a masked copy of it.
//
// It is used on both the sign and verify paths of a MAR archive (§4.3):
// the whole file is streamed through a Masker — typically with
// io.Copy(masker, file) — with the signature-entry byte ranges as holes,
// feeding one or more hash.Hash instances identically to how the
// standard library composes io.Copy with a hash.Hash directly.
package hashhole

import (
	"hash"
)

// Range is a half-open byte range [Start, End) to mask to zero.
// Ranges must be supplied sorted ascending and non-overlapping (§4.3).
type Range struct {
	Start int64
	End   int64
}

// Masker is an io.Writer that forwards bytes to every attached hasher,
// substituting zero bytes for any position that falls within a Range.
// Ranges that extend past the end of the stream are naturally clipped
// since only the bytes actually written are ever masked; ranges fully
// before the current write cursor have no remaining effect.
type Masker struct {
	hashers []hash.Hash
	holes   []Range
	pos     int64
}

// New returns a Masker that masks holes and feeds the result to every
// hasher in hashers.
func New(holes []Range, hashers ...hash.Hash) *Masker {
	return &Masker{hashers: hashers, holes: holes}
}

// Write implements io.Writer. It always consumes all of p.
func (m *Masker) Write(p []byte) (int, error) {
	n := len(p)
	start := m.pos
	end := start + int64(n)

	var masked []byte
	for _, h := range m.holes {
		if h.End <= start || h.Start >= end {
			continue
		}
		if masked == nil {
			masked = append(masked, p...)
		}
		zs := h.Start - start
		if zs < 0 {
			zs = 0
		}
		ze := h.End - start
		if ze > int64(n) {
			ze = int64(n)
		}
		for i := zs; i < ze; i++ {
			masked[i] = 0
		}
	}

	data := p
	if masked != nil {
		data = masked
	}
	for _, h := range m.hashers {
		if _, err := h.Write(data); err != nil {
			return 0, err
		}
	}

	m.pos = end
	return n, nil
}
