// Implementation note: like icza/mpq, structs here are read and written
// field-by-field with encoding/binary rather than via reflection-based
// struct (de)serialization, since every field is a fixed-width primitive
// or a bounded C-string and the fields must be assembled at offsets the
// higher layers compute themselves (see mar/writer.go).

package mar

import (
	"encoding/binary"
	"io"
)

// magic is the fixed 4-byte identifier at the start of every MAR file.
var magic = [4]byte{'M', 'A', 'R', '1'}

const (
	headerSize = 8 // magic (4) + indexOffset (4)

	// maxNameLen bounds the length of an index entry's name, including
	// its NUL terminator, per §4.1.
	maxNameLen = 256

	// maxProductInfoLen bounds each ProductInformation cstring field,
	// including its NUL terminator, per §3.
	maxProductInfoLen = 64

	// maxSignatures caps num_signatures per the §4.5 speculative-parse
	// heuristic and the §9 probe mitigation.
	maxSignatures = 8
)

// InfoType values for AdditionalEntry (§3).
const (
	InfoTypeProductInformation uint32 = 1
)

// header is the 8-byte fixed prefix of every MAR file.
type header struct {
	indexOffset uint32
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return header{}, newFormatError(ErrBadMagic, 0)
	}
	return header{indexOffset: binary.BigEndian.Uint32(buf[4:8])}, nil
}

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	copy(buf[0:4], magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.indexOffset)
	_, err := w.Write(buf[:])
	return err
}

// signatureEntry is one RSA signature slot (§3).
type signatureEntry struct {
	algorithmID uint32
	signature   []byte // length == signatureSize on the wire
}

func (e signatureEntry) encodedSize() int64 {
	return 4 + 4 + int64(len(e.signature))
}

func readSignatureEntry(r io.Reader, offset int64) (signatureEntry, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return signatureEntry{}, err
	}
	algo := binary.BigEndian.Uint32(hdr[0:4])
	size := binary.BigEndian.Uint32(hdr[4:8])
	sig := make([]byte, size)
	if _, err := io.ReadFull(r, sig); err != nil {
		return signatureEntry{}, newFormatError(ErrTruncatedFile, offset+8)
	}
	return signatureEntry{algorithmID: algo, signature: sig}, nil
}

func writeSignatureEntry(w io.Writer, e signatureEntry) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], e.algorithmID)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(e.signature)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(e.signature)
	return err
}

// signatureBlock is the optional block immediately following the header
// (§3, §4.5).
type signatureBlock struct {
	totalFileSize uint64
	entries       []signatureEntry
}

func (b signatureBlock) encodedSize() int64 {
	var n int64 = 8 + 4
	for _, e := range b.entries {
		n += e.encodedSize()
	}
	return n
}

func readSignatureBlock(r io.Reader, offset int64) (signatureBlock, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return signatureBlock{}, err
	}
	b := signatureBlock{
		totalFileSize: binary.BigEndian.Uint64(hdr[0:8]),
	}
	n := binary.BigEndian.Uint32(hdr[8:12])
	b.entries = make([]signatureEntry, 0, n)
	off := offset + 12
	for i := uint32(0); i < n; i++ {
		e, err := readSignatureEntry(r, off)
		if err != nil {
			return signatureBlock{}, err
		}
		off += e.encodedSize()
		b.entries = append(b.entries, e)
	}
	return b, nil
}

func writeSignatureBlock(w io.Writer, b signatureBlock) error {
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], b.totalFileSize)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b.entries)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, e := range b.entries {
		if err := writeSignatureEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

// additionalEntry is one typed record of the optional additional block
// (§3). payload holds the raw bytes after infoType; entrySize on the
// wire always equals len(payload)+8.
type additionalEntry struct {
	infoType uint32
	payload  []byte
}

func (e additionalEntry) encodedSize() int64 {
	return 4 + 4 + int64(len(e.payload))
}

func readAdditionalEntry(r io.Reader) (additionalEntry, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return additionalEntry{}, err
	}
	entrySize := binary.BigEndian.Uint32(hdr[0:4])
	infoType := binary.BigEndian.Uint32(hdr[4:8])
	if entrySize < 8 {
		return additionalEntry{}, ErrMalformedIndex
	}
	payload := make([]byte, entrySize-8)
	if _, err := io.ReadFull(r, payload); err != nil {
		return additionalEntry{}, err
	}
	return additionalEntry{infoType: infoType, payload: payload}, nil
}

func writeAdditionalEntry(w io.Writer, e additionalEntry) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(e.encodedSize()))
	binary.BigEndian.PutUint32(hdr[4:8], e.infoType)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(e.payload)
	return err
}

// additionalBlock is the optional metadata block (§3).
type additionalBlock struct {
	entries []additionalEntry
}

func (b additionalBlock) blockSize() uint32 {
	var n int64 = 4 + 4
	for _, e := range b.entries {
		n += e.encodedSize()
	}
	return uint32(n)
}

func readAdditionalBlock(r io.Reader) (additionalBlock, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return additionalBlock{}, err
	}
	_ = binary.BigEndian.Uint32(hdr[0:4]) // blockSize, validated by caller
	n := binary.BigEndian.Uint32(hdr[4:8])
	b := additionalBlock{entries: make([]additionalEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		e, err := readAdditionalEntry(r)
		if err != nil {
			return additionalBlock{}, err
		}
		b.entries = append(b.entries, e)
	}
	return b, nil
}

func writeAdditionalBlock(w io.Writer, b additionalBlock) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], b.blockSize())
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(b.entries)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, e := range b.entries {
		if err := writeAdditionalEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

// indexEntry describes one archive member (§3).
type indexEntry struct {
	offset uint32
	size   uint32
	mode   uint32
	name   string
}

func (e indexEntry) encodedSize() int64 {
	return 4 + 4 + 4 + int64(len(e.name)) + 1
}

func readIndexEntry(r io.Reader, offset int64) (indexEntry, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return indexEntry{}, io.EOF
		}
		return indexEntry{}, newFormatError(ErrMalformedIndex, offset)
	}
	e := indexEntry{
		offset: binary.BigEndian.Uint32(hdr[0:4]),
		size:   binary.BigEndian.Uint32(hdr[4:8]),
		mode:   binary.BigEndian.Uint32(hdr[8:12]),
	}
	name, err := readCString(r, maxNameLen)
	if err != nil {
		return indexEntry{}, newFormatError(ErrMalformedString, offset+12)
	}
	e.name = name
	return e, nil
}

func writeIndexEntry(w io.Writer, e indexEntry) error {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], e.offset)
	binary.BigEndian.PutUint32(hdr[4:8], e.size)
	binary.BigEndian.PutUint32(hdr[8:12], e.mode)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	return writeCString(w, e.name)
}

// indexBlock is the trailing listing of archive members (§3).
type indexBlock struct {
	entries []indexEntry
}

func (b indexBlock) indexSize() uint32 {
	var n int64
	for _, e := range b.entries {
		n += e.encodedSize()
	}
	return uint32(n)
}

func readIndexBlock(r io.Reader, offset int64) (indexBlock, error) {
	var sz [4]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return indexBlock{}, newFormatError(ErrTruncatedFile, offset)
	}
	indexSize := binary.BigEndian.Uint32(sz[:])

	lr := io.LimitReader(r, int64(indexSize))
	b := indexBlock{}
	pos := offset + 4
	for {
		e, err := readIndexEntry(lr, pos)
		if err == io.EOF {
			break
		}
		if err != nil {
			return indexBlock{}, err
		}
		pos += e.encodedSize()
		b.entries = append(b.entries, e)
	}
	return b, nil
}

func writeIndexBlock(w io.Writer, b indexBlock) error {
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], b.indexSize())
	if _, err := w.Write(sz[:]); err != nil {
		return err
	}
	for _, e := range b.entries {
		if err := writeIndexEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

// productInformation is the only known additional-entry payload (§3).
type productInformation struct {
	marChannelID   string
	productVersion string
}

func decodeProductInformation(payload []byte) (productInformation, error) {
	r := bytesReader(payload)
	channel, err := readCString(r, maxProductInfoLen)
	if err != nil {
		return productInformation{}, ErrMalformedString
	}
	version, err := readCString(r, maxProductInfoLen)
	if err != nil {
		return productInformation{}, ErrMalformedString
	}
	return productInformation{marChannelID: channel, productVersion: version}, nil
}

func encodeProductInformation(p productInformation) []byte {
	var buf []byte
	buf = append(buf, []byte(p.marChannelID)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(p.productVersion)...)
	buf = append(buf, 0)
	return buf
}
