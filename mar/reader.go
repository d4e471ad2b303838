// Implementation note: the open/close lifecycle here mirrors icza/mpq's
// NewFromFile/New/Close pair — an optional backing *os.File plus the
// io.ReadSeeker actually used for parsing, so callers can build a
// Reader from an in-memory buffer via bytes.NewReader just as easily as
// from disk.

package mar

import (
	"crypto/rsa"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/mozilla-releng/build-mar/mar/compress"
	"github.com/mozilla-releng/build-mar/mar/hashhole"
	"github.com/mozilla-releng/build-mar/mar/sign"
)

// Entry describes one archive member as reported by List (§3).
type Entry struct {
	Name   string
	Offset uint32
	Size   uint32 // compressed size stored in the archive
	Mode   uint32 // POSIX mode bits; only the low 9 bits are meaningful on extract
}

// ProductInfo is the decoded ProductInformation additional entry (§3).
type ProductInfo struct {
	Channel string
	Version string
}

// VerifyOutcome is the result category of Reader.Verify (§4.5, §7).
type VerifyOutcome int

const (
	NoSignatures VerifyOutcome = iota
	Verified
	FailedSignature
	UnknownSignatureAlgorithm
)

func (o VerifyOutcome) String() string {
	switch o {
	case NoSignatures:
		return "no signatures"
	case Verified:
		return "verified"
	case FailedSignature:
		return "failed signature"
	case UnknownSignatureAlgorithm:
		return "unknown signature algorithm"
	default:
		return "unknown"
	}
}

// VerifyResult is the outcome of a verify call. Index is only meaningful
// for FailedSignature and UnknownSignatureAlgorithm; Count is only
// meaningful for Verified.
type VerifyResult struct {
	Outcome VerifyOutcome
	Count   int
	Index   int
}

// Err converts a VerifyResult to an error. Only FailedSignature is an
// error at the API level per §7 — NoSignatures and
// UnknownSignatureAlgorithm are return values callers decide about.
// Err returns nil for Verified and NoSignatures, and a non-nil error for
// FailedSignature and UnknownSignatureAlgorithm, since the CLI's -v mode
// needs a nonzero exit for a signed archive that does not verify.
func (r VerifyResult) Err() error {
	switch r.Outcome {
	case Verified:
		return nil
	case NoSignatures:
		return nil
	case FailedSignature:
		return fmt.Errorf("%w: slot %d", ErrFailedSignature, r.Index)
	case UnknownSignatureAlgorithm:
		return fmt.Errorf("mar: unknown signature algorithm at slot %d", r.Index)
	default:
		return fmt.Errorf("mar: unexpected verify outcome")
	}
}

// KeyPolicy controls how multiple candidate keys for one algorithm are
// treated when an archive declares a signature for that algorithm
// (§4.4). It does not relax the requirement that every declared
// signature slot must verify for the archive as a whole to verify.
type KeyPolicy int

const (
	// AnyKeyMatches accepts a slot if any supplied candidate key for
	// its algorithm verifies it. Models key rotation: old and new keys
	// are both supplied, either may be the one that signed.
	AnyKeyMatches KeyPolicy = iota
	// RequireAllKeys accepts a slot only if every supplied candidate
	// key for its algorithm verifies it.
	RequireAllKeys
)

// Reader parses a MAR archive from a seekable source (§4.5).
type Reader struct {
	file *os.File
	src  io.ReadSeeker

	header   header
	index    indexBlock
	sigBlock *signatureBlock
	addl     *additionalBlock
	fileSize int64
}

// OpenFile opens a MAR archive from a file path. The returned Reader
// must be closed with Close.
func OpenFile(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	r, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// Open parses a MAR archive from src, eagerly parsing the header and
// index, and speculatively parsing the signature/additional blocks
// (§4.5). The returned Reader must be closed with Close.
func Open(src io.ReadSeeker) (*Reader, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	h, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	if h.indexOffset < headerSize {
		return nil, newFormatError(ErrMalformedIndex, 4)
	}

	fileSize, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if int64(h.indexOffset) > fileSize {
		return nil, newFormatError(ErrOffsetOutOfRange, 4)
	}

	if _, err := src.Seek(int64(h.indexOffset), io.SeekStart); err != nil {
		return nil, err
	}
	idx, err := readIndexBlock(src, int64(h.indexOffset))
	if err != nil {
		return nil, err
	}
	if err := validateIndex(idx, h.indexOffset); err != nil {
		return nil, err
	}

	r := &Reader{src: src, header: h, index: idx, fileSize: fileSize}

	firstPayload := int64(h.indexOffset)
	if len(idx.entries) > 0 {
		firstPayload = int64(idx.entries[0].offset)
	}

	if _, err := src.Seek(headerSize, io.SeekStart); err != nil {
		return nil, err
	}
	if sb, ok := tryParseSignatureBlock(src, fileSize); ok {
		r.sigBlock = &sb
		addlOffset := int64(headerSize) + sb.encodedSize()
		if _, err := src.Seek(addlOffset, io.SeekStart); err == nil {
			if ab, ok := tryParseAdditionalBlock(src, addlOffset, firstPayload); ok {
				r.addl = &ab
			}
		}
	} else if _, err := src.Seek(headerSize, io.SeekStart); err == nil {
		if ab, ok := tryParseAdditionalBlock(src, headerSize, firstPayload); ok {
			r.addl = &ab
		}
	}

	return r, nil
}

func validateIndex(idx indexBlock, indexOffset uint32) error {
	seen := make(map[string]bool, len(idx.entries))
	var prevOffset uint32
	for i, e := range idx.entries {
		if seen[e.name] {
			return newFormatError(ErrDuplicateName, int64(e.offset))
		}
		seen[e.name] = true

		if i > 0 && e.offset <= prevOffset {
			return newFormatError(ErrIndexNotSorted, int64(e.offset))
		}
		prevOffset = e.offset

		if uint64(e.offset)+uint64(e.size) > uint64(indexOffset) {
			return newFormatError(ErrOffsetOutOfRange, int64(e.offset))
		}
	}
	return nil
}

// tryParseSignatureBlock implements the §4.5/§9 probe: tentatively read
// the would-be signature block header and accept the interpretation
// only if total_file_size matches the true file length exactly and
// num_signatures is within bounds.
func tryParseSignatureBlock(r io.ReadSeeker, fileSize int64) (signatureBlock, bool) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return signatureBlock{}, false
	}
	totalFileSize := beUint64(hdr[0:8])
	numSignatures := beUint32(hdr[8:12])
	if int64(totalFileSize) != fileSize || numSignatures > maxSignatures {
		return signatureBlock{}, false
	}
	if _, err := r.Seek(headerSize, io.SeekStart); err != nil {
		return signatureBlock{}, false
	}
	sb, err := readSignatureBlock(r, headerSize)
	if err != nil {
		return signatureBlock{}, false
	}
	return sb, true
}

// tryParseAdditionalBlock implements the analogous probe for the
// additional block: it must be self-consistent and fit entirely before
// limit (the first payload offset), since the format does not tag which
// optional block (if either) comes first (§9).
func tryParseAdditionalBlock(r io.ReadSeeker, offset, limit int64) (additionalBlock, bool) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return additionalBlock{}, false
	}
	blockSize := beUint32(hdr[0:4])
	if blockSize < 8 || offset+int64(blockSize) > limit {
		return additionalBlock{}, false
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return additionalBlock{}, false
	}
	ab, err := readAdditionalBlock(r)
	if err != nil {
		return additionalBlock{}, false
	}
	if ab.blockSize() != blockSize {
		return additionalBlock{}, false
	}
	return ab, true
}

// List returns the parsed index entries in their original (offset)
// order (§4.5).
func (r *Reader) List() []Entry {
	out := make([]Entry, len(r.index.entries))
	for i, e := range r.index.entries {
		out[i] = Entry{Name: e.name, Offset: e.offset, Size: e.size, Mode: e.mode}
	}
	return out
}

func (r *Reader) findEntry(name string) (indexEntry, bool) {
	for _, e := range r.index.entries {
		if e.name == name {
			return e, true
		}
	}
	return indexEntry{}, false
}

// ExtractOptions controls how Reader.ExtractFile materializes a member
// on disk.
type ExtractOptions struct {
	// ApplyMode chmods the extracted file to the entry's low 9 mode
	// bits after creation. DefaultExtractOptions sets it to true; the
	// process umask still applies to the initial os.Create.
	ApplyMode bool
}

// DefaultExtractOptions matches the §4.5 default: apply the low 9 bits,
// honoring umask on creation.
var DefaultExtractOptions = ExtractOptions{ApplyMode: true}

// Extract decompresses the named member's payload into w. It never
// requires signature verification (§4.5).
func (r *Reader) Extract(name string, w io.Writer) error {
	e, ok := r.findEntry(name)
	if !ok {
		return fmt.Errorf("mar: no such member %q", name)
	}
	return r.extractEntry(e, w)
}

func (r *Reader) extractEntry(e indexEntry, w io.Writer) error {
	if _, err := r.src.Seek(int64(e.offset), io.SeekStart); err != nil {
		return err
	}
	lr := io.LimitReader(r.src, int64(e.size))
	_, rc, err := compress.Detect(lr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptCompressed, err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptCompressed, err)
	}
	return nil
}

// ExtractFile decompresses the named member into destDir, preserving
// its relative path and creating parent directories as needed (§6 -x).
func (r *Reader) ExtractFile(name, destDir string, opts ExtractOptions) error {
	e, ok := r.findEntry(name)
	if !ok {
		return fmt.Errorf("mar: no such member %q", name)
	}
	path, err := safeJoin(destDir, e.name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := r.extractEntry(e, f); err != nil {
		return err
	}
	if opts.ApplyMode {
		if err := os.Chmod(path, os.FileMode(e.mode&0o777)); err != nil {
			return err
		}
	}
	return nil
}

// ProductInfo returns the decoded ProductInformation entry, if present.
func (r *Reader) ProductInfo() (ProductInfo, bool) {
	if r.addl == nil {
		return ProductInfo{}, false
	}
	for _, e := range r.addl.entries {
		if e.infoType != InfoTypeProductInformation {
			continue
		}
		pi, err := decodeProductInformation(e.payload)
		if err != nil {
			return ProductInfo{}, false
		}
		return ProductInfo{Channel: pi.marChannelID, Version: pi.productVersion}, true
	}
	return ProductInfo{}, false
}

// HasSignatures reports whether the archive carries a signature block
// at all, independent of whether any candidate keys are supplied.
func (r *Reader) HasSignatures() bool {
	return r.sigBlock != nil
}

// SignatureAlgorithms returns the declared algorithm id of every
// signature slot, in slot order.
func (r *Reader) SignatureAlgorithms() []uint32 {
	if r.sigBlock == nil {
		return nil
	}
	out := make([]uint32, len(r.sigBlock.entries))
	for i, e := range r.sigBlock.entries {
		out[i] = e.algorithmID
	}
	return out
}

// Verify replays the archive through the hash-with-holes masker (§4.3)
// and checks every declared signature slot against keys, the candidate
// public keys grouped by algorithm. See KeyPolicy for how multiple keys
// for one algorithm are treated.
func (r *Reader) Verify(keys map[sign.Algorithm][]*rsa.PublicKey, policy KeyPolicy) (VerifyResult, error) {
	if r.sigBlock == nil {
		return VerifyResult{Outcome: NoSignatures}, nil
	}

	holes := signatureHoles(*r.sigBlock)
	digesters := make(map[uint32]hash.Hash)
	var order []uint32
	for _, e := range r.sigBlock.entries {
		if _, ok := digesters[e.algorithmID]; ok {
			continue
		}
		d, err := sign.Algorithm(e.algorithmID).NewDigest()
		if err != nil {
			digesters[e.algorithmID] = nil
			continue
		}
		digesters[e.algorithmID] = d
		order = append(order, e.algorithmID)
	}

	hashers := make([]hash.Hash, 0, len(order))
	for _, id := range order {
		hashers = append(hashers, digesters[id])
	}
	masker := hashhole.New(holes, hashers...)

	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		return VerifyResult{}, err
	}
	if _, err := io.Copy(masker, r.src); err != nil {
		return VerifyResult{}, err
	}

	for i, e := range r.sigBlock.entries {
		d := digesters[e.algorithmID]
		if d == nil {
			return VerifyResult{Outcome: UnknownSignatureAlgorithm, Index: i}, nil
		}
		cands := keys[sign.Algorithm(e.algorithmID)]
		if len(cands) == 0 {
			return VerifyResult{Outcome: UnknownSignatureAlgorithm, Index: i}, nil
		}

		digest := d.Sum(nil)
		matched := 0
		for _, k := range cands {
			if sign.Verify(k, sign.Algorithm(e.algorithmID), digest, e.signature) {
				matched++
			}
		}

		ok := matched > 0
		if policy == RequireAllKeys {
			ok = matched == len(cands)
		}
		if !ok {
			return VerifyResult{Outcome: FailedSignature, Index: i}, nil
		}
	}

	return VerifyResult{Outcome: Verified, Count: len(r.sigBlock.entries)}, nil
}

// signatureHoles computes the byte ranges of signature_bytes fields
// within the signature block, which starts immediately after the
// header at offset headerSize (§3, §4.3).
func signatureHoles(sb signatureBlock) []hashhole.Range {
	holes := make([]hashhole.Range, 0, len(sb.entries))
	off := int64(headerSize) + 12 // past total_file_size + num_signatures
	for _, e := range sb.entries {
		off += 8 // algorithm_id + signature_size fields are hashed, not masked
		holes = append(holes, hashhole.Range{Start: off, End: off + int64(len(e.signature))})
		off += int64(len(e.signature))
	}
	return holes
}

// Close releases the Reader's backing file, if it opened one itself.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
