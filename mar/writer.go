// Implementation note: back-patching is chosen over two-pass
// construction because compressed payload sizes are not known until
// each member is actually streamed through its codec — buffering every
// payload in memory first would bound archive size to available RAM
// (§9). This is why Writer requires a seekable, and for signing also
// readable, sink rather than a plain io.Writer.

package mar

import (
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/mozilla-releng/build-mar/mar/compress"
	"github.com/mozilla-releng/build-mar/mar/hashhole"
	"github.com/mozilla-releng/build-mar/mar/sign"
)

// SigningKey pairs a declared algorithm with the private key that signs
// for it (§4.4, §4.6). The writer reserves one signature slot per
// SigningKey, in the order given.
type SigningKey struct {
	Algorithm sign.Algorithm
	Key       *rsa.PrivateKey
}

var errAlreadyFinalized = errors.New("mar: writer already finalized")

// Writer emits a MAR archive to a seekable sink from a sequence of
// members plus optional signing keys and additional-section entries
// (§4.6). Members must be added in order; Finalize must be called
// exactly once.
type Writer struct {
	sink io.ReadWriteSeeker
	algo compress.Algorithm
	keys []SigningKey

	names    map[string]bool
	entries  []indexEntry
	finalize bool
}

// NewWriter reserves the header, optional signature-block placeholder,
// and optional additional block (Phase 1, steps 1-3 of §4.6), and
// returns a Writer ready to accept members.
func NewWriter(sink io.ReadWriteSeeker, algo compress.Algorithm, keys []SigningKey, product *ProductInfo) (*Writer, error) {
	w := &Writer{sink: sink, algo: algo, keys: keys, names: make(map[string]bool)}

	if _, err := sink.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := writeHeader(sink, header{indexOffset: 0}); err != nil {
		return nil, err
	}

	if len(keys) > 0 {
		sb := signatureBlock{totalFileSize: 0}
		for _, k := range keys {
			sb.entries = append(sb.entries, signatureEntry{
				algorithmID: uint32(k.Algorithm),
				signature:   make([]byte, k.Key.Size()),
			})
		}
		if err := writeSignatureBlock(sink, sb); err != nil {
			return nil, err
		}
	}

	if product != nil {
		payload := encodeProductInformation(productInformation{
			marChannelID:   product.Channel,
			productVersion: product.Version,
		})
		if len(product.Channel)+1 > maxProductInfoLen || len(product.Version)+1 > maxProductInfoLen {
			return nil, ErrMalformedString
		}
		ab := additionalBlock{entries: []additionalEntry{
			{infoType: InfoTypeProductInformation, payload: payload},
		}}
		if err := writeAdditionalBlock(sink, ab); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// AddMember streams payload through the archive's chosen codec into its
// own independent compressed stream, directly into the sink, and
// records the resulting IndexEntry (§4.6 step 4). Each member gets its
// own compressed stream so extraction never needs to decompress prior
// members (§4.6's "compression ordering", §9).
func (w *Writer) AddMember(name string, mode uint32, payload io.Reader) error {
	if w.finalize {
		return errAlreadyFinalized
	}
	if w.names[name] {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	offset, err := w.sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	cw, err := w.algo.Writer(w.sink)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, payload); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	end, err := w.sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	size := end - offset
	if size > int64(^uint32(0)) {
		return ErrMemberTooLarge
	}

	w.names[name] = true
	w.entries = append(w.entries, indexEntry{
		offset: uint32(offset),
		size:   uint32(size),
		mode:   mode,
		name:   name,
	})
	return nil
}

// Finalize writes the index block, then back-patches the header,
// signature block, and (if signing) computes and writes every signature
// (§4.6 Phase 2). It must be called exactly once.
func (w *Writer) Finalize() error {
	if w.finalize {
		return errAlreadyFinalized
	}
	w.finalize = true

	indexOffset, err := w.sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeIndexBlock(w.sink, indexBlock{entries: w.entries}); err != nil {
		return err
	}

	finalLen, err := w.sink.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	if err := w.patchUint32(4, uint32(indexOffset)); err != nil {
		return err
	}

	if len(w.keys) == 0 {
		return nil
	}
	return w.signAndPatch(finalLen)
}

func (w *Writer) patchUint32(at int64, v uint32) error {
	if _, err := w.sink.Seek(at, io.SeekStart); err != nil {
		return err
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.sink.Write(buf[:])
	return err
}

func (w *Writer) signAndPatch(finalLen int64) error {
	if err := w.patchUint64(headerSize, uint64(finalLen)); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	sb := signatureBlock{totalFileSize: uint64(finalLen)}
	for _, k := range w.keys {
		sb.entries = append(sb.entries, signatureEntry{
			algorithmID: uint32(k.Algorithm),
			signature:   make([]byte, k.Key.Size()),
		})
	}
	holes := signatureHoles(sb)

	digesters := make([]hash.Hash, len(w.keys))
	hashers := make([]hash.Hash, len(w.keys))
	for i, k := range w.keys {
		d, err := k.Algorithm.NewDigest()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		digesters[i] = d
		hashers[i] = d
	}
	masker := hashhole.New(holes, hashers...)

	if _, err := w.sink.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if _, err := io.CopyN(masker, w.sink, finalLen); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	off := int64(headerSize) + 12
	for i, k := range w.keys {
		off += 8
		digest := digesters[i].Sum(nil)
		sigBytes, err := sign.Sign(k.Key, k.Algorithm, digest)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		if int64(len(sigBytes)) != holes[i].End-holes[i].Start {
			return fmt.Errorf("%w: signature size mismatch for slot %d", ErrSigningFailed, i)
		}
		if _, err := w.sink.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		if _, err := w.sink.Write(sigBytes); err != nil {
			return fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		off += int64(len(sigBytes))
	}

	return nil
}

func (w *Writer) patchUint64(at int64, v uint64) error {
	if _, err := w.sink.Seek(at, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.sink.Write(buf[:])
	return err
}
