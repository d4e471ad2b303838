package mar

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/mozilla-releng/build-mar/mar/compress"
	"github.com/mozilla-releng/build-mar/mar/sign"
)

func tempSink(t *testing.T) (*os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.mar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating temp sink: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, path
}

func TestWriterIndexOffsetMatchesIndexPosition(t *testing.T) {
	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember a.txt: %v", err)
	}
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := w.AddMember("dir/b.bin", 0o755, bytes.NewReader(payload)); err != nil {
		t.Fatalf("AddMember dir/b.bin: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	const wantIndexOffset = 8 + 5 + 256 // header + "a.txt" + "dir/b.bin", none codec is a byte-exact passthrough
	if int64(r.header.indexOffset) != wantIndexOffset {
		t.Fatalf("indexOffset = %d, want %d", r.header.indexOffset, wantIndexOffset)
	}

	entries := r.List()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "a.txt" || entries[0].Size != 5 {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "dir/b.bin" || entries[1].Size != 256 {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestWriterRejectsDuplicateNames(t *testing.T) {
	f, _ := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("one"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	err = w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("two")))
	if err == nil {
		t.Fatal("expected an error adding a duplicate name")
	}
}

func TestWriterEmptyArchive(t *testing.T) {
	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()
	if len(r.List()) != 0 {
		t.Fatalf("expected no entries, got %d", len(r.List()))
	}
}

func TestWriterExtractRoundTripCompressed(t *testing.T) {
	for _, alg := range []compress.Algorithm{compress.None, compress.Bzip2, compress.XZ} {
		t.Run(alg.String(), func(t *testing.T) {
			f, path := tempSink(t)
			w, err := NewWriter(f, alg, nil, nil)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			want := bytes.Repeat([]byte("payload bytes for round trip\n"), 100)
			if err := w.AddMember("member.bin", 0o640, bytes.NewReader(want)); err != nil {
				t.Fatalf("AddMember: %v", err)
			}
			if err := w.Finalize(); err != nil {
				t.Fatalf("Finalize: %v", err)
			}

			r, err := OpenFile(path)
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}
			defer r.Close()

			entries := r.List()
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if int64(entries[0].Offset) >= int64(r.header.indexOffset) {
				t.Fatalf("member offset %d should be before indexOffset %d", entries[0].Offset, r.header.indexOffset)
			}

			var got bytes.Buffer
			if err := r.Extract("member.bin", &got); err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if !bytes.Equal(got.Bytes(), want) {
				t.Fatalf("extracted payload mismatch for %v", alg)
			}
		})
	}
}

func TestWriterSignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, []SigningKey{{Algorithm: sign.RSASHA384, Key: key}}, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	if !r.HasSignatures() {
		t.Fatal("expected HasSignatures to be true")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	sb := r.sigBlock
	if sb == nil {
		t.Fatal("sigBlock is nil")
	}
	if int64(sb.totalFileSize) != info.Size() {
		t.Fatalf("total_file_size = %d, want %d", sb.totalFileSize, info.Size())
	}

	keys := map[sign.Algorithm][]*rsa.PublicKey{sign.RSASHA384: {&key.PublicKey}}
	result, err := r.Verify(keys, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != Verified || result.Count != 1 {
		t.Fatalf("Verify result = %+v, want Verified(1)", result)
	}

	r.Close()

	// Header(8) + signature block(8 totalFileSize + 4 numSignatures +
	// 8 entry header + 512 byte signature = 532) = 540, then "a.txt"'s
	// 5-byte payload starts: offset 542 lands inside that payload, which
	// is hashed but never masked.
	corruptByteOutsideSignature(t, path, 542)

	r2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("re-OpenFile: %v", err)
	}
	defer r2.Close()
	result2, err := r2.Verify(keys, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify after corruption: %v", err)
	}
	if result2.Outcome != FailedSignature {
		t.Fatalf("Verify after flipping a byte = %+v, want FailedSignature", result2)
	}
}

func corruptByteOutsideSignature(t *testing.T, path string, at int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile for corruption: %v", err)
	}
	defer f.Close()
	var orig [1]byte
	if _, err := f.ReadAt(orig[:], at); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if _, err := f.WriteAt([]byte{orig[0] ^ 0xFF}, at); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
}

func TestWriterVerifyWrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	wrongKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, []SigningKey{{Algorithm: sign.RSASHA1, Key: key}}, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	keys := map[sign.Algorithm][]*rsa.PublicKey{sign.RSASHA1: {&wrongKey.PublicKey}}
	result, err := r.Verify(keys, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != FailedSignature {
		t.Fatalf("Verify with wrong key = %+v, want FailedSignature", result)
	}
}

func TestWriterVerifyUnsignedArchiveHasNoSignatures(t *testing.T) {
	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	result, err := r.Verify(nil, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != NoSignatures {
		t.Fatalf("Verify on unsigned archive = %+v, want NoSignatures", result)
	}
}

func TestWriterMultipleSignatures(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, []SigningKey{
		{Algorithm: sign.RSASHA1, Key: key1},
		{Algorithm: sign.RSASHA384, Key: key2},
	}, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	onlyKey2 := map[sign.Algorithm][]*rsa.PublicKey{sign.RSASHA384: {&key2.PublicKey}}
	result, err := r.Verify(onlyKey2, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != UnknownSignatureAlgorithm || result.Index != 0 {
		t.Fatalf("Verify with only key2 = %+v, want UnknownSignatureAlgorithm(0)", result)
	}

	both := map[sign.Algorithm][]*rsa.PublicKey{
		sign.RSASHA1:   {&key1.PublicKey},
		sign.RSASHA384: {&key2.PublicKey},
	}
	result, err = r.Verify(both, AnyKeyMatches)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != Verified || result.Count != 2 {
		t.Fatalf("Verify with both keys = %+v, want Verified(2)", result)
	}
}

func TestWriterTruncatedSignedArchive(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, []SigningKey{{Algorithm: sign.RSASHA1, Key: key}}, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello world"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-1], 0o644); err != nil {
		t.Fatalf("truncating: %v", err)
	}

	keys := map[sign.Algorithm][]*rsa.PublicKey{sign.RSASHA1: {&key.PublicKey}}
	r, err := OpenFile(path)
	if err != nil {
		// A truncated signed archive may fail to open at all (the index
		// block itself may be short) — that also satisfies "never Verified".
		return
	}
	defer r.Close()
	result, verr := r.Verify(keys, AnyKeyMatches)
	if verr == nil && result.Outcome == Verified {
		t.Fatal("truncated archive must never verify")
	}
}

func TestWriterProductInformationRoundTrip(t *testing.T) {
	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, &ProductInfo{Channel: "release", Version: "99.0"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddMember("a.txt", 0o644, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	pi, ok := r.ProductInfo()
	if !ok {
		t.Fatal("expected product info to be present")
	}
	if pi.Channel != "release" || pi.Version != "99.0" {
		t.Fatalf("ProductInfo = %+v", pi)
	}
}

func TestWriterExtractFileToDir(t *testing.T) {
	f, path := tempSink(t)
	w, err := NewWriter(f, compress.None, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	want := []byte("nested payload")
	if err := w.AddMember("dir/nested.txt", 0o640, bytes.NewReader(want)); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()

	destDir := t.TempDir()
	if err := r.ExtractFile("dir/nested.txt", destDir, DefaultExtractOptions); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "dir", "nested.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("extracted file content mismatch")
	}
}
