package mar

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func dirOf(path string) string {
	return filepath.Dir(path)
}

// safeJoin joins destDir with the archive-relative member name, which
// per §3 uses '/' separators and no leading slash, and rejects any
// result that would escape destDir (an entry name containing "..").
func safeJoin(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("mar: member name escapes destination: %q", name)
	}
	return filepath.Join(destDir, clean), nil
}
