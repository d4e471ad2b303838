// Package keys maps a symbolic key name (e.g. "mozilla-release", given
// on the command line as ":mozilla-release") to one or more RSA public
// keys. The table is process-wide state guarded by a mutex: it starts
// empty and is filled at run time through Register, not at compile
// time.
//
// This package deliberately carries no real Mozilla signing keys: §1
// scopes "the bundled collection of known public keys" as an external
// collaborator with only the contract defined here, and shipping
// unverifiable DER bytes we have no way to source or validate offline
// would be worse than an explicit, documented extension point.
// Embedders populate the table at init time with Register, typically
// from DER files loaded via go:embed in their own package.
package keys

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/mozilla-releng/build-mar/mar/sign"
)

var (
	mu    sync.RWMutex
	table = map[string][]*rsa.PublicKey{}
)

// Well-known symbolic names (§6). Resolving one of these before any
// Register call for it returns ErrUnknownName — the name is reserved,
// not pre-populated.
const (
	MozillaNightly = "mozilla-nightly"
	MozillaRelease = "mozilla-release"
	AutographStage = "autograph-stage"
)

// Register adds one or more DER-encoded SubjectPublicKeyInfo public keys
// under name, supporting key rotation by allowing multiple keys per
// name (§6). Invalid DER is reported immediately rather than silently
// skipped.
func Register(name string, der ...[]byte) error {
	keysParsed := make([]*rsa.PublicKey, 0, len(der))
	for _, d := range der {
		k, err := sign.ParsePublicKey(d)
		if err != nil {
			return fmt.Errorf("keys: registering %q: %w", name, err)
		}
		keysParsed = append(keysParsed, k)
	}

	mu.Lock()
	defer mu.Unlock()
	table[name] = append(table[name], keysParsed...)
	return nil
}

// ErrUnknownName is returned by Lookup for a name with no registered
// keys.
var ErrUnknownName = fmt.Errorf("keys: unknown key name")

// Lookup returns every public key registered under name.
func Lookup(name string) ([]*rsa.PublicKey, error) {
	mu.RLock()
	defer mu.RUnlock()

	ks, ok := table[name]
	if !ok || len(ks) == 0 {
		return nil, ErrUnknownName
	}
	out := make([]*rsa.PublicKey, len(ks))
	copy(out, ks)
	return out, nil
}

// Names returns every symbolic name with at least one registered key.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(table))
	for n, ks := range table {
		if len(ks) > 0 {
			names = append(names, n)
		}
	}
	return names
}
