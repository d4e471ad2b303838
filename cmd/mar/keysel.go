package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mozilla-releng/build-mar/mar/keys"
	"github.com/mozilla-releng/build-mar/mar/sign"

	"crypto/rsa"
)

// loadPublicKeys resolves a -k selector to a set of candidate public
// keys grouped by the algorithm their modulus size implies (§3: 2048-bit
// keys sign algorithm 1, 4096-bit keys sign algorithm 2; legacy 1024-bit
// keys are accepted here too since verification of them is allowed).
func loadPublicKeys(selector string) (map[sign.Algorithm][]*rsa.PublicKey, error) {
	var raw []*rsa.PublicKey

	if strings.HasPrefix(selector, ":") {
		ks, err := keys.Lookup(strings.TrimPrefix(selector, ":"))
		if err != nil {
			return nil, err
		}
		raw = ks
	} else {
		der, err := os.ReadFile(selector)
		if err != nil {
			return nil, err
		}
		k, err := sign.ParsePublicKey(der)
		if err != nil {
			return nil, err
		}
		raw = []*rsa.PublicKey{k}
	}

	return groupByAlgorithm(raw)
}

// loadAllBuiltinKeys gathers every public key registered under any
// built-in name, grouped by algorithm, for use by `-T`'s signature
// summary — it has no single -k selector to resolve from. Keys with an
// unsupported modulus size are skipped rather than failing the whole
// summary.
func loadAllBuiltinKeys() map[sign.Algorithm][]*rsa.PublicKey {
	out := make(map[sign.Algorithm][]*rsa.PublicKey)
	for _, name := range keys.Names() {
		ks, err := keys.Lookup(name)
		if err != nil {
			continue
		}
		for _, k := range ks {
			alg, err := algorithmForModulus(k.Size())
			if err != nil {
				continue
			}
			out[alg] = append(out[alg], k)
		}
	}
	return out
}

func groupByAlgorithm(raw []*rsa.PublicKey) (map[sign.Algorithm][]*rsa.PublicKey, error) {
	out := make(map[sign.Algorithm][]*rsa.PublicKey)
	for _, k := range raw {
		alg, err := algorithmForModulus(k.Size())
		if err != nil {
			return nil, err
		}
		out[alg] = append(out[alg], k)
	}
	return out, nil
}

// loadPrivateKey resolves a -k selector to a signing key and the
// algorithm its modulus size implies.
func loadPrivateKey(selector string) (*rsa.PrivateKey, sign.Algorithm, error) {
	if strings.HasPrefix(selector, ":") {
		return nil, 0, fmt.Errorf("mar: %q is a public key name, not usable for signing", selector)
	}
	der, err := os.ReadFile(selector)
	if err != nil {
		return nil, 0, err
	}
	k, err := sign.ParsePrivateKey(der)
	if err != nil {
		return nil, 0, err
	}
	alg, err := algorithmForModulus(k.Size())
	if err != nil {
		return nil, 0, err
	}
	return k, alg, nil
}

func algorithmForModulus(sizeBytes int) (sign.Algorithm, error) {
	switch sizeBytes {
	case 256:
		return sign.RSASHA1, nil
	case 512:
		return sign.RSASHA384, nil
	case 128:
		return sign.RSASHA1, nil // legacy, verify-only
	default:
		return 0, fmt.Errorf("mar: unsupported key size (%d bytes)", sizeBytes)
	}
}
