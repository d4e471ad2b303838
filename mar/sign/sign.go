// Package sign implements the RSA-PKCS#1v1.5 signature engine of a MAR
// archive (§4.4): algorithm dispatch by declared id and key size,
// signing, verification, and key loading.
//
// Grounded on other_examples/fd02dc7d (sandboxed-tor-browser's
// installer/mar.go), which hashes a MAR byte range with a single
// rsa.VerifyPKCS1v15 call — generalized here to the two algorithm ids
// MAR actually declares — and on nabbar-golib's
// certificates/certs/config.go key-loading fallback chain
// (ParsePKCS1PrivateKey, then ParsePKCS8PrivateKey, then pem.Decode).
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
)

// Algorithm identifies one of the two declared (hash, key-size) pairs a
// MAR signature entry may use (§3).
type Algorithm uint32

const (
	RSASHA1   Algorithm = 1 // 2048-bit modulus; legacy 1024-bit accepted on verify only (§9)
	RSASHA384 Algorithm = 2 // 4096-bit modulus
)

func (a Algorithm) String() string {
	switch a {
	case RSASHA1:
		return "rsa-pkcs1v15-sha1"
	case RSASHA384:
		return "rsa-pkcs1v15-sha384"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownAlgorithm  = errors.New("sign: unknown signature algorithm")
	ErrKeySizeMismatch   = errors.New("sign: key size does not match algorithm")
	ErrLegacyKeyRejected = errors.New("sign: refusing to produce a legacy 1024-bit signature")
	ErrInvalidKey        = errors.New("sign: invalid key material")
)

// hashFunc returns the crypto.Hash a declared algorithm id signs with.
func (a Algorithm) hashFunc() (crypto.Hash, error) {
	switch a {
	case RSASHA1:
		return crypto.SHA1, nil
	case RSASHA384:
		return crypto.SHA384, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

// NewDigest returns a fresh hash.Hash instance matching the algorithm's
// declared hash function, for use with hashhole.Masker.
func (a Algorithm) NewDigest() (hash.Hash, error) {
	switch a {
	case RSASHA1:
		return sha1.New(), nil
	case RSASHA384:
		return sha512.New384(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

// modulusBytes returns the expected RSA modulus size in bytes for an
// algorithm's canonical (non-legacy) key size: 2048 bits for
// RSASHA1, 4096 bits for RSASHA384 (§3).
func (a Algorithm) modulusBytes() int {
	switch a {
	case RSASHA1:
		return 256
	case RSASHA384:
		return 512
	default:
		return 0
	}
}

// legacyRSASHA1ModulusBytes is the historical 1024-bit modulus size MAR
// readers MUST accept for RSASHA1 but MUST NOT produce (§9).
const legacyRSASHA1ModulusBytes = 128

// Sign produces a PKCS#1v1.5 signature of digest (already hashed with
// a.NewDigest()) using key, for declared algorithm a. The returned
// signature's length equals key's modulus size in bytes.
//
// Signing with a legacy 1024-bit key is refused even though MAR readers
// accept such signatures (§9).
func Sign(key *rsa.PrivateKey, a Algorithm, digest []byte) ([]byte, error) {
	h, err := a.hashFunc()
	if err != nil {
		return nil, err
	}
	size := key.Size()
	if size == legacyRSASHA1ModulusBytes && a == RSASHA1 {
		return nil, ErrLegacyKeyRejected
	}
	if size != a.modulusBytes() {
		return nil, ErrKeySizeMismatch
	}
	return rsa.SignPKCS1v15(rand.Reader, key, h, digest)
}

// Verify checks a PKCS#1v1.5 signature of digest against key for
// declared algorithm a. It does not distinguish padding failures from
// digest mismatches in its return value, per §4.4.
func Verify(key *rsa.PublicKey, a Algorithm, digest, signature []byte) bool {
	h, err := a.hashFunc()
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(key, h, digest, signature) == nil
}

// ParsePublicKey accepts a SubjectPublicKeyInfo DER blob, optionally
// PEM-wrapped, and returns the contained RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(der); block != nil {
		der = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
	}
	return rsaPub, nil
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 DER, optionally PEM-wrapped,
// and returns the contained RSA private key. Mirrors the fallback chain
// nabbar-golib's certs.ConfigChain.getPrivateKey uses for its broader
// key-type support, narrowed to RSA since that is all MAR signs with.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if block, _ := pem.Decode(der); block != nil {
		der = block.Bytes
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
	}
	return nil, ErrInvalidKey
}
