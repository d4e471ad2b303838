package main

import (
	"fmt"

	"github.com/mozilla-releng/build-mar/mar"
	"github.com/mozilla-releng/build-mar/mar/sign"
)

func runList(path string, detail bool) (int, error) {
	r, err := mar.OpenFile(path)
	if err != nil {
		return exitCodeFor(err), err
	}
	defer r.Close()

	for _, e := range r.List() {
		if !detail {
			fmt.Printf("%s\t%d\n", e.Name, e.Size)
			continue
		}
		fmt.Printf("%s\tmode=%04o\tsize=%d\toffset=%d\n", e.Name, e.Mode&0o777, e.Size, e.Offset)
	}

	if !detail {
		return exitOK, nil
	}

	if pi, ok := r.ProductInfo(); ok {
		fmt.Printf("product: channel=%q version=%q\n", pi.Channel, pi.Version)
	}

	if !r.HasSignatures() {
		fmt.Println("signatures: none")
		return exitOK, nil
	}

	builtinKeys := loadAllBuiltinKeys()
	result, verr := r.Verify(builtinKeys, mar.AnyKeyMatches)

	for i, id := range r.SignatureAlgorithms() {
		fmt.Printf("signature[%d]: algorithm=%d (%s) %s\n", i, id, sign.Algorithm(id), slotStatus(i, result, verr))
	}
	return exitOK, nil
}

// slotStatus reports what r.Verify actually established about signature
// slot i. Verify checks slots in order and stops at the first one that
// fails or declares an unknown algorithm, so every slot before
// result.Index verified successfully, the slot at result.Index is
// exactly what result.Outcome says, and any slot after it was never
// reached.
func slotStatus(i int, result mar.VerifyResult, verr error) string {
	if verr != nil {
		return fmt.Sprintf("unable to verify: %v", verr)
	}
	switch {
	case result.Outcome == mar.Verified:
		return "verified"
	case i < result.Index:
		return "verified"
	case i == result.Index && result.Outcome == mar.FailedSignature:
		return "does not verify against the built-in key table"
	case i == result.Index && result.Outcome == mar.UnknownSignatureAlgorithm:
		return "no built-in key for this algorithm"
	default:
		return "not checked (verification stopped at an earlier slot)"
	}
}
