package main

import (
	"fmt"

	"github.com/mozilla-releng/build-mar/mar"
)

func runVerify(path, keySelector string) (int, error) {
	r, err := mar.OpenFile(path)
	if err != nil {
		return exitCodeFor(err), err
	}
	defer r.Close()

	if keySelector == "" {
		if !r.HasSignatures() {
			log.Info("no signatures present")
			return exitOK, nil
		}
		return exitVerifyFail, fmt.Errorf("mar: archive is signed but no -k key was given")
	}

	keySet, err := loadPublicKeys(keySelector)
	if err != nil {
		return exitUsage, err
	}

	result, err := r.Verify(keySet, mar.AnyKeyMatches)
	if err != nil {
		return exitIO, err
	}

	switch result.Outcome {
	case mar.NoSignatures:
		log.Info("no signatures present")
		return exitOK, nil
	case mar.Verified:
		log.Infof("verified %d signature(s)", result.Count)
		return exitOK, nil
	default:
		return exitVerifyFail, result.Err()
	}
}
