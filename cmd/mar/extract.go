package main

import "github.com/mozilla-releng/build-mar/mar"

func runExtract(path string) (int, error) {
	r, err := mar.OpenFile(path)
	if err != nil {
		return exitCodeFor(err), err
	}
	defer r.Close()

	for _, e := range r.List() {
		if err := r.ExtractFile(e.Name, ".", mar.DefaultExtractOptions); err != nil {
			return exitCodeFor(err), err
		}
		log.Infof("extracted %s", e.Name)
	}
	return exitOK, nil
}
