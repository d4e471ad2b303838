package main

import (
	"os"
	"path/filepath"

	"github.com/mozilla-releng/build-mar/mar"
	"github.com/mozilla-releng/build-mar/mar/compress"
)

func runCreate(opts *options) (int, error) {
	algo := compress.None
	switch {
	case opts.bzip2:
		algo = compress.Bzip2
	case opts.xz:
		algo = compress.XZ
	}

	var signingKeys []mar.SigningKey
	if opts.key != "" {
		key, alg, err := loadPrivateKey(opts.key)
		if err != nil {
			return exitUsage, err
		}
		signingKeys = append(signingKeys, mar.SigningKey{Algorithm: alg, Key: key})
	}

	var product *mar.ProductInfo
	if opts.channel != "" || opts.version != "" {
		product = &mar.ProductInfo{Channel: opts.channel, Version: opts.version}
	}

	out, err := os.Create(opts.create)
	if err != nil {
		return exitIO, err
	}
	defer out.Close()

	w, err := mar.NewWriter(out, algo, signingKeys, product)
	if err != nil {
		return exitCodeFor(err), err
	}

	for _, root := range opts.paths {
		if err := addPath(w, root); err != nil {
			return exitCodeFor(err), err
		}
	}

	if err := w.Finalize(); err != nil {
		return exitCodeFor(err), err
	}
	return exitOK, nil
}

func addPath(w *mar.Writer, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return addFile(w, root, info)
	}
	return filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		return addFile(w, p, fi)
	})
}

func addFile(w *mar.Writer, p string, info os.FileInfo) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.ToSlash(p)
	if err := w.AddMember(name, uint32(info.Mode().Perm()), f); err != nil {
		return err
	}
	log.Infof("added %s", name)
	return nil
}
