// Command mar reads, writes, and verifies Mozilla ARchive (MAR) files
// (§6). It is a thin CLI shell over package mar; the library never logs
// on its own, so every message printed here belongs to this file or its
// siblings.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitIO         = 2
	exitFormat     = 3
	exitVerifyFail = 4
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
}

type options struct {
	list    string
	detail  string
	extract string
	create  string
	verify  string

	bzip2 bool
	xz    bool

	key     string
	channel string
	version string

	paths []string
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("mar", flag.ContinueOnError)
	fs.Usage = func() {}

	opts := &options{}
	fs.StringVarP(&opts.list, "list", "t", "", "list contents")
	fs.StringVarP(&opts.detail, "detail", "T", "", "list contents with detail")
	fs.StringVarP(&opts.extract, "extract", "x", "", "extract all members")
	fs.StringVarP(&opts.create, "create", "c", "", "create an archive")
	fs.StringVarP(&opts.verify, "verify", "v", "", "verify signatures")
	fs.BoolVarP(&opts.bzip2, "bzip2", "j", false, "compress with bzip2 (create only)")
	fs.BoolVarP(&opts.xz, "xz", "J", false, "compress with xz (create only)")
	fs.StringVarP(&opts.key, "key", "k", "", "key file path, or :name for a built-in key")
	fs.StringVarP(&opts.channel, "channel", "H", "", "MAR channel id (create only)")
	fs.StringVarP(&opts.version, "product-version", "V", "", "product version (create only)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.paths = fs.Args()

	n := 0
	for _, v := range []string{opts.list, opts.detail, opts.extract, opts.create, opts.verify} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return nil, fmt.Errorf("exactly one of -t, -T, -x, -c, -v is required")
	}
	if opts.bzip2 && opts.xz {
		return nil, fmt.Errorf("-j and -J are mutually exclusive")
	}
	if opts.create != "" && len(opts.paths) == 0 {
		return nil, fmt.Errorf("-c requires at least one PATH")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Error(err)
		os.Exit(exitUsage)
	}

	code, err := run(opts)
	if err != nil {
		log.Error(err)
	}
	os.Exit(code)
}

func run(opts *options) (int, error) {
	switch {
	case opts.list != "":
		return runList(opts.list, false)
	case opts.detail != "":
		return runList(opts.detail, true)
	case opts.extract != "":
		return runExtract(opts.extract)
	case opts.create != "":
		return runCreate(opts)
	case opts.verify != "":
		return runVerify(opts.verify, opts.key)
	default:
		return exitUsage, fmt.Errorf("no mode selected")
	}
}
