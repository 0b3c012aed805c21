// Converge CLI - the main entry point for running Converge programs
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/ltratt/converge/manifest"
	"github.com/ltratt/converge/vm"
)

var log = commonlog.GetLogger("converge")

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

// realMain parses args, runs the selected command and returns the exit code.
func realMain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("converge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output")
	configDir := fs.String("config", ".", "Directory to search (upwards) for converge.toml")
	noCache := fs.Bool("no-cache", false, "Bypass the image cache")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: converge [options] <program> [args...]\n")
		fmt.Fprintf(stderr, "       converge [options] <command> [arguments]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCommands:\n")
		fmt.Fprintf(stderr, "  run <program> [args...]   Run an executable or image\n")
		fmt.Fprintf(stderr, "  disasm <program>          Disassemble every module\n")
		fmt.Fprintf(stderr, "  pack <executable> <out>   Convert an executable into an image\n")
		fmt.Fprintf(stderr, "  serve [-addr host:port]   Start the execution server\n")
		fmt.Fprintf(stderr, "  version                   Print the VM version\n")
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	cfg, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	verbosity := cfg.Log.Level
	if *verbose {
		verbosity++
	}
	commonlog.Configure(verbosity, nil)
	if cfg.Dir != "" {
		log.Debugf("using %s/%s", cfg.Dir, manifest.FileName)
	}

	d := &driver{
		cfg:     cfg,
		stdout:  stdout,
		stderr:  stderr,
		colour:  colourEnabled(stderr),
		noCache: *noCache,
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	switch rest[0] {
	case "run":
		return d.run(rest[1:])
	case "disasm":
		return d.disasm(rest[1:])
	case "pack":
		return d.pack(rest[1:])
	case "serve":
		return d.serve(rest[1:])
	case "version":
		fmt.Fprintf(stdout, "converge %s\n", vm.Version)
		return 0
	}
	return d.run(rest)
}
