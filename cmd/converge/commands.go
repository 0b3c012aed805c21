package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/ltratt/converge/bytecode"
	"github.com/ltratt/converge/image"
	"github.com/ltratt/converge/server"
	"github.com/ltratt/converge/vm"
)

// run executes a program: `converge run <program> [args...]`.
func (d *driver) run(args []string) int {
	if len(args) == 0 {
		return d.errorf("run requires a program")
	}
	path := args[0]
	img, err := d.loadImage(path)
	if err != nil {
		return d.errorf("%s: %v", path, err)
	}
	exe, err := img.Executable()
	if err != nil {
		return d.errorf("%s: %v", path, err)
	}

	argv := append(append([]string(nil), d.cfg.VM.Argv...), args[1:]...)
	v, err := d.newVM(
		vm.WithStdout(d.stdout),
		vm.WithStderr(d.stderr),
		vm.WithArgv(argv),
		vm.WithProgramPath(path),
	)
	if err != nil {
		return d.errorf("%v", err)
	}

	mainID, err := v.AddExecutable(exe)
	if err != nil {
		return d.errorf("%s: %v", path, err)
	}
	log.Debugf("running %s (image %s)", mainID, img.ID)
	code, err := v.RunMain(mainID)
	if s := v.CollectICStats(); s.TotalSites > 0 {
		log.Infof("inline caches: %d sites (%d mono, %d poly, %d mega), %.1f%% hits",
			s.TotalSites, s.Monomorphic, s.Polymorphic, s.Megamorphic, s.HitRate)
	}
	if err != nil {
		if ex, ok := vm.AsRaise(err); ok {
			d.printException(v, ex)
		} else {
			d.errorf("%v", err)
		}
	}
	return code
}

// disasm prints every module of a program: `converge disasm <program>`.
func (d *driver) disasm(args []string) int {
	if len(args) != 1 {
		return d.errorf("disasm requires exactly one program")
	}
	img, err := d.loadImage(args[0])
	if err != nil {
		return d.errorf("%s: %v", args[0], err)
	}
	for i, im := range img.Modules {
		m, err := bytecode.ParseModule(im.Bytecode)
		if err != nil {
			return d.errorf("module %s: %v", im.ID, err)
		}
		if i > 0 {
			fmt.Fprintln(d.stdout)
		}
		fmt.Fprintf(d.stdout, "module %s (%s)\n", m.ID, m.SrcPath)
		fmt.Fprintln(d.stdout, bytecode.Disassemble(m))
	}
	return 0
}

// pack converts an executable into an image: `converge pack <exe> <out>`.
func (d *driver) pack(args []string) int {
	if len(args) != 2 {
		return d.errorf("pack requires an executable and an output path")
	}
	img, err := d.loadImage(args[0])
	if err != nil {
		return d.errorf("%s: %v", args[0], err)
	}
	if err := image.Save(args[1], img); err != nil {
		return d.errorf("%v", err)
	}
	log.Infof("wrote image %s (%d modules) to %s", img.ID, len(img.Modules), args[1])
	return 0
}

// serve starts the execution server: `converge serve [-addr host:port]`.
func (d *driver) serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(d.stderr)
	addr := fs.String("addr", d.cfg.Server.Addr, "Listen address")
	maxBytes := fs.Int("max-bytes", server.DefaultMaxImageBytes, "Largest accepted program in bytes (0 for no limit)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	srv := server.New(d.newVM,
		server.WithArgv(d.cfg.VM.Argv),
		server.WithMaxImageBytes(*maxBytes),
	)
	defer srv.Stop()
	if err := srv.ListenAndServe(*addr); err != nil {
		return d.errorf("server: %v", err)
	}
	return 0
}
