package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ltratt/converge/image"
	"github.com/ltratt/converge/imagecache"
	"github.com/ltratt/converge/manifest"
	"github.com/ltratt/converge/vm"
)

// cacheTTL is how long an unused cache entry survives.
const cacheTTL = 30 * 24 * time.Hour

// libExt is the extension of library files found in the stdlib directory.
const libExt = ".cvl"

type driver struct {
	cfg     *manifest.Manifest
	stdout  io.Writer
	stderr  io.Writer
	colour  bool
	noCache bool
}

func (d *driver) errorf(format string, args ...any) int {
	fmt.Fprintf(d.stderr, "Error: "+format+"\n", args...)
	return 1
}

// colourEnabled reports whether w is a terminal that should get ANSI colour.
func colourEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ---------------------------------------------------------------------------
// Loading programs
// ---------------------------------------------------------------------------

// loadImage reads path, which holds either an encoded image or a CONVEXEC
// executable. Executables go through the image cache when one is configured.
func (d *driver) loadImage(path string) (*image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if image.IsImage(data) {
		return image.Unmarshal(data)
	}

	cache := d.openCache()
	if cache == nil {
		return image.FromExecutable(data)
	}
	defer cache.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	img, err := cache.Get(abs, st.ModTime())
	if err == nil {
		log.Debugf("image cache hit for %s", abs)
		return img, nil
	}
	if !errors.Is(err, imagecache.ErrMiss) {
		log.Warningf("image cache: %s", err)
	}

	img, err = image.FromExecutable(data)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(abs, st.ModTime(), img); err != nil {
		log.Warningf("image cache: %s", err)
	}
	return img, nil
}

// openCache returns the configured cache, or nil if caching is off or the
// cache cannot be opened.
func (d *driver) openCache() *imagecache.Cache {
	path := d.cfg.CachePath()
	if path == "" || d.noCache {
		return nil
	}
	c, err := imagecache.Open(path)
	if err != nil {
		log.Warningf("image cache disabled: %s", err)
		return nil
	}
	if _, err := c.Prune(time.Now().Add(-cacheTTL)); err != nil {
		log.Warningf("image cache: %s", err)
	}
	return c
}

// libraries returns the library files to load before any program: those
// named in [paths] libs followed by every library in the stdlib directory.
func (d *driver) libraries() ([]string, error) {
	libs := d.cfg.LibPaths()
	if dir := d.cfg.StdlibDir(); dir != "" {
		found, err := filepath.Glob(filepath.Join(dir, "*"+libExt))
		if err != nil {
			return nil, err
		}
		libs = append(libs, found...)
	}
	return libs, nil
}

// newVM creates a VM configured from converge.toml with the libraries
// loaded. It satisfies server.VMFactory.
func (d *driver) newVM(opts ...vm.Option) (*vm.VM, error) {
	base := []vm.Option{
		vm.WithInitStackSize(d.cfg.VM.InitStackSize),
		vm.WithTrace(d.cfg.VM.Trace),
	}
	if exe, err := os.Executable(); err == nil {
		base = append(base, vm.WithVMPath(exe))
	}
	v, err := vm.New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	libs, err := d.libraries()
	if err != nil {
		return nil, err
	}
	for _, l := range libs {
		data, err := os.ReadFile(l)
		if err != nil {
			return nil, fmt.Errorf("library %s: %w", l, err)
		}
		ids, err := v.AddLibrary(data)
		if err != nil {
			return nil, fmt.Errorf("library %s: %w", l, err)
		}
		log.Debugf("loaded %d modules from %s", len(ids), l)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// printException writes ex's traceback to stderr, highlighting the final
// exception line when colour is on.
func (d *driver) printException(v *vm.VM, ex *vm.Exception) {
	var buf bytes.Buffer
	if err := v.WriteBacktrace(&buf, ex); err != nil {
		fmt.Fprintf(d.stderr, "Error: %v\n", err)
		return
	}
	out := buf.String()
	if d.colour {
		body := strings.TrimSuffix(out, "\n")
		i := strings.LastIndexByte(body, '\n')
		out = body[:i+1] + "\x1b[1;31m" + body[i+1:] + "\x1b[0m\n"
	}
	io.WriteString(d.stderr, out)
}
