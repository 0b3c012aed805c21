package vm

import (
	"fmt"
	"io"
	"slices"
)

// ---------------------------------------------------------------------------
// Backtraces
// ---------------------------------------------------------------------------

// TraceEntry is one line of a backtrace.
type TraceEntry struct {
	FuncPath string
	Internal bool // no source position available
	SrcPath  string
	Line     int
	Column   int
}

func (e TraceEntry) String() string {
	if e.Internal {
		return fmt.Sprintf("(internal), in %s", e.FuncPath)
	}
	return fmt.Sprintf("File %q, line %d, column %d, in %s", e.SrcPath, e.Line, e.Column, e.FuncPath)
}

// Traceback resolves ex's call chain into source positions, outermost call
// first. It never raises: anything that cannot be resolved is reported as
// internal.
func (vm *VM) Traceback(ex *Exception) []TraceEntry {
	entries := make([]TraceEntry, 0, len(ex.CallChain))
	for _, cc := range slices.Backward(ex.CallChain) {
		e := TraceEntry{FuncPath: vm.funcPath(cc.Func), Internal: true}
		if pc, ok := cc.PC.(*BytecodePC); ok {
			if sis, err := pc.Mod.SrcInfos(cc.BCOff); err == nil && len(sis) > 0 {
				m := pc.Mod
				if sis[0].ModID != "" && sis[0].ModID != m.ID {
					m = vm.FindMod(sis[0].ModID)
				}
				if m != nil && m.bc != nil {
					if line, col, err := m.bc.LineColumn(sis[0].Offset); err == nil {
						e.Internal = false
						e.SrcPath, e.Line, e.Column = m.SrcPath, line, col
					}
				}
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// funcPath returns fn's path, or its bare name if the path cannot be
// computed.
func (vm *VM) funcPath(fn *Func) string {
	if fn == nil {
		return "<unknown>"
	}
	p, err := vm.GetSlotApply(fn, "path")
	if err != nil {
		return fn.Name
	}
	if s, ok := p.(*String); ok {
		return s.V
	}
	return fn.Name
}

// WriteBacktrace prints ex with its traceback to w.
func (vm *VM) WriteBacktrace(w io.Writer, ex *Exception) error {
	if _, err := fmt.Fprintln(w, "Traceback (most recent call at bottom):"); err != nil {
		return err
	}
	for i, e := range vm.Traceback(ex) {
		if _, err := fmt.Fprintf(w, "  %d: %s\n", i+1, e); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", InstanceOf(ex).Name, ex.Message())
	return err
}
