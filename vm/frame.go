package vm

// ---------------------------------------------------------------------------
// Continuation frames
// ---------------------------------------------------------------------------

// frame is the activation record of one call. Frames are heap allocated and
// linked through parent rather than living in one contiguous stack, so a
// suspended generator's frame can outlive the frame that called it.
//
// Failure, generator and exception bookkeeping lives inline on the operand
// stack as subframes. ffp, gfp and xfp index the innermost subframe of each
// kind, or are -1 when there is none.
type frame struct {
	parent  *frame
	fn      *Func
	pc      PC
	stack   []entry
	nargs   int
	bcOff   int
	closure *Closure

	ffp, gfp, xfp int
	returned      bool
}

// entry is one operand stack slot: either an object or a subframe.
type entry struct {
	obj Object
	sub *subFrame
}

type frameKind uint8

const (
	failureFrame   frameKind = iota // branch to off on failure
	failUpFrame                     // resume the innermost generator on failure
	generatorFrame                  // a callee driven by the pump protocol
	eyieldFrame                     // an explicit yield inside a fail-up scope
	exceptionFrame                  // catch exceptions at off
)

func (k frameKind) String() string {
	switch k {
	case failureFrame:
		return "failure"
	case failUpFrame:
		return "fail-up"
	case generatorFrame:
		return "generator"
	case eyieldFrame:
		return "eyield"
	case exceptionFrame:
		return "exception"
	}
	return "unknown"
}

// subFrame is a failure, generator or exception frame. off is the failure
// destination, the generator resume offset or the handler offset depending
// on kind.
type subFrame struct {
	kind    frameKind
	prevFFP int
	prevGFP int
	prevXFP int
	off     int

	// Generator frames only, while the callee is suspended.
	gen     generator
	savedCF *frame
}

func (f *frame) sp() int {
	return len(f.stack)
}

func (f *frame) push(o Object) {
	f.stack = append(f.stack, entry{obj: o})
}

func (f *frame) pushSub(s *subFrame) {
	f.stack = append(f.stack, entry{sub: s})
}

func (f *frame) pop() Object {
	n := len(f.stack) - 1
	o := f.stack[n].obj
	f.stack[n] = entry{}
	f.stack = f.stack[:n]
	return o
}

func (f *frame) top() Object {
	return f.stack[len(f.stack)-1].obj
}

func (f *frame) get(i int) Object {
	return f.stack[i].obj
}

func (f *frame) set(i int, o Object) {
	f.stack[i] = entry{obj: o}
}

func (f *frame) sub(i int) *subFrame {
	return f.stack[i].sub
}

func (f *frame) extend(os []Object) {
	for _, o := range os {
		f.push(o)
	}
}

// slice copies the objects in [i, j).
func (f *frame) slice(i, j int) []Object {
	os := make([]Object, j-i)
	for k := range os {
		os[k] = f.stack[i+k].obj
	}
	return os
}

// popN removes and returns the entry n places below the top, shifting the
// entries above it down and adjusting any subframe pointers among them.
func (f *frame) popN(n int) Object {
	i := len(f.stack) - 1 - n
	o := f.stack[i].obj
	copy(f.stack[i:], f.stack[i+1:])
	f.stack[len(f.stack)-1] = entry{}
	f.stack = f.stack[:len(f.stack)-1]
	if f.ffp > i {
		f.ffp--
	}
	if f.gfp > i {
		f.gfp--
	}
	if f.xfp > i {
		f.xfp--
	}
	return o
}

// delFrom truncates the stack to i entries. Suspended generators held by
// discarded generator frames are released.
func (f *frame) delFrom(i int) {
	for j := i; j < len(f.stack); j++ {
		if s := f.stack[j].sub; s != nil && s.kind == generatorFrame {
			s.release()
		}
		f.stack[j] = entry{}
	}
	f.stack = f.stack[:i]
}

// release discards the frame's stack once nothing can resume it.
func (f *frame) release() {
	if f != nil && f.stack != nil {
		f.delFrom(0)
	}
}

func (s *subFrame) release() {
	if s.gen != nil {
		s.gen.stop()
		s.gen = nil
	}
	if s.savedCF != nil {
		s.savedCF.release()
		s.savedCF = nil
	}
}

// ---------------------------------------------------------------------------
// Frame creation and removal
// ---------------------------------------------------------------------------

// addFrame makes fn's frame the current frame. The caller pushes the nargs
// arguments.
func (vm *VM) addFrame(fn Object, nargs int) (*frame, error) {
	f, ok := fn.(*Func)
	if !ok {
		return nil, vm.RaiseHelper("Apply_Exception", fn)
	}
	size := f.MaxStack
	if nargs > size {
		size = nargs
	}
	if size == 0 {
		size = 1
	}
	cf := &frame{
		parent:  vm.cur,
		fn:      f,
		pc:      f.PC,
		stack:   make([]entry, 0, size),
		nargs:   nargs,
		closure: NewClosure(f.ContainerClosure, f.NumVars),
		ffp:     -1,
		gfp:     -1,
		xfp:     -1,
	}
	vm.cur = cf
	return cf, nil
}

// addCallFrame is addFrame for a function or partial application, pushing
// the partial application's bound arguments.
func (vm *VM) addCallFrame(fn Object, nargs int) (*frame, error) {
	if pa, ok := fn.(*PartialApplication); ok {
		cf, err := vm.addFrame(pa.Func, nargs+len(pa.Args))
		if err != nil {
			return nil, err
		}
		cf.extend(pa.Args)
		return cf, nil
	}
	return vm.addFrame(fn, nargs)
}

// removeFrame pops the current frame.
func (vm *VM) removeFrame() {
	cf := vm.cur
	vm.cur = cf.parent
	cf.release()
}

// ---------------------------------------------------------------------------
// Failure, generator and exception subframes
// ---------------------------------------------------------------------------

func (vm *VM) addFailureFrame(cf *frame, failUp bool, off int) {
	kind := failureFrame
	if failUp {
		kind = failUpFrame
	}
	s := &subFrame{kind: kind, prevFFP: cf.ffp, prevGFP: cf.gfp, off: off}
	cf.gfp = -1
	cf.ffp = cf.sp()
	cf.pushSub(s)
}

func (vm *VM) readFailureFrame(cf *frame) (*subFrame, error) {
	if cf.ffp == -1 {
		return nil, vm.RaiseHelper("VM_Exception", vm.NewString("No failure frame to fail to."))
	}
	return cf.sub(cf.ffp), nil
}

func (vm *VM) removeFailureFrame(cf *frame) {
	s := cf.sub(cf.ffp)
	cf.delFrom(cf.ffp)
	cf.ffp = s.prevFFP
	cf.gfp = s.prevGFP
}

func (vm *VM) removeGeneratorFrame(cf *frame) {
	s := cf.sub(cf.gfp)
	cf.delFrom(cf.gfp)
	cf.gfp = s.prevGFP
}

func (vm *VM) addExceptionFrame(cf *frame, off int) {
	s := &subFrame{kind: exceptionFrame, prevFFP: cf.ffp, prevGFP: cf.gfp, prevXFP: cf.xfp, off: off}
	cf.xfp = cf.sp()
	cf.pushSub(s)
}

func (vm *VM) removeExceptionFrame(cf *frame) *subFrame {
	s := cf.sub(cf.xfp)
	cf.delFrom(cf.xfp)
	cf.ffp = s.prevFFP
	cf.gfp = s.prevGFP
	cf.xfp = s.prevXFP
	return s
}

// failNow unwinds to the innermost failure frame. Plain failure frames
// branch to their destination. Fail-up frames resume the innermost
// generator for another value, and are themselves discarded once no
// generator is left.
func (vm *VM) failNow(cf *frame) error {
	for {
		ff, err := vm.readFailureFrame(cf)
		if err != nil {
			return err
		}
		if ff.kind == failureFrame {
			cf.bcOff = ff.off
			vm.removeFailureFrame(cf)
			return nil
		}
		if cf.gfp == -1 {
			vm.removeFailureFrame(cf)
			continue
		}
		gf := cf.sub(cf.gfp)
		switch gf.kind {
		case eyieldFrame:
			vm.removeGeneratorFrame(cf)
			cf.bcOff = gf.off
			return nil
		case generatorFrame:
			o, err := vm.ApplyPump()
			if err != nil {
				return err
			}
			if o != nil {
				cf = vm.cur
				cf.push(o)
				cf.bcOff = gf.off
				return nil
			}
		default:
			return vm.RaiseHelper("VM_Exception", vm.NewString("Corrupt generator frame."))
		}
	}
}
