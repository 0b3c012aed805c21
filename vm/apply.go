package vm

import "iter"

// ---------------------------------------------------------------------------
// Function application
// ---------------------------------------------------------------------------

// Apply calls fn with args and returns its result. A function that fails
// raises VM_Exception.
func (vm *VM) Apply(fn Object, args ...Object) (Object, error) {
	o, _, err := vm.applyClosure(fn, args, false)
	return o, err
}

// ApplyAllowFail calls fn with args, returning nil if it fails.
func (vm *VM) ApplyAllowFail(fn Object, args ...Object) (Object, error) {
	o, _, err := vm.applyClosure(fn, args, true)
	return o, err
}

// GetSlotApply looks up a slot on o and applies it to args.
func (vm *VM) GetSlotApply(o Object, name string, args ...Object) (Object, error) {
	fn, err := vm.GetSlot(o, name)
	if err != nil {
		return nil, err
	}
	return vm.Apply(fn, args...)
}

// applyClosure runs fn to completion and also returns the closure it ran
// in, which is how module init functions hand back their definitions.
func (vm *VM) applyClosure(fn Object, args []Object, allowFail bool) (Object, *Closure, error) {
	cf, err := vm.addCallFrame(fn, len(args))
	if err != nil {
		return nil, nil, err
	}
	cf.extend(args)
	o, err := vm.executeProc(cf)
	if err != nil {
		return nil, nil, err
	}
	vm.removeFrame()

	if o == vm.Fail {
		o = nil
	}
	if o == nil && !allowFail {
		return nil, nil, vm.RaiseHelper("VM_Exception", vm.NewString("Function attempting to return fail, but caller can not handle failure."))
	}
	return o, cf.closure, nil
}

// executeProc runs cf to completion or to its first yield. On error the
// frame has already been removed.
func (vm *VM) executeProc(cf *frame) (Object, error) {
	switch pc := cf.pc.(type) {
	case *NativePC:
		if pc.Proc != nil {
			o, err := pc.Proc(vm)
			if err != nil {
				vm.removeFrame()
				return nil, err
			}
			cf.returned = true
			return o, nil
		}
		var first Object
		err := pc.Gen(vm, func(o Object) bool {
			first = o
			return false
		})
		if err != nil {
			vm.removeFrame()
			return nil, err
		}
		if first == nil {
			cf.returned = true
		}
		return first, nil
	case *BytecodePC:
		cf.bcOff = pc.Off
		return vm.bcLoop(cf)
	}
	vm.removeFrame()
	return nil, vm.RaiseHelper("VM_Exception", vm.NewString("Function has no code."))
}

// ---------------------------------------------------------------------------
// The pump protocol
// ---------------------------------------------------------------------------

// PreApplyPump prepares fn to be driven as a generator by ApplyPump. It
// pushes a generator frame onto the current frame and makes fn's frame
// current.
func (vm *VM) PreApplyPump(fn Object, args ...Object) error {
	cf := vm.cur
	gf := &subFrame{kind: generatorFrame, prevGFP: cf.gfp, off: -1}
	cf.gfp = cf.sp()
	cf.pushSub(gf)
	nf, err := vm.addCallFrame(fn, len(args))
	if err != nil {
		return err
	}
	nf.extend(args)
	return nil
}

// ApplyPump asks the generator set up by PreApplyPump, or the innermost
// suspended generator of the current frame, for its next value. It returns
// nil once the generator is exhausted or fails, at which point its
// generator frame has been removed.
func (vm *VM) ApplyPump() (Object, error) {
	var gen generator
	cf := vm.cur
	if cf.gfp == -1 {
		gen = vm.executeGen(cf)
	} else {
		cf.delFrom(cf.gfp + 1)
		gf := cf.sub(cf.gfp)
		if gf.gen == nil {
			vm.removeGeneratorFrame(cf)
			return nil, nil
		}
		cf = gf.savedCF
		gen = gf.gen
		gf.gen, gf.savedCF = nil, nil
		vm.cur = cf
	}

	o, err := gen.next()
	if err != nil {
		return nil, err
	}

	if cf.returned || o == nil {
		vm.removeFrame()
		vm.removeGeneratorFrame(vm.cur)
	} else {
		saved := vm.cur
		cf = saved.parent
		vm.cur = cf
		gf := cf.sub(cf.gfp)
		gf.gen = gen
		gf.savedCF = saved
		i := max(gf.prevGFP, cf.ffp) + 1
		cf.extend(cf.slice(i, cf.gfp))
	}

	if o == vm.Fail {
		o = nil
	}
	return o, nil
}

// Pump drives fn as a generator, calling yield with each value it
// produces until it is exhausted or yield returns false.
func (vm *VM) Pump(fn Object, args []Object, yield func(Object) (bool, error)) error {
	cf := vm.cur
	if err := vm.PreApplyPump(fn, args...); err != nil {
		return err
	}
	gfp := cf.gfp
	for {
		o, err := vm.ApplyPump()
		if err != nil || o == nil {
			return err
		}
		more, err := yield(o)
		if err != nil {
			return err
		}
		if !more {
			// Abandon the generator frame along with anything above it.
			g := cf.sub(gfp)
			cf.delFrom(gfp)
			cf.gfp = g.prevGFP
			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// generator is a suspended execution of a frame.
type generator interface {
	// next resumes the frame and returns its next value. A nil value or
	// the frame's returned flag means the generator is finished. On error
	// the frame has been removed.
	next() (Object, error)
	// stop abandons the generator.
	stop()
}

// executeGen returns a generator over cf's values.
func (vm *VM) executeGen(cf *frame) generator {
	switch pc := cf.pc.(type) {
	case *NativePC:
		if pc.Proc != nil {
			return &procGenerator{vm: vm, cf: cf, proc: pc.Proc}
		}
		return newPulledGenerator(vm, cf, pc.Gen)
	case *BytecodePC:
		cf.bcOff = pc.Off
		return &bcGenerator{vm: vm, cf: cf}
	}
	return &procGenerator{vm: vm, cf: cf, proc: func(vm *VM) (Object, error) {
		return nil, vm.RaiseHelper("VM_Exception", vm.NewString("Function has no code."))
	}}
}

// bcGenerator runs a bytecode frame until its next YIELD or RETURN.
type bcGenerator struct {
	vm *VM
	cf *frame
}

func (g *bcGenerator) next() (Object, error) {
	return g.vm.bcLoop(g.cf)
}

func (g *bcGenerator) stop() {
	g.cf.release()
}

// procGenerator produces a native function's single result.
type procGenerator struct {
	vm   *VM
	cf   *frame
	proc Proc
}

func (g *procGenerator) next() (Object, error) {
	o, err := g.proc(g.vm)
	if err != nil {
		g.vm.removeFrame()
		return nil, err
	}
	g.cf.returned = true
	return o, nil
}

func (g *procGenerator) stop() {}

// pulledGenerator turns a native Gen into a resumable generator.
type pulledGenerator struct {
	vm    *VM
	cf    *frame
	pull  func() (Object, error, bool)
	close func()
}

func newPulledGenerator(vm *VM, cf *frame, gen Gen) *pulledGenerator {
	seq := func(yield func(Object, error) bool) {
		err := gen(vm, func(o Object) bool {
			return yield(o, nil)
		})
		if err != nil {
			yield(nil, err)
		}
	}
	pull, stop := iter.Pull2(iter.Seq2[Object, error](seq))
	return &pulledGenerator{vm: vm, cf: cf, pull: pull, close: stop}
}

func (g *pulledGenerator) next() (Object, error) {
	o, err, ok := g.pull()
	if !ok {
		g.cf.returned = true
		return nil, nil
	}
	if err != nil {
		g.close()
		g.vm.removeFrame()
		return nil, err
	}
	return o, nil
}

func (g *pulledGenerator) stop() {
	g.close()
	g.cf.release()
}
