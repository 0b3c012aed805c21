package vm

import (
	"fmt"

	"github.com/ltratt/converge/bytecode"
)

// ---------------------------------------------------------------------------
// Bytecode dispatch loop
// ---------------------------------------------------------------------------

// bcLoop executes cf's bytecode until it returns or yields. Exceptions
// raised while running are caught by cf's innermost exception frame if it
// has one; otherwise cf is removed and the error is passed to the caller.
func (vm *VM) bcLoop(cf *frame) (Object, error) {
	for {
		o, err := vm.dispatch(cf)
		if err == nil {
			return o, nil
		}
		ex, ok := AsRaise(err)
		if !ok || cf.xfp == -1 {
			vm.removeFrame()
			return nil, err
		}
		ef := vm.removeExceptionFrame(cf)
		cf.push(ex)
		cf.bcOff = ef.off
	}
}

// dispatch runs instructions until RETURN, YIELD or an error.
func (vm *VM) dispatch(cf *frame) (Object, error) {
	pc, ok := cf.pc.(*BytecodePC)
	if !ok {
		return nil, fmt.Errorf("vm: %s is not a bytecode function", cf.fn.Name)
	}
	mod := pc.Mod
	rec := mod.bc
	bc := rec.BC

	for {
		off := cf.bcOff
		instr := bytecode.Instr(bytecode.ReadWord(bc, off))

		switch op := instr.Op(); op {
		case bytecode.OpExbi:
			class, err := vm.TypeCheckClass(cf.pop())
			if err != nil {
				return nil, err
			}
			bindTo := cf.pop()
			name := rec.InlineName(off)
			ic := mod.caches.GetOrCreate(off)
			field, hit := ic.Lookup(class)
			if !hit {
				field = class.FindField(name)
				ic.Update(class, field)
			}
			if field == nil {
				return nil, vm.RaiseHelper("Field_Exception", vm.NewString(name), class)
			}
			f, err := vm.TypeCheckFunc(field)
			if err != nil {
				return nil, err
			}
			cf.push(vm.NewPartialApplication(f, []Object{bindTo}))
			cf.bcOff += bytecode.InstrSize(bc, off)

		case bytecode.OpVarLookup:
			co, vn := instr.VarRef()
			v := cf.closure.up(co).vars[vn]
			if v == nil {
				return nil, vm.RaiseHelper("Unassigned_Var_Exception")
			}
			cf.push(v)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpVarAssign:
			co, vn := instr.VarRef()
			cf.closure.up(co).vars[vn] = cf.top()
			cf.bcOff += bytecode.WordSize

		case bytecode.OpInt:
			cf.push(vm.NewInt(instr.IntValue()))
			cf.bcOff += bytecode.WordSize

		case bytecode.OpFloat:
			cf.push(vm.NewFloat(bytecode.ReadFloat(bc, off+bytecode.WordSize)))
			cf.bcOff += 2 * bytecode.WordSize

		case bytecode.OpString:
			cf.push(vm.NewString(rec.InlineName(off)))
			cf.bcOff += bytecode.InstrSize(bc, off)

		case bytecode.OpAddFailureFrame:
			vm.addFailureFrame(cf, false, off+instr.Offset())
			cf.bcOff += bytecode.WordSize

		case bytecode.OpAddFailUpFrame:
			vm.addFailureFrame(cf, true, -1)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpRemoveFailureFrame:
			vm.removeFailureFrame(cf)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpIsAssigned:
			co, vn := instr.VarRef()
			if cf.closure.up(co).vars[vn] != nil {
				cf.bcOff += bytecode.Instr(bytecode.ReadWord(bc, off+bytecode.WordSize)).Offset()
			} else {
				cf.bcOff += 2 * bytecode.WordSize
			}

		case bytecode.OpIs:
			o1 := cf.pop()
			o2 := cf.pop()
			if !Is(o1, o2) {
				if err := vm.failNow(cf); err != nil {
					return nil, err
				}
				continue
			}
			cf.push(o2)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpFailNow:
			if err := vm.failNow(cf); err != nil {
				return nil, err
			}

		case bytecode.OpPop:
			cf.pop()
			cf.bcOff += bytecode.WordSize

		case bytecode.OpList:
			n := instr.Operand()
			l := cf.slice(cf.sp()-n, cf.sp())
			cf.delFrom(cf.sp() - n)
			cf.push(vm.NewList(l))
			cf.bcOff += bytecode.WordSize

		case bytecode.OpSlotLookup, bytecode.OpPreSlotLookupApply:
			o := cf.pop()
			name := rec.InlineName(off)
			v := vm.lookupSlotCached(o, name, mod.caches.GetOrCreate(off))
			if v == nil {
				return nil, vm.RaiseHelper("Slot_Exception", vm.NewString(name), o)
			}
			cf.push(v)
			cf.bcOff += bytecode.InstrSize(bc, off)

		case bytecode.OpApply:
			if err := vm.instrApply(cf, instr.Operand()); err != nil {
				return nil, err
			}

		case bytecode.OpFuncDefn:
			isBound, maxStack := instr.FuncDefn()
			np, err := vm.TypeCheckInt(cf.pop())
			if err != nil {
				return nil, err
			}
			nv, err := vm.TypeCheckInt(cf.pop())
			if err != nil {
				return nil, err
			}
			name, err := vm.TypeCheckString(cf.pop())
			if err != nil {
				return nil, err
			}
			container, err := vm.GetSlot(cf.fn, "container")
			if err != nil {
				return nil, err
			}
			body := &BytecodePC{Mod: mod, Off: off + 2*bytecode.WordSize}
			cf.push(vm.NewFunc(name.V, isBound, body, maxStack, int(np.V), int(nv.V), container, cf.closure))
			cf.bcOff += bytecode.WordSize

		case bytecode.OpReturn:
			cf.returned = true
			return cf.pop(), nil

		case bytecode.OpBranch:
			cf.bcOff += instr.Offset()

		case bytecode.OpYield:
			cf.bcOff += bytecode.WordSize
			return cf.top(), nil

		case bytecode.OpImport:
			n := instr.Operand()
			if n >= len(mod.Imports) {
				return nil, vm.corrupt(mod, off)
			}
			m, err := vm.ImportMod(mod.Imports[n])
			if err != nil {
				return nil, err
			}
			cf.push(m)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpDict:
			n := instr.Operand()
			kvs := cf.slice(cf.sp()-2*n, cf.sp())
			cf.delFrom(cf.sp() - 2*n)
			d := vm.NewDict()
			for i := 0; i < len(kvs); i += 2 {
				if err := d.Set(vm, kvs[i], kvs[i+1]); err != nil {
					return nil, err
				}
			}
			cf.push(d)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpDup:
			cf.push(cf.top())
			cf.bcOff += bytecode.WordSize

		case bytecode.OpPull:
			cf.push(cf.popN(instr.Operand()))
			cf.bcOff += bytecode.WordSize

		case bytecode.OpBuiltinLookup:
			n := instr.Operand()
			if n >= NumBuiltins || vm.builtins[n] == nil {
				return nil, vm.corrupt(mod, off)
			}
			cf.push(vm.builtins[n])
			cf.bcOff += bytecode.WordSize

		case bytecode.OpAssignSlot:
			o := cf.pop()
			vm.SetSlot(o, rec.InlineName(off), cf.top())
			cf.bcOff += bytecode.InstrSize(bc, off)

		case bytecode.OpEYield:
			if err := vm.instrEYield(cf); err != nil {
				return nil, err
			}

		case bytecode.OpAddExceptionFrame:
			vm.addExceptionFrame(cf, off+instr.Offset())
			cf.bcOff += bytecode.WordSize

		case bytecode.OpInstanceOf:
			cf.push(InstanceOf(cf.pop()))
			cf.bcOff += bytecode.WordSize

		case bytecode.OpRemoveExceptionFrame:
			vm.removeExceptionFrame(cf)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpRaise:
			return nil, vm.Raise(cf.pop())

		case bytecode.OpSetItem:
			v := cf.pop()
			k := cf.pop()
			if _, err := vm.GetSlotApply(cf.top(), "set", k, v); err != nil {
				return nil, err
			}
			cf.bcOff += bytecode.WordSize

		case bytecode.OpUnpackArgs:
			if err := vm.instrUnpackArgs(cf, rec, instr); err != nil {
				return nil, err
			}

		case bytecode.OpSet:
			n := instr.Operand()
			elems := cf.slice(cf.sp()-n, cf.sp())
			cf.delFrom(cf.sp() - n)
			s := vm.NewSet()
			for _, e := range elems {
				if err := s.Add(vm, e); err != nil {
					return nil, err
				}
			}
			cf.push(s)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpConstGet:
			c, err := vm.GetConst(mod, instr.Operand())
			if err != nil {
				return nil, err
			}
			cf.push(c)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpUnpackAssign:
			l, err := vm.TypeCheckList(cf.top())
			if err != nil {
				return nil, err
			}
			n := instr.Operand()
			if len(l.Elems) != n {
				return nil, vm.RaiseHelper("Unpack_Exception", vm.NewInt(int64(n)), vm.NewInt(int64(len(l.Elems))))
			}
			for i := n - 1; i >= 0; i-- {
				cf.push(l.Elems[i])
			}
			cf.bcOff += bytecode.WordSize

		case bytecode.OpBranchIfNotFail:
			if cf.pop() == vm.Fail {
				cf.bcOff += bytecode.WordSize
			} else {
				cf.bcOff += instr.Offset()
			}

		case bytecode.OpBranchIfFail:
			if cf.pop() != vm.Fail {
				cf.bcOff += bytecode.WordSize
			} else {
				cf.bcOff += instr.Offset()
			}

		case bytecode.OpEq, bytecode.OpLe, bytecode.OpNeq, bytecode.OpLeEq, bytecode.OpGrEq, bytecode.OpGt:
			rhs := cf.pop()
			lhs := cf.pop()
			r, err := vm.Compare(cmpOps[op], lhs, rhs)
			if err != nil {
				return nil, err
			}
			if !r {
				if err := vm.failNow(cf); err != nil {
					return nil, err
				}
				continue
			}
			cf.push(rhs)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpAdd, bytecode.OpSubtract:
			rhs := cf.pop()
			lhs := cf.pop()
			var r Object
			var err error
			if op == bytecode.OpAdd {
				r, err = vm.Add(lhs, rhs)
			} else {
				r, err = vm.Subtract(lhs, rhs)
			}
			if err != nil {
				return nil, err
			}
			cf.push(r)
			cf.bcOff += bytecode.WordSize

		case bytecode.OpModuleLookup:
			o := cf.pop()
			name := rec.InlineName(off)
			var v Object
			var err error
			if m, ok := o.(*Module); ok {
				v, err = vm.GetDefn(m, name)
			} else {
				v, err = vm.GetSlotApply(o, "get_defn", vm.NewString(name))
			}
			if err != nil {
				return nil, err
			}
			cf.push(v)
			cf.bcOff += bytecode.InstrSize(bc, off)

		default:
			return nil, vm.corrupt(mod, off)
		}
	}
}

var cmpOps = map[bytecode.Opcode]CmpOp{
	bytecode.OpEq:   CmpEq,
	bytecode.OpNeq:  CmpNeq,
	bytecode.OpLe:   CmpLt,
	bytecode.OpLeEq: CmpLtEq,
	bytecode.OpGrEq: CmpGtEq,
	bytecode.OpGt:   CmpGt,
}

func (vm *VM) corrupt(mod *Module, off int) error {
	instr := bytecode.Instr(bytecode.ReadWord(mod.bc.BC, off))
	return vm.RaiseHelper("VM_Exception", vm.NewString(fmt.Sprintf("Invalid instruction %s at offset %d in '%s'.", instr.Op(), off, mod.Name)))
}

// ---------------------------------------------------------------------------
// Instructions with more involved semantics
// ---------------------------------------------------------------------------

// instrApply calls the function below the top n entries. Inside a fail-up
// scope the callee is driven through a generator frame so that later
// failures can resume it.
func (vm *VM) instrApply(cf *frame, n int) error {
	fp := cf.sp() - n - 1
	fn := cf.get(fp)

	nf, err := vm.addCallFrame(fn, n)
	if err != nil {
		return err
	}
	nf.extend(cf.slice(fp+1, cf.sp()))
	cf.delFrom(fp + 1)

	var o Object
	if cf.ffp != -1 && cf.sub(cf.ffp).kind == failUpFrame {
		gf := &subFrame{kind: generatorFrame, prevGFP: cf.gfp, off: cf.bcOff + bytecode.WordSize}
		cf.stack[fp] = entry{sub: gf}
		cf.gfp = fp
		if o, err = vm.ApplyPump(); err != nil {
			return err
		}
	} else {
		cf.pop()
		if o, err = vm.executeProc(nf); err != nil {
			return err
		}
		vm.removeFrame()
		if o == vm.Fail {
			o = nil
		}
	}

	if o == nil {
		return vm.failNow(cf)
	}
	cf.push(o)
	cf.bcOff += bytecode.WordSize
	return nil
}

// instrEYield suspends the current fail-up scope, handing the top of the
// stack to whoever is driving it. The scope's failure frame becomes an
// eyield frame which later failure resumes at the failure frame's
// destination.
func (vm *VM) instrEYield(cf *frame) error {
	o := cf.pop()
	ff, err := vm.readFailureFrame(cf)
	if err != nil {
		return err
	}
	vm.removeFailureFrame(cf)
	prevGFP := cf.gfp
	cf.gfp = cf.sp()
	cf.pushSub(&subFrame{kind: eyieldFrame, prevGFP: prevGFP, off: ff.off})
	start := max(prevGFP, cf.ffp) + 1
	cf.extend(cf.slice(start, cf.sp()-1))
	cf.push(o)
	cf.bcOff += bytecode.WordSize
	return nil
}

// instrUnpackArgs moves the frame's arguments into closure variables.
func (vm *VM) instrUnpackArgs(cf *frame, rec *bytecode.Module, instr bytecode.Instr) error {
	nfargs, hasVargs := instr.UnpackArgs()
	nargs := cf.nargs
	if nargs > nfargs && !hasVargs {
		return vm.raiseParameters("Too many parameters (%d passed, but a maximum of %d allowed).", nargs, nfargs)
	}

	off := cf.bcOff
	for i := nfargs - 1; i >= 0; i-- {
		info := bytecode.ArgInfo(bytecode.ReadWord(rec.BC, off+(i+1)*bytecode.WordSize))
		if i >= nargs {
			if !info.Optional() {
				return vm.raiseParameters("No value passed for parameter %d.", i+1)
			}
			continue
		}
		var o Object
		if nargs > nfargs {
			o = cf.popN(nargs - nfargs)
		} else {
			o = cf.pop()
		}
		cf.closure.vars[info.VarNum()] = o
	}

	size := bytecode.WordSize + nfargs*bytecode.WordSize
	if hasVargs {
		info := bytecode.ArgInfo(bytecode.ReadWord(rec.BC, off+(nfargs+1)*bytecode.WordSize))
		var l []Object
		if nargs > nfargs {
			i := cf.sp() - (nargs - nfargs)
			l = cf.slice(i, cf.sp())
			cf.delFrom(i)
		}
		cf.closure.vars[info.VarNum()] = vm.NewList(l)
		size += bytecode.WordSize
	}
	cf.bcOff += size
	return nil
}
