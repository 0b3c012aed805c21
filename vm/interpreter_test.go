package vm

import (
	"slices"
	"testing"

	"github.com/ltratt/converge/bytecode"
)

// ---------------------------------------------------------------------------
// Failure
// ---------------------------------------------------------------------------

func TestFailureFrameRestoresStack(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
	}{
		{"comparison fails", 1, 2, 5},
		{"comparison succeeds", 1, 1, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t)
			mb := newModBuilder(t, "m")
			mb.fn("f", 0, 0, func(b *bytecode.Builder) {
				failed := b.NewLabel()
				b.EmitInt(5)
				b.EmitJump(bytecode.OpAddFailureFrame, failed)
				b.EmitInt(tt.a)
				b.EmitInt(tt.b)
				b.Emit(bytecode.OpEq)
				b.Emit(bytecode.OpPop)
				b.Emit(bytecode.OpRemoveFailureFrame)
				b.EmitInt(7)
				b.Emit(bytecode.OpReturn)
				b.Mark(failed)
				b.Emit(bytecode.OpReturn)
			})
			m := mb.load(vm)
			if got := (checker{t}).int(vm.Apply(defn(t, vm, m, "f"))); got != tt.want {
				t.Errorf("f() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFailNowWithoutFailureFrame(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.Emit(bytecode.OpFailNow)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "f"))
	wantRaise(t, vm, err, "VM_Exception")
}

func TestReturningFail(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.EmitOperand(bytecode.OpBuiltinLookup, BuiltinFail)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	f := defn(t, vm, m, "f")

	o, err := vm.ApplyAllowFail(f)
	if err != nil || o != nil {
		t.Errorf("ApplyAllowFail = %v, %v; want nil, nil", o, err)
	}
	_, err = vm.Apply(f)
	wantRaise(t, vm, err, "VM_Exception")
}

func TestBranchIfFail(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// f(x) returns 1 if x is fail, else 2.
	mb.fn("f", 1, 1, func(b *bytecode.Builder) {
		isFail := b.NewLabel()
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, -1)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitJump(bytecode.OpBranchIfFail, isFail)
		b.EmitInt(2)
		b.Emit(bytecode.OpReturn)
		b.Mark(isFail)
		b.EmitInt(1)
		b.Emit(bytecode.OpReturn)
	})
	// g(x) returns 3 unless x is fail, else 4.
	mb.fn("g", 1, 1, func(b *bytecode.Builder) {
		notFail := b.NewLabel()
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, -1)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitJump(bytecode.OpBranchIfNotFail, notFail)
		b.EmitInt(4)
		b.Emit(bytecode.OpReturn)
		b.Mark(notFail)
		b.EmitInt(3)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	f, g := defn(t, vm, m, "f"), defn(t, vm, m, "g")
	ck := checker{t}
	if got := ck.int(vm.Apply(f, vm.Fail)); got != 1 {
		t.Errorf("f(fail) = %d, want 1", got)
	}
	if got := ck.int(vm.Apply(f, vm.Null)); got != 2 {
		t.Errorf("f(null) = %d, want 2", got)
	}
	if got := ck.int(vm.Apply(g, vm.Fail)); got != 4 {
		t.Errorf("g(fail) = %d, want 4", got)
	}
	if got := ck.int(vm.Apply(g, vm.Null)); got != 3 {
		t.Errorf("g(null) = %d, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// Comparisons
// ---------------------------------------------------------------------------

func TestComparisonInstructions(t *testing.T) {
	tests := []struct {
		name string
		op   bytecode.Opcode
		a, b int64
		want bool
	}{
		{"EQ equal", bytecode.OpEq, 2, 2, true},
		{"NEQ equal", bytecode.OpNeq, 2, 2, false},
		{"NEQ different", bytecode.OpNeq, 2, 3, true},
		{"LE less", bytecode.OpLe, 1, 2, true},
		{"LE equal", bytecode.OpLe, 2, 2, false},
		{"LE_EQ equal", bytecode.OpLeEq, 2, 2, true},
		{"LE_EQ greater", bytecode.OpLeEq, 3, 2, false},
		{"GR_EQ equal", bytecode.OpGrEq, 2, 2, true},
		{"GR_EQ less", bytecode.OpGrEq, 1, 2, false},
		{"GT greater", bytecode.OpGt, 3, 2, true},
		{"GT equal", bytecode.OpGt, 2, 2, false},
		{"IS same int", bytecode.OpIs, 4, 4, true},
		{"IS different int", bytecode.OpIs, 4, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t)
			mb := newModBuilder(t, "m")
			// f() returns 1 if "a op b" succeeds, else 0.
			mb.fn("f", 0, 0, func(b *bytecode.Builder) {
				failed := b.NewLabel()
				b.EmitJump(bytecode.OpAddFailureFrame, failed)
				b.EmitInt(tt.a)
				b.EmitInt(tt.b)
				b.Emit(tt.op)
				b.Emit(bytecode.OpPop)
				b.Emit(bytecode.OpRemoveFailureFrame)
				b.EmitInt(1)
				b.Emit(bytecode.OpReturn)
				b.Mark(failed)
				b.EmitInt(0)
				b.Emit(bytecode.OpReturn)
			})
			m := mb.load(vm)
			want := int64(0)
			if tt.want {
				want = 1
			}
			if got := (checker{t}).int(vm.Apply(defn(t, vm, m, "f"))); got != want {
				t.Errorf("f() = %d, want %d", got, want)
			}
		})
	}
}

func TestComparisonResult(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// lt() is "return 1 < 2", which evaluates to the right operand.
	mb.fn("lt", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(1)
		b.EmitInt(2)
		b.Emit(bytecode.OpLe)
		b.Emit(bytecode.OpReturn)
	})
	// is() is "return 5 is 5", which evaluates to the left operand.
	mb.fn("is", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(5)
		b.EmitInt(5)
		b.Emit(bytecode.OpIs)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	ck := checker{t}

	if got := ck.int(vm.Apply(defn(t, vm, m, "lt"))); got != 2 {
		t.Errorf("lt() = %d, want 2", got)
	}
	if got := ck.int(vm.Apply(defn(t, vm, m, "is"))); got != 5 {
		t.Errorf("is() = %d, want 5", got)
	}
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// addGenerator defines gen(), which yields 1, 2 and 3 and then fails.
func addGenerator(mb *modBuilder) {
	mb.fn("gen", 0, 0, func(b *bytecode.Builder) {
		for i := int64(1); i <= 3; i++ {
			b.EmitInt(i)
			b.Emit(bytecode.OpYield)
			b.Emit(bytecode.OpPop)
		}
		b.EmitOperand(bytecode.OpBuiltinLookup, BuiltinFail)
		b.Emit(bytecode.OpReturn)
	})
}

func TestGeneratorFailUpLoop(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	addGenerator(mb)
	gen := mb.tlVar("gen")
	// sum() is "total := 0; for x := gen() { total += x }; return total".
	mb.fn("sum", 0, 1, func(b *bytecode.Builder) {
		done := b.NewLabel()
		b.EmitInt(0)
		b.EmitVar(bytecode.OpVarAssign, 0, 0)
		b.Emit(bytecode.OpPop)
		b.EmitJump(bytecode.OpAddFailureFrame, done)
		b.Emit(bytecode.OpAddFailUpFrame)
		b.EmitVar(bytecode.OpVarLookup, 1, gen)
		b.EmitOperand(bytecode.OpApply, 0)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpAdd)
		b.EmitVar(bytecode.OpVarAssign, 0, 0)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpFailNow)
		b.Mark(done)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)

	if got := (checker{t}).int(vm.Apply(defn(t, vm, m, "sum"))); got != 6 {
		t.Errorf("sum() = %d, want 6", got)
	}
}

func TestEYieldAlternation(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// sum() is "total := 0; for x := (10 | 20) { total += x }; return total".
	mb.fn("sum", 0, 1, func(b *bytecode.Builder) {
		done, alt, join := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.EmitInt(0)
		b.EmitVar(bytecode.OpVarAssign, 0, 0)
		b.Emit(bytecode.OpPop)
		b.EmitJump(bytecode.OpAddFailureFrame, done)
		b.Emit(bytecode.OpAddFailUpFrame)
		b.EmitJump(bytecode.OpAddFailureFrame, alt)
		b.EmitInt(10)
		b.Emit(bytecode.OpEYield)
		b.EmitJump(bytecode.OpBranch, join)
		b.Mark(alt)
		b.EmitInt(20)
		b.Mark(join)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpAdd)
		b.EmitVar(bytecode.OpVarAssign, 0, 0)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpFailNow)
		b.Mark(done)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpReturn)
	})
	// first() is "return (10 | 20)": outside a loop only the first
	// alternative is produced.
	mb.fn("first", 0, 0, func(b *bytecode.Builder) {
		alt := b.NewLabel()
		b.Emit(bytecode.OpAddFailUpFrame)
		b.EmitJump(bytecode.OpAddFailureFrame, alt)
		b.EmitInt(10)
		b.Emit(bytecode.OpEYield)
		b.Emit(bytecode.OpReturn)
		b.Mark(alt)
		b.EmitInt(20)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	ck := checker{t}

	if got := ck.int(vm.Apply(defn(t, vm, m, "sum"))); got != 30 {
		t.Errorf("sum() = %d, want 30", got)
	}
	if got := ck.int(vm.Apply(defn(t, vm, m, "first"))); got != 10 {
		t.Errorf("first() = %d, want 10", got)
	}
}

func TestPumpBytecodeGenerator(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	addGenerator(mb)
	m := mb.load(vm)
	gen := defn(t, vm, m, "gen")

	if got := ints(t, collect(t, vm, gen)); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("collect(gen) = %v, want [1 2 3]", got)
	}
	// Applied normally a generator produces only its first value.
	if got := (checker{t}).int(vm.Apply(gen)); got != 1 {
		t.Errorf("gen() = %d, want 1", got)
	}
}

func TestPumpStopsEarly(t *testing.T) {
	vm := newTestVM(t)
	l := vm.NewList([]Object{vm.NewInt(1), vm.NewInt(2), vm.NewInt(3)})
	var got []int64
	driver := vm.NewProc(vm.builtinsMod, "first_two", false, func(vm *VM) (Object, error) {
		err := vm.Pump(vm.FindSlot(l, "iter"), nil, func(o Object) (bool, error) {
			got = append(got, o.(*Int).V)
			return len(got) < 2, nil
		})
		if vm.cur.gfp != -1 || vm.cur.sp() != 0 {
			t.Errorf("driver frame not restored: gfp=%d sp=%d", vm.cur.gfp, vm.cur.sp())
		}
		return vm.Null, err
	}, nil)
	if _, err := vm.Apply(driver); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestPumpNativeGenerators(t *testing.T) {
	vm := newTestVM(t)

	tests := []struct {
		name string
		fn   Object
		args []Object
		want []int64
	}{
		{"Int.iter_to", vm.FindSlot(vm.NewInt(2), "iter_to"), []Object{vm.NewInt(5)}, []int64{2, 3, 4}},
		{"Int.iter_to step", vm.FindSlot(vm.NewInt(10), "iter_to"), []Object{vm.NewInt(0), vm.NewInt(-4)}, []int64{10, 6, 2}},
		{"List.riter", vm.FindSlot(vm.NewList([]Object{vm.NewInt(1), vm.NewInt(2)}), "riter"), nil, []int64{2, 1}},
		{"String.find_index", vm.FindSlot(vm.NewString("abcabc"), "find_index"), []Object{vm.NewString("bc")}, []int64{1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ints(t, collect(t, vm, tt.fn, tt.args...)); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeneratorErrorPropagates(t *testing.T) {
	vm := newTestVM(t)
	driver := vm.NewProc(vm.builtinsMod, "d", false, func(vm *VM) (Object, error) {
		return vm.Null, vm.Pump(vm.FindSlot(vm.NewInt(0), "iter_to"), []Object{vm.NewInt(3), vm.NewInt(0)}, func(Object) (bool, error) {
			return true, nil
		})
	}, nil)
	_, err := vm.Apply(driver)
	ex := wantRaise(t, vm, err, "Number_Exception")
	if ex.Message() != "Step of 0 not allowed." {
		t.Errorf("msg = %q", ex.Message())
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestExceptionFrameCatches(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m", "Exceptions")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		handler := b.NewLabel()
		b.EmitJump(bytecode.OpAddExceptionFrame, handler)
		b.EmitOperand(bytecode.OpImport, 0)
		b.EmitName(bytecode.OpModuleLookup, "User_Exception")
		b.EmitName(bytecode.OpSlotLookup, "new")
		b.EmitName(bytecode.OpString, "boom")
		b.EmitOperand(bytecode.OpApply, 1)
		b.Emit(bytecode.OpRaise)
		b.Mark(handler)
		b.EmitName(bytecode.OpSlotLookup, "msg")
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	if got := (checker{t}).str(vm.Apply(defn(t, vm, m, "f"))); got != "boom" {
		t.Errorf("f() = %q, want boom", got)
	}
}

func TestExceptionFromNativeCaught(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// f() is "try: 1 / 0 catch e: return e.instance_of".
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		handler := b.NewLabel()
		b.EmitJump(bytecode.OpAddExceptionFrame, handler)
		b.EmitInt(1)
		b.EmitName(bytecode.OpSlotLookup, "/")
		b.EmitInt(0)
		b.EmitOperand(bytecode.OpApply, 1)
		b.Emit(bytecode.OpRemoveExceptionFrame)
		b.Emit(bytecode.OpReturn)
		b.Mark(handler)
		b.Emit(bytecode.OpInstanceOf)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	c := (checker{t}).obj(vm.Apply(defn(t, vm, m, "f")))
	if c != vm.exceptionsMod.findDefn("Number_Exception") {
		t.Errorf("caught %v, want Number_Exception", c)
	}
}

func TestRaiseNonException(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(3)
		b.Emit(bytecode.OpRaise)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "f"))
	wantRaise(t, vm, err, "Type_Exception")
}

func TestCallChainRecorded(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	inner := mb.tlVar("inner")
	mb.fn("inner", 0, 1, func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpReturn)
	})
	mb.fn("outer", 0, 0, func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpVarLookup, 1, inner)
		b.EmitOperand(bytecode.OpApply, 0)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "outer"))
	ex := wantRaise(t, vm, err, "Unassigned_Var_Exception")

	var names []string
	for _, e := range ex.CallChain {
		names = append(names, e.Func.Name)
	}
	if !slices.Equal(names, []string{"inner", "outer"}) {
		t.Errorf("call chain = %v, want [inner outer]", names)
	}
	if vm.cur != nil {
		t.Error("frames should be unwound after an uncaught exception")
	}
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

func TestUnpackArgs(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// f(a, b := 10) returns a + b.
	mb.fn("f", 2, 2, func(b *bytecode.Builder) {
		assigned := b.NewLabel()
		b.EmitUnpackArgs([]bytecode.ArgInfo{
			bytecode.EncodeArgInfo(0, false),
			bytecode.EncodeArgInfo(1, true),
		}, -1)
		b.EmitIsAssigned(0, 1, assigned)
		b.EmitInt(10)
		b.EmitVar(bytecode.OpVarAssign, 0, 1)
		b.Emit(bytecode.OpPop)
		b.Mark(assigned)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitVar(bytecode.OpVarLookup, 0, 1)
		b.Emit(bytecode.OpAdd)
		b.Emit(bytecode.OpReturn)
	})
	// g(a, *rest) returns rest.
	mb.fn("g", 1, 2, func(b *bytecode.Builder) {
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, 1)
		b.EmitVar(bytecode.OpVarLookup, 0, 1)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	f, g := defn(t, vm, m, "f"), defn(t, vm, m, "g")
	ck := checker{t}

	if got := ck.int(vm.Apply(f, vm.NewInt(1))); got != 11 {
		t.Errorf("f(1) = %d, want 11", got)
	}
	if got := ck.int(vm.Apply(f, vm.NewInt(1), vm.NewInt(2))); got != 3 {
		t.Errorf("f(1, 2) = %d, want 3", got)
	}

	_, err := vm.Apply(f)
	ex := wantRaise(t, vm, err, "Parameters_Exception")
	if ex.Message() != "No value passed for parameter 1." {
		t.Errorf("msg = %q", ex.Message())
	}
	_, err = vm.Apply(f, vm.NewInt(1), vm.NewInt(2), vm.NewInt(3))
	ex = wantRaise(t, vm, err, "Parameters_Exception")
	if ex.Message() != "Too many parameters (3 passed, but a maximum of 2 allowed)." {
		t.Errorf("msg = %q", ex.Message())
	}

	rest, ok := ck.obj(vm.Apply(g, vm.NewInt(1), vm.NewInt(2), vm.NewInt(3))).(*List)
	if !ok {
		t.Fatal("g should return a list")
	}
	if got := ints(t, rest.Elems); !slices.Equal(got, []int64{2, 3}) {
		t.Errorf("rest = %v, want [2 3]", got)
	}
	rest, _ = ck.obj(vm.Apply(g, vm.NewInt(1))).(*List)
	if len(rest.Elems) != 0 {
		t.Errorf("rest = %v, want []", rest.Elems)
	}
}

func TestUnassignedVariable(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 1, func(b *bytecode.Builder) {
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "f"))
	wantRaise(t, vm, err, "Unassigned_Var_Exception")
}

// ---------------------------------------------------------------------------
// Data instructions
// ---------------------------------------------------------------------------

func TestCollectionInstructions(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.consts = []any{"k", int64(99)}
	mb.fn("list", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(1)
		b.EmitInt(2)
		b.EmitOperand(bytecode.OpList, 2)
		b.Emit(bytecode.OpReturn)
	})
	mb.fn("dict", 0, 0, func(b *bytecode.Builder) {
		b.EmitOperand(bytecode.OpConstGet, 0)
		b.EmitOperand(bytecode.OpConstGet, 1)
		b.EmitOperand(bytecode.OpDict, 1)
		b.Emit(bytecode.OpReturn)
	})
	mb.fn("set", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(1)
		b.EmitInt(1)
		b.EmitInt(2)
		b.EmitOperand(bytecode.OpSet, 3)
		b.Emit(bytecode.OpReturn)
	})
	// unpack() is "a, b := [3, 4]; return b - a".
	mb.fn("unpack", 0, 2, func(b *bytecode.Builder) {
		b.EmitInt(3)
		b.EmitInt(4)
		b.EmitOperand(bytecode.OpList, 2)
		b.EmitOperand(bytecode.OpUnpackAssign, 2)
		b.EmitVar(bytecode.OpVarAssign, 0, 0)
		b.Emit(bytecode.OpPop)
		b.EmitVar(bytecode.OpVarAssign, 0, 1)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpPop)
		b.EmitVar(bytecode.OpVarLookup, 0, 1)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.Emit(bytecode.OpSubtract)
		b.Emit(bytecode.OpReturn)
	})
	// pull() is "[1, 2, 3]" reordered to 2, 3, 1 by PULL.
	mb.fn("pull", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(1)
		b.EmitInt(2)
		b.EmitInt(3)
		b.EmitOperand(bytecode.OpPull, 2)
		b.EmitOperand(bytecode.OpList, 3)
		b.Emit(bytecode.OpReturn)
	})
	// setitem() is "d := Dict{}; d["k"] := 7; return d".
	mb.fn("setitem", 0, 0, func(b *bytecode.Builder) {
		b.EmitOperand(bytecode.OpDict, 0)
		b.Emit(bytecode.OpDup)
		b.EmitName(bytecode.OpString, "k")
		b.EmitInt(7)
		b.Emit(bytecode.OpSetItem)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	ck := checker{t}

	d2 := ck.obj(vm.Apply(defn(t, vm, m, "setitem"))).(*Dict)
	v2, err := d2.Get(vm, vm.NewString("k"))
	if got := ck.int(v2, err); got != 7 {
		t.Errorf("setitem()[k] = %d, want 7", got)
	}

	l := ck.obj(vm.Apply(defn(t, vm, m, "list"))).(*List)
	if got := ints(t, l.Elems); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("list() = %v", got)
	}

	d := ck.obj(vm.Apply(defn(t, vm, m, "dict"))).(*Dict)
	v, err := d.Get(vm, vm.NewString("k"))
	if got := ck.int(v, err); got != 99 {
		t.Errorf("dict()[k] = %d, want 99", got)
	}

	s := ck.obj(vm.Apply(defn(t, vm, m, "set"))).(*Set)
	if s.Len() != 2 {
		t.Errorf("len(set()) = %d, want 2", s.Len())
	}

	if got := ck.int(vm.Apply(defn(t, vm, m, "unpack"))); got != 1 {
		t.Errorf("unpack() = %d, want 1", got)
	}

	l = ck.obj(vm.Apply(defn(t, vm, m, "pull"))).(*List)
	if got := ints(t, l.Elems); !slices.Equal(got, []int64{2, 3, 1}) {
		t.Errorf("pull() = %v, want [2 3 1]", got)
	}
}

func TestUnpackAssignMismatch(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.EmitInt(1)
		b.EmitOperand(bytecode.OpList, 1)
		b.EmitOperand(bytecode.OpUnpackAssign, 2)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "f"))
	ex := wantRaise(t, vm, err, "Unpack_Exception")
	if ex.Message() != "Unpack of 2 elements failed, as 1 elements present" {
		t.Errorf("msg = %q", ex.Message())
	}
}

func TestFloatAndStringLiterals(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.EmitFloat(1.25)
		b.EmitFloat(0.5)
		b.Emit(bytecode.OpAdd)
		b.Emit(bytecode.OpReturn)
	})
	mb.fn("s", 0, 0, func(b *bytecode.Builder) {
		b.EmitName(bytecode.OpString, "ab")
		b.EmitName(bytecode.OpString, "cd")
		b.Emit(bytecode.OpAdd)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	ck := checker{t}

	f, ok := ck.obj(vm.Apply(defn(t, vm, m, "f"))).(*Float)
	if !ok || f.V != 1.75 {
		t.Errorf("f() = %v, want 1.75", f)
	}
	if got := ck.str(vm.Apply(defn(t, vm, m, "s"))); got != "abcd" {
		t.Errorf("s() = %q, want abcd", got)
	}
}

// ---------------------------------------------------------------------------
// Slots and fields
// ---------------------------------------------------------------------------

func TestSlotLookupSeesFieldChanges(t *testing.T) {
	vm := newTestVM(t)
	base, err := vm.NewClass("Base", []*Class{vm.ObjectClass}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := vm.NewClass("Sub", []*Class{base}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	vm.SetField(base, "v", vm.NewInt(1))

	mb := newModBuilder(t, "m")
	mb.fn("getv", 1, 1, func(b *bytecode.Builder) {
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, -1)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitName(bytecode.OpSlotLookup, "v")
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	getv := defn(t, vm, m, "getv")
	o := vm.NewInstance(sub)
	ck := checker{t}

	if got := ck.int(vm.Apply(getv, o)); got != 1 {
		t.Errorf("getv = %d, want 1", got)
	}
	if got := ck.int(vm.Apply(getv, o)); got != 1 {
		t.Errorf("cached getv = %d, want 1", got)
	}
	vm.SetField(base, "v", vm.NewInt(2))
	if got := ck.int(vm.Apply(getv, o)); got != 2 {
		t.Errorf("getv after SetField = %d, want 2", got)
	}
	vm.SetSlot(o, "v", vm.NewInt(3))
	if got := ck.int(vm.Apply(getv, o)); got != 3 {
		t.Errorf("getv with own slot = %d, want 3", got)
	}

	stats := vm.CollectICStats()
	if stats.TotalHits == 0 {
		t.Error("expected at least one inline cache hit")
	}

	_, err = vm.Apply(getv, vm.NewInstance(vm.ObjectClass))
	ex := wantRaise(t, vm, err, "Slot_Exception")
	if ex.Message() != "No such slot 'v' in instance of 'Object'." {
		t.Errorf("msg = %q", ex.Message())
	}
}

func TestExbiBindsField(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// f(o) returns o's class's to_str bound to o, applied.
	mb.fn("f", 1, 1, func(b *bytecode.Builder) {
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, -1)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitOperand(bytecode.OpBuiltinLookup, BuiltinListClass)
		b.EmitName(bytecode.OpExbi, "to_str")
		b.EmitOperand(bytecode.OpApply, 0)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	l := vm.NewList([]Object{vm.NewInt(1), vm.NewInt(2)})
	if got := (checker{t}).str(vm.Apply(defn(t, vm, m, "f"), l)); got != "[1, 2]" {
		t.Errorf("f([1, 2]) = %q", got)
	}
}

func TestAssignSlot(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	// f(o) is "o.x := 4; return o.x".
	mb.fn("f", 1, 1, func(b *bytecode.Builder) {
		b.EmitUnpackArgs([]bytecode.ArgInfo{bytecode.EncodeArgInfo(0, false)}, -1)
		b.EmitInt(4)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitName(bytecode.OpAssignSlot, "x")
		b.Emit(bytecode.OpPop)
		b.EmitVar(bytecode.OpVarLookup, 0, 0)
		b.EmitName(bytecode.OpSlotLookup, "x")
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	o := vm.NewInstance(vm.ObjectClass)
	if got := (checker{t}).int(vm.Apply(defn(t, vm, m, "f"), o)); got != 4 {
		t.Errorf("f(o) = %d, want 4", got)
	}
	if !HasSlot(o, "x") {
		t.Error("o should have gained slot x")
	}
}

func TestCorruptInstruction(t *testing.T) {
	vm := newTestVM(t)
	mb := newModBuilder(t, "m")
	mb.fn("f", 0, 0, func(b *bytecode.Builder) {
		b.EmitOperand(bytecode.OpBuiltinLookup, 2)
		b.Emit(bytecode.OpReturn)
	})
	m := mb.load(vm)
	_, err := vm.Apply(defn(t, vm, m, "f"))
	wantRaise(t, vm, err, "VM_Exception")
}
