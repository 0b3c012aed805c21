package vm

import (
	"errors"
	"runtime"
	"slices"
	"testing"
)

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

func TestShapeSharing(t *testing.T) {
	vm := newTestVM(t)
	a := vm.NewInstance(vm.ObjectClass)
	b := vm.NewInstance(vm.ObjectClass)
	c := vm.NewInstance(vm.ObjectClass)

	vm.SetSlot(a, "x", vm.NewInt(1))
	vm.SetSlot(a, "y", vm.NewInt(2))
	vm.SetSlot(b, "x", vm.NewInt(3))
	vm.SetSlot(b, "y", vm.NewInt(4))
	vm.SetSlot(c, "y", vm.NewInt(5))
	vm.SetSlot(c, "x", vm.NewInt(6))

	if a.shape != b.shape {
		t.Error("objects with the same slot history should share a shape")
	}
	if a.shape == c.shape {
		t.Error("slot order should distinguish shapes")
	}
	if got := SlotNames(c); !slices.Equal(got, []string{"y", "x"}) {
		t.Errorf("SlotNames = %v, want [y x]", got)
	}

	// Reassigning a slot keeps the shape.
	before := a.shape
	vm.SetSlot(a, "x", vm.NewInt(7))
	if a.shape != before {
		t.Error("assigning an existing slot should not change the shape")
	}
	if got := (checker{t}).int(vm.GetSlot(a, "x")); got != 7 {
		t.Errorf("a.x = %d, want 7", got)
	}
}

func TestShapeFind(t *testing.T) {
	s := NewShape()
	if s.Find("a") != -1 || s.Len() != 0 {
		t.Fatal("empty shape should have no slots")
	}
	s2 := s.Extend("a").Extend("b")
	if s2.Find("a") != 0 || s2.Find("b") != 1 || s2.Find("c") != -1 {
		t.Errorf("Find on [a b] = %d %d %d", s2.Find("a"), s2.Find("b"), s2.Find("c"))
	}
	if s.Extend("a") != s.Extend("a") {
		t.Error("Extend should return the same child for the same name")
	}
	if s.Len() != 0 {
		t.Error("Extend must not modify the parent shape")
	}
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

func TestUserClassSlots(t *testing.T) {
	vm := newTestVM(t)
	ck := checker{t}
	point, ok := ck.obj(vm.GetSlotApply(vm.ClassClass, "new", vm.NewString("Point"), vm.NewList([]Object{vm.ObjectClass}), vm.Null)).(*Class)
	if !ok {
		t.Fatal("Class.new should return a class")
	}
	p := ck.obj(vm.GetSlotApply(point, "new"))
	if InstanceOf(p) != point {
		t.Fatalf("instance_of = %v, want Point", InstanceOf(p))
	}

	vm.SetSlot(p, "x", vm.NewInt(3))
	if got := ck.int(vm.GetSlot(p, "x")); got != 3 {
		t.Errorf("p.x = %d, want 3", got)
	}
	if vm.FindSlot(p, "instance_of") != point {
		t.Error("instance_of should resolve to the class")
	}

	_, err := vm.GetSlot(p, "z")
	ex := wantRaise(t, vm, err, "Slot_Exception")
	if ex.Message() != "No such slot 'z' in instance of 'Point'." {
		t.Errorf("msg = %q", ex.Message())
	}

	if vm.FindSlot(p, "find_slot") == nil {
		t.Error("methods inherited from Object should be found")
	}
	if ck.succeeds(trySend(vm, p, "find_slot", vm.NewString("nope"))) {
		t.Error("find_slot(nope) should fail")
	}
	if got := ck.int(vm.GetSlotApply(p, "find_slot", vm.NewString("x"))); got != 3 {
		t.Errorf("find_slot(x) = %d, want 3", got)
	}
}

func TestBoundMethodsBecomePartialApplications(t *testing.T) {
	vm := newTestVM(t)
	l := vm.NewList(nil)
	m, ok := vm.FindSlot(l, "append").(*PartialApplication)
	if !ok {
		t.Fatal("bound method should be returned as a partial application")
	}
	if len(m.Args) != 1 || m.Args[0] != Object(l) {
		t.Errorf("bound args = %v, want [l]", m.Args)
	}
	if _, err := vm.Apply(m, vm.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if len(l.Elems) != 1 {
		t.Errorf("len = %d, want 1", len(l.Elems))
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func mustClass(t *testing.T, vm *VM, name string, supers ...*Class) *Class {
	t.Helper()
	c, err := vm.NewClass(name, supers, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClass(%s): %v", name, err)
	}
	return c
}

func TestFieldLookupOrder(t *testing.T) {
	vm := newTestVM(t)
	a := mustClass(t, vm, "A", vm.ObjectClass)
	b := mustClass(t, vm, "B", vm.ObjectClass)
	vm.SetField(a, "m", vm.NewInt(1))
	vm.SetField(b, "m", vm.NewInt(2))
	a2 := mustClass(t, vm, "A2", a)

	tests := []struct {
		name   string
		supers []*Class
		want   int64
	}{
		{"first super wins", []*Class{a, b}, 1},
		{"declaration order", []*Class{b, a}, 2},
		{"depth first", []*Class{a2, b}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustClass(t, vm, "C", tt.supers...)
			if got := (checker{t}).int(vm.GetField(c, "m")); got != tt.want {
				t.Errorf("m = %d, want %d", got, tt.want)
			}
		})
	}

	_, err := vm.GetField(a, "nope")
	wantRaise(t, vm, err, "Field_Exception")
}

func TestSetFieldBumpsDependentVersions(t *testing.T) {
	vm := newTestVM(t)
	base := mustClass(t, vm, "Base", vm.ObjectClass)
	mid := mustClass(t, vm, "Mid", base)
	leaf := mustClass(t, vm, "Leaf", mid)
	other := mustClass(t, vm, "Other", vm.ObjectClass)

	vBase, vMid, vLeaf, vOther := base.Version(), mid.Version(), leaf.Version(), other.Version()
	vm.SetField(base, "f", vm.Null)

	if base.Version() == vBase {
		t.Error("SetField should bump the class's own version")
	}
	if mid.Version() == vMid || leaf.Version() == vLeaf {
		t.Error("SetField should bump direct and indirect subclasses")
	}
	if other.Version() != vOther {
		t.Error("unrelated classes should keep their version")
	}
	if leaf.FindField("f") != vm.Null {
		t.Error("leaf should see the new field")
	}

	deps := base.Dependents()
	if !slices.Contains(deps, mid) || !slices.Contains(deps, leaf) {
		t.Errorf("Dependents = %v, want mid and leaf", classNames(deps))
	}
}

func TestDependentsAreWeak(t *testing.T) {
	vm := newTestVM(t)
	base := mustClass(t, vm, "Base", vm.ObjectClass)
	func() {
		mustClass(t, vm, "Temp", base)
	}()
	if len(base.dependents.refs) != 1 {
		t.Fatalf("dependents = %d, want 1", len(base.dependents.refs))
	}

	for i := 0; i < 10 && len(base.Dependents()) > 0; i++ {
		runtime.GC()
	}
	if n := len(base.Dependents()); n != 0 {
		t.Errorf("live dependents = %d, want 0", n)
	}
	if len(base.dependents.refs) != 0 {
		t.Errorf("dead dependents should be pruned, have %d", len(base.dependents.refs))
	}
	// Setting a field with only dead dependents must still work.
	vm.SetField(base, "f", vm.Null)
}

func TestMetaclassClash(t *testing.T) {
	vm := newTestVM(t)
	newA := vm.builtinNewFunc("new_A", func(vm *VM) (Object, error) { return vm.Null, nil })
	newB := vm.builtinNewFunc("new_B", func(vm *VM) (Object, error) { return vm.Null, nil })
	a, err := vm.NewClass("A", []*Class{vm.ObjectClass}, nil, nil, newA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := vm.NewClass("B", []*Class{vm.ObjectClass}, nil, nil, newB)
	if err != nil {
		t.Fatal(err)
	}

	// Object's default new function never overrides a specific one.
	c, err := vm.NewClass("C", []*Class{vm.ObjectClass, a}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.NewFunc() != Object(newA) {
		t.Error("C should inherit A's new function")
	}

	if _, err := vm.NewClass("D", []*Class{a, b}, nil, nil, nil); !errors.Is(err, ErrMetaclassClash) {
		t.Errorf("err = %v, want ErrMetaclassClash", err)
	}

	_, err = vm.GetSlotApply(vm.ClassClass, "new", vm.NewString("E"), vm.NewList([]Object{a, b}), vm.Null)
	wantRaise(t, vm, err, "VM_Exception")
}

func TestClassPrimitives(t *testing.T) {
	vm := newTestVM(t)
	ck := checker{t}
	c := mustClass(t, vm, "C", vm.ObjectClass)

	if _, err := vm.GetSlotApply(c, "set_field", vm.NewString("k"), vm.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	if got := ck.int(vm.GetSlotApply(c, "get_field", vm.NewString("k"))); got != 5 {
		t.Errorf("get_field(k) = %d, want 5", got)
	}
	if got := ck.str(vm.GetSlotApply(c, "to_str")); got != "<Class C>" {
		t.Errorf("to_str = %q", got)
	}

	// Conformance needs a slot for every field of the class and of all its
	// superclasses, so an Object subclass also demands Object's methods.
	o := vm.NewInstance(vm.ObjectClass)
	vm.SetSlot(o, "k", vm.Null)
	if ck.succeeds(trySend(vm, c, "conformed_by", o)) {
		t.Error("o lacks Object's fields so should not conform to C")
	}

	root := mustClass(t, vm, "Root")
	if _, err := vm.GetSlotApply(root, "set_field", vm.NewString("k"), vm.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	sub := mustClass(t, vm, "Sub", root)
	if _, err := vm.GetSlotApply(sub, "set_field", vm.NewString("j"), vm.NewInt(2)); err != nil {
		t.Fatal(err)
	}
	p := vm.NewInstance(vm.ObjectClass)
	vm.SetSlot(p, "j", vm.Null)
	if ck.succeeds(trySend(vm, sub, "conformed_by", p)) {
		t.Error("p lacks Root's field k so should not conform to Sub")
	}
	vm.SetSlot(p, "k", vm.Null)
	if !ck.succeeds(trySend(vm, sub, "conformed_by", p)) {
		t.Error("p has slots j and k so should conform to Sub")
	}
	if !ck.succeeds(trySend(vm, root, "conformed_by", p)) {
		t.Error("p has slot k so should conform to Root")
	}

	if !ck.succeeds(trySend(vm, vm.NumberClass, "instantiated", vm.NewInt(1))) {
		t.Error("1 should be an instance of Number")
	}
	if ck.succeeds(trySend(vm, vm.IntClass, "instantiated", vm.NewString("1"))) {
		t.Error("\"1\" should not be an instance of Int")
	}
}

// ---------------------------------------------------------------------------
// Argument decoding
// ---------------------------------------------------------------------------

func TestDecodeArgs(t *testing.T) {
	vm := newTestVM(t)
	var got []Object
	var rest []Object
	decoder := func(mand, opt string, vargs bool) Object {
		return vm.NewProc(vm.builtinsMod, "decode", false, func(vm *VM) (Object, error) {
			var err error
			got, rest, err = vm.DecodeArgs(mand, opt, vargs)
			return vm.Null, err
		}, nil)
	}

	tests := []struct {
		name      string
		mand, opt string
		vargs     bool
		args      []Object
		wantN     int
		wantRest  int
		wantClass string
		wantMsg   string
	}{
		{name: "exact", mand: "IS", args: []Object{vm.NewInt(1), vm.NewString("a")}, wantN: 2},
		{name: "optional missing", mand: "I", opt: "S", args: []Object{vm.NewInt(1)}, wantN: 2},
		{name: "varargs", mand: "I", vargs: true, args: []Object{vm.NewInt(1), vm.Null, vm.Null}, wantN: 1, wantRest: 2},
		{name: "nullable", mand: "i", args: []Object{vm.Null}, wantN: 1},
		{name: "number", mand: "NN", args: []Object{vm.NewInt(1), vm.NewFloat(2)}, wantN: 2},
		{
			name: "too few", mand: "IS", args: []Object{vm.NewInt(1)},
			wantClass: "Parameters_Exception", wantMsg: "Too few parameters (1 passed, but 2 needed).",
		},
		{
			name: "too few with varargs", mand: "II", vargs: true,
			wantClass: "Parameters_Exception", wantMsg: "Too few parameters (0 passed, but at least 2 needed).",
		},
		{
			name: "too many", mand: "I", opt: "I", args: []Object{vm.NewInt(1), vm.NewInt(2), vm.NewInt(3)},
			wantClass: "Parameters_Exception", wantMsg: "Too many parameters (3 passed, but a maximum of 2 allowed).",
		},
		{name: "wrong type", mand: "I", args: []Object{vm.NewString("x")}, wantClass: "Type_Exception"},
		{name: "null not allowed", mand: "L", args: []Object{vm.Null}, wantClass: "Type_Exception"},
		{name: "not a number", mand: "N", args: []Object{vm.NewList(nil)}, wantClass: "Type_Exception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rest = nil, nil
			_, err := vm.Apply(decoder(tt.mand, tt.opt, tt.vargs), tt.args...)
			if tt.wantClass != "" {
				ex := wantRaise(t, vm, err, tt.wantClass)
				if tt.wantMsg != "" && ex.Message() != tt.wantMsg {
					t.Errorf("msg = %q, want %q", ex.Message(), tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantN {
				t.Errorf("len(args) = %d, want %d", len(got), tt.wantN)
			}
			if len(rest) != tt.wantRest {
				t.Errorf("len(rest) = %d, want %d", len(rest), tt.wantRest)
			}
		})
	}
}

func TestDecodeArgsNullableAndOptional(t *testing.T) {
	vm := newTestVM(t)
	var args []Object
	p := vm.NewProc(vm.builtinsMod, "p", false, func(vm *VM) (Object, error) {
		var err error
		args, _, err = vm.DecodeArgs("s", "I", false)
		return vm.Null, err
	}, nil)
	if _, err := vm.Apply(p, vm.Null); err != nil {
		t.Fatal(err)
	}
	if args[0] != nil || args[1] != nil {
		t.Errorf("args = %v, want [nil nil]", args)
	}
}

func TestDecodeArgsContainerInstance(t *testing.T) {
	vm := newTestVM(t)
	hash := vm.FloatClass.FindField("hash")
	if _, err := vm.Apply(hash, vm.NewFloat(2)); err != nil {
		t.Errorf("Float.hash(2.0): %v", err)
	}
	_, err := vm.Apply(hash, vm.NewInt(2))
	wantRaise(t, vm, err, "Type_Exception")
}
