package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Int
// ---------------------------------------------------------------------------

// Int is a 64-bit signed integer. Arithmetic wraps on overflow.
type Int struct {
	Boxed
	V int64
}

// NewInt boxes v.
func (vm *VM) NewInt(v int64) *Int {
	return &Int{Boxed: vm.boxedOf(vm.IntClass), V: v}
}

// number splits o into its integer or float value. ok is false if o is
// not a number.
func number(o Object) (i int64, f float64, isInt, ok bool) {
	switch n := o.(type) {
	case *Int:
		return n.V, float64(n.V), true, true
	case *Float:
		return int64(n.V), n.V, false, true
	}
	return 0, 0, false, false
}

func (i *Int) Hash() int64 {
	return i.V
}

func (i *Int) Add(vm *VM, o Object) (Object, error) {
	ov, of, isInt, ok := number(o)
	if !ok {
		return nil, vm.typeError("Number", o)
	}
	if isInt {
		return vm.NewInt(i.V + ov), nil
	}
	return vm.NewFloat(float64(i.V) + of), nil
}

func (i *Int) Subtract(vm *VM, o Object) (Object, error) {
	ov, of, isInt, ok := number(o)
	if !ok {
		return nil, vm.typeError("Number", o)
	}
	if isInt {
		return vm.NewInt(i.V - ov), nil
	}
	return vm.NewFloat(float64(i.V) - of), nil
}

// Compare compares i with o. Equality with a non-number is simply false;
// ordering against one raises Type_Exception.
func (i *Int) Compare(vm *VM, op CmpOp, o Object) (bool, error) {
	ov, of, isInt, ok := number(o)
	if !ok {
		switch op {
		case CmpEq:
			return false, nil
		case CmpNeq:
			return true, nil
		}
		return false, vm.typeError("Number", o)
	}
	if !isInt {
		return compareFloats(op, float64(i.V), of), nil
	}
	switch op {
	case CmpEq:
		return i.V == ov, nil
	case CmpNeq:
		return i.V != ov, nil
	case CmpLt:
		return i.V < ov, nil
	case CmpLtEq:
		return i.V <= ov, nil
	case CmpGtEq:
		return i.V >= ov, nil
	case CmpGt:
		return i.V > ov, nil
	}
	return false, fmt.Errorf("vm: unknown comparison %d", op)
}

// Div divides exactly: the result is an Int only if o divides i.
func (i *Int) Div(vm *VM, o Object) (Object, error) {
	ov, of, isInt, ok := number(o)
	if !ok {
		return nil, vm.typeError("Number", o)
	}
	if of == 0 {
		return nil, vm.raiseMsg("Number_Exception", "Division by zero.")
	}
	if !isInt {
		return vm.NewFloat(float64(i.V) / of), nil
	}
	if i.V%ov == 0 {
		return vm.NewInt(i.V / ov), nil
	}
	return vm.NewFloat(float64(i.V) / float64(ov)), nil
}

// floorDiv and floorMod round towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// ---------------------------------------------------------------------------
// Int Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntPrimitives() {
	c := vm.IntClass
	c.newFunc = vm.builtinNewFunc("new_Int", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CO", "", true)
		if err != nil {
			return nil, err
		}
		switch o := args[1].(type) {
		case *Int:
			return o, nil
		case *Float:
			return vm.NewInt(int64(o.V)), nil
		case *String:
			s, base := o.V, 10
			if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
				s, base = s[2:], 16
			}
			v, err := strconv.ParseInt(s, base, 64)
			if err != nil {
				return nil, vm.RaiseHelper("Number_Exception", o)
			}
			return vm.NewInt(v), nil
		}
		return nil, vm.typeError("Number | String", args[1])
	})

	binary := func(name, types string, fn func(vm *VM, self *Int, o Object) (Object, error)) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs(types, "", false)
			if err != nil {
				return nil, err
			}
			return fn(vm, args[0].(*Int), args[1])
		})
	}
	bitwise := func(name string, fn func(a, b int64) int64) {
		binary(name, "II", func(vm *VM, self *Int, o Object) (Object, error) {
			return vm.NewInt(fn(self.V, o.(*Int).V)), nil
		})
	}
	compare := func(name string, op CmpOp) {
		binary(name, "IO", func(vm *VM, self *Int, o Object) (Object, error) {
			r, err := self.Compare(vm, op, o)
			if err != nil {
				return nil, err
			}
			return vm.boolObject(r), nil
		})
	}

	binary("+", "IN", func(vm *VM, self *Int, o Object) (Object, error) { return self.Add(vm, o) })
	binary("-", "IN", func(vm *VM, self *Int, o Object) (Object, error) { return self.Subtract(vm, o) })
	binary("/", "IN", func(vm *VM, self *Int, o Object) (Object, error) { return self.Div(vm, o) })

	binary("*", "IN", func(vm *VM, self *Int, o Object) (Object, error) {
		if oi, ok := o.(*Int); ok {
			return vm.NewInt(self.V * oi.V), nil
		}
		return vm.NewFloat(float64(self.V) * o.(*Float).V), nil
	})

	binary("idiv", "IN", func(vm *VM, self *Int, o Object) (Object, error) {
		ov, _, _, _ := number(o)
		if ov == 0 {
			return nil, vm.raiseMsg("Number_Exception", "Division by zero.")
		}
		return vm.NewInt(floorDiv(self.V, ov)), nil
	})

	binary("%", "IN", func(vm *VM, self *Int, o Object) (Object, error) {
		ov, _, _, _ := number(o)
		if ov == 0 {
			return nil, vm.raiseMsg("Number_Exception", "Division by zero.")
		}
		return vm.NewInt(floorMod(self.V, ov)), nil
	})

	binary("pow", "II", func(vm *VM, self *Int, o Object) (Object, error) {
		p := int64(1)
		for y := o.(*Int).V; y > 0; y-- {
			p *= self.V
		}
		return vm.NewInt(p), nil
	})

	bitwise("and", func(a, b int64) int64 { return a & b })
	bitwise("or", func(a, b int64) int64 { return a | b })
	bitwise("xor", func(a, b int64) int64 { return a ^ b })
	bitwise("lsl", func(a, b int64) int64 { return a << uint64(b) })
	bitwise("lsr", func(a, b int64) int64 { return a >> uint64(b) })

	compare("==", CmpEq)
	compare("!=", CmpNeq)
	compare("<", CmpLt)
	compare("<=", CmpLtEq)
	compare(">=", CmpGtEq)
	compare(">", CmpGt)

	vm.defineMethod(c, "inv", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("I", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(^args[0].(*Int).V), nil
	})

	vm.defineMethod(c, "hash", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("I", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(args[0].(*Int).Hash()), nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("I", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewString(strconv.FormatInt(args[0].(*Int).V, 10)), nil
	})

	vm.defineMethod(c, "str_val", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("I", "", false)
		if err != nil {
			return nil, err
		}
		v := args[0].(*Int).V
		if v < 0 || v > 255 {
			return nil, vm.raiseMsg("Number_Exception", fmt.Sprintf("'%d' out of ASCII range.", v))
		}
		return vm.NewString(string([]byte{byte(v)})), nil
	})

	// iter_to produces self, self + step, ... up to but excluding to.
	vm.defineGenMethod(c, "iter_to", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("II", "I", false)
		if err != nil {
			return err
		}
		from, to, step := args[0].(*Int).V, args[1].(*Int).V, int64(1)
		if args[2] != nil {
			step = args[2].(*Int).V
		}
		if step == 0 {
			return vm.raiseMsg("Number_Exception", "Step of 0 not allowed.")
		}
		for i := from; (step > 0 && i < to) || (step < 0 && i > to); i += step {
			if !yield(vm.NewInt(i)) {
				return nil
			}
		}
		return nil
	})
}
