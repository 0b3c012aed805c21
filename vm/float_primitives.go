package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Float
// ---------------------------------------------------------------------------

// Float is a 64-bit floating point number.
type Float struct {
	Boxed
	V float64
}

// NewFloat boxes v.
func (vm *VM) NewFloat(v float64) *Float {
	return &Float{Boxed: vm.boxedOf(vm.FloatClass), V: v}
}

// Hash agrees with Int.Hash for integral values so that 1 and 1.0 find the
// same dictionary entry.
func (f *Float) Hash() int64 {
	if f.V == math.Trunc(f.V) && math.Abs(f.V) < 1<<62 {
		return int64(f.V)
	}
	return int64(math.Float64bits(f.V))
}

func (f *Float) Add(vm *VM, o Object) (Object, error) {
	_, of, _, ok := number(o)
	if !ok {
		return nil, vm.typeError("Number", o)
	}
	return vm.NewFloat(f.V + of), nil
}

func (f *Float) Subtract(vm *VM, o Object) (Object, error) {
	_, of, _, ok := number(o)
	if !ok {
		return nil, vm.typeError("Number", o)
	}
	return vm.NewFloat(f.V - of), nil
}

func (f *Float) Compare(vm *VM, op CmpOp, o Object) (bool, error) {
	_, of, _, ok := number(o)
	if !ok {
		switch op {
		case CmpEq:
			return false, nil
		case CmpNeq:
			return true, nil
		}
		return false, vm.typeError("Number", o)
	}
	return compareFloats(op, f.V, of), nil
}

func compareFloats(op CmpOp, a, b float64) bool {
	switch op {
	case CmpEq:
		return a == b
	case CmpNeq:
		return a != b
	case CmpLt:
		return a < b
	case CmpLtEq:
		return a <= b
	case CmpGtEq:
		return a >= b
	case CmpGt:
		return a > b
	}
	return false
}

// formatFloat renders f so that it always reads back as a float.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}

// ---------------------------------------------------------------------------
// Float Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFloatPrimitives() {
	c := vm.FloatClass
	c.newFunc = vm.builtinNewFunc("new_Float", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CO", "", true)
		if err != nil {
			return nil, err
		}
		switch o := args[1].(type) {
		case *Int:
			return vm.NewFloat(float64(o.V)), nil
		case *Float:
			return o, nil
		case *String:
			v, err := strconv.ParseFloat(strings.TrimSpace(o.V), 64)
			if err != nil {
				return nil, vm.RaiseHelper("Number_Exception", o)
			}
			return vm.NewFloat(v), nil
		}
		return nil, vm.typeError("Number | String", args[1])
	})

	binary := func(name string, fn func(vm *VM, self *Float, of float64) (Object, error)) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs("!N", "", false)
			if err != nil {
				return nil, err
			}
			_, of, _, _ := number(args[1])
			return fn(vm, args[0].(*Float), of)
		})
	}
	compare := func(name string, op CmpOp) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs("!O", "", false)
			if err != nil {
				return nil, err
			}
			r, err := args[0].(*Float).Compare(vm, op, args[1])
			if err != nil {
				return nil, err
			}
			return vm.boolObject(r), nil
		})
	}

	binary("+", func(vm *VM, self *Float, of float64) (Object, error) { return vm.NewFloat(self.V + of), nil })
	binary("-", func(vm *VM, self *Float, of float64) (Object, error) { return vm.NewFloat(self.V - of), nil })
	binary("*", func(vm *VM, self *Float, of float64) (Object, error) { return vm.NewFloat(self.V * of), nil })
	binary("/", func(vm *VM, self *Float, of float64) (Object, error) {
		if of == 0 {
			return nil, vm.raiseMsg("Number_Exception", "Division by zero.")
		}
		return vm.NewFloat(self.V / of), nil
	})

	binary("idiv", func(vm *VM, self *Float, of float64) (Object, error) {
		d := int64(of)
		if d == 0 {
			return nil, vm.raiseMsg("Number_Exception", "Division by zero.")
		}
		return vm.NewInt(int64(math.Floor(self.V / float64(d)))), nil
	})

	compare("==", CmpEq)
	compare("!=", CmpNeq)
	compare("<", CmpLt)
	compare("<=", CmpLtEq)
	compare(">=", CmpGtEq)
	compare(">", CmpGt)

	vm.defineMethod(c, "hash", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("!", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(args[0].(*Float).Hash()), nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("!", "", false)
		if err != nil {
			return nil, err
		}
		f, ok := args[0].(*Float)
		if !ok {
			return nil, fmt.Errorf("vm: Float.to_str on %T", args[0])
		}
		return vm.NewString(formatFloat(f.V)), nil
	})
}
