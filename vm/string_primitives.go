package vm

import (
	"hash/fnv"
	"strings"
)

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// String is an immutable byte string. Indices count bytes.
type String struct {
	Boxed
	V string
}

// NewString boxes v.
func (vm *VM) NewString(v string) *String {
	return &String{Boxed: vm.boxedOf(vm.StringClass), V: v}
}

func (s *String) Hash() int64 {
	h := fnv.New64a()
	h.Write([]byte(s.V))
	return int64(h.Sum64())
}

func (s *String) Add(vm *VM, o Object) (Object, error) {
	os, err := vm.TypeCheckString(o)
	if err != nil {
		return nil, err
	}
	return vm.NewString(s.V + os.V), nil
}

// Compare orders strings bytewise. Equality with a non-string is false.
func (s *String) Compare(vm *VM, op CmpOp, o Object) (bool, error) {
	os, ok := o.(*String)
	if !ok {
		switch op {
		case CmpEq:
			return false, nil
		case CmpNeq:
			return true, nil
		}
		return false, vm.typeError("String", o)
	}
	switch op {
	case CmpEq:
		return s.V == os.V, nil
	case CmpNeq:
		return s.V != os.V, nil
	case CmpLt:
		return s.V < os.V, nil
	case CmpLtEq:
		return s.V <= os.V, nil
	case CmpGtEq:
		return s.V >= os.V, nil
	}
	return s.V > os.V, nil
}

const stripChars = " \t\n\r"

// ---------------------------------------------------------------------------
// String Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerStringPrimitives() {
	c := vm.StringClass

	unary := func(name string, fn func(vm *VM, self *String) (Object, error)) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs("S", "", false)
			if err != nil {
				return nil, err
			}
			return fn(vm, args[0].(*String))
		})
	}
	mapped := func(name string, fn func(string) string) {
		unary(name, func(vm *VM, self *String) (Object, error) {
			return vm.NewString(fn(self.V)), nil
		})
	}
	compare := func(name string, op CmpOp) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs("SO", "", false)
			if err != nil {
				return nil, err
			}
			r, err := args[0].(*String).Compare(vm, op, args[1])
			if err != nil {
				return nil, err
			}
			return vm.boolObject(r), nil
		})
	}
	// search yields each position of the second argument in the first,
	// scanning backwards if reverse is set.
	search := func(name string, reverse bool, result func(vm *VM, needle *String, i int) Object) {
		vm.defineGenMethod(c, name, func(vm *VM, yield func(Object) bool) error {
			args, _, err := vm.DecodeArgs("SS", "", false)
			if err != nil {
				return err
			}
			v, needle := args[0].(*String).V, args[1].(*String)
			last := len(v) - len(needle.V)
			for k := 0; k <= last; k++ {
				i := k
				if reverse {
					i = last - k
				}
				if v[i:i+len(needle.V)] == needle.V {
					if !yield(result(vm, needle, i)) {
						return nil
					}
				}
			}
			return nil
		})
	}

	vm.defineMethod(c, "+", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SS", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewString(args[0].(*String).V + args[1].(*String).V), nil
	})

	vm.defineMethod(c, "*", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SI", "", false)
		if err != nil {
			return nil, err
		}
		n := args[1].(*Int).V
		if n < 0 {
			n = 0
		}
		return vm.NewString(strings.Repeat(args[0].(*String).V, int(n))), nil
	})

	compare("==", CmpEq)
	compare("!=", CmpNeq)
	compare("<", CmpLt)
	compare("<=", CmpLtEq)
	compare(">=", CmpGtEq)
	compare(">", CmpGt)

	search("find", false, func(vm *VM, needle *String, i int) Object { return needle })
	search("find_index", false, func(vm *VM, needle *String, i int) Object { return vm.NewInt(int64(i)) })
	search("rfind_index", true, func(vm *VM, needle *String, i int) Object { return vm.NewInt(int64(i)) })

	vm.defineMethod(c, "get", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SI", "", false)
		if err != nil {
			return nil, err
		}
		s := args[0].(*String).V
		i, err := vm.translateIndex(args[1].(*Int).V, len(s))
		if err != nil {
			return nil, err
		}
		return vm.NewString(s[i : i+1]), nil
	})

	vm.defineMethod(c, "get_slice", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("S", "ii", false)
		if err != nil {
			return nil, err
		}
		s := args[0].(*String).V
		i, j, err := vm.translateSlice(args[1], args[2], len(s))
		if err != nil {
			return nil, err
		}
		return vm.NewString(s[i:j]), nil
	})

	unary("hash", func(vm *VM, self *String) (Object, error) { return vm.NewInt(self.Hash()), nil })
	unary("len", func(vm *VM, self *String) (Object, error) { return vm.NewInt(int64(len(self.V))), nil })
	unary("to_str", func(vm *VM, self *String) (Object, error) { return vm.NewString(`"` + self.V + `"`), nil })

	vm.defineMethod(c, "int_val", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("S", "I", false)
		if err != nil {
			return nil, err
		}
		s := args[0].(*String).V
		var at int64
		if args[1] != nil {
			at = args[1].(*Int).V
		}
		i, err := vm.translateIndex(at, len(s))
		if err != nil {
			return nil, err
		}
		return vm.NewInt(int64(s[i])), nil
	})

	vm.defineGenMethod(c, "iter", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("S", "ii", false)
		if err != nil {
			return err
		}
		s := args[0].(*String).V
		i, j, err := vm.translateSlice(args[1], args[2], len(s))
		if err != nil {
			return err
		}
		for ; i < j; i++ {
			if !yield(vm.NewString(s[i : i+1])) {
				return nil
			}
		}
		return nil
	})

	mapped("lower_cased", strings.ToLower)
	mapped("upper_cased", strings.ToUpper)
	mapped("lstripped", func(s string) string { return strings.TrimLeft(s, stripChars) })
	mapped("stripped", func(s string) string { return strings.Trim(s, stripChars) })

	vm.defineMethod(c, "prefixed_by", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SS", "I", false)
		if err != nil {
			return nil, err
		}
		s := args[0].(*String).V
		i, _, err := vm.translateSlice(args[2], nil, len(s))
		if err != nil {
			return nil, err
		}
		return vm.boolObject(strings.HasPrefix(s[i:], args[1].(*String).V)), nil
	})

	vm.defineMethod(c, "suffixed_by", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SS", "I", false)
		if err != nil {
			return nil, err
		}
		s := args[0].(*String).V
		_, j, err := vm.translateSlice(nil, args[2], len(s))
		if err != nil {
			return nil, err
		}
		return vm.boolObject(strings.HasSuffix(s[:j], args[1].(*String).V)), nil
	})

	vm.defineMethod(c, "replaced", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SSS", "", false)
		if err != nil {
			return nil, err
		}
		s, old, new := args[0].(*String).V, args[1].(*String).V, args[2].(*String).V
		if old == "" {
			return args[0], nil
		}
		return vm.NewString(strings.ReplaceAll(s, old, new)), nil
	})

	vm.defineMethod(c, "split", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("SS", "", false)
		if err != nil {
			return nil, err
		}
		sep := args[1].(*String).V
		if sep == "" {
			return nil, vm.raiseMsg("Parameters_Exception", "Empty separator.")
		}
		parts := strings.Split(args[0].(*String).V, sep)
		elems := make([]Object, len(parts))
		for i, p := range parts {
			elems[i] = vm.NewString(p)
		}
		return vm.NewList(elems), nil
	})
}
