package vm

import (
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a mutable sequence of objects.
type List struct {
	Boxed
	Elems []Object
}

// NewList wraps elems, which the list then owns.
func (vm *VM) NewList(elems []Object) *List {
	return vm.newListOf(vm.ListClass, elems)
}

func (vm *VM) newListOf(c *Class, elems []Object) *List {
	if elems == nil {
		elems = []Object{}
	}
	return &List{Boxed: vm.boxedOf(c), Elems: elems}
}

// pumpIter calls fn with each value produced by o's "iter" slot.
func (vm *VM) pumpIter(o Object, fn func(Object) error) error {
	it, err := vm.GetSlot(o, "iter")
	if err != nil {
		return err
	}
	return vm.Pump(it, nil, func(e Object) (bool, error) {
		return true, fn(e)
	})
}

// elemsOf returns o's elements: directly for a List, otherwise by pumping
// its "iter" slot.
func (vm *VM) elemsOf(o Object) ([]Object, error) {
	if l, ok := o.(*List); ok {
		return l.Elems, nil
	}
	var elems []Object
	err := vm.pumpIter(o, func(e Object) error {
		elems = append(elems, e)
		return nil
	})
	return elems, err
}

// listEqual compares two lists elementwise.
func (vm *VM) listEqual(a, b *List) (bool, error) {
	if len(a.Elems) != len(b.Elems) {
		return false, nil
	}
	for i, e := range a.Elems {
		eq, err := vm.Equals(e, b.Elems[i])
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

// joinStrs calls to_str on each of os and joins the results.
func (vm *VM) joinStrs(os []Object, sep string) (string, error) {
	var sb strings.Builder
	for i, o := range os {
		if i > 0 {
			sb.WriteString(sep)
		}
		s, err := vm.ToStr(o)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// List Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerListPrimitives() {
	c := vm.ListClass
	c.newFunc = vm.builtinNewFunc("new_List", func(vm *VM) (Object, error) {
		args, rest, err := vm.DecodeArgs("C", "", true)
		if err != nil {
			return nil, err
		}
		l := vm.newListOf(args[0].(*Class), nil)
		if _, err := vm.GetSlotApply(l, "init", rest...); err != nil {
			return nil, err
		}
		return l, nil
	})

	vm.defineMethod(c, "init", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "O", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		if args[1] != nil {
			elems, err := vm.elemsOf(args[1])
			if err != nil {
				return nil, err
			}
			self.Elems = slices.Clone(elems)
		}
		return vm.Null, nil
	})

	vm.defineMethod(c, "+", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return nil, err
		}
		elems, err := vm.elemsOf(args[1])
		if err != nil {
			return nil, err
		}
		return vm.NewList(slices.Concat(args[0].(*List).Elems, elems)), nil
	})

	vm.defineMethod(c, "append", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		self.Elems = append(self.Elems, args[1])
		return vm.Null, nil
	})

	vm.defineMethod(c, "extend", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		elems, err := vm.elemsOf(args[1])
		if err != nil {
			return nil, err
		}
		self.Elems = append(self.Elems, elems...)
		return vm.Null, nil
	})

	vm.defineMethod(c, "del", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LI", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, err := vm.translateIndex(args[1].(*Int).V, len(self.Elems))
		if err != nil {
			return nil, err
		}
		self.Elems = slices.Delete(self.Elems, i, i+1)
		return vm.Null, nil
	})

	vm.defineMethod(c, "del_slice", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "ii", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, j, err := vm.translateSlice(args[1], args[2], len(self.Elems))
		if err != nil {
			return nil, err
		}
		self.Elems = slices.Delete(self.Elems, i, j)
		return vm.Null, nil
	})

	eq := func(name string, want bool) {
		vm.defineMethod(c, name, func(vm *VM) (Object, error) {
			args, _, err := vm.DecodeArgs("LO", "", false)
			if err != nil {
				return nil, err
			}
			o, ok := args[1].(*List)
			if !ok {
				return vm.boolObject(!want), nil
			}
			r, err := vm.listEqual(args[0].(*List), o)
			if err != nil {
				return nil, err
			}
			return vm.boolObject(r == want), nil
		})
	}
	eq("==", true)
	eq("!=", false)

	vm.defineGenMethod(c, "find", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return err
		}
		for _, e := range args[0].(*List).Elems {
			r, err := vm.Equals(args[1], e)
			if err != nil {
				return err
			}
			if r && !yield(vm.Null) {
				return nil
			}
		}
		return nil
	})

	vm.defineGenMethod(c, "find_index", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return err
		}
		for i, e := range args[0].(*List).Elems {
			r, err := vm.Equals(e, args[1])
			if err != nil {
				return err
			}
			if r && !yield(vm.NewInt(int64(i))) {
				return nil
			}
		}
		return nil
	})

	vm.defineMethod(c, "flattened", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "", false)
		if err != nil {
			return nil, err
		}
		var f []Object
		for _, e := range args[0].(*List).Elems {
			if _, ok := e.(*List); !ok {
				f = append(f, e)
				continue
			}
			r, err := vm.GetSlotApply(e, "flattened")
			if err != nil {
				return nil, err
			}
			sub, err := vm.TypeCheckList(r)
			if err != nil {
				return nil, err
			}
			f = append(f, sub.Elems...)
		}
		return vm.NewList(f), nil
	})

	vm.defineMethod(c, "get", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LI", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, err := vm.translateIndex(args[1].(*Int).V, len(self.Elems))
		if err != nil {
			return nil, err
		}
		return self.Elems[i], nil
	})

	vm.defineMethod(c, "get_slice", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "ii", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, j, err := vm.translateSlice(args[1], args[2], len(self.Elems))
		if err != nil {
			return nil, err
		}
		return vm.NewList(slices.Clone(self.Elems[i:j])), nil
	})

	vm.defineMethod(c, "insert", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LIO", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, err := vm.translateSliceIndex(args[1].(*Int).V, len(self.Elems))
		if err != nil {
			return nil, err
		}
		self.Elems = slices.Insert(self.Elems, i, args[2])
		return vm.Null, nil
	})

	vm.defineGenMethod(c, "iter", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("L", "ii", false)
		if err != nil {
			return err
		}
		self := args[0].(*List)
		i, j, err := vm.translateSlice(args[1], args[2], len(self.Elems))
		if err != nil {
			return err
		}
		// The list may shrink while suspended.
		for ; i < j && i < len(self.Elems); i++ {
			if !yield(self.Elems[i]) {
				return nil
			}
		}
		return nil
	})

	vm.defineGenMethod(c, "riter", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("L", "ii", false)
		if err != nil {
			return err
		}
		self := args[0].(*List)
		i, j, err := vm.translateSlice(args[1], args[2], len(self.Elems))
		if err != nil {
			return err
		}
		for j--; j >= i; j-- {
			if j >= len(self.Elems) {
				continue
			}
			if !yield(self.Elems[j]) {
				return nil
			}
		}
		return nil
	})

	vm.defineMethod(c, "len", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(int64(len(args[0].(*List).Elems))), nil
	})

	vm.defineMethod(c, "*", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LI", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		n := max(args[1].(*Int).V, 0)
		out := make([]Object, 0, len(self.Elems)*int(n))
		for range n {
			out = append(out, self.Elems...)
		}
		return vm.NewList(out), nil
	})

	vm.defineMethod(c, "pop", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, err := vm.translateIndex(-1, len(self.Elems))
		if err != nil {
			return nil, err
		}
		e := self.Elems[i]
		self.Elems = self.Elems[:i]
		return e, nil
	})

	// remove deletes each element equal to the argument, yielding it.
	vm.defineGenMethod(c, "remove", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("LO", "", false)
		if err != nil {
			return err
		}
		self := args[0].(*List)
		for i := 0; i < len(self.Elems); {
			e := self.Elems[i]
			r, err := vm.Equals(args[1], e)
			if err != nil {
				return err
			}
			if !r {
				i++
				continue
			}
			self.Elems = slices.Delete(self.Elems, i, i+1)
			if !yield(e) {
				return nil
			}
		}
		return nil
	})

	vm.defineMethod(c, "set", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LIO", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, err := vm.translateIndex(args[1].(*Int).V, len(self.Elems))
		if err != nil {
			return nil, err
		}
		self.Elems[i] = args[2]
		return vm.Null, nil
	})

	vm.defineMethod(c, "set_slice", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("LiiL", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*List)
		i, j, err := vm.translateSlice(args[1], args[2], len(self.Elems))
		if err != nil {
			return nil, err
		}
		self.Elems = slices.Replace(self.Elems, i, j, slices.Clone(args[3].(*List).Elems)...)
		return vm.Null, nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("L", "", false)
		if err != nil {
			return nil, err
		}
		s, err := vm.joinStrs(args[0].(*List).Elems, ", ")
		if err != nil {
			return nil, err
		}
		return vm.NewString("[" + s + "]"), nil
	})
}
