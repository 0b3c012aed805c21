package vm

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is a mutable, insertion-ordered set of objects.
type Set struct {
	Boxed
	t hashTable
}

// NewSet returns an empty set.
func (vm *VM) NewSet() *Set {
	return &Set{Boxed: vm.boxedOf(vm.SetClass), t: newHashTable()}
}

// Add inserts e if no equal element is present.
func (s *Set) Add(vm *VM, e Object) error {
	return s.t.put(vm, e, nil)
}

// Contains reports whether an element equal to e is present.
func (s *Set) Contains(vm *VM, e Object) (bool, error) {
	i, _, err := s.t.lookup(vm, e)
	return i >= 0, err
}

// Len returns the number of elements.
func (s *Set) Len() int {
	return s.t.len()
}

// Elems returns the elements in insertion order.
func (s *Set) Elems() []Object {
	es := make([]Object, len(s.t.entries))
	for i, e := range s.t.entries {
		es[i] = e.key
	}
	return es
}

func (vm *VM) copySet(s *Set) *Set {
	return &Set{Boxed: vm.boxedOf(vm.SetClass), t: s.t.clone()}
}

// extendSet adds o's elements to s. o may be a Set or anything with an
// "iter" slot.
func (vm *VM) extendSet(s *Set, o Object) error {
	if os, ok := o.(*Set); ok {
		for _, e := range os.Elems() {
			if err := s.Add(vm, e); err != nil {
				return err
			}
		}
		return nil
	}
	return vm.pumpIter(o, func(e Object) error {
		return s.Add(vm, e)
	})
}

// ---------------------------------------------------------------------------
// Set Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerSetPrimitives() {
	c := vm.SetClass

	vm.defineMethod(c, "add", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("WO", "", false)
		if err != nil {
			return nil, err
		}
		if err := args[0].(*Set).Add(vm, args[1]); err != nil {
			return nil, err
		}
		return vm.Null, nil
	})

	vm.defineMethod(c, "+", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("WO", "", false)
		if err != nil {
			return nil, err
		}
		n := vm.copySet(args[0].(*Set))
		if err := vm.extendSet(n, args[1]); err != nil {
			return nil, err
		}
		return n, nil
	})

	vm.defineMethod(c, "extend", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("WO", "", false)
		if err != nil {
			return nil, err
		}
		if err := vm.extendSet(args[0].(*Set), args[1]); err != nil {
			return nil, err
		}
		return vm.Null, nil
	})

	// complement returns the elements of self not in the argument set.
	vm.defineMethod(c, "complement", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("WW", "", false)
		if err != nil {
			return nil, err
		}
		o := args[1].(*Set)
		n := vm.NewSet()
		for _, e := range args[0].(*Set).Elems() {
			in, err := o.Contains(vm, e)
			if err != nil {
				return nil, err
			}
			if in {
				continue
			}
			if err := n.Add(vm, e); err != nil {
				return nil, err
			}
		}
		return n, nil
	})

	vm.defineGenMethod(c, "find", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("WO", "", false)
		if err != nil {
			return err
		}
		in, err := args[0].(*Set).Contains(vm, args[1])
		if err != nil {
			return err
		}
		if in {
			yield(args[1])
		}
		return nil
	})

	vm.defineGenMethod(c, "iter", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("W", "", false)
		if err != nil {
			return err
		}
		for _, e := range args[0].(*Set).Elems() {
			if !yield(e) {
				return nil
			}
		}
		return nil
	})

	vm.defineMethod(c, "len", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("W", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(int64(args[0].(*Set).Len())), nil
	})

	vm.defineMethod(c, "scopy", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("W", "", false)
		if err != nil {
			return nil, err
		}
		return vm.copySet(args[0].(*Set)), nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("W", "", false)
		if err != nil {
			return nil, err
		}
		s, err := vm.joinStrs(args[0].(*Set).Elems(), ", ")
		if err != nil {
			return nil, err
		}
		return vm.NewString("Set{" + s + "}"), nil
	})
}
