package vm

import "strings"

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

// Dict is a mutable, insertion-ordered mapping.
type Dict struct {
	Boxed
	t hashTable
}

// NewDict returns an empty dictionary.
func (vm *VM) NewDict() *Dict {
	return &Dict{Boxed: vm.boxedOf(vm.DictClass), t: newHashTable()}
}

// Set stores v under k.
func (d *Dict) Set(vm *VM, k, v Object) error {
	return d.t.put(vm, k, v)
}

// Get returns the value stored under k, or nil if there is none.
func (d *Dict) Get(vm *VM, k Object) (Object, error) {
	return d.t.get(vm, k)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return d.t.len()
}

// Each calls fn with every entry in insertion order, stopping early if fn
// returns false.
func (d *Dict) Each(fn func(k, v Object) bool) {
	for _, e := range d.t.entries {
		if !fn(e.key, e.val) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Dict Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerDictPrimitives() {
	c := vm.DictClass

	vm.defineMethod(c, "find", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("DO", "", false)
		if err != nil {
			return nil, err
		}
		v, err := args[0].(*Dict).Get(vm, args[1])
		if err != nil {
			return nil, err
		}
		if v == nil {
			return vm.Fail, nil
		}
		return v, nil
	})

	vm.defineMethod(c, "get", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("DO", "", false)
		if err != nil {
			return nil, err
		}
		v, err := args[0].(*Dict).Get(vm, args[1])
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, vm.RaiseHelper("Key_Exception", args[1])
		}
		return v, nil
	})

	vm.defineMethod(c, "set", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("DOO", "", false)
		if err != nil {
			return nil, err
		}
		if err := args[0].(*Dict).Set(vm, args[1], args[2]); err != nil {
			return nil, err
		}
		return vm.Null, nil
	})

	vm.defineMethod(c, "extend", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("DD", "", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*Dict)
		for _, e := range args[1].(*Dict).t.entries {
			if err := self.Set(vm, e.key, e.val); err != nil {
				return nil, err
			}
		}
		return vm.Null, nil
	})

	iter := func(name string, project func(vm *VM, e hashEntry) Object) {
		vm.defineGenMethod(c, name, func(vm *VM, yield func(Object) bool) error {
			args, _, err := vm.DecodeArgs("D", "", false)
			if err != nil {
				return err
			}
			for _, e := range args[0].(*Dict).t.entries {
				if !yield(project(vm, e)) {
					return nil
				}
			}
			return nil
		})
	}
	iter("iter", func(vm *VM, e hashEntry) Object { return vm.NewList([]Object{e.key, e.val}) })
	iter("iter_keys", func(vm *VM, e hashEntry) Object { return e.key })
	iter("iter_vals", func(vm *VM, e hashEntry) Object { return e.val })

	vm.defineMethod(c, "len", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("D", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewInt(int64(args[0].(*Dict).Len())), nil
	})

	vm.defineMethod(c, "scopy", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("D", "", false)
		if err != nil {
			return nil, err
		}
		return &Dict{Boxed: vm.boxedOf(vm.DictClass), t: args[0].(*Dict).t.clone()}, nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("D", "", false)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		sb.WriteString("Dict{")
		for i, e := range args[0].(*Dict).t.entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			ks, err := vm.ToStr(e.key)
			if err != nil {
				return nil, err
			}
			vs, err := vm.ToStr(e.val)
			if err != nil {
				return nil, err
			}
			sb.WriteString(ks + " : " + vs)
		}
		sb.WriteString("}")
		return vm.NewString(sb.String()), nil
	})
}
