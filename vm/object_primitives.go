package vm

import "fmt"

// ---------------------------------------------------------------------------
// Object Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerObjectPrimitives() {
	c := vm.ObjectClass
	c.newFunc = vm.builtinNewFunc("new_Object", func(vm *VM) (Object, error) {
		args, rest, err := vm.DecodeArgs("C", "", true)
		if err != nil {
			return nil, err
		}
		o := vm.NewInstance(args[0].(*Class))
		if _, err := vm.GetSlotApply(o, "init", rest...); err != nil {
			return nil, err
		}
		return o, nil
	})

	vm.defineMethod(c, "init", func(vm *VM) (Object, error) {
		if _, _, err := vm.DecodeArgs("O", "", true); err != nil {
			return nil, err
		}
		return vm.Null, nil
	})

	vm.defineMethod(c, "find_slot", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("OS", "", false)
		if err != nil {
			return nil, err
		}
		if v := vm.FindSlot(args[0], args[1].(*String).V); v != nil {
			return v, nil
		}
		return vm.Fail, nil
	})

	vm.defineMethod(c, "get_slot", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("OS", "", false)
		if err != nil {
			return nil, err
		}
		return vm.GetSlot(args[0], args[1].(*String).V)
	})

	vm.defineMethod(c, "is", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("OO", "", false)
		if err != nil {
			return nil, err
		}
		return vm.boolObject(Is(args[0], args[1])), nil
	})

	// Identity is the default equality.
	vm.defineMethod(c, "==", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("OO", "", false)
		if err != nil {
			return nil, err
		}
		return vm.boolObject(Is(args[0], args[1])), nil
	})

	vm.defineMethod(c, "!=", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("OO", "", false)
		if err != nil {
			return nil, err
		}
		return vm.boolObject(!Is(args[0], args[1])), nil
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("O", "", false)
		if err != nil {
			return nil, err
		}
		return vm.NewString(fmt.Sprintf("<Object@%p>", args[0])), nil
	})
}

// ---------------------------------------------------------------------------
// Class Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerClassPrimitives() {
	c := vm.ClassClass
	c.newFunc = vm.builtinNewFunc("new_Class", func(vm *VM) (Object, error) {
		args, rest, err := vm.DecodeArgs("CSLO", "", true)
		if err != nil {
			return nil, err
		}
		var supers []*Class
		for _, s := range args[2].(*List).Elems {
			sc, err := vm.TypeCheckClass(s)
			if err != nil {
				return nil, err
			}
			supers = append(supers, sc)
		}
		nc, err := vm.NewClass(args[1].(*String).V, supers, args[3], args[0].(*Class), nil)
		if err != nil {
			return nil, vm.RaiseHelper("VM_Exception", vm.NewString(err.Error()))
		}
		if _, err := vm.GetSlotApply(nc, "init", rest...); err != nil {
			return nil, err
		}
		return nc, nil
	})

	vm.defineMethod(c, "new", func(vm *VM) (Object, error) {
		args, rest, err := vm.DecodeArgs("C", "", true)
		if err != nil {
			return nil, err
		}
		class := args[0].(*Class)
		if class.newFunc == nil {
			p, err := vm.classPathOf(class)
			if err != nil {
				return nil, err
			}
			return nil, vm.RaiseHelper("VM_Exception", vm.NewString(fmt.Sprintf("Instance of %s has no new_func.", p)))
		}
		return vm.Apply(class.newFunc, append([]Object{class}, rest...)...)
	})

	vm.defineMethod(c, "get_field", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CS", "", false)
		if err != nil {
			return nil, err
		}
		return vm.GetField(args[0].(*Class), args[1].(*String).V)
	})

	vm.defineMethod(c, "set_field", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CSO", "", false)
		if err != nil {
			return nil, err
		}
		vm.SetField(args[0].(*Class), args[1].(*String).V, args[2])
		return vm.Null, nil
	})

	vm.defineMethod(c, "path", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("C", "o", false)
		if err != nil {
			return nil, err
		}
		self := args[0]
		name, err := vm.TypeCheckString(vm.FindSlot(self, "name"))
		if err != nil {
			return nil, err
		}
		n := name.V
		if n == "" {
			n = "<anon>"
		}
		return vm.containedPath(self, n, args[1])
	})

	vm.defineMethod(c, "to_str", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("C", "", false)
		if err != nil {
			return nil, err
		}
		name, err := vm.TypeCheckString(vm.FindSlot(args[0], "name"))
		if err != nil {
			return nil, err
		}
		return vm.NewString(fmt.Sprintf("<Class %s>", name.V)), nil
	})

	// conformed_by succeeds if o has a slot for every field of the class
	// and its superclasses.
	vm.defineMethod(c, "conformed_by", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CO", "", false)
		if err != nil {
			return nil, err
		}
		self, o := args[0].(*Class), args[1]
		if InstanceOf(o) == self {
			return vm.Null, nil
		}
		stack := []*Class{self}
		for len(stack) > 0 {
			cnd := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, f := range cnd.FieldNames() {
				if !HasSlot(o, f) {
					return vm.Fail, nil
				}
			}
			stack = append(stack, cnd.Supers...)
		}
		return vm.Null, nil
	})

	vm.defineMethod(c, "instantiated", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CO", "", false)
		if err != nil {
			return nil, err
		}
		return vm.boolObject(InstanceOf(args[1]).IsSubclassOf(args[0].(*Class))), nil
	})
}

// classPathOf returns c's path.
func (vm *VM) classPathOf(c *Class) (string, error) {
	p, err := vm.GetSlotApply(c, "path")
	if err != nil {
		return "", err
	}
	s, err := vm.TypeCheckString(p)
	if err != nil {
		return "", err
	}
	return s.V, nil
}

// containedPath prefixes name with the path of self's container. Modules
// are separated from their contents by "::", classes by ".". The path stops
// at stopAt.
func (vm *VM) containedPath(self Object, name string, stopAt Object) (Object, error) {
	container := vm.FindSlot(self, "container")
	if container == nil || container == vm.Null || container == stopAt {
		return vm.NewString(name), nil
	}
	if stopAt == nil {
		stopAt = vm.Null
	}
	p, err := vm.GetSlotApply(container, "path", stopAt)
	if err != nil {
		return nil, err
	}
	ps, err := vm.TypeCheckString(p)
	if err != nil {
		return nil, err
	}
	sep := "."
	if _, ok := container.(*Module); ok {
		sep = "::"
	}
	return vm.NewString(ps.V + sep + name), nil
}

// ---------------------------------------------------------------------------
// Func and Partial_Application Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFuncPrimitives() {
	f := vm.FuncClass

	vm.defineMethod(f, "path", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("F", "o", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*Func)
		if args[1] != nil && Object(self) == args[1] {
			return vm.NewString(""), nil
		}
		return vm.containedPath(self, self.Name, args[1])
	})

	// apply calls the function with the elements of a list, producing each
	// of its values in turn.
	vm.defineGenMethod(f, "apply", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("FL", "", false)
		if err != nil {
			return err
		}
		return vm.Pump(args[0], args[1].(*List).Elems, func(o Object) (bool, error) {
			return yield(o), nil
		})
	})

	pa := vm.PartialApplicationClass
	pa.newFunc = vm.builtinNewFunc("new_Partial_Application", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CFL", "", false)
		if err != nil {
			return nil, err
		}
		fn, l := args[1].(*Func), args[2].(*List).Elems
		o := vm.NewPartialApplication(fn, append([]Object(nil), l...))
		if _, err := vm.GetSlotApply(o, "init", append([]Object{fn}, l...)...); err != nil {
			return nil, err
		}
		return o, nil
	})

	vm.defineGenMethod(pa, "apply", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("!L", "", false)
		if err != nil {
			return err
		}
		self := args[0].(*PartialApplication)
		all := append(append([]Object(nil), self.Args...), args[1].(*List).Elems...)
		return vm.Pump(self.Func, all, func(o Object) (bool, error) {
			return yield(o), nil
		})
	})
}

// ---------------------------------------------------------------------------
// Module Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerModulePrimitives() {
	c := vm.ModuleClass
	c.newFunc = vm.builtinNewFunc("new_Module", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("CS", "", true)
		if err != nil {
			return nil, err
		}
		m, err := vm.NewBytecodeModule([]byte(args[1].(*String).V))
		if err != nil {
			return nil, vm.RaiseHelper("VM_Exception", vm.NewString(err.Error()))
		}
		return m, nil
	})

	vm.defineMethod(c, "get_defn", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("MS", "", false)
		if err != nil {
			return nil, err
		}
		return vm.GetDefn(args[0].(*Module), args[1].(*String).V)
	})

	vm.defineMethod(c, "has_defn", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("MS", "", false)
		if err != nil {
			return nil, err
		}
		return vm.boolObject(args[0].(*Module).HasDefn(args[1].(*String).V)), nil
	})

	vm.defineMethod(c, "set_defn", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("MSO", "", false)
		if err != nil {
			return nil, err
		}
		if err := vm.SetDefn(args[0].(*Module), args[1].(*String).V, args[2]); err != nil {
			return nil, err
		}
		return vm.Null, nil
	})

	vm.defineGenMethod(c, "iter_defns", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("M", "", false)
		if err != nil {
			return err
		}
		m := args[0].(*Module)
		for _, n := range m.defNames {
			d, err := vm.GetDefn(m, n)
			if err != nil {
				return err
			}
			if !yield(vm.NewList([]Object{vm.NewString(n), d})) {
				return nil
			}
		}
		return nil
	})

	vm.defineGenMethod(c, "iter_newlines", func(vm *VM, yield func(Object) bool) error {
		args, _, err := vm.DecodeArgs("M", "", false)
		if err != nil {
			return err
		}
		m := args[0].(*Module)
		if m.bc == nil {
			return nil
		}
		for _, nl := range m.bc.Newlines() {
			if !yield(vm.NewInt(int64(nl))) {
				return nil
			}
		}
		return nil
	})

	vm.defineMethod(c, "path", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("M", "o", false)
		if err != nil {
			return nil, err
		}
		self := args[0].(*Module)
		if args[1] != nil && Object(self) == args[1] {
			return vm.NewString(""), nil
		}
		return vm.containedPath(self, self.Name, args[1])
	})

	vm.defineMethod(c, "src_offset_to_line_column", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("MI", "", false)
		if err != nil {
			return nil, err
		}
		line, col, err := vm.lineColumn(args[0].(*Module), int(args[1].(*Int).V))
		if err != nil {
			return nil, err
		}
		return vm.NewList([]Object{vm.NewInt(int64(line)), vm.NewInt(int64(col))}), nil
	})
}

// lineColumn converts a source offset in m to a line and column.
func (vm *VM) lineColumn(m *Module, off int) (int, int, error) {
	if m.bc == nil {
		return 0, 0, vm.RaiseHelper("VM_Exception", vm.NewString(fmt.Sprintf("Module '%s' has no source information.", m.Name)))
	}
	line, col, err := m.bc.LineColumn(off)
	if err != nil {
		return 0, 0, vm.RaiseHelper("VM_Exception", vm.NewString(err.Error()))
	}
	return line, col, nil
}
