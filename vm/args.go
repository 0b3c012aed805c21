package vm

import "fmt"

// ---------------------------------------------------------------------------
// Argument decoding for native functions
// ---------------------------------------------------------------------------

// DecodeArgs reads the current frame's arguments and removes them from its
// stack. mand and opt describe the mandatory and optional parameters, one
// character each:
//
//	O  any object          C  Class       D  Dict       E  Exception
//	F  Func                I  Int         L  List       M  Module
//	N  Int or Float        S  String      W  Set
//	!  an instance of the class the running function belongs to
//
// A lowercase letter accepts null as well, decoding it to nil. The result
// has one entry per parameter; optional parameters that were not passed are
// nil. When vargs is true the surplus arguments are returned as rest.
func (vm *VM) DecodeArgs(mand, opt string, vargs bool) (args, rest []Object, err error) {
	cf := vm.cur
	nargs := cf.nargs
	nparams := len(mand) + len(opt)

	if nargs < len(mand) {
		if vargs {
			return nil, nil, vm.raiseParameters("Too few parameters (%d passed, but at least %d needed).", nargs, len(mand))
		}
		return nil, nil, vm.raiseParameters("Too few parameters (%d passed, but %d needed).", nargs, len(mand))
	}
	if nargs > nparams && !vargs {
		return nil, nil, vm.raiseParameters("Too many parameters (%d passed, but a maximum of %d allowed).", nargs, nparams)
	}

	base := cf.sp() - nargs
	args = make([]Object, nparams)
	i := 0
	for ; i < nparams && i < nargs; i++ {
		t := mand
		ti := i
		if i >= len(mand) {
			t, ti = opt, i-len(mand)
		}
		o := cf.get(base + i)
		if args[i], err = vm.decodeArg(cf, t[ti], o); err != nil {
			return nil, nil, err
		}
	}
	if vargs {
		rest = []Object{}
		for j := i; j < nargs; j++ {
			rest = append(rest, cf.get(base+j))
		}
	}
	cf.delFrom(base)
	return args, rest, nil
}

func (vm *VM) decodeArg(cf *frame, t byte, o Object) (Object, error) {
	if t == '!' {
		c, _ := vm.Container(cf.fn).(*Class)
		if c == nil {
			return o, nil
		}
		if InstanceOf(o).IsSubclassOf(c) {
			return o, nil
		}
		return nil, vm.typeError(c.Name, o)
	}
	if t >= 'a' && t <= 'z' {
		if o == vm.Null {
			return nil, nil
		}
		t -= 'a' - 'A'
	}

	var err error
	switch t {
	case 'O':
	case 'C':
		_, err = vm.TypeCheckClass(o)
	case 'D':
		_, err = vm.TypeCheckDict(o)
	case 'E':
		_, err = vm.TypeCheckException(o)
	case 'F':
		_, err = vm.TypeCheckFunc(o)
	case 'I':
		_, err = vm.TypeCheckInt(o)
	case 'L':
		_, err = vm.TypeCheckList(o)
	case 'M':
		_, err = vm.TypeCheckModule(o)
	case 'N':
		err = vm.TypeCheckNumber(o)
	case 'S':
		_, err = vm.TypeCheckString(o)
	case 'W':
		_, err = vm.TypeCheckSet(o)
	default:
		return nil, fmt.Errorf("vm: unknown argument type %q", t)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (vm *VM) raiseParameters(format string, args ...any) error {
	return vm.RaiseHelper("Parameters_Exception", vm.NewString(fmt.Sprintf(format, args...)))
}

// ---------------------------------------------------------------------------
// Type checks
// ---------------------------------------------------------------------------

func (vm *VM) typeError(name string, o Object) error {
	return vm.RaiseHelper("Type_Exception", vm.NewString(name), o)
}

// TypeCheckClass returns o as a Class or raises Type_Exception.
func (vm *VM) TypeCheckClass(o Object) (*Class, error) {
	if c, ok := o.(*Class); ok {
		return c, nil
	}
	return nil, vm.typeError("Class", o)
}

// TypeCheckDict returns o as a Dict or raises Type_Exception.
func (vm *VM) TypeCheckDict(o Object) (*Dict, error) {
	if d, ok := o.(*Dict); ok {
		return d, nil
	}
	return nil, vm.typeError("Dict", o)
}

// TypeCheckException returns o as an Exception or raises Type_Exception.
func (vm *VM) TypeCheckException(o Object) (*Exception, error) {
	if e, ok := o.(*Exception); ok {
		return e, nil
	}
	return nil, vm.typeError("Exception", o)
}

// TypeCheckFunc returns o as a Func or raises Type_Exception.
func (vm *VM) TypeCheckFunc(o Object) (*Func, error) {
	if f, ok := o.(*Func); ok {
		return f, nil
	}
	return nil, vm.typeError("Func", o)
}

// TypeCheckInt returns o as an Int or raises Type_Exception.
func (vm *VM) TypeCheckInt(o Object) (*Int, error) {
	if i, ok := o.(*Int); ok {
		return i, nil
	}
	return nil, vm.typeError("Int", o)
}

// TypeCheckList returns o as a List or raises Type_Exception.
func (vm *VM) TypeCheckList(o Object) (*List, error) {
	if l, ok := o.(*List); ok {
		return l, nil
	}
	return nil, vm.typeError("List", o)
}

// TypeCheckModule returns o as a Module or raises Type_Exception.
func (vm *VM) TypeCheckModule(o Object) (*Module, error) {
	if m, ok := o.(*Module); ok {
		return m, nil
	}
	return nil, vm.typeError("Module", o)
}

// TypeCheckNumber raises Type_Exception unless o is an Int or a Float.
func (vm *VM) TypeCheckNumber(o Object) error {
	switch o.(type) {
	case *Int, *Float:
		return nil
	}
	return vm.typeError("Number", o)
}

// TypeCheckString returns o as a String or raises Type_Exception.
func (vm *VM) TypeCheckString(o Object) (*String, error) {
	if s, ok := o.(*String); ok {
		return s, nil
	}
	return nil, vm.typeError("String", o)
}

// TypeCheckSet returns o as a Set or raises Type_Exception.
func (vm *VM) TypeCheckSet(o Object) (*Set, error) {
	if s, ok := o.(*Set); ok {
		return s, nil
	}
	return nil, vm.typeError("Set", o)
}
