package vm

import (
	"io"
)

// Version is reported by Sys::version.
const Version = "0.1.0"

// ---------------------------------------------------------------------------
// The Sys module
// ---------------------------------------------------------------------------

var sysDefns = []string{
	"print", "println", "exit", "argv", "vm_path", "program_path", "version",
}

func initSysModule(vm *VM, mod *Module) error {
	vm.defineModFunc(mod, "print", func(vm *VM) (Object, error) {
		_, rest, err := vm.DecodeArgs("", "", true)
		if err != nil {
			return nil, err
		}
		return vm.Null, vm.writeObjects(vm.stdout, rest, "")
	})
	vm.defineModFunc(mod, "println", func(vm *VM) (Object, error) {
		_, rest, err := vm.DecodeArgs("", "", true)
		if err != nil {
			return nil, err
		}
		return vm.Null, vm.writeObjects(vm.stdout, rest, "\n")
	})
	vm.defineModFunc(mod, "exit", func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("", "O", false)
		if err != nil {
			return nil, err
		}
		code := args[0]
		if code == nil {
			code = vm.NewInt(0)
		}
		return nil, vm.RaiseHelper("System_Exit_Exception", code)
	})

	argv := make([]Object, len(vm.argv))
	for i, a := range vm.argv {
		argv[i] = vm.NewString(a)
	}
	vm.setDefn(mod, "argv", vm.NewList(argv))
	vm.setDefn(mod, "vm_path", vm.NewString(vm.vmPath))
	vm.setDefn(mod, "program_path", vm.NewString(vm.programPath))
	vm.setDefn(mod, "version", vm.NewString(Version))
	return nil
}

// writeObjects writes each of os to w, strings verbatim and everything else
// via its to_str method, followed by end.
func (vm *VM) writeObjects(w io.Writer, os []Object, end string) error {
	for _, o := range os {
		s, ok := o.(*String)
		str := ""
		if ok {
			str = s.V
		} else {
			var err error
			if str, err = vm.ToStr(o); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, str); err != nil {
			return vm.raiseMsg("IO_Exception", err.Error())
		}
	}
	if end != "" {
		if _, err := io.WriteString(w, end); err != nil {
			return vm.raiseMsg("IO_Exception", err.Error())
		}
	}
	return nil
}
