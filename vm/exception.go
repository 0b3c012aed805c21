package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception objects
// ---------------------------------------------------------------------------

// Exception is an instance of Exception or one of its subclasses. The call
// chain is captured the first time the exception is raised.
type Exception struct {
	Boxed
	CallChain []CallChainEntry
}

// CallChainEntry is one active call at the point an exception was raised.
type CallChainEntry struct {
	PC    PC
	Func  *Func
	BCOff int
}

// NewException creates an exception of class c with no message.
func (vm *VM) NewException(c *Class) *Exception {
	return &Exception{Boxed: vm.boxedOf(c)}
}

// Message returns the exception's "msg" slot if it is a string.
func (e *Exception) Message() string {
	b := e.boxed()
	if i := b.shape.Find("msg"); i != -1 {
		if s, ok := b.slots[i].(*String); ok {
			return s.V
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Raising
// ---------------------------------------------------------------------------

// RaiseError carries a raised exception up through Go call frames until a
// dispatch loop with an exception frame catches it.
type RaiseError struct {
	Exc *Exception
}

func (e *RaiseError) Error() string {
	return fmt.Sprintf("%s: %s", InstanceOf(e.Exc).Name, e.Exc.Message())
}

// AsRaise reports whether err is a raised exception.
func AsRaise(err error) (*Exception, bool) {
	var re *RaiseError
	if errors.As(err, &re) {
		return re.Exc, true
	}
	return nil, false
}

// Raise raises o, which must be an exception. The call chain is recorded
// from the current frame outwards unless o has been raised before.
func (vm *VM) Raise(o Object) error {
	ex, err := vm.TypeCheckException(o)
	if err != nil {
		return err
	}
	if ex.CallChain == nil {
		cc := []CallChainEntry{}
		for cf := vm.cur; cf != nil; cf = cf.parent {
			cc = append(cc, CallChainEntry{PC: cf.pc, Func: cf.fn, BCOff: cf.bcOff})
		}
		ex.CallChain = cc
	}
	if vm.trace {
		vm.log.Debugf("raise %s: %s", InstanceOf(ex).Name, ex.Message())
	}
	return &RaiseError{Exc: ex}
}

// RaiseHelper creates the named exception from the Exceptions module with
// args and raises it.
func (vm *VM) RaiseHelper(name string, args ...Object) error {
	var class Object
	if vm.exceptionsMod != nil {
		class = vm.exceptionsMod.findDefn(name)
	}
	if class == nil {
		// Only possible while the Exceptions module is being built.
		return fmt.Errorf("vm: %s raised before the Exceptions module was initialised", name)
	}
	ex, err := vm.GetSlotApply(class, "new", args...)
	if err != nil {
		return err
	}
	return vm.Raise(ex)
}

// IsInstance reports whether err is a raised exception whose class is, or
// inherits from, the named class in the Exceptions module.
func (vm *VM) IsInstance(err error, name string) bool {
	ex, ok := AsRaise(err)
	if !ok {
		return false
	}
	c, _ := vm.exceptionsMod.findDefn(name).(*Class)
	return c != nil && InstanceOf(ex).IsSubclassOf(c)
}

// ---------------------------------------------------------------------------
// The Exceptions module
// ---------------------------------------------------------------------------

var exceptionNames = []string{
	"Exception",
	"Internal_Exception",
	"VM_Exception", "System_Exit_Exception",
	"User_Exception",
	"Apply_Exception", "Assert_Exception", "Bounds_Exception", "Field_Exception",
	"Import_Exception", "Indices_Exception", "Key_Exception", "Mod_Defn_Exception",
	"NDIf_Exception", "Number_Exception", "Parameters_Exception", "Slot_Exception",
	"Type_Exception", "Unassigned_Var_Exception", "Unpack_Exception",
	"IO_Exception",
	"File_Exception",
}

func initExceptionsModule(vm *VM, mod *Module) error {
	vm.setDefn(mod, "Exception", vm.ExceptionClass)

	internal, err := vm.mkException(mod, "Internal_Exception", vm.ExceptionClass, nil)
	if err != nil {
		return err
	}
	simple := []struct {
		name  string
		super *Class
		init  Proc
	}{
		{"System_Exit_Exception", internal, systemExitInit},
		{"VM_Exception", internal, nil},
		{"User_Exception", vm.ExceptionClass, nil},
		{"Apply_Exception", nil, applyExceptionInit},
		{"Assert_Exception", nil, nil},
		{"Bounds_Exception", nil, boundsExceptionInit},
		{"Field_Exception", nil, fieldExceptionInit},
		{"Import_Exception", nil, importExceptionInit},
		{"Indices_Exception", nil, indicesExceptionInit},
		{"Key_Exception", nil, keyExceptionInit},
		{"Mod_Defn_Exception", nil, nil},
		{"NDIf_Exception", nil, nil},
		{"Number_Exception", nil, numberExceptionInit},
		{"Parameters_Exception", nil, nil},
		{"Slot_Exception", nil, slotExceptionInit},
		{"Type_Exception", nil, typeExceptionInit},
		{"Unassigned_Var_Exception", nil, nil},
		{"Unpack_Exception", nil, unpackExceptionInit},
		{"IO_Exception", nil, nil},
	}
	for _, s := range simple {
		super := s.super
		if super == nil {
			super = internal
		}
		if _, err := vm.mkException(mod, s.name, super, s.init); err != nil {
			return err
		}
	}
	io, _ := mod.findDefn("IO_Exception").(*Class)
	_, err = vm.mkException(mod, "File_Exception", io, nil)
	return err
}

func (vm *VM) mkException(mod *Module, name string, super *Class, init Proc) (*Class, error) {
	o, err := vm.GetSlotApply(vm.ClassClass, "new", vm.NewString(name), vm.NewList([]Object{super}), mod)
	if err != nil {
		return nil, err
	}
	c, err := vm.TypeCheckClass(o)
	if err != nil {
		return nil, err
	}
	if init != nil {
		vm.SetField(c, "init", vm.NewProc(mod, "init", true, init, c))
	}
	vm.setDefn(mod, name, c)
	return c, nil
}

func (vm *VM) setMsg(self Object, format string, args ...any) (Object, error) {
	vm.SetSlot(self, "msg", vm.NewString(fmt.Sprintf(format, args...)))
	return vm.Null, nil
}

// classPath returns the path of o's class.
func (vm *VM) classPath(o Object) (string, error) {
	p, err := vm.GetSlotApply(InstanceOf(o), "path")
	if err != nil {
		return "", err
	}
	s, err := vm.TypeCheckString(p)
	if err != nil {
		return "", err
	}
	return s.V, nil
}

func systemExitInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OO", "", false)
	if err != nil {
		return nil, err
	}
	vm.SetSlot(args[0], "code", args[1])
	return vm.Null, nil
}

func applyExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OO", "", false)
	if err != nil {
		return nil, err
	}
	p, err := vm.classPath(args[1])
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Do not know how to apply instance of '%s'.", p)
}

func boundsExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OII", "", false)
	if err != nil {
		return nil, err
	}
	idx, upper := args[1].(*Int).V, args[2].(*Int).V
	if idx < 0 {
		return vm.setMsg(args[0], "%d below lower bound 0.", idx)
	}
	return vm.setMsg(args[0], "%d exceeds upper bound %d.", idx, upper)
}

func fieldExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OSO", "", false)
	if err != nil {
		return nil, err
	}
	p, err := vm.GetSlotApply(args[2], "path")
	if err != nil {
		return nil, err
	}
	ps, err := vm.TypeCheckString(p)
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "No such field '%s' in class '%s'.", args[1].(*String).V, ps.V)
}

func importExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OS", "", false)
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Unable to import '%s'.", args[1].(*String).V)
}

func indicesExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OII", "", false)
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Lower bound %d exceeds upper bound %d", args[1].(*Int).V, args[2].(*Int).V)
}

func keyExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OO", "", false)
	if err != nil {
		return nil, err
	}
	k, err := vm.ToStr(args[1])
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Key '%s' not found.", k)
}

func numberExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OO", "", false)
	if err != nil {
		return nil, err
	}
	n, err := vm.ToStr(args[1])
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Number '%s' not valid.", n)
}

func slotExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OSO", "", false)
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "No such slot '%s' in instance of '%s'.", args[1].(*String).V, InstanceOf(args[2]).Name)
}

func typeExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OSO", "O", false)
	if err != nil {
		return nil, err
	}
	msg := "Expected to be conformant to "
	if args[3] != nil {
		extra, err := vm.TypeCheckString(args[3])
		if err != nil {
			return nil, err
		}
		msg = fmt.Sprintf("Expected '%s' to be conformant to ", extra.V)
	}
	p, err := vm.classPath(args[2])
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "%s%s, but got instance of %s.", msg, args[1].(*String).V, p)
}

func unpackExceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("OII", "", false)
	if err != nil {
		return nil, err
	}
	return vm.setMsg(args[0], "Unpack of %d elements failed, as %d elements present", args[1].(*Int).V, args[2].(*Int).V)
}

// ---------------------------------------------------------------------------
// Exception methods
// ---------------------------------------------------------------------------

func exceptionNewFunc(vm *VM) (Object, error) {
	args, rest, err := vm.DecodeArgs("C", "", true)
	if err != nil {
		return nil, err
	}
	ex := vm.NewException(args[0].(*Class))
	if _, err := vm.GetSlotApply(ex, "init", rest...); err != nil {
		return nil, err
	}
	return ex, nil
}

func exceptionInit(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("O", "O", false)
	if err != nil {
		return nil, err
	}
	msg := args[1]
	if msg == nil {
		msg = vm.NewString("")
	}
	vm.SetSlot(args[0], "msg", msg)
	return vm.Null, nil
}

// exceptionIterCallChain yields [func, src_infos] for each call chain
// entry, innermost first. src_infos is a list of [mod_id, offset, length]
// lists, or null for native functions.
func exceptionIterCallChain(vm *VM, yield func(Object) bool) error {
	args, _, err := vm.DecodeArgs("E", "", false)
	if err != nil {
		return err
	}
	for _, e := range args[0].(*Exception).CallChain {
		var infos Object = vm.Null
		if pc, ok := e.PC.(*BytecodePC); ok {
			sis, err := pc.Mod.SrcInfos(e.BCOff)
			if err != nil {
				return err
			}
			l := make([]Object, len(sis))
			for i, si := range sis {
				l[i] = vm.NewList([]Object{vm.NewString(si.ModID), vm.NewInt(int64(si.Offset)), vm.NewInt(int64(si.Length))})
			}
			infos = vm.NewList(l)
		}
		if !yield(vm.NewList([]Object{e.Func, infos})) {
			return nil
		}
	}
	return nil
}

func exceptionToStr(vm *VM) (Object, error) {
	args, _, err := vm.DecodeArgs("E", "", false)
	if err != nil {
		return nil, err
	}
	ex := args[0]
	msg, err := vm.GetSlot(ex, "msg")
	if err != nil {
		return nil, err
	}
	ms, err := vm.TypeCheckString(msg)
	if err != nil {
		return nil, err
	}
	return vm.NewString(fmt.Sprintf("%s: %s", InstanceOf(ex).Name, ms.V)), nil
}

func (vm *VM) registerExceptionPrimitives() {
	c := vm.ExceptionClass
	c.newFunc = vm.builtinNewFunc("new_Exception", exceptionNewFunc)

	vm.defineMethod(c, "init", exceptionInit)
	vm.defineGenMethod(c, "iter_call_chain", exceptionIterCallChain)
	vm.defineMethod(c, "to_str", exceptionToStr)
}

// raiseMsg raises the named exception with msg as its message, bypassing
// the class's init function.
func (vm *VM) raiseMsg(name, msg string) error {
	c, _ := vm.exceptionsMod.findDefn(name).(*Class)
	if c == nil {
		return fmt.Errorf("vm: %s raised before the Exceptions module was initialised", name)
	}
	ex := vm.NewException(c)
	vm.SetSlot(ex, "msg", vm.NewString(msg))
	return vm.Raise(ex)
}
