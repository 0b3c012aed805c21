package vm

// ---------------------------------------------------------------------------
// Builtin objects
// ---------------------------------------------------------------------------

// Builtin numbers as used by the BUILTIN_LOOKUP instruction. Numbers not
// listed here are reserved and hold nothing.
const (
	BuiltinNull                    = 0
	BuiltinFail                    = 1
	BuiltinObjectClass             = 19
	BuiltinClassClass              = 20
	BuiltinFuncClass               = 23
	BuiltinStringClass             = 24
	BuiltinListClass               = 26
	BuiltinDictClass               = 27
	BuiltinModuleClass             = 28
	BuiltinIntClass                = 29
	BuiltinPartialApplicationClass = 31
	BuiltinExceptionClass          = 32
	BuiltinSetClass                = 33
	BuiltinNumberClass             = 34
	BuiltinBuiltinsModule          = 35
	BuiltinExceptionsModule        = 37
	BuiltinSysModule               = 38
	BuiltinFloatClass              = 40

	NumBuiltins = 41
)

// builtinDefns are the definitions of the Builtins module.
var builtinDefns = []string{
	"Object", "Class", "Func", "Partial_Application", "String", "Module", "Number", "Int",
	"Float", "List", "Set", "Dict", "Exception",
}

// Builtin returns builtin number n, or nil.
func (vm *VM) Builtin(n int) Object {
	if n < 0 || n >= NumBuiltins {
		return nil
	}
	return vm.builtins[n]
}

// bootstrap builds the core classes, the Builtins and Exceptions modules
// and registers the Sys module. The order matters: classes need String for
// their name slots, functions need Func and the Builtins module, and
// nothing may raise until the Exceptions module is initialised.
func (vm *VM) bootstrap() error {
	vm.emptyShape = NewShape()

	// Phase 1: Classes, created bare and patched once String exists
	vm.ObjectClass = vm.bootstrapClass("Object")
	vm.ClassClass = vm.bootstrapClass("Class", vm.ObjectClass)
	vm.StringClass = vm.bootstrapClass("String", vm.ObjectClass)
	vm.ModuleClass = vm.bootstrapClass("Module", vm.ObjectClass)
	vm.FuncClass = vm.bootstrapClass("Func", vm.ObjectClass)
	vm.PartialApplicationClass = vm.bootstrapClass("Partial_Application", vm.ObjectClass)
	vm.NumberClass = vm.bootstrapClass("Number", vm.ObjectClass)
	vm.IntClass = vm.bootstrapClass("Int", vm.NumberClass)
	vm.FloatClass = vm.bootstrapClass("Float", vm.NumberClass)
	vm.ListClass = vm.bootstrapClass("List", vm.ObjectClass)
	vm.SetClass = vm.bootstrapClass("Set", vm.ObjectClass)
	vm.DictClass = vm.bootstrapClass("Dict", vm.ObjectClass)
	vm.ExceptionClass = vm.bootstrapClass("Exception", vm.ObjectClass)

	core := []*Class{
		vm.ObjectClass, vm.ClassClass, vm.FuncClass, vm.PartialApplicationClass,
		vm.StringClass, vm.ModuleClass, vm.NumberClass, vm.IntClass, vm.FloatClass,
		vm.ListClass, vm.SetClass, vm.DictClass, vm.ExceptionClass,
	}
	for _, c := range core {
		c.instanceOf = vm.ClassClass
		vm.SetSlot(c, "name", vm.NewString(c.Name))
	}

	// Phase 2: Null and Fail
	vm.Null = vm.NewInstance(vm.ObjectClass)
	vm.Fail = vm.NewInstance(vm.ObjectClass)

	// Phase 3: The Builtins module is populated here rather than imported
	tlVars := make(map[string]int, len(builtinDefns))
	for i, d := range builtinDefns {
		tlVars[d] = i
	}
	vm.builtinsMod = vm.newModule("Builtins", "Builtins", "", nil, tlVars)
	vm.builtinsMod.closure = NewClosure(nil, len(builtinDefns))
	vm.builtinsMod.initialized = true
	for i, c := range core {
		c.Container = vm.builtinsMod
		vm.SetSlot(c, "container", vm.builtinsMod)
		vm.setDefn(vm.builtinsMod, builtinDefns[i], c)
	}
	vm.AddModule(vm.builtinsMod)

	// Phase 4: Methods
	vm.registerObjectPrimitives()
	vm.registerClassPrimitives()
	vm.registerFuncPrimitives()
	vm.registerModulePrimitives()
	vm.registerIntPrimitives()
	vm.registerFloatPrimitives()
	vm.registerStringPrimitives()
	vm.registerListPrimitives()
	vm.registerSetPrimitives()
	vm.registerDictPrimitives()
	vm.registerExceptionPrimitives()

	// Phase 5: Native modules
	vm.exceptionsMod = vm.AddNativeModule("Exceptions", "Exceptions", exceptionNames, initExceptionsModule)
	vm.sysMod = vm.AddNativeModule("Sys", "Sys", sysDefns, initSysModule)

	vm.builtins = [NumBuiltins]Object{
		BuiltinNull:                    vm.Null,
		BuiltinFail:                    vm.Fail,
		BuiltinObjectClass:             vm.ObjectClass,
		BuiltinClassClass:              vm.ClassClass,
		BuiltinFuncClass:               vm.FuncClass,
		BuiltinStringClass:             vm.StringClass,
		BuiltinListClass:               vm.ListClass,
		BuiltinDictClass:               vm.DictClass,
		BuiltinModuleClass:             vm.ModuleClass,
		BuiltinIntClass:                vm.IntClass,
		BuiltinPartialApplicationClass: vm.PartialApplicationClass,
		BuiltinExceptionClass:          vm.ExceptionClass,
		BuiltinSetClass:                vm.SetClass,
		BuiltinNumberClass:             vm.NumberClass,
		BuiltinBuiltinsModule:          vm.builtinsMod,
		BuiltinExceptionsModule:        vm.exceptionsMod,
		BuiltinSysModule:               vm.sysMod,
		BuiltinFloatClass:              vm.FloatClass,
	}

	return vm.Import(vm.exceptionsMod)
}

// bootstrapClass creates a class before Class and String are usable. The
// caller fills in instance_of and the name slot afterwards.
func (vm *VM) bootstrapClass(name string, supers ...*Class) *Class {
	c := &Class{
		Boxed:   Boxed{instanceOf: vm.ClassClass, shape: vm.emptyShape},
		Name:    name,
		Supers:  supers,
		fields:  vm.emptyShape,
		version: nextVersion(),
	}
	c.registerWithAncestors()
	return c
}

// objectNewFunc returns Object's new function, which classes may freely
// combine with any other.
func (vm *VM) objectNewFunc() Object {
	if vm.ObjectClass == nil {
		return nil
	}
	return vm.ObjectClass.newFunc
}

// ---------------------------------------------------------------------------
// Method definition helpers
// ---------------------------------------------------------------------------

// defineMethod adds a bound native method to c.
func (vm *VM) defineMethod(c *Class, name string, proc Proc) {
	vm.SetField(c, name, vm.NewProc(vm.builtinsMod, name, true, proc, c))
}

// defineGenMethod adds a bound native generator method to c.
func (vm *VM) defineGenMethod(c *Class, name string, gen Gen) {
	vm.SetField(c, name, vm.NewGen(vm.builtinsMod, name, true, gen, c))
}

// builtinNewFunc creates an unbound new function living in Builtins.
func (vm *VM) builtinNewFunc(name string, proc Proc) *Func {
	return vm.NewProc(vm.builtinsMod, name, false, proc, vm.builtinsMod)
}

// defineModFunc adds a native function definition to mod.
func (vm *VM) defineModFunc(mod *Module, name string, proc Proc) {
	vm.setDefn(mod, name, vm.NewProc(mod, name, false, proc, mod))
}

// boolObject maps a native truth value to Null or Fail.
func (vm *VM) boolObject(b bool) Object {
	if b {
		return vm.Null
	}
	return vm.Fail
}

// ---------------------------------------------------------------------------
// Index translation
// ---------------------------------------------------------------------------

// translateIndex maps a possibly negative index onto [0, n), raising
// Bounds_Exception when it falls outside.
func (vm *VM) translateIndex(i int64, n int) (int, error) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, vm.RaiseHelper("Bounds_Exception", vm.NewInt(i), vm.NewInt(int64(n)))
	}
	return int(i), nil
}

// translateSliceIndex is translateIndex for slice bounds, which may equal n.
func (vm *VM) translateSliceIndex(i int64, n int) (int, error) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i > int64(n) {
		return 0, vm.RaiseHelper("Bounds_Exception", vm.NewInt(i), vm.NewInt(int64(n)))
	}
	return int(i), nil
}

// translateSlice decodes optional lower and upper bound objects. A missing
// lower bound is 0 and a missing upper bound is n.
func (vm *VM) translateSlice(lo, hi Object, n int) (int, int, error) {
	i, j := 0, n
	var err error
	if lo != nil {
		if i, err = vm.translateSliceIndex(lo.(*Int).V, n); err != nil {
			return 0, 0, err
		}
	}
	if hi != nil {
		if j, err = vm.translateSliceIndex(hi.(*Int).V, n); err != nil {
			return 0, 0, err
		}
	}
	if i > j {
		return 0, 0, vm.RaiseHelper("Indices_Exception", vm.NewInt(int64(i)), vm.NewInt(int64(j)))
	}
	return i, j, nil
}
