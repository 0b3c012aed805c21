package vm

// ---------------------------------------------------------------------------
// Functions, program counters and closures
// ---------------------------------------------------------------------------

// Proc is a native function that runs to completion. It reads its arguments
// from the current frame with DecodeArgs. A nil result is treated as Fail.
type Proc func(vm *VM) (Object, error)

// Gen is a native generator. It passes each value it produces to yield and
// must stop as soon as yield returns false.
type Gen func(vm *VM, yield func(Object) bool) error

// PC identifies the code a function runs.
type PC interface {
	Module() *Module
}

// BytecodePC locates a function body inside a module's instructions.
type BytecodePC struct {
	Mod *Module
	Off int // absolute offset into the module record
}

func (pc *BytecodePC) Module() *Module { return pc.Mod }

// NativePC is the entry point of a function implemented in Go. Exactly one
// of Proc and Gen is set.
type NativePC struct {
	Mod  *Module
	Proc Proc
	Gen  Gen
}

func (pc *NativePC) Module() *Module { return pc.Mod }

// Closure is a frame's variable storage. Inner functions capture the
// closure of the frame that defined them as their parent.
type Closure struct {
	parent *Closure
	vars   []Object
}

// NewClosure creates a closure with n unassigned variables.
func NewClosure(parent *Closure, n int) *Closure {
	return &Closure{parent: parent, vars: make([]Object, n)}
}

// Var returns variable i, or nil if it is unassigned.
func (c *Closure) Var(i int) Object {
	return c.vars[i]
}

// SetVar assigns variable i.
func (c *Closure) SetVar(i int, v Object) {
	c.vars[i] = v
}

// Len returns the number of variables.
func (c *Closure) Len() int {
	return len(c.vars)
}

func (c *Closure) up(n int) *Closure {
	for ; n > 0; n-- {
		c = c.parent
	}
	return c
}

// Func is a function object. Bound functions are methods: reading one
// through a slot yields a PartialApplication carrying the receiver.
type Func struct {
	Boxed
	Name             string
	IsBound          bool
	PC               PC
	MaxStack         int
	NumParams        int // -1 for native functions
	NumVars          int
	ContainerClosure *Closure
}

// NewFunc creates a function object.
func (vm *VM) NewFunc(name string, isBound bool, pc PC, maxStack, numParams, numVars int, container Object, closure *Closure) *Func {
	f := &Func{
		Boxed:            vm.boxedOf(vm.FuncClass),
		Name:             name,
		IsBound:          isBound,
		PC:               pc,
		MaxStack:         maxStack,
		NumParams:        numParams,
		NumVars:          numVars,
		ContainerClosure: closure,
	}
	if container == nil {
		container = vm.Null
	}
	vm.SetSlot(f, "container", container)
	vm.SetSlot(f, "name", vm.NewString(name))
	vm.SetSlot(f, "num_params", vm.NewInt(int64(numParams)))
	return f
}

// NewProc creates a native function. container is the class or module the
// function belongs to; mod is the module reported in backtraces.
func (vm *VM) NewProc(mod *Module, name string, isBound bool, proc Proc, container Object) *Func {
	return vm.NewFunc(name, isBound, &NativePC{Mod: mod, Proc: proc}, 0, -1, 0, container, nil)
}

// NewGen creates a native generator function.
func (vm *VM) NewGen(mod *Module, name string, isBound bool, gen Gen, container Object) *Func {
	return vm.NewFunc(name, isBound, &NativePC{Mod: mod, Gen: gen}, 0, -1, 0, container, nil)
}

// Container returns the class or module f was defined in, or Null.
func (vm *VM) Container(f *Func) Object {
	if c := vm.FindSlot(f, "container"); c != nil {
		return c
	}
	return vm.Null
}

// PartialApplication is a function with leading arguments already bound.
type PartialApplication struct {
	Boxed
	Func *Func
	Args []Object
}

// NewPartialApplication binds args to the front of f's parameter list.
func (vm *VM) NewPartialApplication(f *Func, args []Object) *PartialApplication {
	return &PartialApplication{
		Boxed: vm.boxedOf(vm.PartialApplicationClass),
		Func:  f,
		Args:  args,
	}
}
