package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/ltratt/converge/bytecode"
)

// ---------------------------------------------------------------------------
// VM: The Converge Virtual Machine
// ---------------------------------------------------------------------------

// DefaultInitStackSize is the operand stack size given to module init
// functions.
const DefaultInitStackSize = 512

// VM is a Converge virtual machine. VMs share nothing: each has its own
// builtin classes, module table and frame stack. A VM is not safe for
// concurrent use.
type VM struct {
	// Well-known classes
	ObjectClass             *Class
	ClassClass              *Class
	FuncClass               *Class
	PartialApplicationClass *Class
	StringClass             *Class
	ModuleClass             *Class
	NumberClass             *Class
	IntClass                *Class
	FloatClass              *Class
	ListClass               *Class
	SetClass                *Class
	DictClass               *Class
	ExceptionClass          *Class

	// Null and Fail
	Null Object
	Fail Object

	builtins      [NumBuiltins]Object
	builtinsMod   *Module
	exceptionsMod *Module
	sysMod        *Module
	emptyShape    *Shape

	// Module table, in registration order
	mods     map[string]*Module
	modOrder []*Module

	// Current continuation frame
	cur *frame

	log           commonlog.Logger
	trace         bool
	stdout        io.Writer
	stderr        io.Writer
	argv          []string
	vmPath        string
	programPath   string
	initStackSize int
}

// Option configures a VM.
type Option func(*VM)

// WithStdout sets where Sys::print writes.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// WithStderr sets the VM's error stream.
func WithStderr(w io.Writer) Option {
	return func(vm *VM) { vm.stderr = w }
}

// WithArgv sets Sys::argv.
func WithArgv(argv []string) Option {
	return func(vm *VM) { vm.argv = append([]string(nil), argv...) }
}

// WithVMPath sets Sys::vm_path.
func WithVMPath(p string) Option {
	return func(vm *VM) { vm.vmPath = p }
}

// WithProgramPath sets Sys::program_path.
func WithProgramPath(p string) Option {
	return func(vm *VM) { vm.programPath = p }
}

// WithInitStackSize sets the stack size of module init functions.
func WithInitStackSize(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.initStackSize = n
		}
	}
}

// WithLogger replaces the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// WithTrace logs every raised exception at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// New creates and bootstraps a VM.
func New(opts ...Option) (*VM, error) {
	vm := &VM{
		mods:          make(map[string]*Module),
		log:           commonlog.GetLogger("converge.vm"),
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		argv:          []string{},
		initStackSize: DefaultInitStackSize,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if err := vm.bootstrap(); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	return vm, nil
}

// Stdout returns the writer Sys::print writes to.
func (vm *VM) Stdout() io.Writer {
	return vm.stdout
}

// Stderr returns the VM's error stream.
func (vm *VM) Stderr() io.Writer {
	return vm.stderr
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// AddExecutable registers every module in a CONVEXEC buffer and returns
// the id of the main module.
func (vm *VM) AddExecutable(buf []byte) (string, error) {
	recs, err := bytecode.ParseExecutable(buf)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", fmt.Errorf("vm: executable contains no modules")
	}
	ids, err := vm.addModules(recs)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddLibrary registers every module in a CONVLIBR buffer.
func (vm *VM) AddLibrary(buf []byte) ([]string, error) {
	recs, err := bytecode.ParseLibrary(buf)
	if err != nil {
		return nil, err
	}
	return vm.addModules(recs)
}

func (vm *VM) addModules(recs [][]byte) ([]string, error) {
	ids := make([]string, 0, len(recs))
	for i, rec := range recs {
		m, err := vm.NewBytecodeModule(rec)
		if err != nil {
			return nil, fmt.Errorf("vm: module %d: %w", i, err)
		}
		vm.AddModule(m)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// RunMain imports the module modID and applies its main function. A
// System_Exit_Exception yields its code. Any other uncaught exception is
// returned as a *RaiseError alongside exit code 1.
func (vm *VM) RunMain(modID string) (int, error) {
	err := vm.runMain(modID)
	if err == nil {
		return 0, nil
	}
	ex, ok := AsRaise(err)
	if !ok || !vm.IsInstance(err, "System_Exit_Exception") {
		return 1, err
	}
	switch code := vm.FindSlot(ex, "code").(type) {
	case *Int:
		return int(code.V), nil
	case nil:
		return 0, nil
	default:
		if code == vm.Null {
			return 0, nil
		}
		if s, err := vm.ToStr(code); err == nil {
			fmt.Fprintln(vm.stderr, s)
		}
		return 1, nil
	}
}

func (vm *VM) runMain(modID string) error {
	m, err := vm.ImportMod(modID)
	if err != nil {
		return err
	}
	main, err := vm.GetDefn(m, "main")
	if err != nil {
		return err
	}
	_, err = vm.Apply(main)
	return err
}
