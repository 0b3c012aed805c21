package vm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ltratt/converge/bytecode"
)

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// ModuleInit initialises a native module, typically by assigning each of
// its definitions with SetDefn.
type ModuleInit func(vm *VM, mod *Module) error

// Module is either a compiled bytecode module or a native module written in
// Go. A module is created uninitialised; importing it runs its init
// function once, which assigns its top-level definitions.
type Module struct {
	Boxed
	Name    string
	ID      string
	SrcPath string
	Imports []string

	bc       *bytecode.Module // nil for native modules
	tlVars   map[string]int
	defNames []string // by variable number

	initFunc    *Func
	closure     *Closure
	constants   []Object
	initialized bool
	caches      *InlineCacheTable
}

// IsBytecode reports whether m was loaded from compiled bytecode.
func (m *Module) IsBytecode() bool {
	return m.bc != nil
}

// Bytecode returns the decoded module record, or nil for native modules.
func (m *Module) Bytecode() *bytecode.Module {
	return m.bc
}

// Initialized reports whether m has been imported.
func (m *Module) Initialized() bool {
	return m.initialized
}

// DefnNames returns the module's top-level names in variable order.
func (m *Module) DefnNames() []string {
	return append([]string(nil), m.defNames...)
}

func (vm *VM) newModule(name, id, srcPath string, imports []string, tlVars map[string]int) *Module {
	m := &Module{
		Boxed:   vm.boxedOf(vm.ModuleClass),
		Name:    name,
		ID:      id,
		SrcPath: srcPath,
		Imports: imports,
		tlVars:  tlVars,
	}
	m.defNames = make([]string, len(tlVars))
	for n, i := range tlVars {
		m.defNames[i] = n
	}
	vm.SetSlot(m, "name", vm.NewString(name))
	vm.SetSlot(m, "src_path", vm.NewString(srcPath))
	vm.SetSlot(m, "mod_id", vm.NewString(id))
	vm.SetSlot(m, "container", vm.Null)
	return m
}

// NewBytecodeModule decodes a module record. A record with an empty id is
// given a fresh random one.
func (vm *VM) NewBytecodeModule(bc []byte) (*Module, error) {
	rec, err := bytecode.ParseModule(bc)
	if err != nil {
		return nil, err
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := vm.newModule(rec.Name, id, rec.SrcPath, rec.Imports, rec.TopLevelVars)
	m.bc = rec
	m.constants = make([]Object, len(rec.Constants))
	m.caches = NewInlineCacheTable()
	m.initFunc = vm.NewFunc("$$init$$", false,
		&BytecodePC{Mod: m, Off: rec.InstructionsOff},
		vm.initStackSize, 0, rec.NumTopLevelVars(), m, nil)
	return m, nil
}

// NewNativeModule creates a native module with the given definitions.
func (vm *VM) NewNativeModule(name, id string, defs []string, init ModuleInit) *Module {
	tlVars := make(map[string]int, len(defs))
	for i, d := range defs {
		tlVars[d] = i
	}
	m := vm.newModule(name, id, "", nil, tlVars)
	m.closure = NewClosure(nil, len(defs))
	m.initFunc = vm.NewProc(m, "$$init$$", false, func(vm *VM) (Object, error) {
		args, _, err := vm.DecodeArgs("M", "", false)
		if err != nil {
			return nil, err
		}
		if err := init(vm, args[0].(*Module)); err != nil {
			return nil, err
		}
		return vm.Null, nil
	}, m)
	return m
}

// Import runs m's init function if it has not already been run.
func (vm *VM) Import(m *Module) error {
	if m.initialized {
		return nil
	}
	vm.log.Infof("initialising module %s", m.ID)
	if m.bc != nil {
		_, closure, err := vm.applyClosure(m.initFunc, []Object{m, vm.Null}, false)
		if err != nil {
			return err
		}
		m.closure = closure
	} else if _, err := vm.Apply(m.initFunc, m); err != nil {
		return err
	}
	m.initialized = true
	return nil
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

func (m *Module) findDefn(name string) Object {
	i, ok := m.tlVars[name]
	if !ok || m.closure == nil {
		return nil
	}
	return m.closure.vars[i]
}

// HasDefn reports whether name is declared in m.
func (m *Module) HasDefn(name string) bool {
	_, ok := m.tlVars[name]
	return ok
}

// GetDefn returns the value of a top-level definition, raising
// Mod_Defn_Exception if it is undeclared or unassigned.
func (vm *VM) GetDefn(m *Module, name string) (Object, error) {
	i, ok := m.tlVars[name]
	if !ok {
		return nil, vm.RaiseHelper("Mod_Defn_Exception", vm.NewString(fmt.Sprintf("No such definition '%s' in '%s'.", name, m.Name)))
	}
	if m.closure == nil || m.closure.vars[i] == nil {
		return nil, vm.RaiseHelper("Mod_Defn_Exception", vm.NewString(fmt.Sprintf("Definition '%s' unassigned in '%s'.", name, m.Name)))
	}
	return m.closure.vars[i], nil
}

// SetDefn assigns a top-level definition, raising Mod_Defn_Exception if it
// is undeclared.
func (vm *VM) SetDefn(m *Module, name string, v Object) error {
	i, ok := m.tlVars[name]
	if !ok {
		return vm.RaiseHelper("Mod_Defn_Exception", vm.NewString(fmt.Sprintf("No such definition '%s' in '%s'.", name, m.Name)))
	}
	if m.closure == nil {
		m.closure = NewClosure(nil, len(m.tlVars))
	}
	m.closure.vars[i] = v
	return nil
}

// setDefn is SetDefn for names a native module declared itself.
func (vm *VM) setDefn(m *Module, name string, v Object) {
	if err := vm.SetDefn(m, name, v); err != nil {
		panic(fmt.Sprintf("vm: module %s does not declare %s", m.ID, name))
	}
}

// GetConst returns constant i, materialising and caching it on first use.
func (vm *VM) GetConst(m *Module, i int) (Object, error) {
	if i < 0 || i >= len(m.constants) {
		return nil, vm.RaiseHelper("VM_Exception", vm.NewString(fmt.Sprintf("Constant %d out of range in '%s'.", i, m.Name)))
	}
	if c := m.constants[i]; c != nil {
		return c, nil
	}
	var c Object
	switch v := m.bc.Constants[i].(type) {
	case string:
		c = vm.NewString(v)
	case int64:
		c = vm.NewInt(v)
	case float64:
		c = vm.NewFloat(v)
	default:
		return nil, fmt.Errorf("vm: constant %d in %s has type %T", i, m.ID, v)
	}
	m.constants[i] = c
	return c, nil
}

// SrcInfos returns the source positions of the instruction at bcOff.
func (m *Module) SrcInfos(bcOff int) ([]bytecode.SrcInfo, error) {
	if m.bc == nil {
		return nil, nil
	}
	return m.bc.SrcInfos(bcOff)
}

// ---------------------------------------------------------------------------
// Module table
// ---------------------------------------------------------------------------

// AddModule registers m. Module ids are unique; adding a module with an id
// already present replaces the old entry.
func (vm *VM) AddModule(m *Module) {
	if _, ok := vm.mods[m.ID]; !ok {
		vm.modOrder = append(vm.modOrder, m)
	} else {
		for i, old := range vm.modOrder {
			if old.ID == m.ID {
				vm.modOrder[i] = m
			}
		}
	}
	vm.mods[m.ID] = m
	vm.log.Debugf("registered module %s", m.ID)
}

// AddNativeModule creates and registers a native module.
func (vm *VM) AddNativeModule(name, id string, defs []string, init ModuleInit) *Module {
	m := vm.NewNativeModule(name, id, defs, init)
	vm.AddModule(m)
	return m
}

// FindMod returns the module with the given id, or nil.
func (vm *VM) FindMod(id string) *Module {
	return vm.mods[id]
}

// GetMod returns the module with the given id, raising Import_Exception if
// there is none.
func (vm *VM) GetMod(id string) (*Module, error) {
	if m := vm.mods[id]; m != nil {
		return m, nil
	}
	return nil, vm.RaiseHelper("Import_Exception", vm.NewString(id))
}

// ImportMod imports the module with the given id and returns it.
func (vm *VM) ImportMod(id string) (*Module, error) {
	m, err := vm.GetMod(id)
	if err != nil {
		return nil, err
	}
	if err := vm.Import(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ImportStdlibMod imports a library module. An id starting with "/" matches
// any registered id ending with it.
func (vm *VM) ImportStdlibMod(id string) (*Module, error) {
	if !strings.HasPrefix(id, "/") {
		return vm.ImportMod(id)
	}
	for _, m := range vm.modOrder {
		if strings.HasSuffix(m.ID, id) {
			return m, vm.Import(m)
		}
	}
	return nil, vm.RaiseHelper("Import_Exception", vm.NewString(id))
}

// Modules returns every registered module in registration order.
func (vm *VM) Modules() []*Module {
	return append([]*Module(nil), vm.modOrder...)
}
