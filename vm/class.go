package vm

import (
	"errors"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: fields, versions and dependents
// ---------------------------------------------------------------------------

// ErrMetaclassClash is returned when a class's superclasses supply
// different, unrelated new functions.
var ErrMetaclassClash = errors.New("vm: superclasses have clashing metaclasses")

// classVersions hands out field-map versions. Versions are never reused, so
// a cached (class, version) pair can never match after the class changes.
var classVersions atomic.Uint64

func nextVersion() uint64 {
	return classVersions.Add(1)
}

// Class is a Converge class.
//
// Fields are stored like slots: a Shape gives each field name an index into
// fieldVals. Field lookup searches the class's own fields and then each
// superclass in declaration order, depth first, returning the first match.
// This is not a C3 linearization; a shared ancestor may be visited more than
// once but the result is deterministic.
//
// Every class records weak references to all of its direct and indirect
// subclasses. Setting a field gives the class and every live dependent a
// fresh version, which invalidates lookups cached against the old one.
type Class struct {
	Boxed
	Name      string
	Supers    []*Class
	Container Object

	fields    *Shape
	fieldVals []Object
	newFunc   Object

	version    uint64
	dependents WeakList
	lookups    map[string]fieldLookup
}

type fieldLookup struct {
	version uint64
	value   Object
}

// NewClass creates a class. If newFunc is nil it is inherited from the
// superclasses: a superclass whose new function is Object's default never
// overrides a more specific one, but two different specific new functions
// are an unrecoverable ErrMetaclassClash. instanceOf defaults to Class.
func (vm *VM) NewClass(name string, supers []*Class, container Object, instanceOf *Class, newFunc Object) (*Class, error) {
	if instanceOf == nil {
		instanceOf = vm.ClassClass
	}
	if newFunc == nil {
		for _, sc := range supers {
			switch {
			case newFunc == nil:
				newFunc = sc.newFunc
			case newFunc == sc.newFunc:
			case newFunc == vm.objectNewFunc():
				newFunc = sc.newFunc
			case sc.newFunc == vm.objectNewFunc():
			default:
				vm.log.Errorf("class %s: superclasses %v have clashing metaclasses", name, classNames(supers))
				return nil, ErrMetaclassClash
			}
		}
	}

	c := &Class{
		Boxed:     vm.boxedOf(instanceOf),
		Name:      name,
		Supers:    supers,
		Container: container,
		fields:    vm.emptyShape,
		newFunc:   newFunc,
		version:   nextVersion(),
	}
	c.registerWithAncestors()

	vm.SetSlot(c, "name", vm.NewString(name))
	if container != nil {
		vm.SetSlot(c, "container", container)
	}
	return c, nil
}

func (c *Class) registerWithAncestors() {
	seen := map[*Class]bool{}
	stack := append([]*Class(nil), c.Supers...)
	for len(stack) > 0 {
		sc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[sc] {
			continue
		}
		seen[sc] = true
		sc.dependents.Add(c)
		stack = append(stack, sc.Supers...)
	}
}

func classNames(cs []*Class) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// Version returns the class's current field-map version.
func (c *Class) Version() uint64 {
	return c.version
}

// NewFunc returns the function used to create instances of c.
func (c *Class) NewFunc() Object {
	return c.newFunc
}

// FindField returns the value of field name, searching superclasses, or nil
// if no class in the hierarchy defines it. Results are memoized per version.
func (c *Class) FindField(name string) Object {
	if l, ok := c.lookups[name]; ok && l.version == c.version {
		return l.value
	}
	v := c.findFieldUncached(name)
	if c.lookups == nil {
		c.lookups = map[string]fieldLookup{}
	}
	c.lookups[name] = fieldLookup{version: c.version, value: v}
	return v
}

func (c *Class) findFieldUncached(name string) Object {
	if i := c.fields.Find(name); i != -1 {
		return c.fieldVals[i]
	}
	for _, sc := range c.Supers {
		if v := sc.FindField(name); v != nil {
			return v
		}
	}
	return nil
}

// GetField is FindField, raising Field_Exception when no class in the
// hierarchy defines name.
func (vm *VM) GetField(c *Class, name string) (Object, error) {
	if v := c.FindField(name); v != nil {
		return v, nil
	}
	return nil, vm.RaiseHelper("Field_Exception", vm.NewString(name), c)
}

// SetField sets one of c's own fields and invalidates cached lookups on c
// and all of its subclasses.
func (vm *VM) SetField(c *Class, name string, v Object) {
	if i := c.fields.Find(name); i != -1 {
		c.fieldVals[i] = v
	} else {
		c.fields = c.fields.Extend(name)
		c.fieldVals = append(c.fieldVals, v)
	}
	c.version = nextVersion()
	c.dependents.Each(func(d *Class) {
		d.version = nextVersion()
	})
}

// FieldNames returns the names of c's own fields.
func (c *Class) FieldNames() []string {
	return c.fields.Names()
}

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	if c == other {
		return true
	}
	for _, sc := range c.Supers {
		if sc.IsSubclassOf(other) {
			return true
		}
	}
	return false
}

// Dependents returns the live classes that inherit from c.
func (c *Class) Dependents() []*Class {
	var ds []*Class
	c.dependents.Each(func(d *Class) {
		ds = append(ds, d)
	})
	return ds
}
