package vm

import "fmt"

// Object is any value the VM can manipulate.
//
// Every object is boxed: it carries the class it is an instance of and a
// dynamically growing set of slots whose layout is described by a Shape.
// Objects with identical slot histories share the same Shape, so the slot
// index of a name can be cached per shape rather than per object.
//
// Concrete variants (Int, String, List, Class, Func, ...) embed Boxed and
// add their native payload.
type Object interface {
	boxed() *Boxed
}

// Boxed is the state common to every object.
type Boxed struct {
	instanceOf *Class
	shape      *Shape
	slots      []Object
}

func (b *Boxed) boxed() *Boxed { return b }

// InstanceOf returns the class of o.
func InstanceOf(o Object) *Class {
	return o.boxed().instanceOf
}

// Instance is a plain object created by Object.new or a user class whose
// new_func is inherited from Object.
type Instance struct {
	Boxed
}

func (vm *VM) boxedOf(class *Class) Boxed {
	return Boxed{instanceOf: class, shape: vm.emptyShape}
}

// NewInstance creates an instance of class with no slots.
func (vm *VM) NewInstance(class *Class) *Instance {
	return &Instance{Boxed: vm.boxedOf(class)}
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// HasSlot reports whether o itself (not its class) holds a slot called name.
func HasSlot(o Object, name string) bool {
	return o.boxed().shape.Find(name) != -1
}

// FindSlot looks name up in o's own slots, then in its class's fields, then
// in the virtual "instance_of" slot. A bound function found this way is
// returned as a partial application binding o. It returns nil when the name
// cannot be resolved.
func (vm *VM) FindSlot(o Object, name string) Object {
	b := o.boxed()
	var v Object
	if i := b.shape.Find(name); i != -1 {
		v = b.slots[i]
	}
	if v == nil {
		v = b.instanceOf.FindField(name)
		if v == nil {
			if name != "instance_of" {
				return nil
			}
			v = b.instanceOf
		}
	}
	if f, ok := v.(*Func); ok && f.IsBound {
		return vm.NewPartialApplication(f, []Object{o})
	}
	return v
}

// GetSlot is FindSlot, raising Slot_Exception when the name cannot be
// resolved.
func (vm *VM) GetSlot(o Object, name string) (Object, error) {
	if v := vm.FindSlot(o, name); v != nil {
		return v, nil
	}
	return nil, vm.RaiseHelper("Slot_Exception", vm.NewString(name), o)
}

// SetSlot assigns a slot on o, extending its shape if the name is new.
func (vm *VM) SetSlot(o Object, name string, v Object) {
	b := o.boxed()
	if i := b.shape.Find(name); i != -1 {
		b.slots[i] = v
		return
	}
	b.shape = b.shape.Extend(name)
	b.slots = append(b.slots, v)
}

// SlotNames returns the names of o's own slots in slot order.
func SlotNames(o Object) []string {
	return o.boxed().shape.Names()
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// CmpOp identifies a comparison operator.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNeq
	CmpLt
	CmpLtEq
	CmpGtEq
	CmpGt
)

var cmpSlots = [...]string{
	CmpEq:   "==",
	CmpNeq:  "!=",
	CmpLt:   "<",
	CmpLtEq: "<=",
	CmpGtEq: ">=",
	CmpGt:   ">",
}

func (op CmpOp) String() string {
	if int(op) < len(cmpSlots) {
		return cmpSlots[op]
	}
	return fmt.Sprintf("CmpOp(%d)", op)
}

// Adder is implemented by objects with a native "+".
type Adder interface {
	Add(vm *VM, o Object) (Object, error)
}

// Subtracter is implemented by objects with a native "-".
type Subtracter interface {
	Subtract(vm *VM, o Object) (Object, error)
}

// Comparer is implemented by objects with native comparison operators.
type Comparer interface {
	Compare(vm *VM, op CmpOp, o Object) (bool, error)
}

// Hasher is implemented by objects with a native "hash".
type Hasher interface {
	Hash() int64
}

// Add evaluates lhs + rhs, calling lhs's "+" slot when lhs has no native
// implementation.
func (vm *VM) Add(lhs, rhs Object) (Object, error) {
	if a, ok := lhs.(Adder); ok {
		return a.Add(vm, rhs)
	}
	return vm.GetSlotApply(lhs, "+", rhs)
}

// Subtract evaluates lhs - rhs.
func (vm *VM) Subtract(lhs, rhs Object) (Object, error) {
	if s, ok := lhs.(Subtracter); ok {
		return s.Subtract(vm, rhs)
	}
	return vm.GetSlotApply(lhs, "-", rhs)
}

// Compare evaluates a comparison. User objects are compared by calling the
// operator's slot; any non-failing result counts as true.
func (vm *VM) Compare(op CmpOp, lhs, rhs Object) (bool, error) {
	if c, ok := lhs.(Comparer); ok {
		return c.Compare(vm, op, rhs)
	}
	f, err := vm.GetSlot(lhs, op.String())
	if err != nil {
		return false, err
	}
	r, err := vm.ApplyAllowFail(f, rhs)
	return r != nil, err
}

// Equals is Compare(CmpEq, ...).
func (vm *VM) Equals(lhs, rhs Object) (bool, error) {
	return vm.Compare(CmpEq, lhs, rhs)
}

// HashOf returns the hash of o, calling its "hash" slot when it has no
// native implementation.
func (vm *VM) HashOf(o Object) (int64, error) {
	if h, ok := o.(Hasher); ok {
		return h.Hash(), nil
	}
	r, err := vm.GetSlotApply(o, "hash")
	if err != nil {
		return 0, err
	}
	i, err := vm.TypeCheckInt(r)
	if err != nil {
		return 0, err
	}
	return i.V, nil
}

// Is reports object identity. Ints compare by value.
func Is(a, b Object) bool {
	if ai, ok := a.(*Int); ok {
		bi, ok := b.(*Int)
		return ok && ai.V == bi.V
	}
	return a == b
}

// ToStr calls o's "to_str" slot and returns the resulting string.
func (vm *VM) ToStr(o Object) (string, error) {
	r, err := vm.GetSlotApply(o, "to_str")
	if err != nil {
		return "", err
	}
	s, err := vm.TypeCheckString(r)
	if err != nil {
		return "", err
	}
	return s.V, nil
}
