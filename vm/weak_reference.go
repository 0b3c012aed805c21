package vm

import "weak"

// ---------------------------------------------------------------------------
// WeakReference: A reference that doesn't prevent garbage collection
// ---------------------------------------------------------------------------

// WeakReference holds a weak reference to a class. When the class is
// collected the reference reports nil.
type WeakReference struct {
	ptr weak.Pointer[Class]
}

// NewWeakReference creates a new weak reference to the given class.
func NewWeakReference(target *Class) WeakReference {
	return WeakReference{ptr: weak.Make(target)}
}

// Get returns the target class, or nil if it has been collected.
func (wr WeakReference) Get() *Class {
	return wr.ptr.Value()
}

// ---------------------------------------------------------------------------
// WeakList: the dependents of a class
// ---------------------------------------------------------------------------

// WeakList is an append-only list of weak class references. It never keeps
// its members alive; dead entries are dropped whenever the list is walked.
type WeakList struct {
	refs []WeakReference
}

// Add appends a weak reference to c.
func (l *WeakList) Add(c *Class) {
	l.refs = append(l.refs, NewWeakReference(c))
}

// Each calls fn for every live member and prunes collected ones.
func (l *WeakList) Each(fn func(*Class)) {
	live := l.refs[:0]
	for _, wr := range l.refs {
		c := wr.Get()
		if c == nil {
			continue
		}
		live = append(live, wr)
		fn(c)
	}
	clear(l.refs[len(live):])
	l.refs = live
}
