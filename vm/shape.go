package vm

// ---------------------------------------------------------------------------
// Shapes: shared slot layouts
// ---------------------------------------------------------------------------

// Shape maps slot names to slot indices. Shapes form a tree rooted at the
// VM's empty shape: extending a shape with a name always yields the same
// child, so two objects that gained the same slots in the same order share
// one Shape.
//
// Shapes are immutable once created apart from their child table, and are
// only touched from the goroutine running the VM.
type Shape struct {
	index    map[string]int
	names    []string
	children map[string]*Shape
}

// NewShape creates an empty root shape.
func NewShape() *Shape {
	return &Shape{index: map[string]int{}}
}

// Find returns the slot index of name, or -1 if the shape has no such slot.
func (s *Shape) Find(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Extend returns the shape with name appended. Repeated calls with the same
// name return the same shape.
func (s *Shape) Extend(name string) *Shape {
	if c, ok := s.children[name]; ok {
		return c
	}
	c := &Shape{
		index: make(map[string]int, len(s.index)+1),
		names: make([]string, len(s.names), len(s.names)+1),
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	copy(c.names, s.names)
	c.index[name] = len(c.names)
	c.names = append(c.names, name)

	if s.children == nil {
		s.children = map[string]*Shape{}
	}
	s.children[name] = c
	return c
}

// Len returns the number of slots described by s.
func (s *Shape) Len() int {
	return len(s.names)
}

// Names returns the slot names in slot order.
func (s *Shape) Names() []string {
	return append([]string(nil), s.names...)
}
