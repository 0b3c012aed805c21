package vm

// hashTable is an insertion-ordered hash table keyed by objects, using
// their "hash" and "==" methods.
type hashTable struct {
	buckets map[int64][]int
	entries []hashEntry
}

type hashEntry struct {
	key  Object
	val  Object
	hash int64
}

func newHashTable() hashTable {
	return hashTable{buckets: make(map[int64][]int)}
}

// lookup returns the entry index of k, or -1.
func (t *hashTable) lookup(vm *VM, k Object) (idx int, h int64, err error) {
	h, err = vm.HashOf(k)
	if err != nil {
		return -1, 0, err
	}
	for _, i := range t.buckets[h] {
		eq, err := vm.Equals(k, t.entries[i].key)
		if err != nil {
			return -1, 0, err
		}
		if eq {
			return i, h, nil
		}
	}
	return -1, h, nil
}

// get returns the value stored under k, or nil.
func (t *hashTable) get(vm *VM, k Object) (Object, error) {
	i, _, err := t.lookup(vm, k)
	if err != nil || i < 0 {
		return nil, err
	}
	return t.entries[i].val, nil
}

// put stores v under k, keeping k's original position if already present.
func (t *hashTable) put(vm *VM, k, v Object) error {
	i, h, err := t.lookup(vm, k)
	if err != nil {
		return err
	}
	if i >= 0 {
		t.entries[i].val = v
		return nil
	}
	t.buckets[h] = append(t.buckets[h], len(t.entries))
	t.entries = append(t.entries, hashEntry{key: k, val: v, hash: h})
	return nil
}

func (t *hashTable) len() int {
	return len(t.entries)
}

// clone returns a shallow copy of t.
func (t *hashTable) clone() hashTable {
	c := hashTable{
		buckets: make(map[int64][]int, len(t.buckets)),
		entries: append([]hashEntry(nil), t.entries...),
	}
	for h, is := range t.buckets {
		c.buckets[h] = append([]int(nil), is...)
	}
	return c
}
