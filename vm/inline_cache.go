package vm

// Inline Caching for Slot Lookup
//
// Most SLOT_LOOKUP and EXBI sites only ever see one receiver class, a few
// see a handful, and a small minority see many. Each site therefore gets a
// cache that starts empty, becomes monomorphic, then polymorphic, and gives
// up once it has seen more than MaxPICEntries classes.
//
// Entries are tagged with the class's field-map version. A class whose
// fields (or any ancestor's fields) change gets a new version, so stale
// entries simply stop matching.
//
// The cache is indexed by bytecode offset within a module, so each site has
// its own entry.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single (class, field) cached
	CachePolymorphic                   // 2-6 entries in PIC
	CacheMegamorphic                   // Too many classes, use full lookup
)

// MaxPICEntries is the maximum number of entries in a polymorphic inline cache.
const MaxPICEntries = 6

// InlineCacheEntry holds a single cached field lookup result.
type InlineCacheEntry struct {
	Class   *Class
	Version uint64
	Field   Object // nil records a lookup that found nothing
}

// InlineCache represents the cache state for a single lookup site.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int // Number of valid entries (1 for mono, 2-6 for poly)

	Hits   uint64
	Misses uint64
}

// Lookup checks the cache for a field of class. ok is false on a miss.
func (ic *InlineCache) Lookup(class *Class) (field Object, ok bool) {
	switch ic.State {
	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			e := &ic.Entries[i]
			if e.Class == class && e.Version == class.version {
				ic.Hits++
				return e.Field, true
			}
		}
	case CacheMegamorphic, CacheEmpty:
	}
	ic.Misses++
	return nil, false
}

// Update records a lookup result, refreshing the entry for class if the
// class's version has moved on.
func (ic *InlineCache) Update(class *Class, field Object) {
	entry := InlineCacheEntry{Class: class, Version: class.version, Field: field}

	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.Entries[0] = entry
		ic.Count = 1

	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Class == class {
				ic.Entries[i] = entry
				return
			}
		}
		if ic.Count < MaxPICEntries {
			ic.Entries[ic.Count] = entry
			ic.Count++
			ic.State = CachePolymorphic
		} else {
			ic.State = CacheMegamorphic
			clear(ic.Entries[:])
			ic.Count = 0
		}

	case CacheMegamorphic:
	}
}

// InlineCacheTable manages inline caches for all lookup sites in a module.
// It maps bytecode offset to cache entry.
type InlineCacheTable struct {
	caches map[int]*InlineCache
}

// NewInlineCacheTable creates a new inline cache table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{
		caches: make(map[int]*InlineCache),
	}
}

// GetOrCreate returns the cache for a given offset, creating one if needed.
func (t *InlineCacheTable) GetOrCreate(off int) *InlineCache {
	if ic := t.caches[off]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[off] = ic
	return ic
}

// Stats returns aggregate statistics for all caches in the table.
func (t *InlineCacheTable) Stats() (mono, poly, mega, empty int, totalHits, totalMisses uint64) {
	for _, ic := range t.caches {
		switch ic.State {
		case CacheMonomorphic:
			mono++
		case CachePolymorphic:
			poly++
		case CacheMegamorphic:
			mega++
		case CacheEmpty:
			empty++
		}
		totalHits += ic.Hits
		totalMisses += ic.Misses
	}
	return
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalSites      int     // Total number of lookup sites with caches
	Monomorphic     int     // Sites in monomorphic state
	Polymorphic     int     // Sites in polymorphic state
	Megamorphic     int     // Sites in megamorphic state
	Empty           int     // Sites never used
	TotalHits       uint64  // Total cache hits
	TotalMisses     uint64  // Total cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of used sites that are monomorphic
}

// CollectICStats gathers inline cache statistics from every loaded module.
func (vm *VM) CollectICStats() ICStats {
	var stats ICStats
	for _, mod := range vm.modOrder {
		if mod.caches == nil {
			continue
		}
		mono, poly, mega, empty, hits, misses := mod.caches.Stats()
		stats.Monomorphic += mono
		stats.Polymorphic += poly
		stats.Megamorphic += mega
		stats.Empty += empty
		stats.TotalHits += hits
		stats.TotalMisses += misses
		stats.TotalSites += mono + poly + mega + empty
	}

	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	if nonEmpty := stats.TotalSites - stats.Empty; nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}
	return stats
}

// lookupSlotCached is FindSlot with the class-field step served from ic.
func (vm *VM) lookupSlotCached(o Object, name string, ic *InlineCache) Object {
	b := o.boxed()
	var v Object
	if i := b.shape.Find(name); i != -1 {
		v = b.slots[i]
	}
	if v == nil {
		class := b.instanceOf
		field, ok := ic.Lookup(class)
		if !ok {
			field = class.FindField(name)
			ic.Update(class, field)
		}
		v = field
		if v == nil {
			if name != "instance_of" {
				return nil
			}
			v = class
		}
	}
	if f, ok := v.(*Func); ok && f.IsBound {
		return vm.NewPartialApplication(f, []Object{o})
	}
	return v
}
