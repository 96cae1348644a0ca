// core/table.go
package core

// table is a fixed-size open-addressed hash table with linear probing.
// Removed entries leave a tombstone so probe chains stay intact; lookups stop
// at the first empty slot. Tables never resize.
type table[T any] struct {
	slots []*T
	tomb  *T
	key   func(*T) uint32
	live  int
}

func newTable[T any](size int, key func(*T) uint32) *table[T] {
	if size < 1 {
		size = 1
	}
	return &table[T]{
		slots: make([]*T, size),
		tomb:  new(T),
		key:   key,
	}
}

func hashKey(k uint32, size int) int {
	return int((k*137 + 92731) % uint32(size))
}

// insert stores v in the first empty or tombstone slot of its probe chain.
// It returns false when the table is full.
func (t *table[T]) insert(v *T) bool {
	size := len(t.slots)
	k := hashKey(t.key(v), size)
	for n := 0; n < size; n++ {
		if s := t.slots[k]; s == nil || s == t.tomb {
			t.slots[k] = v
			t.live++
			return true
		}
		k++
		if k >= size {
			k = 0
		}
	}
	return false
}

func (t *table[T]) slot(key uint32) int {
	size := len(t.slots)
	k := hashKey(key, size)
	for n := 0; n < size; n++ {
		s := t.slots[k]
		if s == nil {
			return -1
		}
		if s != t.tomb && t.key(s) == key {
			return k
		}
		k++
		if k >= size {
			k = 0
		}
	}
	return -1
}

// find returns the entry for key, or nil.
func (t *table[T]) find(key uint32) *T {
	if i := t.slot(key); i >= 0 {
		return t.slots[i]
	}
	return nil
}

// remove tombstones the entry for key and reports whether it was present.
func (t *table[T]) remove(key uint32) bool {
	i := t.slot(key)
	if i < 0 {
		return false
	}
	t.slots[i] = t.tomb
	t.live--
	return true
}

func (t *table[T]) len() int { return t.live }
