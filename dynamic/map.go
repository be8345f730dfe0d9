package dynamic

import (
	"sort"
)

// mapKey is the comparable form of a scalar Value used to index a Map.
type mapKey struct {
	typ ValueType
	num uint64
	str string
}

func keyOf(v Value) mapKey {
	return mapKey{typ: v.typ, num: v.num, str: v.str}
}

func (k mapKey) value() Value {
	return Value{typ: k.typ, num: k.num, str: k.str}
}

// Map holds the entries of a map field. Keys are bool, integer, or string
// values and are unique; inserting an existing key replaces its value.
type Map struct {
	entries map[mapKey]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: map[mapKey]Value{}}
}

// Len returns the number of entries in the map.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Get returns the value stored for the given key, if any.
func (m *Map) Get(key Value) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.entries[keyOf(key)]
	return v, ok
}

// Set stores a value for the given key, replacing any existing entry. It
// does not check the key and value against a field descriptor; use
// Message.TryPutMapField for that.
func (m *Map) Set(key, val Value) {
	if m.entries == nil {
		m.entries = map[mapKey]Value{}
	}
	m.entries[keyOf(key)] = val
}

// Delete removes the entry for the given key.
func (m *Map) Delete(key Value) {
	delete(m.entries, keyOf(key))
}

// Range calls fn for each entry in key order until fn returns false. Keys
// of the same variant are ordered numerically, lexically for strings, and
// false before true for bools.
func (m *Map) Range(fn func(key, val Value) bool) {
	if m == nil {
		return
	}
	keys := make([]mapKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Sort(sortableKeys(keys))
	for _, k := range keys {
		if !fn(k.value(), m.entries[k]) {
			return
		}
	}
}

// Equal reports whether both maps have the same keys mapped to equal values.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for k, v := range m.entries {
		ov, ok := other.entries[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// sortableKeys is used to sort map keys. All keys of a given map have the
// same variant.
type sortableKeys []mapKey

func (s sortableKeys) Len() int {
	return len(s)
}

func (s sortableKeys) Less(i, j int) bool {
	vi, vj := s[i], s[j]
	switch vi.typ {
	case Int32Type, Int64Type:
		return int64(vi.num) < int64(vj.num)
	case StringType:
		return vi.str < vj.str
	default:
		// bools and unsigned ints
		return vi.num < vj.num
	}
}

func (s sortableKeys) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
