package status

// orderedMap is a map that iterates in first-insertion order.
//
// Put is last-writer-wins for the value but keeps the key's original
// position; only Delete followed by Put moves a key to the end. The
// registry's precedence rules are expressed as the order of Put calls.
type orderedMap[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

func newOrderedMap[K comparable, V any]() *orderedMap[K, V] {
	return &orderedMap[K, V]{values: make(map[K]V)}
}

// Put stores v under k, overwriting any previous value in place.
func (m *orderedMap[K, V]) Put(k K, v V) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

func (m *orderedMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.values[k]
	return v, ok
}

func (m *orderedMap[K, V]) Delete(k K) {
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *orderedMap[K, V]) Len() int { return len(m.keys) }

// Keys returns the keys in iteration order.
func (m *orderedMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in iteration order.
func (m *orderedMap[K, V]) Values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.values[k])
	}
	return out
}
