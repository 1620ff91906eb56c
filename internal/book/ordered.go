package book

import "slices"

// ordered is a string-keyed map that remembers insertion order.
type ordered[V any] struct {
	keys []string
	vals map[string]V
}

func newOrdered[V any]() ordered[V] {
	return ordered[V]{vals: make(map[string]V)}
}

func (o *ordered[V]) get(key string) (V, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func (o *ordered[V]) set(key string, v V) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *ordered[V]) delete(key string) bool {
	if _, ok := o.vals[key]; !ok {
		return false
	}
	delete(o.vals, key)
	if i := slices.Index(o.keys, key); i >= 0 {
		o.keys = slices.Delete(o.keys, i, i+1)
	}
	return true
}

func (o *ordered[V]) len() int {
	return len(o.keys)
}
