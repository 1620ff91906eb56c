package shard

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Value is a table value as read from a shard. A Tombstone marks a key that
// a later shard explicitly deleted with null.
type Value struct {
	Raw       json.RawMessage
	Tombstone bool
}

// Table is an insertion-ordered map of keys to raw JSON values.
// Setting an existing key keeps its position.
type Table struct {
	keys []string
	pos  map[string]int
	vals map[string]Value
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		pos:  make(map[string]int),
		vals: make(map[string]Value),
	}
}

// Len returns the number of keys, tombstones included.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns a copy of the keys in order.
func (t *Table) Keys() []string {
	return slices.Clone(t.keys)
}

// Has reports whether key holds a live value.
func (t *Table) Has(key string) bool {
	v, ok := t.vals[key]
	return ok && !v.Tombstone
}

// Get returns the raw value for key.
func (t *Table) Get(key string) (json.RawMessage, bool) {
	v, ok := t.vals[key]
	if !ok || v.Tombstone {
		return nil, false
	}
	return v.Raw, true
}

// Set stores raw under key.
func (t *Table) Set(key string, raw json.RawMessage) {
	t.put(key, Value{Raw: raw})
}

func (t *Table) put(key string, v Value) {
	if _, ok := t.pos[key]; !ok {
		t.pos[key] = len(t.keys)
		t.keys = append(t.keys, key)
	}
	t.vals[key] = v
}

// Delete removes key and closes the gap in the ordering.
func (t *Table) Delete(key string) {
	i, ok := t.pos[key]
	if !ok {
		return
	}
	t.keys = slices.Delete(t.keys, i, i+1)
	delete(t.pos, key)
	delete(t.vals, key)
	for j := i; j < len(t.keys); j++ {
		t.pos[t.keys[j]] = j
	}
}

// Range calls fn for each live entry in order until fn returns false.
func (t *Table) Range(fn func(key string, raw json.RawMessage) bool) {
	for _, k := range t.keys {
		v := t.vals[k]
		if v.Tombstone {
			continue
		}
		if !fn(k, v.Raw) {
			return
		}
	}
}

// merge applies other over t like a dict update: existing keys keep their
// position, new keys are appended.
func (t *Table) merge(other *Table) {
	for _, k := range other.keys {
		t.put(k, other.vals[k])
	}
}

// compact drops tombstones.
func (t *Table) compact() {
	keys := t.keys[:0]
	for _, k := range t.keys {
		if t.vals[k].Tombstone {
			delete(t.vals, k)
			delete(t.pos, k)
			continue
		}
		t.pos[k] = len(keys)
		keys = append(keys, k)
	}
	t.keys = keys
}

// MarshalJSON encodes the live entries as a compact object in key order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	n := 0
	t.Range(func(key string, raw json.RawMessage) bool {
		if n > 0 {
			buf.WriteByte(',')
		}
		n++
		writeString(&buf, key)
		buf.WriteByte(':')
		buf.Write(raw)
		return true
	})
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Equal reports whether a and b hold the same keys with byte-identical
// values. Key order is not compared.
func Equal(a, b *Table) bool {
	if a == nil || b == nil {
		return a == b
	}
	la, lb := 0, 0
	a.Range(func(string, json.RawMessage) bool { la++; return true })
	b.Range(func(string, json.RawMessage) bool { lb++; return true })
	if la != lb {
		return false
	}
	equal := true
	a.Range(func(k string, raw json.RawMessage) bool {
		other, ok := b.Get(k)
		if !ok || !bytes.Equal(raw, other) {
			equal = false
		}
		return equal
	})
	return equal
}
