package book

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/shard"
)

// Pages maps the sub-paths of one item to their indexed text, in order.
type Pages struct {
	m ordered[string]
}

// NewPages returns an empty page set.
func NewPages() *Pages {
	return &Pages{m: newOrdered[string]()}
}

// Get returns the text indexed for subpath.
func (p *Pages) Get(subpath string) (string, bool) { return p.m.get(subpath) }

// Has reports whether subpath is indexed.
func (p *Pages) Has(subpath string) bool {
	_, ok := p.m.get(subpath)
	return ok
}

// Set indexes text for subpath. An existing subpath keeps its position.
func (p *Pages) Set(subpath, text string) { p.m.set(subpath, text) }

// Delete removes subpath and reports whether it was present.
func (p *Pages) Delete(subpath string) bool { return p.m.delete(subpath) }

// Paths returns the indexed sub-paths in order.
func (p *Pages) Paths() []string { return slices.Clone(p.m.keys) }

// Len returns the number of indexed sub-paths.
func (p *Pages) Len() int { return p.m.len() }

// Clone returns a deep copy.
func (p *Pages) Clone() *Pages {
	c := NewPages()
	for _, k := range p.m.keys {
		c.m.set(k, p.m.vals[k])
	}
	return c
}

type pageValue struct {
	Content string `json:"content"`
}

func (p *Pages) marshal() (json.RawMessage, int, error) {
	t := shard.NewTable()
	size := 0
	for _, k := range p.m.keys {
		text := p.m.vals[k]
		raw, err := shard.Marshal(pageValue{Content: text})
		if err != nil {
			return nil, 0, err
		}
		t.Set(k, raw)
		size += utf8.RuneCountInString(text)
	}
	raw, err := shard.Marshal(t)
	return raw, size, err
}

func parsePages(raw json.RawMessage) (*Pages, error) {
	t, err := shard.ParseObject(raw)
	if err != nil {
		return nil, err
	}
	p := NewPages()
	var perr error
	t.Range(func(subpath string, v json.RawMessage) bool {
		var pv pageValue
		if err := json.Unmarshal(v, &pv); err != nil {
			perr = fmt.Errorf("sub-path %q: %w", subpath, err)
			return false
		}
		p.Set(subpath, pv.Content)
		return true
	})
	return p, perr
}

// Fulltext is the fulltext index: item id to indexed pages.
type Fulltext struct {
	m ordered[*Pages]
}

// NewFulltext returns an empty index.
func NewFulltext() *Fulltext {
	return &Fulltext{m: newOrdered[*Pages]()}
}

// IDs returns the indexed item ids in order.
func (f *Fulltext) IDs() []string { return slices.Clone(f.m.keys) }

// Len returns the number of indexed items.
func (f *Fulltext) Len() int { return f.m.len() }

// Pages returns the pages of item id.
func (f *Fulltext) Pages(id string) (*Pages, bool) { return f.m.get(id) }

// Has reports whether item id is indexed.
func (f *Fulltext) Has(id string) bool {
	_, ok := f.m.get(id)
	return ok
}

// Set replaces the pages of item id. An existing id keeps its position.
func (f *Fulltext) Set(id string, p *Pages) { f.m.set(id, p) }

// Delete removes item id and reports whether it was present.
func (f *Fulltext) Delete(id string) bool { return f.m.delete(id) }

// Clone returns a deep copy.
func (f *Fulltext) Clone() *Fulltext {
	c := NewFulltext()
	for _, id := range f.m.keys {
		c.m.set(id, f.m.vals[id].Clone())
	}
	return c
}

// Table encodes the index as a shard table along with the text weight of
// each item.
func (f *Fulltext) Table() (*shard.Table, map[string]int, error) {
	t := shard.NewTable()
	weights := make(map[string]int, f.m.len())
	for _, id := range f.m.keys {
		raw, size, err := f.m.vals[id].marshal()
		if err != nil {
			return nil, nil, fmt.Errorf("encode item %s: %w", id, err)
		}
		t.Set(id, raw)
		weights[id] = size
	}
	return t, weights, nil
}

// FulltextFromTable decodes a loaded shard table.
func FulltextFromTable(t *shard.Table) (*Fulltext, error) {
	f := NewFulltext()
	var ferr error
	t.Range(func(id string, raw json.RawMessage) bool {
		p, err := parsePages(raw)
		if err != nil {
			ferr = fmt.Errorf("item %s: %w", id, err)
			return false
		}
		f.Set(id, p)
		return true
	})
	return f, ferr
}

// Equal reports whether two indexes hold the same items and texts.
func (f *Fulltext) Equal(other *Fulltext) bool {
	a, _, errA := f.Table()
	b, _, errB := other.Table()
	if errA != nil || errB != nil {
		return false
	}
	return shard.Equal(a, b)
}

// Equal reports whether p and o index the same sub-paths, in the same
// order, with the same text.
func (p *Pages) Equal(o *Pages) bool {
	if p == nil || o == nil {
		return p == o
	}
	if !slices.Equal(p.m.keys, o.m.keys) {
		return false
	}
	for _, k := range p.m.keys {
		if p.m.vals[k] != o.m.vals[k] {
			return false
		}
	}
	return true
}
