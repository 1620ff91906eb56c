package fulltext

import "github.com/danny0838/PyWebScrapBook-sub001/internal/archive"

type poolEntry struct {
	path    string
	inlined bool
}

// pool is the discovery work set of one item. Entries are processed in
// insertion order and may be appended while the pool is drained.
//
// An entry is scheduled when this run queued it as a page of its own: the
// item's index page, a link target, an exclusive frame or a delayed
// refresh. Entries carried over from the previous index are seeded but not
// scheduled, so a frame may still claim them for inlining.
type pool struct {
	src       archive.Source
	queue     []*poolEntry
	byPath    map[string]*poolEntry
	scheduled map[string]bool
	cursor    int
}

func newPool(src archive.Source) *pool {
	return &pool{
		src:       src,
		byPath:    make(map[string]*poolEntry),
		scheduled: make(map[string]bool),
	}
}

func (p *pool) add(path string) *poolEntry {
	e := &poolEntry{path: path}
	p.queue = append(p.queue, e)
	p.byPath[path] = e
	return e
}

// seed adds a sub-path from the previous index.
func (p *pool) seed(path string) {
	if _, ok := p.byPath[path]; !ok {
		p.add(path)
	}
}

func (p *pool) Schedule(path string) {
	e, ok := p.byPath[path]
	if !ok {
		p.add(path)
		p.scheduled[path] = true
		return
	}
	if !e.inlined {
		p.scheduled[path] = true
	}
}

func (p *pool) Scheduled(path string) bool {
	return p.scheduled[path]
}

func (p *pool) Inline(path string) bool {
	if p.scheduled[path] {
		return false
	}
	e, ok := p.byPath[path]
	if !ok {
		e = p.add(path)
	} else if e.inlined {
		return false
	}
	e.inlined = true
	return true
}

func (p *pool) Open(path string) ([]byte, error) {
	return p.src.Open(path)
}

// next returns the next unprocessed entry.
func (p *pool) next() (*poolEntry, bool) {
	if p.cursor >= len(p.queue) {
		return nil, false
	}
	e := p.queue[p.cursor]
	p.cursor++
	return e, true
}

// inlined lists the sub-paths whose text now lives inside another page.
func (p *pool) inlined() []string {
	var paths []string
	for _, e := range p.queue {
		if e.inlined {
			paths = append(paths, e.path)
		}
	}
	return paths
}
