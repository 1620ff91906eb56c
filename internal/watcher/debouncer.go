package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces events per path and flushes them as one batch once
// no new event arrived for the window. For a path seen several times:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE is dropped
//   - DELETE then CREATE becomes MODIFY
//   - otherwise the latest operation wins
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pending
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

type pending struct {
	first Operation
	event FileEvent
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pending),
		output:  make(chan []FileEvent, 4),
	}
}

// Add records an event and restarts the window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	p, ok := d.pending[ev.Path]
	switch {
	case !ok:
		d.pending[ev.Path] = &pending{first: ev.Operation, event: ev}
	case p.first == OpCreate && ev.Operation == OpDelete:
		delete(d.pending, ev.Path)
	case p.first == OpCreate && ev.Operation == OpModify:
		p.event.Timestamp = ev.Timestamp
	case p.first == OpDelete && ev.Operation == OpCreate:
		ev.Operation = OpModify
		p.event = ev
	default:
		p.event = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.pending = make(map[string]*pending)

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes the output. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
