package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// poller detects changes by comparing successive walks of the tree.
type poller struct {
	fs    afero.Fs
	root  string
	skip  []string
	state map[string]snapshot
}

func newPoller(fsys afero.Fs, root string, skip []string) *poller {
	return &poller{fs: fsys, root: root, skip: skip, state: make(map[string]snapshot)}
}

func (p *poller) walk() map[string]snapshot {
	current := make(map[string]snapshot)
	_ = afero.Walk(p.fs, p.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		if skipped(rel, p.skip) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		current[filepath.ToSlash(rel)] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: info.IsDir()}
		return nil
	})
	return current
}

// baseline records the current tree without reporting anything.
func (p *poller) baseline() {
	p.state = p.walk()
}

// changes walks the tree again and returns what differs from the last walk.
func (p *poller) changes() []FileEvent {
	current := p.walk()
	now := time.Now()

	var events []FileEvent
	for path, snap := range current {
		prev, ok := p.state[path]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (!prev.modTime.Equal(snap.modTime) || prev.size != snap.size):
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path, snap := range p.state {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}
	p.state = current
	return events
}
