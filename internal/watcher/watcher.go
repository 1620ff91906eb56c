package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation is the kind of change seen for a path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change, with Path relative to the watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must stay quiet before its change
	// is delivered. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is used when fsnotify is unavailable. Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered. Default: 16
	EventBufferSize int

	// Skip lists directories, relative to the root, whose contents are
	// never reported.
	Skip []string

	// ForcePolling disables fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// skipped reports whether rel is one of skip or lies below one of them.
func skipped(rel string, skip []string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return true
	}
	for _, s := range skip {
		s = strings.TrimSuffix(filepath.ToSlash(s), "/")
		if s == "" || s == "." {
			continue
		}
		if rel == s || strings.HasPrefix(rel, s+"/") {
			return true
		}
	}
	return false
}
