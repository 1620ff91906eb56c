package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for CI and pipes.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	errors  []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, verbose: cfg.Verbose}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer. Per-item steps are only printed in
// verbose mode.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Item != "" && !r.verbose {
		return
	}
	msg := event.Message
	if event.Item != "" {
		msg = event.Item + ": " + msg
	}

	if event.Total > 0 && event.Current > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, event)
	_, _ = fmt.Fprintln(r.out, formatError(event))
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, summary(stats))
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func formatError(event ErrorEvent) string {
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	where := event.Item
	if event.File != "" {
		if where != "" {
			where += "/"
		}
		where += event.File
	}
	if where != "" {
		return fmt.Sprintf("%s: %s: %v", prefix, where, event.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, event.Err)
}

func summary(stats CompletionStats) string {
	s := "Complete: "
	if stats.Book != "" {
		s += fmt.Sprintf("book %q, ", stats.Book)
	}
	s += fmt.Sprintf("%d items (%d updated, %d removed, %d skipped) in %s",
		stats.Items, stats.Updated, stats.Removed, stats.Skipped, stats.Duration.Round(100*time.Millisecond))
	if stats.Saved > 0 {
		s += fmt.Sprintf(", %d files written", stats.Saved)
	} else if stats.Touched > 0 {
		s += ", index unchanged"
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		s += fmt.Sprintf(" (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	return s
}
