package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
	clearLine  = "\r\x1b[K"
)

// LineRenderer keeps a single status line updated in place and prints
// problems and the summary above it.
type LineRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	status  string
}

// NewLineRenderer creates a renderer for interactive terminals.
func NewLineRenderer(cfg Config) *LineRenderer {
	return &LineRenderer{out: cfg.Output, noColor: cfg.NoColor}
}

// Start implements Renderer.
func (r *LineRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *LineRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.WriteString(event.Stage.String())
	if event.Total > 0 && event.Current > 0 {
		fmt.Fprintf(&b, " %d/%d %s", event.Current, event.Total, bar(event.Current, event.Total, 20))
	}
	if event.Item != "" {
		b.WriteString(" " + event.Item)
	} else if event.Message != "" {
		b.WriteString(" " + event.Message)
	}
	r.status = b.String()
	_, _ = fmt.Fprint(r.out, clearLine+r.status)
}

// AddError implements Renderer.
func (r *LineRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	color := ansiRed
	if event.IsWarn {
		color = ansiYellow
	}
	_, _ = fmt.Fprint(r.out, clearLine+r.paint(color, formatError(event))+"\n"+r.status)
}

// Complete implements Renderer.
func (r *LineRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ""
	_, _ = fmt.Fprint(r.out, clearLine+r.paint(ansiGreen, summary(stats))+"\n")
}

// Stop implements Renderer.
func (r *LineRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != "" {
		_, _ = fmt.Fprint(r.out, clearLine)
		r.status = ""
	}
	return nil
}

func (r *LineRenderer) paint(color, s string) string {
	if r.noColor {
		return s
	}
	return color + s + ansiReset
}

func bar(current, total, width int) string {
	if total <= 0 {
		return ""
	}
	filled := current * width / total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
