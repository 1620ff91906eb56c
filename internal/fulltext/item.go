package fulltext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/archive"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/book"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/extract"
)

type action int

const (
	actionPurge action = iota
	actionSkip
	actionUpdate
)

type outcome struct {
	action action
	pages  *book.Pages
}

// processItem decides what happens to one item and, for a rescan, builds
// its new page set.
func (g *Generator) processItem(ctx context.Context, r *run, id string) (outcome, error) {
	old, cached := r.fulltext.Pages(id)

	item, ok := r.meta.Item(id)
	if !ok {
		g.purged(id, cached, "no metadata")
		return outcome{action: actionPurge}, nil
	}
	if item.Index == "" {
		g.purged(id, cached, "no index file")
		return outcome{action: actionPurge}, nil
	}

	indexPath := g.book.IndexPath(item)
	info, err := g.book.Fs.Stat(indexPath)
	if err != nil || info.IsDir() {
		g.purged(id, cached, "index file missing")
		return outcome{action: actionPurge}, nil
	}

	if cached && archive.IsContainer(item.Index) && !info.ModTime().After(r.lastModified) {
		g.emit(Event{Level: slog.LevelDebug, Item: id, Message: "skipped unchanged archive"})
		return outcome{action: actionSkip}, nil
	}

	src := r.cache.Open(indexPath)
	if archive.IsContainer(item.Index) {
		var corrupt *archive.ErrCorrupt
		if err := r.cache.Err(indexPath); errors.As(err, &corrupt) {
			g.emit(Event{Level: slog.LevelWarn, Item: id, Path: item.Index,
				Message: fmt.Sprintf("unable to read archive: %v", corrupt.Err)})
		}
	}

	pages := book.NewPages()
	if cached {
		pages = old.Clone()
	}
	if err := g.rescan(ctx, r, item, src, pages); err != nil {
		return outcome{}, err
	}
	return outcome{action: actionUpdate, pages: pages}, nil
}

func (g *Generator) purged(id string, cached bool, reason string) {
	if cached {
		g.emit(Event{Level: slog.LevelInfo, Item: id, Message: "removing from index: " + reason})
	}
}

// rescan drains the discovery pool of an item into pages.
func (g *Generator) rescan(ctx context.Context, r *run, item *book.Item, src archive.Source, pages *book.Pages) error {
	p := newPool(src)

	indexPaths, err := src.IndexPaths()
	if err != nil {
		g.emit(Event{Level: slog.LevelWarn, Item: item.ID, Path: item.Index,
			Message: fmt.Sprintf("unable to list pages: %v", err)})
	}
	for _, path := range indexPaths {
		p.Schedule(path)
	}
	for _, path := range pages.Paths() {
		p.seed(path)
	}

	x := extract.New(p, item.Charset, g.opts.InclusiveFrames)
	x.Charset = src.Charset
	x.Warn = func(path string, err error) {
		g.emit(Event{Level: slog.LevelWarn, Item: item.ID, Path: path, Message: err.Error()})
	}

	for {
		e, ok := p.next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.inlined {
			pages.Delete(e.path)
			continue
		}

		mtime, err := src.Mtime(e.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				g.emit(Event{Level: slog.LevelWarn, Item: item.ID, Path: e.path,
					Message: fmt.Sprintf("unable to stat: %v", err)})
			}
			if pages.Delete(e.path) {
				g.emit(Event{Level: slog.LevelDebug, Item: item.ID, Path: e.path, Message: "removed missing file"})
			}
			continue
		}

		if pages.Has(e.path) && !mtime.After(r.lastModified) {
			continue
		}

		data, err := src.Open(e.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				g.emit(Event{Level: slog.LevelWarn, Item: item.ID, Path: e.path,
					Message: fmt.Sprintf("unable to read: %v", err)})
			}
			pages.Delete(e.path)
			continue
		}

		g.emit(Event{Level: slog.LevelDebug, Item: item.ID, Path: e.path, Message: "extracting"})
		text, ok, err := safeExtract(x, e.path, data)
		switch {
		case err != nil:
			g.emit(Event{Level: slog.LevelError, Item: item.ID, Path: e.path,
				Message: fmt.Sprintf("extraction failed: %v", err)})
			pages.Set(e.path, "")
		case !ok:
			pages.Delete(e.path)
		default:
			pages.Set(e.path, text)
		}
	}

	for _, path := range p.inlined() {
		pages.Delete(path)
	}
	return nil
}

// safeExtract converts a panic inside the extractor into an error so one
// bad file cannot abort the run.
func safeExtract(x *extract.Extractor, path string, data []byte) (text string, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	text, ok = x.Extract(path, data)
	return text, ok, nil
}
