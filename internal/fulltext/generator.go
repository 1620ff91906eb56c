// Package fulltext builds and incrementally refreshes a book's fulltext
// index.
//
// A run walks every item known to the metadata or to the existing index.
// Items whose metadata or index file is gone are purged. Items stored in an
// unchanged container are skipped. Everything else is rescanned sub-path by
// sub-path, re-extracting only files newer than the index itself.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/archive"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/book"
	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

// Locker guards the book's tree directory for the duration of a run.
type Locker interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Options configures a Generator.
type Options struct {
	// InclusiveFrames splices frame targets into their parent page instead
	// of indexing them on their own.
	InclusiveFrames bool

	// Recreate discards the existing index and rescans every item.
	Recreate bool

	// Workers is the number of items extracted concurrently.
	Workers int

	// ArchiveCache is the number of containers kept open during a run.
	ArchiveCache int

	// Lock is held for the whole run. Nil runs without locking, for
	// callers that already hold the tree lock.
	Lock Locker

	// Events receives progress. Calls are serialized.
	Events func(Event)
}

// Event is one progress report of a run.
type Event struct {
	Level   slog.Level
	Item    string
	Path    string
	Message string
	Current int
	Total   int
}

// Result summarizes a run.
type Result struct {
	// Items is the number of items examined.
	Items int
	// Updated is the number of items whose indexed text changed.
	Updated int
	// Removed is the number of items dropped from the index.
	Removed int
	// Skipped is the number of unchanged container items not rescanned.
	Skipped int
	// Errors and Warnings count non-fatal problems.
	Errors   int
	Warnings int
	// Saved is the number of shard files written; Touched the number
	// refreshed in place because nothing changed.
	Saved   int
	Touched int

	Duration time.Duration
}

// Generator refreshes the fulltext index of one book.
type Generator struct {
	book *book.Book
	opts Options

	mu     sync.Mutex
	result *Result
}

// New creates a generator for b.
func New(b *book.Book, opts Options) *Generator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ArchiveCache <= 0 {
		opts.ArchiveCache = archive.DefaultCacheSize
	}
	return &Generator{book: b, opts: opts}
}

// run holds the state shared by the items of one run.
type run struct {
	meta         *book.Meta
	fulltext     *book.Fulltext
	lastModified time.Time
	cache        *archive.Cache
}

// Run refreshes the index. When ids are given only those items are
// examined; the entries of other items are left as they are.
//
// Problems with individual items or files are reported as events and
// counted in the result. Run only fails when the book cannot be read, the
// lock cannot be acquired, the index cannot be written, or ctx is done.
func (g *Generator) Run(ctx context.Context, ids ...string) (*Result, error) {
	start := time.Now()
	g.result = &Result{}

	if g.opts.Lock != nil {
		if err := g.opts.Lock.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := g.opts.Lock.Release(); err != nil {
				slog.Warn("failed to release tree lock", slog.String("error", err.Error()))
			}
		}()
	}

	meta, err := g.book.LoadMeta()
	if err != nil {
		return nil, err
	}

	r := &run{meta: meta}
	original, err := g.book.LoadFulltext()
	if err != nil {
		return nil, err
	}
	if g.opts.Recreate {
		r.fulltext = book.NewFulltext()
	} else {
		r.fulltext = original.Clone()
		r.lastModified = g.book.FulltextModified()
	}

	r.cache = archive.NewCache(g.book.Fs, g.opts.ArchiveCache)
	defer r.cache.Close()

	order := ids
	if len(order) == 0 {
		order = itemOrder(r.fulltext, meta)
	} else {
		order = dedupe(order)
	}
	g.result.Items = len(order)
	g.emit(Event{Level: slog.LevelInfo, Message: "indexing items", Total: len(order)})

	outcomes, err := g.scan(ctx, r, order)
	if err != nil {
		return nil, err
	}
	g.merge(r.fulltext, order, outcomes)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.persist(original, r.fulltext); err != nil {
		return nil, err
	}

	g.result.Duration = time.Since(start)
	g.emit(Event{
		Level: slog.LevelInfo,
		Message: fmt.Sprintf("done: %d updated, %d removed, %d skipped",
			g.result.Updated, g.result.Removed, g.result.Skipped),
	})
	return g.result, nil
}

// itemOrder lists ids of the existing index first, then new ids from the
// metadata.
func itemOrder(ft *book.Fulltext, meta *book.Meta) []string {
	order := ft.IDs()
	for _, id := range meta.IDs() {
		if !ft.Has(id) {
			order = append(order, id)
		}
	}
	return order
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// scan examines every item, at most Workers at a time. Items only read the
// shared index; their outcomes are merged afterwards in order.
func (g *Generator) scan(ctx context.Context, r *run, order []string) ([]outcome, error) {
	outcomes := make([]outcome, len(order))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i, id := range order {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			g.emit(Event{Level: slog.LevelDebug, Item: id, Message: "checking item", Current: i + 1, Total: len(order)})
			out, err := g.processItem(egctx, r, id)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, wsberrors.New(wsberrors.ErrCodeIndexFailed, "indexing aborted", err)
	}
	return outcomes, nil
}

// merge applies item outcomes to the index in item order.
func (g *Generator) merge(ft *book.Fulltext, order []string, outcomes []outcome) {
	for i, id := range order {
		out := outcomes[i]
		switch out.action {
		case actionPurge:
			if ft.Delete(id) {
				g.result.Removed++
			}
		case actionSkip:
			g.result.Skipped++
		case actionUpdate:
			old, _ := ft.Pages(id)
			if !out.pages.Equal(old) {
				g.result.Updated++
			}
			ft.Set(id, out.pages)
		}
	}
}

// persist writes the index, or only refreshes the shard mtimes when the
// content is unchanged so the next run sees it as current.
func (g *Generator) persist(original, current *book.Fulltext) error {
	if current.Equal(original) {
		n, err := g.book.TouchFulltext(time.Now())
		if err != nil {
			return err
		}
		g.result.Touched = n
		g.emit(Event{Level: slog.LevelDebug, Message: fmt.Sprintf("index unchanged, touched %d files", n)})
		return nil
	}

	n, err := g.book.SaveFulltext(current)
	if err != nil {
		return err
	}
	g.result.Saved = n
	g.emit(Event{Level: slog.LevelInfo, Message: fmt.Sprintf("saved index to %d files", n)})
	return nil
}

// emit logs ev, counts problems and forwards ev to the Events callback.
func (g *Generator) emit(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case ev.Level >= slog.LevelError:
		g.result.Errors++
	case ev.Level >= slog.LevelWarn:
		g.result.Warnings++
	}

	attrs := make([]slog.Attr, 0, 2)
	if ev.Item != "" {
		attrs = append(attrs, slog.String("item", ev.Item))
	}
	if ev.Path != "" {
		attrs = append(attrs, slog.String("path", ev.Path))
	}
	slog.LogAttrs(context.Background(), ev.Level, ev.Message, attrs...)

	if g.opts.Events != nil {
		g.opts.Events(ev)
	}
}
