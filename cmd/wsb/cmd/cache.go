package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/config"
	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/fulltext"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/host"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/logging"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/ui"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/watcher"
)

type cacheOptions struct {
	books           []string
	items           []string
	recreate        bool
	noLock          bool
	noBackup        bool
	inclusiveFrames bool
	exclusiveFrames bool
	workers         int
	watch           bool
	plain           bool
	verbose         bool
}

func newCacheCmd() *cobra.Command {
	var opts cacheOptions

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Generate the fulltext cache of books",
		Long: `Generate or refresh the fulltext cache (fulltext.js) of books.

Only items and files changed since the last run are re-extracted. Items
whose metadata or index file is gone are dropped from the cache.`,
		Example: `  # Refresh every book of the collection
  wsb cache

  # Rebuild the cache of two items from scratch
  wsb cache --item 20200101000000000 --item 20200102000000000 --recreate

  # Keep the cache current while capturing
  wsb cache --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.inclusiveFrames && opts.exclusiveFrames {
				return wsberrors.ValidationError("--inclusive-frames and --exclusive-frames are mutually exclusive", nil)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCache(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.books, "book", "b", nil, "Book id to process (repeatable; default: all books)")
	f.StringArrayVarP(&opts.items, "item", "i", nil, "Item id to process (repeatable; default: all items)")
	f.BoolVar(&opts.recreate, "recreate", false, "Discard the existing cache and rescan every item")
	f.BoolVar(&opts.noLock, "no-lock", false, "Do not take the tree lock")
	f.BoolVar(&opts.noBackup, "no-backup", false, "Do not back up tree files before rewriting them")
	f.BoolVar(&opts.inclusiveFrames, "inclusive-frames", false, "Index frame pages as part of their parent page")
	f.BoolVar(&opts.exclusiveFrames, "exclusive-frames", false, "Index frame pages on their own")
	f.IntVarP(&opts.workers, "workers", "j", 0, "Number of items extracted concurrently")
	f.BoolVarP(&opts.watch, "watch", "w", false, "Keep running and refresh on changes")
	f.BoolVar(&opts.plain, "plain", false, "Plain line output even on a terminal")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Report every item and log at the configured level")

	return cmd
}

func runCache(ctx context.Context, cmd *cobra.Command, opts cacheOptions) error {
	h, err := host.Open(rootDir)
	if err != nil {
		return err
	}
	applyCacheFlags(h, cmd, opts)

	if opts.verbose && !debugMode {
		slog.SetDefault(logging.NewConsole(os.Stderr, h.Config.Log.Level))
	}

	ids := opts.books
	if len(ids) == 0 {
		ids = bookIDs(h)
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithVerbose(opts.verbose)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	for _, id := range ids {
		if err := cacheBook(ctx, h, id, opts, renderer); err != nil {
			return err
		}
	}

	if !opts.watch {
		return nil
	}
	return watchBooks(ctx, h, ids, opts, renderer)
}

func applyCacheFlags(h *host.Host, cmd *cobra.Command, opts cacheOptions) {
	if opts.noBackup {
		h.Config.Backup.Enabled = false
	}
	switch {
	case opts.inclusiveFrames:
		h.Config.Fulltext.InclusiveFrames = true
	case opts.exclusiveFrames:
		h.Config.Fulltext.InclusiveFrames = false
	}
	if cmd.Flags().Changed("workers") && opts.workers > 0 {
		h.Config.Fulltext.Workers = opts.workers
	}
}

func bookIDs(h *host.Host) []string {
	ids := make([]string, 0, len(h.Config.Books))
	for id := range h.Config.Books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cacheBook runs the generator once for book id.
func cacheBook(ctx context.Context, h *host.Host, id string, opts cacheOptions, r ui.Renderer) error {
	b, err := h.Book(id)
	if err != nil {
		return err
	}
	if bc, _ := h.Config.Book(id); bc.NoTree {
		slog.Info("skipping book without tree", slog.String("book", id))
		return nil
	}

	h.InitBackup()
	genOpts := fulltext.Options{
		InclusiveFrames: h.Config.Fulltext.InclusiveFrames,
		Recreate:        opts.recreate,
		Workers:         h.Config.Fulltext.Workers,
		ArchiveCache:    h.Config.Fulltext.ArchiveCache,
		Events:          func(ev fulltext.Event) { report(r, ev) },
	}
	if !opts.noLock {
		genOpts.Lock = h.TreeLock(id)
	}

	res, err := fulltext.New(b, genOpts).Run(ctx, opts.items...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("book %q: %w", id, err)
	}

	r.Complete(ui.CompletionStats{
		Book:     b.Name,
		Items:    res.Items,
		Updated:  res.Updated,
		Removed:  res.Removed,
		Skipped:  res.Skipped,
		Saved:    res.Saved,
		Touched:  res.Touched,
		Errors:   res.Errors,
		Warnings: res.Warnings,
		Duration: res.Duration,
	})
	return nil
}

// report forwards a generator event to the renderer.
func report(r ui.Renderer, ev fulltext.Event) {
	if ev.Level >= slog.LevelWarn {
		r.AddError(ui.ErrorEvent{
			Item:   ev.Item,
			File:   ev.Path,
			Err:    errors.New(ev.Message),
			IsWarn: ev.Level < slog.LevelError,
		})
		return
	}
	stage := ui.StageIndexing
	if ev.Total == 0 {
		stage = ui.StageSaving
	}
	if ev.Level < slog.LevelInfo && ev.Item == "" {
		return
	}
	r.UpdateProgress(ui.ProgressEvent{
		Stage:   stage,
		Current: ev.Current,
		Total:   ev.Total,
		Item:    ev.Item,
		Message: ev.Message,
	})
}

// watchBooks refreshes books whenever their data directory changes.
// Changes under the tree directory are the generator's own writes and are
// ignored.
func watchBooks(ctx context.Context, h *host.Host, ids []string, opts cacheOptions, r ui.Renderer) error {
	// Item filters and recreate only apply to the first pass.
	opts.items = nil
	opts.recreate = false

	type watched struct {
		id string
		w  *watcher.Watcher
	}
	changed := make(chan string)
	var all []watched

	for _, id := range ids {
		b, err := h.Book(id)
		if err != nil {
			return err
		}
		var skip []string
		for _, dir := range []string{b.TreeDir, filepath.Join(h.Root, config.DirName)} {
			if rel, err := filepath.Rel(b.DataDir, dir); err == nil && filepath.IsLocal(rel) {
				skip = append(skip, filepath.ToSlash(rel))
			}
		}

		w := watcher.New(afero.NewOsFs(), watcher.Options{Skip: skip})
		all = append(all, watched{id: id, w: w})
		go func() {
			if err := w.Start(ctx, b.DataDir); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher stopped", slog.String("book", id), slog.String("error", err.Error()))
			}
		}()
		go func() {
			for {
				select {
				case _, ok := <-w.Events():
					if !ok {
						return
					}
					select {
					case changed <- id:
					case <-ctx.Done():
						return
					}
				case err, ok := <-w.Errors():
					if !ok {
						return
					}
					slog.Warn("watcher error", slog.String("book", id), slog.String("error", err.Error()))
				}
			}
		}()
	}
	defer func() {
		for _, x := range all {
			_ = x.w.Stop()
		}
	}()

	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWatching, Message: "watching for changes (Ctrl+C to stop)"})
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-changed:
			if err := cacheBook(ctx, h, id, opts, r); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if wsberrors.IsFatal(err) && wsberrors.GetCode(err) != wsberrors.ErrCodeLockTimeout {
					return err
				}
				r.AddError(ui.ErrorEvent{Err: err, IsWarn: true})
			}
		}
	}
}
