// Package watcher reports changes below a book's data directory so the
// fulltext cache can be refreshed as files are captured or edited.
//
// fsnotify is used when available; otherwise the tree is polled. Raw events
// are coalesced per path over a short window and delivered in batches.
// Directories given in Options.Skip, such as the book's tree directory that
// the cache itself writes to, are never reported.
//
// Usage:
//
//	w := watcher.New(afero.NewOsFs(), watcher.DefaultOptions())
//	defer w.Stop()
//	go w.Start(ctx, dataDir)
//	for batch := range w.Events() {
//	    // refresh the cache
//	}
package watcher
