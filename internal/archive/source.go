// Package archive gives uniform access to the files that make up an item's
// content, whether they are loose files under a directory or entries of an
// HTZ (single page) or MAFF (multiple pages) zip container.
package archive

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Kind identifies how an item's content is stored.
type Kind int

const (
	// KindLoose is a plain file, optionally with sibling resources.
	KindLoose Kind = iota
	// KindSingleEntry is an HTZ container holding one page at index.html.
	KindSingleEntry
	// KindMultiEntry is a MAFF container holding one page per top-level folder.
	KindMultiEntry
)

// KindOf classifies an index file by its extension.
func KindOf(index string) Kind {
	switch strings.ToLower(path.Ext(index)) {
	case ".htz":
		return KindSingleEntry
	case ".maff":
		return KindMultiEntry
	default:
		return KindLoose
	}
}

// IsContainer reports whether index names a zip container.
func IsContainer(index string) bool {
	return KindOf(index) != KindLoose
}

// Source reads the files of one item's content root. Sub-paths are
// slash-separated and relative to the root.
//
// Missing sub-paths, directories and entries of a corrupt container all
// report fs.ErrNotExist.
type Source interface {
	// Mtime returns the last-modified time of subpath.
	Mtime(subpath string) (time.Time, error)
	// Open returns the full content of subpath.
	Open(subpath string) ([]byte, error)
	// IndexPaths returns the sub-paths of the item's primary pages.
	IndexPaths() ([]string, error)
	// Charset returns the encoding the container declares for subpath,
	// or "" when it declares none.
	Charset(subpath string) string
}

// Loose is the content root of a plain file or directory item: the
// directory holding the index file.
type Loose struct {
	fs   afero.Fs
	root string
	base string
}

// NewLoose returns the source for the index file at indexPath.
func NewLoose(fsys afero.Fs, indexPath string) *Loose {
	return &Loose{
		fs:   fsys,
		root: filepath.Dir(indexPath),
		base: filepath.Base(indexPath),
	}
}

func (l *Loose) resolve(subpath string) string {
	return filepath.Join(l.root, filepath.FromSlash(subpath))
}

func (l *Loose) Mtime(subpath string) (time.Time, error) {
	info, err := l.fs.Stat(l.resolve(subpath))
	if err != nil {
		return time.Time{}, err
	}
	if info.IsDir() {
		return time.Time{}, notExist(subpath)
	}
	return info.ModTime(), nil
}

func (l *Loose) Open(subpath string) ([]byte, error) {
	p := l.resolve(subpath)
	info, err := l.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, notExist(subpath)
	}
	return afero.ReadFile(l.fs, p)
}

func (l *Loose) IndexPaths() ([]string, error) {
	return []string{l.base}, nil
}

func (l *Loose) Charset(string) string { return "" }

// Container is the content root of an HTZ or MAFF item. Entry names are
// sub-paths; MAFF entries carry their page folder as the first segment.
type Container struct {
	kind  Kind
	path  string
	cache *Cache
}

func (c *Container) Mtime(subpath string) (time.Time, error) {
	z, err := c.cache.get(c.path)
	if err != nil {
		return time.Time{}, notExist(subpath)
	}
	return z.mtime(subpath)
}

func (c *Container) Open(subpath string) ([]byte, error) {
	z, err := c.cache.get(c.path)
	if err != nil {
		return nil, notExist(subpath)
	}
	return z.read(subpath)
}

func (c *Container) IndexPaths() ([]string, error) {
	if c.kind == KindSingleEntry {
		return []string{"index.html"}, nil
	}
	z, err := c.cache.get(c.path)
	if err != nil {
		return nil, nil
	}
	pages, err := z.maffPages()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.IndexFile != "" {
			paths = append(paths, p.IndexFile)
		}
	}
	return paths, nil
}

// Charset returns the charset index.rdf declares for the MAFF page folder
// holding subpath.
func (c *Container) Charset(subpath string) string {
	if c.kind != KindMultiEntry {
		return ""
	}
	folder, _, ok := strings.Cut(subpath, "/")
	if !ok {
		return ""
	}
	z, err := c.cache.get(c.path)
	if err != nil {
		return ""
	}
	pages, err := z.maffPages()
	if err != nil {
		return ""
	}
	for _, p := range pages {
		if p.Folder == folder {
			return p.Charset
		}
	}
	return ""
}

func notExist(subpath string) error {
	return &fs.PathError{Op: "open", Path: subpath, Err: fs.ErrNotExist}
}

// Open returns the source for an item whose index file is at indexPath.
// Containers share handles through cache.
func Open(fsys afero.Fs, indexPath string, cache *Cache) Source {
	kind := KindOf(indexPath)
	if kind == KindLoose {
		return NewLoose(fsys, indexPath)
	}
	return &Container{kind: kind, path: indexPath, cache: cache}
}

// ErrCorrupt wraps the reason a container could not be read.
type ErrCorrupt struct {
	Path string
	Err  error
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *ErrCorrupt) Unwrap() error { return e.Err }
