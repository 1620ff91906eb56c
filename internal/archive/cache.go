package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// DefaultCacheSize is the number of containers kept open at once.
const DefaultCacheSize = 8

// Cache keeps recently used containers open. A container that fails to
// open is remembered as corrupt for the lifetime of the cache; Err reports
// it.
type Cache struct {
	fs afero.Fs

	mu      sync.Mutex
	handles *lru.Cache[string, *zipHandle]
	corrupt map[string]error
}

// NewCache creates a cache holding at most size open containers.
func NewCache(fsys afero.Fs, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	handles, _ := lru.NewWithEvict[string, *zipHandle](size, func(_ string, h *zipHandle) {
		h.evict()
	})
	return &Cache{
		fs:      fsys,
		handles: handles,
		corrupt: make(map[string]error),
	}
}

// Open returns the source for the index file at indexPath.
func (c *Cache) Open(indexPath string) Source {
	return Open(c.fs, indexPath, c)
}

// Err returns the corruption error recorded for a container, if any.
// The container is opened if it is not cached yet.
func (c *Cache) Err(path string) error {
	_, err := c.get(path)
	return err
}

func (c *Cache) get(path string) (*zipHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.corrupt[path]; ok {
		return nil, err
	}
	if h, ok := c.handles.Get(path); ok {
		return h, nil
	}

	h := &zipHandle{fs: c.fs, path: path}
	if err := h.open(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cerr := &ErrCorrupt{Path: path, Err: err}
		c.corrupt[path] = cerr
		slog.Debug("unable to read archive",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, cerr
	}
	c.handles.Add(path, h)
	return h, nil
}

// Close closes every cached container.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles.Purge()
}

// zipHandle is an open container. A caller still holding it after
// eviction gets it reopened for the duration of one operation only.
type zipHandle struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	file    afero.File
	evicted bool
	entries map[string]*zip.File
	order   []*zip.File
	pages   []Page
}

func (h *zipHandle) open() error {
	f, err := h.fs.Open(h.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if info.IsDir() {
		f.Close()
		return &fs.PathError{Op: "open", Path: h.path, Err: fs.ErrNotExist}
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return err
	}

	h.file = f
	h.pages = nil
	h.entries = make(map[string]*zip.File, len(zr.File))
	h.order = zr.File
	for _, zf := range zr.File {
		if _, dup := h.entries[zf.Name]; !dup {
			h.entries[zf.Name] = zf
		}
	}
	return nil
}

// evict closes the handle once the cache drops it.
func (h *zipHandle) evict() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted = true
	h.closeFile()
}

func (h *zipHandle) closeFile() {
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
}

// acquire locks the handle and makes sure its file is open. Every
// successful acquire must be paired with release.
func (h *zipHandle) acquire() error {
	h.mu.Lock()
	if h.file != nil {
		return nil
	}
	if err := h.open(); err != nil {
		h.mu.Unlock()
		return err
	}
	return nil
}

// release unlocks the handle, closing a file reopened after eviction.
func (h *zipHandle) release() {
	if h.evicted {
		h.closeFile()
	}
	h.mu.Unlock()
}

// lookup finds a regular file entry. Directory entries count as missing.
func (h *zipHandle) lookup(name string) (*zip.File, error) {
	zf, ok := h.entries[name]
	if !ok || strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir() {
		return nil, notExist(name)
	}
	return zf, nil
}

func (h *zipHandle) mtime(name string) (time.Time, error) {
	if err := h.acquire(); err != nil {
		return time.Time{}, err
	}
	defer h.release()

	zf, err := h.lookup(name)
	if err != nil {
		return time.Time{}, err
	}
	return entryTime(zf), nil
}

func (h *zipHandle) read(name string) ([]byte, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	zf, err := h.lookup(name)
	if err != nil {
		return nil, err
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read entry %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// entryTime reads the MS-DOS timestamp of an entry as local wall-clock
// time, which is how zip writers record it. Entries without one fall back
// to the extended timestamp.
func entryTime(zf *zip.File) time.Time {
	d, t := zf.ModifiedDate, zf.ModifiedTime
	if d == 0 && t == 0 {
		return zf.Modified
	}
	return time.Date(
		int(d>>9)+1980,
		time.Month(d>>5&0xf),
		int(d&0x1f),
		int(t>>11),
		int(t>>5&0x3f),
		int(t&0x1f)*2,
		0,
		time.Local,
	)
}
