// Package host is the collection-level collaborator of the indexer: it
// knows the collection root and configuration, hands out books and tree
// locks, and backs up files before they are changed.
package host

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/book"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/config"
	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/lock"
)

// backupStampLayout renders YYYYMMDDHHMMSS followed by milliseconds.
const backupStampLayout = "20060102150405"

// Host is an opened collection.
type Host struct {
	Root   string
	Config *config.Config
	Fs     afero.Fs

	mu          sync.Mutex
	backupStamp string
	now         func() time.Time
}

// New returns a host for the collection at root.
func New(root string, cfg *config.Config, fsys afero.Fs) *Host {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Host{Root: root, Config: cfg, Fs: fsys, now: time.Now}
}

// Open finds the collection containing dir and loads its configuration.
func Open(dir string) (*Host, error) {
	root, err := config.FindRoot(dir)
	if err != nil {
		return nil, wsberrors.New(wsberrors.ErrCodeCollectionUnreachable,
			fmt.Sprintf("cannot locate collection from %s", dir), err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, wsberrors.ConfigError("failed to load configuration", err)
	}
	return New(root, cfg, afero.NewOsFs()), nil
}

// Book returns book id.
func (h *Host) Book(id string) (*book.Book, error) {
	bc, ok := h.Config.Book(id)
	if !ok {
		return nil, wsberrors.New(wsberrors.ErrCodeBookNotFound,
			fmt.Sprintf("book %q is not configured", id), nil)
	}
	top := filepath.Join(h.Root, filepath.FromSlash(bc.TopDir))
	return &book.Book{
		ID:      id,
		Name:    bc.Name,
		Fs:      h.Fs,
		TopDir:  top,
		DataDir: filepath.Join(top, filepath.FromSlash(bc.DataDir)),
		TreeDir: filepath.Join(top, filepath.FromSlash(bc.TreeDir)),
		Thresholds: book.Thresholds{
			Meta:     h.Config.Shard.MetaThreshold,
			Toc:      h.Config.Shard.TocThreshold,
			Fulltext: h.Config.Shard.FulltextThreshold,
		},
		Backup: h.BackupQuietly,
	}, nil
}

// LockPath returns the lock file for a named lock.
func (h *Host) LockPath(name string) string {
	sum := md5.Sum([]byte(name))
	return filepath.Join(h.Root, config.DirName, "locks", hex.EncodeToString(sum[:])+".lock")
}

// TreeLock returns the lock guarding the tree directory of book id.
func (h *Host) TreeLock(bookID string) *lock.FileLock {
	return lock.New(h.LockPath("book-"+bookID+"-tree"), h.Config.Lock.Timeout, h.Config.Lock.Stale)
}

// BackupDir returns the root of all backups.
func (h *Host) BackupDir() string {
	return filepath.Join(h.Root, filepath.FromSlash(h.Config.Backup.Dir))
}

// InitBackup starts a new backup session. Files backed up afterwards go to
// a fresh timestamped directory.
func (h *Host) InitBackup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backupStamp = ""
}

func (h *Host) stamp() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backupStamp == "" {
		t := h.now().UTC()
		h.backupStamp = fmt.Sprintf("%s%03d", t.Format(backupStampLayout), t.Nanosecond()/int(time.Millisecond))
	}
	return h.backupStamp
}

// Backup copies path into the current backup session, keeping its path
// relative to the collection root. It does nothing when backups are
// disabled or path does not exist.
func (h *Host) Backup(path string) error {
	if !h.Config.Backup.Enabled {
		return nil
	}
	info, err := h.Fs.Stat(path)
	if err != nil {
		return nil
	}

	rel, err := filepath.Rel(h.Root, path)
	if err != nil || !filepath.IsLocal(rel) {
		return wsberrors.New(wsberrors.ErrCodeBackupFailed,
			fmt.Sprintf("%s is outside the collection", path), err)
	}
	dst := filepath.Join(h.BackupDir(), h.stamp(), rel)

	if info.IsDir() {
		err = h.copyTree(path, dst)
	} else {
		err = h.copyFile(path, dst, info.ModTime())
	}
	if err != nil {
		return wsberrors.New(wsberrors.ErrCodeBackupFailed,
			fmt.Sprintf("failed to back up %s", path), err)
	}
	return nil
}

// BackupQuietly backs up path and logs any failure instead of returning it.
func (h *Host) BackupQuietly(path string) {
	if err := h.Backup(path); err != nil {
		slog.Warn("backup failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func (h *Host) copyFile(src, dst string, mtime time.Time) error {
	data, err := afero.ReadFile(h.Fs, src)
	if err != nil {
		return err
	}
	if err := h.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(h.Fs, dst, data, 0o644); err != nil {
		return err
	}
	return h.Fs.Chtimes(dst, mtime, mtime)
}

func (h *Host) copyTree(src, dst string) error {
	return afero.Walk(h.Fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return h.Fs.MkdirAll(target, 0o755)
		}
		return h.copyFile(p, target, info.ModTime())
	})
}
