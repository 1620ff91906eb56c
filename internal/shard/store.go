package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

// Format describes how one logical table is written.
type Format struct {
	// Name is the file stem, e.g. "meta" for meta.js, meta1.js, ...
	Name string
	// Call is the function wrapper, e.g. "scrapbook.meta".
	Call string
	// Notice is the text of the leading comment. It may span lines.
	Notice string
	// Indent is the per-level JSON indentation.
	Indent string
}

// Weigher measures how much of the rollover threshold an entry consumes.
type Weigher func(key string, raw json.RawMessage) int

// CountEntries weighs every entry as 1.
func CountEntries(string, json.RawMessage) int { return 1 }

// Store reads and writes the shards of one table in a directory.
type Store struct {
	Fs     afero.Fs
	Dir    string
	Format Format

	// Backup is called with the path of each existing shard before it is
	// overwritten or removed. Nil disables backups.
	Backup func(path string)
}

// Path returns the file path of shard i.
func (s *Store) Path(i int) string {
	name := s.Format.Name
	if i > 0 {
		name += strconv.Itoa(i)
	}
	return filepath.Join(s.Dir, name+".js")
}

func (s *Store) exists(path string) bool {
	info, err := s.Fs.Stat(path)
	return err == nil && !info.IsDir()
}

// Files lists the contiguous existing shards, starting from shard 0.
func (s *Store) Files() []string {
	var files []string
	for i := 0; ; i++ {
		p := s.Path(i)
		if !s.exists(p) {
			return files
		}
		files = append(files, p)
	}
}

// LastModified returns the latest mtime among the contiguous shards, or
// the zero time when there are none.
func (s *Store) LastModified() time.Time {
	var last time.Time
	for _, p := range s.Files() {
		info, err := s.Fs.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(last) {
			last = info.ModTime()
		}
	}
	return last
}

// Load reads and merges all contiguous shards. Tombstoned keys are removed
// from the result.
func (s *Store) Load() (*Table, error) {
	t := NewTable()
	for _, p := range s.Files() {
		data, err := afero.ReadFile(s.Fs, p)
		if err != nil {
			return nil, wsberrors.IOError(fmt.Sprintf("failed to read %s", p), err)
		}
		part, err := decode(data)
		if err != nil {
			return nil, wsberrors.New(wsberrors.ErrCodeCorruptShard,
				fmt.Sprintf("malformed shard %s", p), err).
				WithDetail("path", p)
		}
		t.merge(part)
	}
	t.compact()
	return t, nil
}

// Save writes t as shards of at most threshold weight each, then removes
// the now unused shards that follow. Removal stops at the first missing
// index, so shards beyond a gap are left alone. It returns the number of
// shards written.
func (s *Store) Save(t *Table, threshold int, weigh Weigher) (int, error) {
	if weigh == nil {
		weigh = CountEntries
	}
	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return 0, wsberrors.New(wsberrors.ErrCodeShardWrite,
			fmt.Sprintf("failed to create %s", s.Dir), err)
	}

	written := 0
	group := NewTable()
	size := 1
	var werr error

	flush := func() bool {
		if werr = s.write(written, group); werr != nil {
			return false
		}
		written++
		group = NewTable()
		size = 0
		return true
	}

	t.Range(func(key string, raw json.RawMessage) bool {
		group.Set(key, raw)
		size += weigh(key, raw)
		if size >= threshold {
			return flush()
		}
		return true
	})
	if werr != nil {
		return written, werr
	}
	if size > 0 && !flush() {
		return written, werr
	}

	for i := written; ; i++ {
		p := s.Path(i)
		if !s.exists(p) {
			break
		}
		s.backup(p)
		if err := s.Fs.Remove(p); err != nil {
			return written, wsberrors.New(wsberrors.ErrCodeShardWrite,
				fmt.Sprintf("failed to remove %s", p), err)
		}
	}
	return written, nil
}

func (s *Store) write(i int, group *Table) error {
	p := s.Path(i)
	if s.exists(p) {
		s.backup(p)
	}
	if err := afero.WriteFile(s.Fs, p, encode(s.Format, group), 0o644); err != nil {
		return wsberrors.New(wsberrors.ErrCodeShardWrite,
			fmt.Sprintf("failed to write %s", p), err)
	}
	return nil
}

func (s *Store) backup(path string) {
	if s.Backup != nil {
		s.Backup(path)
	}
}

// Touch sets the mtime of every contiguous shard to at.
func (s *Store) Touch(at time.Time) (int, error) {
	n := 0
	for _, p := range s.Files() {
		if err := s.Fs.Chtimes(p, at, at); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return n, wsberrors.IOError(fmt.Sprintf("failed to touch %s", p), err)
		}
		n++
	}
	return n, nil
}
