// Package book models one book of a collection: where its data and tree
// directories live and how its metadata, outline and fulltext tables are
// read and written.
package book

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/shard"
)

const (
	// EditableNotice heads the hand-editable meta and toc shards.
	EditableNotice = "Feel free to edit this file, but keep data code valid JSON format."
	// GeneratedNotice heads the fulltext shards.
	GeneratedNotice = "This file is generated by WebScrapBook and is not intended to be edited.\nCreate fulltext.js.override.js for customization."
)

// Table formats.
var (
	MetaFormat     = shard.Format{Name: "meta", Call: "scrapbook.meta", Notice: EditableNotice, Indent: "  "}
	TocFormat      = shard.Format{Name: "toc", Call: "scrapbook.toc", Notice: EditableNotice, Indent: "  "}
	FulltextFormat = shard.Format{Name: "fulltext", Call: "scrapbook.fulltext", Notice: GeneratedNotice, Indent: " "}
)

// Thresholds bound the weight of each shard file.
type Thresholds struct {
	Meta     int
	Toc      int
	Fulltext int
}

// Item is the part of an item's metadata the indexer reads.
type Item struct {
	ID      string `json:"-"`
	Type    string `json:"type,omitempty"`
	Index   string `json:"index,omitempty"`
	Charset string `json:"charset,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Meta is the loaded metadata table.
type Meta struct {
	table *shard.Table
}

// NewMeta wraps a metadata table.
func NewMeta(t *shard.Table) *Meta {
	if t == nil {
		t = shard.NewTable()
	}
	return &Meta{table: t}
}

// IDs returns the item ids in order.
func (m *Meta) IDs() []string { return m.table.Keys() }

// Len returns the number of items.
func (m *Meta) Len() int { return m.table.Len() }

// Table returns the underlying table.
func (m *Meta) Table() *shard.Table { return m.table }

// Item returns the metadata of item id. A record that is not an object is
// reported as missing.
func (m *Meta) Item(id string) (*Item, bool) {
	raw, ok := m.table.Get(id)
	if !ok {
		return nil, false
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false
	}
	item.ID = id
	return &item, true
}

// Set stores the metadata of an item.
func (m *Meta) Set(item *Item) error {
	raw, err := shard.Marshal(item)
	if err != nil {
		return err
	}
	m.table.Set(item.ID, raw)
	return nil
}

// Book is one book of a collection. Directories are absolute.
type Book struct {
	ID      string
	Name    string
	Fs      afero.Fs
	TopDir  string
	DataDir string
	TreeDir string

	Thresholds Thresholds

	// Backup is called before a shard file is overwritten or removed.
	Backup func(path string)
}

func (b *Book) store(f shard.Format) *shard.Store {
	return &shard.Store{Fs: b.Fs, Dir: b.TreeDir, Format: f, Backup: b.Backup}
}

// MetaStore returns the store of the metadata table.
func (b *Book) MetaStore() *shard.Store { return b.store(MetaFormat) }

// TocStore returns the store of the outline table.
func (b *Book) TocStore() *shard.Store { return b.store(TocFormat) }

// FulltextStore returns the store of the fulltext table.
func (b *Book) FulltextStore() *shard.Store { return b.store(FulltextFormat) }

// IndexPath returns the absolute path of an item's index file.
func (b *Book) IndexPath(item *Item) string {
	return filepath.Join(b.DataDir, filepath.FromSlash(item.Index))
}

// LoadMeta loads the metadata table.
func (b *Book) LoadMeta() (*Meta, error) {
	t, err := b.MetaStore().Load()
	if err != nil {
		return nil, err
	}
	return NewMeta(t), nil
}

// SaveMeta writes the metadata table.
func (b *Book) SaveMeta(m *Meta) error {
	_, err := b.MetaStore().Save(m.table, b.Thresholds.Meta, shard.CountEntries)
	return err
}

// LoadToc loads the outline table: parent id to ordered child ids.
func (b *Book) LoadToc() (*shard.Table, error) {
	return b.TocStore().Load()
}

// SaveToc writes the outline table. Shards roll over by the total number
// of referenced children.
func (b *Book) SaveToc(t *shard.Table) error {
	_, err := b.TocStore().Save(t, b.Thresholds.Toc, tocWeight)
	return err
}

func tocWeight(_ string, raw json.RawMessage) int {
	var children []json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return 1
	}
	return len(children)
}

// LoadFulltext loads the fulltext index.
func (b *Book) LoadFulltext() (*Fulltext, error) {
	t, err := b.FulltextStore().Load()
	if err != nil {
		return nil, err
	}
	f, err := FulltextFromTable(t)
	if err != nil {
		return nil, wsberrors.New(wsberrors.ErrCodeCorruptShard, "malformed fulltext index", err)
	}
	return f, nil
}

// SaveFulltext writes the fulltext index. Shards roll over by the amount
// of indexed text. It returns the number of shards written.
func (b *Book) SaveFulltext(f *Fulltext) (int, error) {
	t, weights, err := f.Table()
	if err != nil {
		return 0, wsberrors.InternalError("failed to encode fulltext index", err)
	}
	weigh := func(id string, _ json.RawMessage) int { return weights[id] }
	return b.FulltextStore().Save(t, b.Thresholds.Fulltext, weigh)
}

// TouchFulltext refreshes the mtime of every fulltext shard.
func (b *Book) TouchFulltext(at time.Time) (int, error) {
	return b.FulltextStore().Touch(at)
}

// FulltextModified returns the latest fulltext shard mtime, or the zero
// time when the index does not exist.
func (b *Book) FulltextModified() time.Time {
	return b.FulltextStore().LastModified()
}
