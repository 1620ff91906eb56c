package book

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/shard"
)

func newTestBook(fsys afero.Fs) *Book {
	return &Book{
		ID:         "",
		Name:       "scrapbook",
		Fs:         fsys,
		TopDir:     "/coll",
		DataDir:    "/coll",
		TreeDir:    "/coll/.wsb/tree",
		Thresholds: Thresholds{Meta: 262144, Toc: 4194304, Fulltext: 134217728},
	}
}

func TestMeta_Item(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/coll/.wsb/tree/meta.js", []byte(`scrapbook.meta({
  "20200101000000000": {"index": "20200101000000000/index.html", "title": "A", "charset": "big5"},
  "20200101000000001": {"type": "folder"},
  "20200101000000002": "broken"
})`), 0o644))

	m, err := newTestBook(fsys).LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	item, ok := m.Item("20200101000000000")
	require.True(t, ok)
	assert.Equal(t, "20200101000000000", item.ID)
	assert.Equal(t, "20200101000000000/index.html", item.Index)
	assert.Equal(t, "big5", item.Charset)

	folder, ok := m.Item("20200101000000001")
	require.True(t, ok)
	assert.Equal(t, "folder", folder.Type)
	assert.Empty(t, folder.Index)

	_, ok = m.Item("20200101000000002")
	assert.False(t, ok)
	_, ok = m.Item("missing")
	assert.False(t, ok)
}

func TestBook_SaveMeta_Rollover(t *testing.T) {
	// Given: four items and a threshold of three
	fsys := afero.NewMemMapFs()
	b := newTestBook(fsys)
	b.Thresholds.Meta = 3
	for _, i := range []int{2, 3} {
		require.NoError(t, afero.WriteFile(fsys, b.MetaStore().Path(i), []byte("scrapbook.meta({})"), 0o644))
	}
	require.NoError(t, afero.WriteFile(fsys, b.MetaStore().Path(5), []byte("scrapbook.meta({})"), 0o644))

	m := NewMeta(nil)
	for i := 1; i <= 4; i++ {
		require.NoError(t, m.Set(&Item{ID: fmt.Sprintf("2020010100000000%d", i), Index: fmt.Sprintf("2020010100000000%d/index.html", i)}))
	}

	// When
	require.NoError(t, b.SaveMeta(m))

	// Then
	files := b.MetaStore().Files()
	assert.Equal(t, []string{"/coll/.wsb/tree/meta.js", "/coll/.wsb/tree/meta1.js"}, files)
	exists, _ := afero.Exists(fsys, b.MetaStore().Path(5))
	assert.True(t, exists)

	loaded, err := b.LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, m.IDs(), loaded.IDs())
}

func TestBook_Toc(t *testing.T) {
	fsys := afero.NewMemMapFs()
	b := newTestBook(fsys)
	b.Thresholds.Toc = 4

	toc := shard.NewTable()
	toc.Set("root", json.RawMessage(`["a","b","c"]`))
	toc.Set("a", json.RawMessage(`["a1"]`))
	toc.Set("b", json.RawMessage(`["b1"]`))
	require.NoError(t, b.SaveToc(toc))

	assert.Len(t, b.TocStore().Files(), 2)

	loaded, err := b.LoadToc()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "a", "b"}, loaded.Keys())
}

func TestBook_Fulltext_RoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	b := newTestBook(fsys)

	ft := NewFulltext()
	p := NewPages()
	p.Set("index.html", "Page content.")
	p.Set("linked.html", "中文 <b>")
	ft.Set("20200101000000000", p)

	n, err := b.SaveFulltext(ft)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := afero.ReadFile(fsys, "/coll/.wsb/tree/fulltext.js")
	require.NoError(t, err)
	assert.Equal(t, "/**\n"+
		" * This file is generated by WebScrapBook and is not intended to be edited.\n"+
		" * Create fulltext.js.override.js for customization.\n"+
		" */\n"+
		"scrapbook.fulltext({\n"+
		" \"20200101000000000\": {\n"+
		"  \"index.html\": {\n"+
		"   \"content\": \"Page content.\"\n"+
		"  },\n"+
		"  \"linked.html\": {\n"+
		"   \"content\": \"中文 <b>\"\n"+
		"  }\n"+
		" }\n"+
		"})", string(data))

	loaded, err := b.LoadFulltext()
	require.NoError(t, err)
	assert.True(t, ft.Equal(loaded))
	pages, ok := loaded.Pages("20200101000000000")
	require.True(t, ok)
	assert.Equal(t, []string{"index.html", "linked.html"}, pages.Paths())
}

func TestBook_Fulltext_RolloverByTextLength(t *testing.T) {
	fsys := afero.NewMemMapFs()
	b := newTestBook(fsys)
	b.Thresholds.Fulltext = 10

	ft := NewFulltext()
	for _, id := range []string{"a", "b", "c"} {
		p := NewPages()
		p.Set("index.html", "12345678")
		ft.Set(id, p)
	}

	// 1 + 8 + 8 crosses the threshold after the second item.
	n, err := b.SaveFulltext(ft)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := b.LoadFulltext()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, loaded.IDs())
}

func TestBook_LoadFulltext_Malformed(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/coll/.wsb/tree/fulltext.js",
		[]byte(`scrapbook.fulltext({"a": ["not", "pages"]})`), 0o644))

	_, err := newTestBook(fsys).LoadFulltext()
	assert.Error(t, err)
}

func TestFulltext_CloneAndEqual(t *testing.T) {
	ft := NewFulltext()
	p := NewPages()
	p.Set("index.html", "x")
	ft.Set("a", p)

	c := ft.Clone()
	assert.True(t, ft.Equal(c))

	cp, _ := c.Pages("a")
	cp.Set("index.html", "y")
	assert.False(t, ft.Equal(c))

	orig, _ := ft.Pages("a")
	text, _ := orig.Get("index.html")
	assert.Equal(t, "x", text)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 0, c.Len())
}

func TestBook_IndexPath(t *testing.T) {
	b := newTestBook(afero.NewMemMapFs())
	assert.Equal(t, "/coll/20200101000000000/index.html", b.IndexPath(&Item{Index: "20200101000000000/index.html"}))
}
