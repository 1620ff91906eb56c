package fulltext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/book"
	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

const (
	id1 = "20200101000000000"
	id2 = "20200101000000001"
	id3 = "20200101000000002"
)

type fixture struct {
	t    *testing.T
	fs   afero.Fs
	book *book.Book
	meta *book.Meta
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	return &fixture{
		t:  t,
		fs: fsys,
		book: &book.Book{
			Fs:         fsys,
			TopDir:     "/coll",
			DataDir:    "/coll",
			TreeDir:    "/coll/.wsb/tree",
			Thresholds: book.Thresholds{Meta: 262144, Toc: 4194304, Fulltext: 134217728},
		},
		meta: book.NewMeta(nil),
	}
}

func (f *fixture) item(id, index string) {
	f.t.Helper()
	require.NoError(f.t, f.meta.Set(&book.Item{ID: id, Index: index}))
	require.NoError(f.t, f.book.SaveMeta(f.meta))
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	require.NoError(f.t, afero.WriteFile(f.fs, filepath.Join("/coll", rel), []byte(content), 0o644))
}

// zip writes a container whose entries are dated in the future, so they
// always count as newer than the index.
func (f *fixture) zip(rel string, entries map[string]string) {
	f.t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now().Add(time.Hour)})
		require.NoError(f.t, err)
		_, err = w.Write([]byte(content))
		require.NoError(f.t, err)
	}
	require.NoError(f.t, zw.Close())
	f.write(rel, buf.String())
}

// setMtime moves a file's mtime relative to the current index mtime.
func (f *fixture) setMtime(rel string, delta time.Duration) {
	f.t.Helper()
	base := f.book.FulltextModified()
	if base.IsZero() {
		base = time.Now()
	}
	at := base.Add(delta)
	require.NoError(f.t, f.fs.Chtimes(filepath.Join("/coll", rel), at, at))
}

func (f *fixture) run(opts Options, ids ...string) *Result {
	f.t.Helper()
	res, err := New(f.book, opts).Run(context.Background(), ids...)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) index() *book.Fulltext {
	f.t.Helper()
	ft, err := f.book.LoadFulltext()
	require.NoError(f.t, err)
	return ft
}

func (f *fixture) text(id, sub string) (string, bool) {
	f.t.Helper()
	pages, ok := f.index().Pages(id)
	if !ok {
		return "", false
	}
	return pages.Get(sub)
}

func (f *fixture) paths(id string) []string {
	f.t.Helper()
	pages, ok := f.index().Pages(id)
	if !ok {
		return nil
	}
	return pages.Paths()
}

func defaultOptions() Options {
	return Options{InclusiveFrames: true}
}

func TestRun_SinglePage(t *testing.T) {
	// Given: one item and no existing index
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "Page content.")

	// When
	res := f.run(defaultOptions())

	// Then
	text, ok := f.text(id1, "index.html")
	require.True(t, ok)
	assert.Equal(t, "Page content.", text)
	assert.Equal(t, 1, res.Items)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Saved)
}

func TestRun_LinkedPage(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="linked.html">link</a>`)
	f.write(id1+"/linked.html", "Linked page content.")

	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html", "linked.html"}, f.paths(id1))
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "link", text)
	text, _ = f.text(id1, "linked.html")
	assert.Equal(t, "Linked page content.", text)
}

func TestRun_Idempotent(t *testing.T) {
	// Given: an indexed collection
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="linked.html">link</a>`)
	f.write(id1+"/linked.html", "Linked page content.")
	f.run(defaultOptions())

	shard := "/coll/.wsb/tree/fulltext.js"
	before, err := afero.ReadFile(f.fs, shard)
	require.NoError(t, err)
	old := time.Now().Add(-time.Minute)
	require.NoError(t, f.fs.Chtimes(shard, old, old))
	for _, rel := range []string{id1 + "/index.html", id1 + "/linked.html"} {
		at := old.Add(-time.Minute)
		require.NoError(t, f.fs.Chtimes(filepath.Join("/coll", rel), at, at))
	}

	// When: running again without changes
	res := f.run(defaultOptions())

	// Then: the shard is touched, not rewritten
	assert.Equal(t, 0, res.Saved)
	assert.Equal(t, 1, res.Touched)
	assert.Equal(t, 0, res.Updated)
	after, err := afero.ReadFile(f.fs, shard)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	info, err := f.fs.Stat(shard)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old))
}

func TestRun_StaleFilesKeepCachedText(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "Original.")
	f.run(defaultOptions())

	// Content changed but mtime not newer than the index: cached text stays.
	f.write(id1+"/index.html", "Changed.")
	f.setMtime(id1+"/index.html", -time.Second)
	f.run(defaultOptions())
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Original.", text)

	// Newer mtime: re-extracted.
	f.setMtime(id1+"/index.html", time.Hour)
	res := f.run(defaultOptions())
	text, _ = f.text(id1, "index.html")
	assert.Equal(t, "Changed.", text)
	assert.Equal(t, 1, res.Updated)
}

func TestRun_PurgeOnMissing(t *testing.T) {
	// Given: three indexed items
	f := newFixture(t)
	for _, id := range []string{id1, id2, id3} {
		f.item(id, id+"/index.html")
		f.write(id+"/index.html", "Text of "+id)
	}
	f.run(defaultOptions())
	require.Equal(t, 3, f.index().Len())

	// When: metadata removed, index emptied, file deleted
	f.meta.Table().Delete(id1)
	f.item(id2, "")
	require.NoError(t, f.fs.Remove("/coll/"+id3+"/index.html"))
	res := f.run(defaultOptions())

	// Then
	assert.Equal(t, 0, f.index().Len())
	assert.Equal(t, 3, res.Removed)
}

func TestRun_RemovedSubpath(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="linked.html">link</a>`)
	f.write(id1+"/linked.html", "Linked.")
	f.run(defaultOptions())

	require.NoError(t, f.fs.Remove("/coll/"+id1+"/linked.html"))
	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html"}, f.paths(id1))
}

func TestRun_UnreferencedButPresentSubpathIsKept(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="linked.html">link</a>`)
	f.write(id1+"/linked.html", "Linked.")
	f.run(defaultOptions())

	f.write(id1+"/index.html", "no links now")
	f.setMtime(id1+"/index.html", time.Hour)
	f.setMtime(id1+"/linked.html", -time.Hour)
	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html", "linked.html"}, f.paths(id1))
}

func TestRun_FramesInclusive(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `Top <iframe src="frame.html"></iframe> bottom`)
	f.write(id1+"/frame.html", "Framed")

	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html"}, f.paths(id1))
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Top Framed bottom", text)
}

func TestRun_FramesExclusive(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `Top <iframe src="frame.html"></iframe> bottom`)
	f.write(id1+"/frame.html", "Framed")

	f.run(Options{InclusiveFrames: false})

	assert.Equal(t, []string{"index.html", "frame.html"}, f.paths(id1))
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Top bottom", text)
	text, _ = f.text(id1, "frame.html")
	assert.Equal(t, "Framed", text)
}

func TestRun_FrameSwitchesToInlined(t *testing.T) {
	// Given: a frame indexed on its own
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `Top <frameset><frame src="frame.html"></frameset>`)
	f.write(id1+"/frame.html", "Framed")
	f.run(Options{InclusiveFrames: false})
	require.Equal(t, []string{"index.html", "frame.html"}, f.paths(id1))

	// When: the page is rescanned in inclusive mode
	f.setMtime(id1+"/index.html", time.Hour)
	f.run(defaultOptions())

	// Then: the frame lives only inside its parent
	assert.Equal(t, []string{"index.html"}, f.paths(id1))
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Top Framed", text)
}

func TestRun_InstantRefresh(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<meta http-equiv="refresh" content="0; url=target.html"><p>Redirecting...</p>`)
	f.write(id1+"/target.html", "Target body")

	f.run(defaultOptions())

	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Target body", text)
	assert.Equal(t, []string{"index.html"}, f.paths(id1))
}

func TestRun_UnsupportedTypesDropped(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="image.png">img</a><a href="notes.txt">notes</a>`)
	f.write(id1+"/image.png", "\x89PNG")
	f.write(id1+"/notes.txt", "Some   notes\n")

	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html", "notes.txt"}, f.paths(id1))
	text, _ := f.text(id1, "notes.txt")
	assert.Equal(t, "Some notes", text)
}

func TestRun_SingleEntryArchive(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+".htz")
	f.zip(id1+".htz", map[string]string{
		"index.html": `Archived <a href="sub.html">sub</a>`,
		"sub.html":   "Sub page",
	})

	f.run(defaultOptions())

	assert.Equal(t, []string{"index.html", "sub.html"}, f.paths(id1))
	text, _ := f.text(id1, "sub.html")
	assert.Equal(t, "Sub page", text)
}

func TestRun_ArchiveFastPath(t *testing.T) {
	// Given: an indexed archive
	f := newFixture(t)
	f.item(id1, id1+".htz")
	f.zip(id1+".htz", map[string]string{"index.html": "Before"})
	f.run(defaultOptions())

	// When: the archive changes but its mtime is not newer than the index
	f.zip(id1+".htz", map[string]string{"index.html": "After"})
	f.setMtime(id1+".htz", -time.Second)
	res := f.run(defaultOptions())

	// Then: the item is not rescanned
	assert.Equal(t, 1, res.Skipped)
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Before", text)

	// A newer archive is rescanned.
	f.setMtime(id1+".htz", time.Hour)
	res = f.run(defaultOptions())
	assert.Equal(t, 0, res.Skipped)
	text, _ = f.text(id1, "index.html")
	assert.Equal(t, "After", text)
}

func TestRun_NewArchiveNeverFastSkipped(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "first")
	f.run(defaultOptions())

	f.item(id2, id2+".htz")
	f.zip(id2+".htz", map[string]string{"index.html": "Old archive"})
	f.setMtime(id2+".htz", -time.Hour)
	res := f.run(defaultOptions())

	assert.Equal(t, 0, res.Skipped)
	text, _ := f.text(id2, "index.html")
	assert.Equal(t, "Old archive", text)
}

func TestRun_MultiEntryArchive(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+".maff")
	f.zip(id1+".maff", map[string]string{
		"p1/index.html": "First page",
		"p2/index.htm":  `Second <a href="../p1/other.html">x</a>`,
		"p1/other.html": "Other",
	})

	f.run(defaultOptions())

	paths := f.paths(id1)
	assert.ElementsMatch(t, []string{"p1/index.html", "p2/index.htm", "p1/other.html"}, paths)
	text, _ := f.text(id1, "p2/index.htm")
	assert.Equal(t, "Second x", text)
}

func TestRun_MultiEntryArchiveDeclaredCharset(t *testing.T) {
	// Given: a MAFF page whose index.rdf declares Big5 and an item hint that disagrees
	f := newFixture(t)
	require.NoError(t, f.meta.Set(&book.Item{ID: id1, Index: id1 + ".maff", Charset: "shift_jis"}))
	require.NoError(t, f.book.SaveMeta(f.meta))
	rdf := `<?xml version="1.0"?>
<RDF:RDF xmlns:MAF="http://maf.mozdev.org/metadata/rdf#"
         xmlns:RDF="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <RDF:Description RDF:about="urn:root">
    <MAF:indexfilename RDF:resource="index.html"/>
    <MAF:charset RDF:resource="big5"/>
  </RDF:Description>
</RDF:RDF>`
	f.zip(id1+".maff", map[string]string{
		"p1/index.rdf":  rdf,
		"p1/index.html": "\xa4\xa4\xa4\xe5 <a href=\"note.txt\">x</a>",
		"p1/note.txt":   "\xa4\xe5",
	})

	// When
	f.run(defaultOptions())

	// Then: the declared charset wins for every file of the page
	text, _ := f.text(id1, "p1/index.html")
	assert.Equal(t, "中文 x", text)
	text, _ = f.text(id1, "p1/note.txt")
	assert.Equal(t, "文", text)
}

func TestRun_CorruptArchive(t *testing.T) {
	// Given: an indexed archive that later becomes unreadable
	f := newFixture(t)
	f.item(id1, id1+".htz")
	f.zip(id1+".htz", map[string]string{"index.html": "Readable"})
	f.item(id2, id2+"/index.html")
	f.write(id2+"/index.html", "Other item")
	f.run(defaultOptions())

	f.write(id1+".htz", "garbage")
	f.setMtime(id1+".htz", time.Hour)

	var warnings []Event
	res := f.run(Options{InclusiveFrames: true, Events: func(ev Event) {
		if ev.Level == slog.LevelWarn {
			warnings = append(warnings, ev)
		}
	}})

	// Then: its entries are purged and the run goes on
	assert.Empty(t, f.paths(id1))
	text, _ := f.text(id2, "index.html")
	assert.Equal(t, "Other item", text)
	assert.Equal(t, 1, res.Warnings)
	require.Len(t, warnings, 1)
	assert.Equal(t, id1, warnings[0].Item)
}

func TestRun_ItemFilter(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "One")
	f.item(id2, id2+"/index.html")
	f.write(id2+"/index.html", "Two")

	res := f.run(defaultOptions(), id2, id2)

	assert.Equal(t, 1, res.Items)
	assert.False(t, f.index().Has(id1))
	assert.True(t, f.index().Has(id2))
}

func TestRun_Recreate(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "Original.")
	f.run(defaultOptions())

	f.write(id1+"/index.html", "Changed.")
	f.setMtime(id1+"/index.html", -time.Hour)
	f.run(Options{InclusiveFrames: true, Recreate: true})

	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Changed.", text)
}

func TestRun_CharsetHint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.Set(&book.Item{ID: id1, Index: id1 + "/index.html", Charset: "big5"}))
	require.NoError(t, f.book.SaveMeta(f.meta))
	f.write(id1+"/index.html", "\xa4\xa4\xa4\xe5")

	f.run(defaultOptions())

	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "中文", text)
}

func TestRun_MalformedDataURLIsWarning(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<a href="data:text/plain;base64,@@@">bad</a>`)

	res := f.run(defaultOptions())

	assert.Equal(t, 1, res.Warnings)
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "bad", text)
}

func TestRun_FallbackMarkupExcluded(t *testing.T) {
	// Given: a page with noscript fallback text next to another item
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `<p>Body</p><noscript>Enable JS</noscript><noframes><p>No frames</p></noframes>`)
	f.item(id2, id2+"/index.html")
	f.write(id2+"/index.html", "Other item")

	// When
	res := f.run(defaultOptions())

	// Then: the run completes and the fallback text is not indexed
	text, ok := f.text(id1, "index.html")
	require.True(t, ok)
	assert.Equal(t, "Body", text)
	text, _ = f.text(id2, "index.html")
	assert.Equal(t, "Other item", text)
	assert.Equal(t, 0, res.Errors)
}

func TestRun_UnicodeWhitespaceCollapsed(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "<p>Page&nbsp; &nbsp;content.</p>\u3000<p>\u2003More</p>")

	f.run(defaultOptions())

	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "Page content. More", text)
}

func TestRun_LenientDataURLFrame(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", `A<iframe src="data:text/html,<b>Hi there</b>"></iframe><a href="data:text/plain,100%">B</a>`)

	res := f.run(defaultOptions())

	assert.Equal(t, 0, res.Warnings)
	text, _ := f.text(id1, "index.html")
	assert.Equal(t, "A Hi there 100% B", text)
}

func TestRun_ParallelMatchesSerial(t *testing.T) {
	build := func(workers int) string {
		f := newFixture(t)
		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("202001010000000%02d", i)
			f.item(id, id+"/index.html")
			f.write(id+"/index.html", fmt.Sprintf(`Item %d <a href="a.html">a</a>`, i))
			f.write(id+"/a.html", fmt.Sprintf("Sub %d", i))
		}
		f.run(Options{InclusiveFrames: true, Workers: workers})
		data, err := afero.ReadFile(f.fs, "/coll/.wsb/tree/fulltext.js")
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, build(1), build(4))
}

func TestRun_FulltextRollover(t *testing.T) {
	f := newFixture(t)
	f.book.Thresholds.Fulltext = 10
	for _, id := range []string{id1, id2, id3} {
		f.item(id, id+"/index.html")
		f.write(id+"/index.html", "0123456789")
	}

	res := f.run(defaultOptions())

	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, 3, f.index().Len())
}

type fakeLock struct {
	acquired, released int
	err                error
}

func (l *fakeLock) Acquire(context.Context) error {
	if l.err != nil {
		return l.err
	}
	l.acquired++
	return nil
}

func (l *fakeLock) Release() error {
	l.released++
	return nil
}

func TestRun_HoldsLock(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "x")

	l := &fakeLock{}
	f.run(Options{Lock: l})
	assert.Equal(t, 1, l.acquired)
	assert.Equal(t, 1, l.released)
}

func TestRun_LockFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "x")

	lockErr := wsberrors.New(wsberrors.ErrCodeLockTimeout, "busy", nil)
	_, err := New(f.book, Options{Lock: &fakeLock{err: lockErr}}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, wsberrors.IsFatal(err))

	exists, _ := afero.Exists(f.fs, "/coll/.wsb/tree/fulltext.js")
	assert.False(t, exists)
}

func TestRun_CorruptMetaAborts(t *testing.T) {
	f := newFixture(t)
	f.write(".wsb/tree/meta.js", "scrapbook.meta({broken")

	_, err := New(f.book, defaultOptions()).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, wsberrors.ErrCodeCorruptShard, wsberrors.GetCode(err))
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(f.book, defaultOptions()).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	exists, _ := afero.Exists(f.fs, "/coll/.wsb/tree/fulltext.js")
	assert.False(t, exists)
}

func TestRun_EventsReported(t *testing.T) {
	f := newFixture(t)
	f.item(id1, id1+"/index.html")
	f.write(id1+"/index.html", "x")

	var events []Event
	f.run(Options{Events: func(ev Event) { events = append(events, ev) }})

	require.NotEmpty(t, events)
	assert.Equal(t, "indexing items", events[0].Message)
	assert.Equal(t, 1, events[0].Total)
	assert.Contains(t, events[len(events)-1].Message, "done")
}
