// Package extract turns HTML, XHTML and plain text content into normalized
// plain text for the fulltext index.
//
// Markup is walked token by token. While walking, the extractor reports
// the in-collection resources a page links to, inlines frame content and
// data: URL payloads, and honors instant meta refresh redirects.
package extract

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Linker is the discovery pool of the item being extracted.
type Linker interface {
	// Schedule queues subpath to be indexed as a page of its own.
	Schedule(subpath string)
	// Scheduled reports whether subpath was queued as a page of its own
	// during this run.
	Scheduled(subpath string) bool
	// Inline claims subpath for inlining into the page being extracted. It
	// returns false if subpath is scheduled or was inlined already.
	Inline(subpath string) bool
	// Open returns the content of subpath.
	Open(subpath string) ([]byte, error)
}

// Extractor extracts the text of one item's resources. It is not safe for
// concurrent use.
type Extractor struct {
	links           Linker
	charset         string
	inclusiveFrames bool

	// Warn receives non-fatal problems such as malformed data: URLs.
	Warn func(subpath string, err error)
	// Charset, when set, returns a charset declared for subpath that
	// overrides the item's hint.
	Charset func(subpath string) string

	active   map[string]bool
	readonly int
}

// New returns an extractor for an item with the given charset hint.
func New(links Linker, charset string, inclusiveFrames bool) *Extractor {
	return &Extractor{
		links:           links,
		charset:         charset,
		inclusiveFrames: inclusiveFrames,
		active:          make(map[string]bool),
	}
}

// Extract returns the text of the resource at subpath. ok is false when
// the resource's type cannot be indexed.
func (x *Extractor) Extract(subpath string, data []byte) (text string, ok bool) {
	return x.extractPath(subpath, data)
}

func (x *Extractor) extractPath(subpath string, data []byte) (string, bool) {
	x.active[subpath] = true
	defer delete(x.active, subpath)
	return x.extract(subpath, true, data, MIMEOf(subpath), x.hint(subpath))
}

func (x *Extractor) hint(subpath string) string {
	if x.Charset != nil {
		if cs := x.Charset(subpath); cs != "" {
			return cs
		}
	}
	return x.charset
}

// extract dispatches on media type. base is the sub-path the content was
// read from; relative references are only followed when local is true.
func (x *Extractor) extract(base string, local bool, data []byte, mimeType, hint string) (string, bool) {
	if !IsIndexable(mimeType) {
		return "", false
	}
	if IsHTML(mimeType) {
		return x.html(base, local, DecodeHTML(data, hint)), true
	}
	return Normalize(DecodeText(data, hint)), true
}

func (x *Extractor) warn(subpath string, err error) {
	if x.Warn != nil {
		x.Warn(subpath, err)
	}
}

// dataText extracts the payload of a data: URL found in base.
func (x *Extractor) dataText(base, ref string) string {
	res, err := ParseDataURL(ref)
	if err != nil {
		x.warn(base, err)
		return ""
	}
	hint := res.Charset
	if hint == "" {
		hint = x.hint(base)
	}
	text, _ := x.extract(base, false, res.Data, res.MIME, hint)
	return text
}

// inlineText extracts a local resource in place. The resource's own
// discoveries are recorded unless the extractor is in read-only mode.
func (x *Extractor) inlineText(target string) string {
	data, err := x.links.Open(target)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			x.warn(target, err)
		}
		return ""
	}
	text, _ := x.extractPath(target, data)
	return text
}

func (x *Extractor) schedule(target string) {
	if x.readonly == 0 {
		x.links.Schedule(target)
	}
}

func (x *Extractor) claim(target string) bool {
	if x.readonly > 0 {
		return !x.links.Scheduled(target)
	}
	return x.links.Inline(target)
}

type refresh struct {
	delay    float64
	url      string
	excluded bool
}

type refreshScan struct {
	found []refresh
}

func (r *refreshScan) tag(tok html.Token, excluded bool) {
	if tok.Data != "meta" {
		return
	}
	equiv, _ := attr(tok, "http-equiv")
	if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
		return
	}
	content, ok := attr(tok, "content")
	if !ok {
		return
	}
	if delay, url, ok := ParseRefresh(content); ok {
		r.found = append(r.found, refresh{delay: delay, url: url, excluded: excluded})
	}
}

func (r *refreshScan) text(string, bool) {}

// ParseRefresh parses the content of a meta refresh: a delay in seconds,
// optionally followed by ";" or "," and an optional "url=" before the
// target.
func ParseRefresh(content string) (delay float64, url string, ok bool) {
	s := strings.TrimSpace(content)
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	delay, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, "", false
	}

	rest := strings.TrimLeft(s[i:], " \t\r\n\f")
	if rest != "" && (rest[0] == ';' || rest[0] == ',') {
		rest = strings.TrimLeft(rest[1:], " \t\r\n\f")
	}
	if len(rest) >= 3 && strings.EqualFold(rest[:3], "url") {
		if after := strings.TrimLeft(rest[3:], " \t\r\n\f"); strings.HasPrefix(after, "=") {
			rest = strings.TrimLeft(after[1:], " \t\r\n\f")
		}
	}
	if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') {
		if j := strings.IndexByte(rest[1:], rest[0]); j >= 0 {
			rest = rest[1 : j+1]
		}
	}
	return delay, strings.TrimSpace(rest), true
}

// bodyScan collects the visible text of a page.
type bodyScan struct {
	x      *Extractor
	base   string
	local  bool
	chunks []string
}

func (b *bodyScan) tag(tok html.Token, excluded bool) {
	if excluded {
		return
	}
	switch tok.Data {
	case "a", "area":
		if href, ok := attr(tok, "href"); ok {
			b.link(href)
		}
	case "iframe", "frame":
		if src, ok := attr(tok, "src"); ok {
			b.frame(src)
		}
	}
}

func (b *bodyScan) text(s string, excluded bool) {
	if !excluded {
		b.chunks = append(b.chunks, s)
	}
}

func (b *bodyScan) add(text string) {
	if text != "" {
		b.chunks = append(b.chunks, text)
	}
}

func (b *bodyScan) link(ref string) {
	if IsDataURL(ref) {
		b.add(b.x.dataText(b.base, ref))
		return
	}
	if !b.local {
		return
	}
	if target, ok := Resolve(b.base, ref); ok {
		b.x.schedule(target)
	}
}

func (b *bodyScan) frame(ref string) {
	if IsDataURL(ref) {
		b.add(b.x.dataText(b.base, ref))
		return
	}
	if !b.local {
		return
	}
	target, ok := Resolve(b.base, ref)
	if !ok {
		return
	}
	if !b.x.inclusiveFrames {
		b.x.schedule(target)
		return
	}
	if b.x.active[target] || !b.x.claim(target) {
		return
	}
	b.add(b.x.inlineText(target))
}

// html extracts a decoded markup document.
func (x *Extractor) html(base string, local bool, doc string) string {
	scan := &refreshScan{}
	walk(doc, scan)

	instant := false
	for _, r := range scan.found {
		if r.delay == 0 && !r.excluded {
			instant = true
			break
		}
	}

	body := &bodyScan{x: x, base: base, local: local}
	for _, r := range scan.found {
		if r.url == "" {
			continue
		}
		if IsDataURL(r.url) {
			body.add(x.dataText(base, r.url))
			continue
		}
		if !local {
			continue
		}
		target, ok := Resolve(base, r.url)
		if !ok {
			continue
		}
		if !instant {
			x.schedule(target)
			continue
		}
		body.add(x.follow(target))
	}
	if instant {
		return join(body.chunks)
	}

	walk(doc, body)
	return join(body.chunks)
}

// follow extracts the target of an instant redirect. A target already
// scheduled as its own page is read without touching the pool.
func (x *Extractor) follow(target string) string {
	if x.active[target] {
		return ""
	}
	if x.claim(target) {
		return x.inlineText(target)
	}
	x.readonly++
	defer func() { x.readonly-- }()
	return x.inlineText(target)
}
