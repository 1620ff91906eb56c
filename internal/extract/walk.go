package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// excludedTags contribute no text of their own.
var excludedTags = map[string]bool{
	"title": true, "style": true, "script": true,
	"frame": true, "iframe": true, "object": true, "applet": true,
	"audio": true, "video": true, "canvas": true,
	"noframes": true, "noscript": true, "noembed": true,
	"svg": true, "math": true,
}

// rawTags are read by the tokenizer as raw text up to their end tag, even
// when written as self-closing.
var rawTags = map[string]bool{
	"title": true, "style": true, "script": true, "iframe": true,
	"noframes": true, "noscript": true, "noembed": true,
}

// markupTags hold fallback markup that the tokenizer reads as raw text.
// Their content is tokenized once more so nested tags are still seen.
var markupTags = map[string]bool{
	"noscript": true, "noframes": true, "noembed": true,
}

// voidTags never have an end tag.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"frame": true, "hr": true, "img": true, "input": true, "link": true,
	"meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

type visitor interface {
	// tag is called for each start tag. excluded tells whether the tag
	// lies inside an excluded element.
	tag(tok html.Token, excluded bool)
	text(s string, excluded bool)
}

// walker tokenizes a document and tracks the stack of open excluded
// elements.
type walker struct {
	stack []string
}

func walk(doc string, v visitor) {
	w := &walker{}
	w.run(doc, v, false)
}

func (w *walker) top() string {
	if len(w.stack) == 0 {
		return ""
	}
	return w.stack[len(w.stack)-1]
}

// run tokenizes doc. nested is set while re-tokenizing the content of a
// markup tag, whose text is then always excluded and never tokenized again.
func (w *walker) run(doc string, v visitor, nested bool) {
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return

		case html.TextToken:
			text := string(z.Text())
			if !nested && markupTags[w.top()] {
				w.run(text, v, true)
				continue
			}
			v.text(text, len(w.stack) > 0)

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			v.tag(tok, len(w.stack) > 0)
			if !excludedTags[tok.Data] || voidTags[tok.Data] {
				continue
			}
			if tt == html.StartTagToken || rawTags[tok.Data] {
				w.stack = append(w.stack, tok.Data)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			w.pop(string(name))
		}
	}
}

// pop closes the innermost open excluded element named name, along with
// anything opened inside it.
func (w *walker) pop(name string) {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if w.stack[i] == name {
			w.stack = w.stack[:i]
			return
		}
	}
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
