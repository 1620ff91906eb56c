package extract

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// legacyAliases maps labels that older capture tools wrote to the
// superset encoding the content was actually produced with.
var legacyAliases = map[string]string{
	"gb2312":     "gb18030",
	"gbk":        "gb18030",
	"x-gbk":      "gb18030",
	"big5hkscs":  "big5",
	"big5-hkscs": "big5",
	"cp932":      "shift_jis",
	"ms932":      "shift_jis",
	"cp949":      "euc-kr",
	"ms949":      "euc-kr",
	"cp1252":     "windows-1252",
	"latin1":     "windows-1252",
}

// lookupEncoding resolves a charset label. It returns nil for unknown
// labels.
func lookupEncoding(label string) encoding.Encoding {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return nil
	}
	if alias, ok := legacyAliases[label]; ok {
		label = alias
	}
	e, _ := charset.Lookup(label)
	return e
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// sniffBOM returns the encoding named by a byte-order mark and the content
// without it.
func sniffBOM(data []byte) (encoding.Encoding, []byte) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return unicode.UTF8, data[len(bomUTF8):]
	case bytes.HasPrefix(data, bomUTF16LE):
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), data[len(bomUTF16LE):]
	case bytes.HasPrefix(data, bomUTF16BE):
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), data[len(bomUTF16BE):]
	}
	return nil, data
}

// decode converts data to a UTF-8 string. Bytes invalid in the chosen
// encoding become U+FFFD.
func decode(e encoding.Encoding, data []byte) string {
	if e == nil {
		e = unicode.UTF8
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}
	return strings.ToValidUTF8(string(out), string(utf8.RuneError))
}

// DecodeText decodes plain text: BOM first, then the hint, then UTF-8.
func DecodeText(data []byte, hint string) string {
	e, rest := sniffBOM(data)
	if e == nil {
		e = lookupEncoding(hint)
	}
	return decode(e, rest)
}

// DecodeHTML decodes a markup document: BOM first, then a charset declared
// by a meta element, then the hint, then UTF-8.
func DecodeHTML(data []byte, hint string) string {
	e, rest := sniffBOM(data)
	if e == nil {
		e = lookupEncoding(metaCharset(rest))
	}
	if e == nil {
		e = lookupEncoding(hint)
	}
	return decode(e, rest)
}

// metaCharset scans the document head for <meta charset> or
// <meta http-equiv="content-type" content="...; charset=...">.
func metaCharset(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "body":
				return ""
			case "meta":
				if cs := charsetFromMeta(tok); cs != "" {
					return cs
				}
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return ""
			}
		}
	}
}

func charsetFromMeta(tok html.Token) string {
	var httpEquiv, content string
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "charset":
			if v := strings.TrimSpace(a.Val); v != "" {
				return v
			}
		case "http-equiv":
			httpEquiv = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = a.Val
		}
	}
	if httpEquiv != "content-type" || content == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(content); err == nil {
		return params["charset"]
	}
	lower := strings.ToLower(content)
	if i := strings.Index(lower, "charset="); i >= 0 {
		v := content[i+len("charset="):]
		if j := strings.IndexAny(v, "; "); j >= 0 {
			v = v[:j]
		}
		return strings.Trim(v, `"'`)
	}
	return ""
}
