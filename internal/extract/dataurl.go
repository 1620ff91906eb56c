package extract

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/vincent-petithory/dataurl"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

// DataResource is the decoded payload of a data: URL.
type DataResource struct {
	MIME string
	// Charset is empty when the URL declares none.
	Charset string
	Data    []byte
}

// ParseDataURL decodes a data: URL. URLs the strict RFC 2397 parser
// rejects, such as ones with raw spaces or a stray '%', are decoded the
// way browsers do.
func ParseDataURL(ref string) (*DataResource, error) {
	ref = strings.TrimSpace(ref)
	du, err := dataurl.DecodeString(ref)
	if err == nil {
		_, charset := dataHeader(ref)
		return &DataResource{
			MIME:    strings.ToLower(du.MediaType.ContentType()),
			Charset: charset,
			Data:    du.Data,
		}, nil
	}
	if res, lerr := parseDataLenient(ref); lerr == nil {
		return res, nil
	}
	msg := ref
	if len(msg) > 64 {
		msg = msg[:64] + "..."
	}
	return nil, wsberrors.New(wsberrors.ErrCodeInvalidDataURL, "malformed data URL: "+msg, err)
}

var errNotDataURL = errors.New("not a data URL")

func parseDataLenient(ref string) (*DataResource, error) {
	if len(ref) < 5 || !strings.EqualFold(ref[:5], "data:") {
		return nil, errNotDataURL
	}
	header, payload, ok := strings.Cut(ref[5:], ",")
	if !ok {
		return nil, errNotDataURL
	}
	mimeType, charset := dataHeader(ref)
	data := percentDecode(payload)
	if isBase64(header) {
		raw := strings.Map(func(r rune) rune {
			if isSpace(r) {
				return -1
			}
			return r
		}, string(data))
		var err error
		if data, err = base64.StdEncoding.DecodeString(raw); err != nil {
			if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "=")); err != nil {
				return nil, err
			}
		}
	}
	return &DataResource{MIME: mimeType, Charset: charset, Data: data}, nil
}

// dataHeader returns the media type and charset declared before the first
// comma of a data: URL. The media type defaults to text/plain.
func dataHeader(ref string) (mimeType, charset string) {
	mimeType = "text/plain"
	if len(ref) < 5 {
		return mimeType, ""
	}
	header, _, _ := strings.Cut(ref[5:], ",")
	for i, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if i == 0 {
			if strings.Contains(part, "/") {
				mimeType = strings.ToLower(part)
			}
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok && strings.EqualFold(strings.TrimSpace(k), "charset") {
			charset = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return mimeType, charset
}

func isBase64(header string) bool {
	parts := strings.Split(header, ";")
	return len(parts) > 1 && strings.EqualFold(strings.TrimSpace(parts[len(parts)-1]), "base64")
}

// percentDecode decodes %XX escapes and leaves malformed ones as is.
func percentDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}
