package extract

import (
	"mime"
	"path"
	"strings"
)

// Well-known extensions, so detection does not depend on the host's
// mime.types files.
var extTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".shtml": "text/html",
	".xhtml": "application/xhtml+xml",
	".xht":   "application/xhtml+xml",
	".txt":   "text/plain",
	".text":  "text/plain",
	".md":    "text/markdown",
	".css":   "text/css",
	".csv":   "text/csv",
	".xml":   "text/xml",
	".js":    "application/javascript",
	".json":  "application/json",
	".svg":   "image/svg+xml",
	".htz":   "application/html+zip",
	".maff":  "application/x-maff",
}

// MIMEOf guesses the media type of a sub-path from its extension.
// It returns "" when the extension is unknown.
func MIMEOf(subpath string) string {
	ext := strings.ToLower(path.Ext(subpath))
	if ext == "" {
		return ""
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return baseType(mime.TypeByExtension(ext))
}

// baseType strips parameters from a media type.
func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// IsHTML reports whether mimeType is parsed as markup.
func IsHTML(mimeType string) bool {
	return mimeType == "text/html" || mimeType == "application/xhtml+xml"
}

// IsIndexable reports whether content of mimeType yields text.
func IsIndexable(mimeType string) bool {
	return IsHTML(mimeType) || strings.HasPrefix(mimeType, "text/")
}
