package extract

import (
	"net/url"
	"path"
	"strings"
)

// Resolve turns a reference found in the page at base into a sub-path of
// the same content root. It returns false for references that carry a
// scheme or host, are root-relative, are empty after dropping the query and
// fragment, or point outside the root.
func Resolve(base, ref string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return "", false
	}
	p := u.Path
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}

	target := path.Clean(path.Join(path.Dir(base), p))
	if target == "." || target == ".." || strings.HasPrefix(target, "../") {
		return "", false
	}
	return target, true
}

// IsDataURL reports whether ref is a data: URL.
func IsDataURL(ref string) bool {
	ref = strings.TrimSpace(ref)
	return len(ref) >= 5 && strings.EqualFold(ref[:5], "data:")
}
