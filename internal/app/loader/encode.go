package loader

import (
	"net/url"
	"strings"
)

// EncodeSource escapes the path of a source URI segment by segment. Each
// segment is decoded first, so an already escaped URI comes back unchanged.
// Scheme, host, query and fragment are kept as given.
func EncodeSource(raw string) string {
	prefix, rest := "", raw
	if i := strings.Index(raw, "://"); i >= 0 {
		j := strings.IndexByte(raw[i+3:], '/')
		if j < 0 {
			return raw
		}
		prefix, rest = raw[:i+3+j], raw[i+3+j:]
	}

	suffix := ""
	if k := strings.IndexAny(rest, "?#"); k >= 0 {
		rest, suffix = rest[:k], rest[k:]
	}

	segments := strings.Split(rest, "/")
	for i, s := range segments {
		if decoded, err := url.PathUnescape(s); err == nil {
			s = decoded
		}
		segments[i] = url.PathEscape(s)
	}
	return prefix + strings.Join(segments, "/") + suffix
}
