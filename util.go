package lsptypes

import (
	"net/url"
	"path/filepath"
)

func OrZeroValue[T any](t *T) T {
	if t == nil {
		var zero T
		return zero
	}
	return *t
}

// FilePathToURI converts an absolute file path into a file:// URI.
func FilePathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
