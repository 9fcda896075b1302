package utils

import (
	"path"
	"path/filepath"
	"strings"
)

// NormPath converts an OS path to the POSIX-style forward-slash form used on
// the wire and in stores.
func NormPath(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))[1:]
}

// IsValidSyncPath rejects absolute paths and any path escaping the sync root.
func IsValidSyncPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return true
}
