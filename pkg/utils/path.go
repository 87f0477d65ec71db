package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Virtual paths are slash separated, absolute, and never end in a slash
// except for the root itself.

// ValidatePath checks that p is a clean absolute virtual path.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path must be absolute: %s", p)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("path is not clean: %s", p)
	}
	return nil
}

// JoinPath returns the virtual path of name inside dir.
func JoinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// ParentPath returns the directory containing p. The root is its own parent.
func ParentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// BaseName returns the last element of p.
func BaseName(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// ChildName reports whether p is a direct child of dir and returns its
// name. A prefix scan over flat path keys gives the directory listing.
func ChildName(dir, p string) (string, bool) {
	prefix := dir
	if dir != "/" {
		prefix = dir + "/"
	}
	if p == dir || !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := p[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// DisplayPath maps a virtual path onto the host path under mountPoint, the
// form shown to the person deciding on access.
func DisplayPath(mountPoint, p string) string {
	return filepath.Join(mountPoint, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}
