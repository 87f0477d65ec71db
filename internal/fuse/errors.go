package fuse

import (
	"github.com/manualbox/manualbox/pkg/errors"
)

// errClass is the kernel-facing meaning of a facade error.
type errClass int

const (
	classOK errClass = iota
	classNotFound
	classNoAttribute
	classNotDir
	classTooLarge
	classIO
)

// classify maps a facade error to the condition the kernel is told about.
// Access denials report as plain I/O errors, never as permission errors.
func classify(err error) errClass {
	if err == nil {
		return classOK
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeFileNotFound:
		return classNotFound
	case errors.ErrCodeNoAttribute:
		return classNoAttribute
	case errors.ErrCodePathInvalid:
		return classNotDir
	case errors.ErrCodeFileTooLarge:
		return classTooLarge
	default:
		return classIO
	}
}

// packXattrNames lays out names the way listxattr returns them.
func packXattrNames(names []string) []byte {
	size := 0
	for _, name := range names {
		size += len(name) + 1
	}
	buf := make([]byte, 0, size)
	for _, name := range names {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return buf
}
