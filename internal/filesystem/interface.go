// Package filesystem defines the operations a kernel bridge calls and the
// FileSystem that answers them from the in-memory store, consulting the
// access gate before file content is handed out.
//
// Every bridge (go-fuse, cgofuse) speaks to Operations with absolute
// virtual paths; none of them touch the store or the gate directly.
package filesystem

import (
	"context"
	"time"
)

// Operations is the bridge-facing set of filesystem calls.
type Operations interface {
	// Metadata
	Getattr(ctx context.Context, path string) (Attr, error)
	Chmod(ctx context.Context, path string, mode uint32) error
	Chown(ctx context.Context, path string, uid, gid uint32) error
	Utimens(ctx context.Context, path string, atime, mtime *time.Time) error
	Truncate(ctx context.Context, path string, size int64) error

	// Directories
	Readdir(ctx context.Context, path string) ([]DirEntry, error)
	Mkdir(ctx context.Context, path string, mode uint32) error
	Rmdir(ctx context.Context, path string) error

	// Files
	Create(ctx context.Context, path string, mode uint32) (uint64, error)
	Open(ctx context.Context, path string, flags int, caller Caller) (uint64, error)
	Read(ctx context.Context, path string, fh uint64, size int, offset int64, caller Caller) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, offset int64) (int, error)
	Flush(ctx context.Context, path string, fh uint64) error
	Release(ctx context.Context, path string, fh uint64) error

	// Names
	Unlink(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Symlink(ctx context.Context, path, target string) error
	Readlink(ctx context.Context, path string) (string, error)

	// Extended attributes
	GetXattr(ctx context.Context, path, name string) ([]byte, error)
	SetXattr(ctx context.Context, path, name string, value []byte) error
	ListXattr(ctx context.Context, path string) ([]string, error)
	RemoveXattr(ctx context.Context, path, name string) error

	// Filesystem
	Statfs(ctx context.Context, path string) (StatfsInfo, error)
}

// Caller identifies the process behind a request. Zero values mean the
// bridge could not tell.
type Caller struct {
	PID uint32
	UID uint32
	GID uint32
}

// Attr is what getattr reports for a path.
type Attr struct {
	Mode  uint32
	Nlink uint32
	Size  int64
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Mode uint32
}

// StatfsInfo represents filesystem statistics
type StatfsInfo struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}
