//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/manualbox/manualbox/internal/filesystem"
)

// CgoFuseFS adapts Operations to the path-based cgofuse interface used on
// macOS and Windows.
type CgoFuseFS struct {
	fuse.FileSystemBase

	ops   filesystem.Operations
	ready chan struct{}
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(ops filesystem.Operations) *CgoFuseFS {
	return &CgoFuseFS{
		ops:   ops,
		ready: make(chan struct{}),
	}
}

// toStatus converts a facade error to a negated cgofuse errno.
func toStatus(err error) int {
	switch classify(err) {
	case classOK:
		return 0
	case classNotFound:
		return -fuse.ENOENT
	case classNoAttribute:
		return -fuse.ENOATTR
	case classNotDir:
		return -fuse.ENOTDIR
	case classTooLarge:
		return -fuse.EFBIG
	default:
		return -fuse.EIO
	}
}

func cgoCaller() filesystem.Caller {
	uid, gid, pid := fuse.Getcontext()
	if pid < 0 {
		pid = 0
	}
	return filesystem.Caller{PID: uint32(pid), UID: uid, GID: gid}
}

func fillStat(attr filesystem.Attr, stat *fuse.Stat_t) {
	stat.Mode = attr.Mode
	stat.Nlink = attr.Nlink
	stat.Size = attr.Size
	stat.Uid = attr.UID
	stat.Gid = attr.GID
	stat.Atim = fuse.NewTimespec(attr.Atime)
	stat.Mtim = fuse.NewTimespec(attr.Mtime)
	stat.Ctim = fuse.NewTimespec(attr.Ctime)
	stat.Birthtim = stat.Ctim
	stat.Blksize = 512
	stat.Blocks = (attr.Size + 511) / 512
}

// Init is called once the host has mounted the filesystem.
func (c *CgoFuseFS) Init() {
	close(c.ready)
}

// Statfs reports capacity.
func (c *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	info, err := c.ops.Statfs(context.Background(), path)
	if err != nil {
		return toStatus(err)
	}
	stat.Bsize = uint64(info.BlockSize)
	stat.Frsize = uint64(info.BlockSize)
	stat.Blocks = info.Blocks
	stat.Bfree = info.BlocksFree
	stat.Bavail = info.BlocksAvail
	stat.Files = info.Files
	stat.Ffree = info.FilesFree
	stat.Favail = info.FilesFree
	stat.Namemax = uint64(info.NameMax)
	return 0
}

// Getattr gets file attributes
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	attr, err := c.ops.Getattr(context.Background(), path)
	if err != nil {
		return toStatus(err)
	}
	fillStat(attr, stat)
	return 0
}

// Mkdir creates a directory.
func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return toStatus(c.ops.Mkdir(context.Background(), path, mode))
}

// Rmdir removes a directory.
func (c *CgoFuseFS) Rmdir(path string) int {
	return toStatus(c.ops.Rmdir(context.Background(), path))
}

// Unlink removes a file.
func (c *CgoFuseFS) Unlink(path string) int {
	return toStatus(c.ops.Unlink(context.Background(), path))
}

// Symlink creates newpath pointing at target.
func (c *CgoFuseFS) Symlink(target string, newpath string) int {
	return toStatus(c.ops.Symlink(context.Background(), newpath, target))
}

// Readlink returns a link target.
func (c *CgoFuseFS) Readlink(path string) (int, string) {
	target, err := c.ops.Readlink(context.Background(), path)
	if err != nil {
		return toStatus(err), ""
	}
	return 0, target
}

// Rename moves a path.
func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return toStatus(c.ops.Rename(context.Background(), oldpath, newpath))
}

// Chmod changes permission bits.
func (c *CgoFuseFS) Chmod(path string, mode uint32) int {
	return toStatus(c.ops.Chmod(context.Background(), path, mode))
}

// Chown changes ownership. An id of ^uint32(0) leaves that id unchanged.
func (c *CgoFuseFS) Chown(path string, uid uint32, gid uint32) int {
	ctx := context.Background()
	if uid == ^uint32(0) || gid == ^uint32(0) {
		cur, err := c.ops.Getattr(ctx, path)
		if err != nil {
			return toStatus(err)
		}
		if uid == ^uint32(0) {
			uid = cur.UID
		}
		if gid == ^uint32(0) {
			gid = cur.GID
		}
	}
	return toStatus(c.ops.Chown(ctx, path, uid, gid))
}

// Utimens sets access and modification times. A nil tmsp means now.
func (c *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	var atime, mtime *time.Time
	if len(tmsp) == 2 {
		a, m := tmsp[0].Time(), tmsp[1].Time()
		atime, mtime = &a, &m
	}
	return toStatus(c.ops.Utimens(context.Background(), path, atime, mtime))
}

// Create makes and opens a file.
func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	fh, err := c.ops.Create(context.Background(), path, mode)
	if err != nil {
		return toStatus(err), ^uint64(0)
	}
	return 0, fh
}

// Open opens a file, authorizing it first under the open policy.
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	fh, err := c.ops.Open(context.Background(), path, flags, cgoCaller())
	if err != nil {
		return toStatus(err), ^uint64(0)
	}
	return 0, fh
}

// Truncate resizes a file.
func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return toStatus(c.ops.Truncate(context.Background(), path, size))
}

// Read reads from a file
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	data, err := c.ops.Read(context.Background(), path, fh, len(buff), ofst, cgoCaller())
	if err != nil {
		return toStatus(err)
	}
	return copy(buff, data)
}

// Write writes to a file
func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := c.ops.Write(context.Background(), path, buff, ofst)
	if err != nil {
		return toStatus(err)
	}
	return n
}

// Flush is called on close.
func (c *CgoFuseFS) Flush(path string, fh uint64) int {
	return toStatus(c.ops.Flush(context.Background(), path, fh))
}

// Release closes a file
func (c *CgoFuseFS) Release(path string, fh uint64) int {
	return toStatus(c.ops.Release(context.Background(), path, fh))
}

// Readdir reads directory contents
func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, err := c.ops.Readdir(context.Background(), path)
	if err != nil {
		return toStatus(err)
	}
	for _, e := range entries {
		stat := &fuse.Stat_t{Mode: e.Mode}
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

// Setxattr sets an extended attribute.
func (c *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	return toStatus(c.ops.SetXattr(context.Background(), path, name, value))
}

// Getxattr returns an extended attribute.
func (c *CgoFuseFS) Getxattr(path string, name string) (int, []byte) {
	value, err := c.ops.GetXattr(context.Background(), path, name)
	if err != nil {
		return toStatus(err), nil
	}
	return 0, value
}

// Removexattr deletes an extended attribute.
func (c *CgoFuseFS) Removexattr(path string, name string) int {
	return toStatus(c.ops.RemoveXattr(context.Background(), path, name))
}

// Listxattr lists extended attribute names.
func (c *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	names, err := c.ops.ListXattr(context.Background(), path)
	if err != nil {
		return toStatus(err)
	}
	for _, name := range names {
		if !fill(name) {
			return -fuse.ERANGE
		}
	}
	return 0
}
