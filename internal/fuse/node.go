//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/manualbox/manualbox/internal/filesystem"
	"github.com/manualbox/manualbox/pkg/utils"
)

// toErrno converts a facade error for go-fuse.
func toErrno(err error) syscall.Errno {
	switch classify(err) {
	case classOK:
		return 0
	case classNotFound:
		return syscall.ENOENT
	case classNoAttribute:
		return syscall.Errno(fuse.ENOATTR)
	case classNotDir:
		return syscall.ENOTDIR
	case classTooLarge:
		return syscall.EFBIG
	default:
		return syscall.EIO
	}
}

// node is every inode of the mount. It keeps no state of its own; the
// virtual path comes from its place in the inode tree.
type node struct {
	fs.Inode
	ops filesystem.Operations
}

// handle carries the number the facade allocated on open.
type handle struct {
	id uint64
}

var (
	_ = (fs.NodeGetattrer)((*node)(nil))
	_ = (fs.NodeSetattrer)((*node)(nil))
	_ = (fs.NodeLookuper)((*node)(nil))
	_ = (fs.NodeReaddirer)((*node)(nil))
	_ = (fs.NodeMkdirer)((*node)(nil))
	_ = (fs.NodeRmdirer)((*node)(nil))
	_ = (fs.NodeCreater)((*node)(nil))
	_ = (fs.NodeOpener)((*node)(nil))
	_ = (fs.NodeReader)((*node)(nil))
	_ = (fs.NodeWriter)((*node)(nil))
	_ = (fs.NodeFlusher)((*node)(nil))
	_ = (fs.NodeReleaser)((*node)(nil))
	_ = (fs.NodeUnlinker)((*node)(nil))
	_ = (fs.NodeRenamer)((*node)(nil))
	_ = (fs.NodeSymlinker)((*node)(nil))
	_ = (fs.NodeReadlinker)((*node)(nil))
	_ = (fs.NodeGetxattrer)((*node)(nil))
	_ = (fs.NodeSetxattrer)((*node)(nil))
	_ = (fs.NodeListxattrer)((*node)(nil))
	_ = (fs.NodeRemovexattrer)((*node)(nil))
	_ = (fs.NodeStatfser)((*node)(nil))
)

// NewRoot returns the root inode for ops.
func NewRoot(ops filesystem.Operations) fs.InodeEmbedder {
	return &node{ops: ops}
}

func (n *node) path() string {
	return "/" + n.Path(nil)
}

func (n *node) child(name string) string {
	return utils.JoinPath(n.path(), name)
}

func (n *node) newChild(ctx context.Context, attr filesystem.Attr) *fs.Inode {
	return n.NewInode(ctx, &node{ops: n.ops}, fs.StableAttr{Mode: attr.Mode & syscall.S_IFMT})
}

func callerOf(ctx context.Context) filesystem.Caller {
	c, ok := fuse.FromContext(ctx)
	if !ok {
		return filesystem.Caller{}
	}
	return filesystem.Caller{PID: c.Pid, UID: c.Uid, GID: c.Gid}
}

func handleID(f fs.FileHandle) uint64 {
	if h, ok := f.(*handle); ok {
		return h.id
	}
	return 0
}

func fillAttr(attr filesystem.Attr, out *fuse.Attr) {
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	if attr.Size > 0 {
		out.Size = uint64(attr.Size)
		out.Blocks = (out.Size + 511) / 512
	}
	out.Uid = attr.UID
	out.Gid = attr.GID
	out.SetTimes(&attr.Atime, &attr.Mtime, &attr.Ctime)
}

func (n *node) lookupAttr(ctx context.Context, path string, out *fuse.EntryOut) (filesystem.Attr, syscall.Errno) {
	attr, err := n.ops.Getattr(ctx, path)
	if err != nil {
		return attr, toErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return attr, 0
}

// Getattr reports the attributes of this node.
func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.ops.Getattr(ctx, n.path())
	if err != nil {
		return toErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

// Setattr applies chmod, chown, truncate and utimens requests.
func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.path()

	if mode, ok := in.GetMode(); ok {
		if err := n.ops.Chmod(ctx, p, mode); err != nil {
			return toErrno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		cur, err := n.ops.Getattr(ctx, p)
		if err != nil {
			return toErrno(err)
		}
		if !uok {
			uid = cur.UID
		}
		if !gok {
			gid = cur.GID
		}
		if err := n.ops.Chown(ctx, p, uid, gid); err != nil {
			return toErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		if err := n.ops.Truncate(ctx, p, int64(size)); err != nil {
			return toErrno(err)
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		cur, err := n.ops.Getattr(ctx, p)
		if err != nil {
			return toErrno(err)
		}
		if !aok {
			atime = cur.Atime
		}
		if !mok {
			mtime = cur.Mtime
		}
		if err := n.ops.Utimens(ctx, p, &atime, &mtime); err != nil {
			return toErrno(err)
		}
	}

	return n.Getattr(ctx, f, out)
}

// Lookup finds a child by name.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, errno := n.lookupAttr(ctx, n.child(name), out)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, attr), 0
}

// Readdir lists the directory. The kernel supplies "." and "..".
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.ops.Readdir(ctx, n.path())
	if err != nil {
		return nil, toErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir creates a subdirectory.
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Mkdir(ctx, p, mode); err != nil {
		return nil, toErrno(err)
	}
	attr, errno := n.lookupAttr(ctx, p, out)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, attr), 0
}

// Rmdir removes a subdirectory.
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.ops.Rmdir(ctx, n.child(name)))
}

// Create makes and opens a file.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := n.child(name)
	fh, err := n.ops.Create(ctx, p, mode)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	attr, errno := n.lookupAttr(ctx, p, out)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	return n.newChild(ctx, attr), &handle{id: fh}, fuse.FOPEN_DIRECT_IO, 0
}

// Open opens this file. Page caching is disabled so that every read
// reaches the facade.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fh, err := n.ops.Open(ctx, n.path(), int(flags), callerOf(ctx))
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &handle{id: fh}, fuse.FOPEN_DIRECT_IO, 0
}

// Read reads file content.
func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.ops.Read(ctx, n.path(), handleID(f), len(dest), off, callerOf(ctx))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

// Write writes file content.
func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.ops.Write(ctx, n.path(), data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(written), 0
}

// Flush is called on close(2).
func (n *node) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return toErrno(n.ops.Flush(ctx, n.path(), handleID(f)))
}

// Release drops a handle.
func (n *node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return toErrno(n.ops.Release(ctx, n.path(), handleID(f)))
}

// Unlink removes a file or link.
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.ops.Unlink(ctx, n.child(name)))
}

// Rename moves a child, possibly into another directory.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.ENOTSUP
	}
	dst := utils.JoinPath("/"+newParent.EmbeddedInode().Path(nil), newName)
	return toErrno(n.ops.Rename(ctx, n.child(name), dst))
}

// Symlink creates a link named name pointing to target.
func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if err := n.ops.Symlink(ctx, p, target); err != nil {
		return nil, toErrno(err)
	}
	attr, errno := n.lookupAttr(ctx, p, out)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, attr), 0
}

// Readlink returns the link target.
func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ops.Readlink(ctx, n.path())
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), 0
}

// Getxattr copies an attribute value into dest, or reports the size needed.
func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, err := n.ops.GetXattr(ctx, n.path(), attr)
	if err != nil {
		return 0, toErrno(err)
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

// Setxattr sets an attribute.
func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return toErrno(n.ops.SetXattr(ctx, n.path(), attr, data))
}

// Listxattr copies the attribute names into dest, or reports the size
// needed.
func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, err := n.ops.ListXattr(ctx, n.path())
	if err != nil {
		return 0, toErrno(err)
	}
	buf := packXattrNames(names)
	if len(dest) < len(buf) {
		return uint32(len(buf)), syscall.ERANGE
	}
	return uint32(copy(dest, buf)), 0
}

// Removexattr deletes an attribute.
func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return toErrno(n.ops.RemoveXattr(ctx, n.path(), attr))
}

// Statfs reports capacity.
func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, err := n.ops.Statfs(ctx, n.path())
	if err != nil {
		return toErrno(err)
	}
	out.Bsize = info.BlockSize
	out.Frsize = info.BlockSize
	out.Blocks = info.Blocks
	out.Bfree = info.BlocksFree
	out.Bavail = info.BlocksAvail
	out.Files = info.Files
	out.Ffree = info.FilesFree
	out.NameLen = info.NameMax
	return 0
}

// durationPtr returns d as the pointer fs.Options expects.
func durationPtr(d time.Duration) *time.Duration {
	return &d
}
