/*
Package fuse exposes a manualbox filesystem to the kernel.

The package is a thin translation layer. Every kernel request is turned
into a call on filesystem.Operations with an absolute virtual path, and
every error coming back is turned into an errno. No file content, metadata
or access decision lives here.

# Platform Support

Two bindings are selected by build tag:

Default Build (go-fuse):
- Target: Linux
- Implementation: github.com/hanwen/go-fuse/v2 (node API)
- Each inode is a stateless node; its path is recomputed from the inode
  tree on every call, so renames need no bookkeeping here.

CGO Build (cgofuse):
- Target: macOS (macFUSE), Windows (WinFsp)
- Implementation: github.com/winfsp/cgofuse
- Path-based callbacks map one to one onto Operations.

Build Selection:

	go build ./...
	go build -tags cgofuse ./...

# Reads and the Access Gate

Files are opened with direct I/O (FOPEN_DIRECT_IO for go-fuse, the
direct_io mount option for cgofuse). The kernel page cache would otherwise
satisfy repeated reads without asking the filesystem, and the access gate
behind Operations.Read would never see them.

The calling process is taken from the request context (fuse.FromContext,
fuse.Getcontext) and passed along so that decisions can be keyed by process
and prompts can name the caller.

# Error Mapping

	FILE_NOT_FOUND      ENOENT
	NO_ATTRIBUTE        ENODATA (Linux) / ENOATTR (macOS)
	PATH_INVALID        ENOTDIR
	FILE_TOO_LARGE      EFBIG
	ACCESS_DENIED       EIO
	anything else       EIO

An access denial is reported as EIO rather than EACCES.

# Usage

	mount := fuse.NewPlatformMount(fsys, fuse.DefaultMountConfig("/mnt/box"), logger)
	if err := mount.Mount(ctx); err != nil {
		return err
	}
	defer mount.Unmount()
	mount.Wait()
*/
package fuse
