package filesystem

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/internal/gate"
	"github.com/manualbox/manualbox/internal/store"
	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/types"
	"github.com/manualbox/manualbox/pkg/utils"
)

// Statfs modes.
const (
	StatfsPlaceholder = "placeholder"
	StatfsPassthrough = "passthrough"
)

// Placeholder capacity figures reported when statfs is not passed through.
const (
	placeholderBlockSize = 512
	placeholderBlocks    = 4096
	placeholderFree      = 2048
	maxNameLength        = 255
)

const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// Config holds the per-mount choices of a FileSystem.
type Config struct {
	// MountPoint prefixes virtual paths in prompts.
	MountPoint string
	Policy     gate.Policy
	Keying     gate.Keying

	// StatfsMode is StatfsPlaceholder or StatfsPassthrough. StatfsPath is
	// the directory whose real statistics are passed through.
	StatfsMode string
	StatfsPath string
}

// FileSystem answers bridge calls from a store, gating content reads.
type FileSystem struct {
	store   *store.Store
	gate    *gate.Gate
	config  Config
	owner   store.Owner
	metrics types.MetricsCollector
	logger  logrus.FieldLogger
}

var _ Operations = (*FileSystem)(nil)

// New creates a FileSystem. metrics and logger may be nil.
func New(st *store.Store, g *gate.Gate, cfg Config, metrics types.MetricsCollector, logger logrus.FieldLogger) *FileSystem {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if cfg.StatfsMode == "" {
		cfg.StatfsMode = StatfsPlaceholder
	}
	return &FileSystem{
		store:   st,
		gate:    g,
		config:  cfg,
		owner:   store.CurrentOwner(),
		metrics: metrics,
		logger:  logger.WithField("component", "filesystem"),
	}
}

// Store returns the backing store.
func (fs *FileSystem) Store() *store.Store { return fs.store }

// Policy returns the authorization policy in effect.
func (fs *FileSystem) Policy() gate.Policy { return fs.config.Policy }

func (fs *FileSystem) observe(op, path string, start time.Time, size int64, errp *error) {
	err := *errp
	if fs.metrics != nil {
		fs.metrics.RecordOperation(op, time.Since(start), size, err == nil)
		if err != nil {
			fs.metrics.RecordError(op, err)
		}
	}
	if err == nil {
		return
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeFileNotFound, errors.ErrCodeNoAttribute:
	default:
		fs.logger.WithFields(logrus.Fields{
			"operation": op,
			"path":      path,
		}).WithError(err).Debug("operation failed")
	}
}

// Getattr returns the attributes of path.
func (fs *FileSystem) Getattr(ctx context.Context, path string) (attr Attr, err error) {
	defer fs.observe("getattr", path, time.Now(), 0, &err)

	n, err := fs.store.Attributes(path)
	if err != nil {
		return Attr{}, err
	}
	return fs.toAttr(n), nil
}

func (fs *FileSystem) toAttr(n *store.Node) Attr {
	owner := fs.owner
	if n.Owner != nil {
		owner = *n.Owner
	}
	return Attr{
		Mode:  n.Mode,
		Nlink: n.Nlink,
		Size:  n.Size,
		UID:   owner.UID,
		GID:   owner.GID,
		Atime: n.Atime,
		Mtime: n.Mtime,
		Ctime: n.Ctime,
	}
}

// Chmod replaces the permission bits of path.
func (fs *FileSystem) Chmod(ctx context.Context, path string, mode uint32) (err error) {
	defer fs.observe("chmod", path, time.Now(), 0, &err)
	return fs.store.Chmod(path, mode)
}

// Chown sets the owner of path.
func (fs *FileSystem) Chown(ctx context.Context, path string, uid, gid uint32) (err error) {
	defer fs.observe("chown", path, time.Now(), 0, &err)
	return fs.store.Chown(path, uid, gid)
}

// Utimens sets access and modification times. A nil time means now.
func (fs *FileSystem) Utimens(ctx context.Context, path string, atime, mtime *time.Time) (err error) {
	defer fs.observe("utimens", path, time.Now(), 0, &err)
	return fs.store.SetTimes(path, atime, mtime)
}

// Truncate cuts or extends the content of path.
func (fs *FileSystem) Truncate(ctx context.Context, path string, size int64) (err error) {
	defer fs.observe("truncate", path, time.Now(), 0, &err)
	return fs.store.Truncate(path, size)
}

// Readdir lists path, including "." and "..".
func (fs *FileSystem) Readdir(ctx context.Context, path string) (entries []DirEntry, err error) {
	defer fs.observe("readdir", path, time.Now(), 0, &err)

	dir, err := fs.store.Attributes(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "not a directory").
			WithComponent("filesystem").
			WithOperation("readdir").
			WithContext("path", path)
	}

	names := fs.store.ListChildren(path)
	entries = make([]DirEntry, 0, len(names))
	for _, name := range names {
		mode := store.ModeDir
		if name != "." && name != ".." {
			n, err := fs.store.Attributes(utils.JoinPath(path, name))
			if err != nil {
				// Removed since listing.
				continue
			}
			mode = n.Mode
		}
		entries = append(entries, DirEntry{Name: name, Mode: mode})
	}
	return entries, nil
}

// Mkdir creates a directory.
func (fs *FileSystem) Mkdir(ctx context.Context, path string, mode uint32) (err error) {
	defer fs.observe("mkdir", path, time.Now(), 0, &err)
	return fs.store.Mkdir(path, mode)
}

// Rmdir removes a directory. Children are not checked.
func (fs *FileSystem) Rmdir(ctx context.Context, path string) (err error) {
	defer fs.observe("rmdir", path, time.Now(), 0, &err)
	return fs.store.RemoveDir(path)
}

// Create makes an empty file and returns its handle. Creation is not gated.
func (fs *FileSystem) Create(ctx context.Context, path string, mode uint32) (fh uint64, err error) {
	defer fs.observe("create", path, time.Now(), 0, &err)
	return fs.store.Create(path, mode)
}

// Open allocates a handle for path. Under AuthorizeOnOpen, opens that can
// read are authorized first and a denial fails the open.
func (fs *FileSystem) Open(ctx context.Context, path string, flags int, caller Caller) (fh uint64, err error) {
	defer fs.observe("open", path, time.Now(), 0, &err)

	if _, err := fs.store.Attributes(path); err != nil {
		return 0, err
	}
	fh = fs.store.NextHandle()

	if fs.config.Policy == gate.AuthorizeOnOpen && flags&accessModeMask != os.O_WRONLY {
		if err := fs.authorize(ctx, path, fh, caller); err != nil {
			return 0, err
		}
	}
	return fh, nil
}

// Read returns up to size bytes at offset. Under AuthorizeOnRead every call
// is authorized; a denial returns no bytes.
func (fs *FileSystem) Read(ctx context.Context, path string, fh uint64, size int, offset int64, caller Caller) (data []byte, err error) {
	start := time.Now()
	defer func() { fs.observe("read", path, start, int64(len(data)), &err) }()

	if fs.config.Policy == gate.AuthorizeOnRead {
		if err := fs.authorize(ctx, path, fh, caller); err != nil {
			return nil, err
		}
	}
	return fs.store.Read(path, offset, size), nil
}

func (fs *FileSystem) authorize(ctx context.Context, path string, fh uint64, caller Caller) error {
	return fs.gate.Authorize(ctx, gate.Request{
		Path:        path,
		DisplayPath: utils.DisplayPath(fs.config.MountPoint, path),
		Session:     fs.config.Keying.SessionKey(fh, caller.PID),
		PID:         caller.PID,
	})
}

// Write splices data into path at offset.
func (fs *FileSystem) Write(ctx context.Context, path string, data []byte, offset int64) (n int, err error) {
	defer fs.observe("write", path, time.Now(), int64(len(data)), &err)
	return fs.store.Write(path, data, offset)
}

// Flush is a no-op; content lives in memory until the container is saved.
func (fs *FileSystem) Flush(ctx context.Context, path string, fh uint64) error {
	return nil
}

// Release is a no-op; handles carry no state.
func (fs *FileSystem) Release(ctx context.Context, path string, fh uint64) error {
	return nil
}

// Unlink removes a file or symlink.
func (fs *FileSystem) Unlink(ctx context.Context, path string) (err error) {
	defer fs.observe("unlink", path, time.Now(), 0, &err)
	return fs.store.Remove(path)
}

// Rename moves one path. Descendants of a renamed directory stay where they
// are.
func (fs *FileSystem) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	defer fs.observe("rename", oldPath, time.Now(), 0, &err)
	return fs.store.Rename(oldPath, newPath)
}

// Symlink creates a link at path pointing to target.
func (fs *FileSystem) Symlink(ctx context.Context, path, target string) (err error) {
	defer fs.observe("symlink", path, time.Now(), 0, &err)
	return fs.store.Symlink(path, target)
}

// Readlink returns a symlink's target. Link targets are not gated.
func (fs *FileSystem) Readlink(ctx context.Context, path string) (target string, err error) {
	defer fs.observe("readlink", path, time.Now(), 0, &err)
	return fs.store.Readlink(path)
}

// GetXattr returns one extended attribute.
func (fs *FileSystem) GetXattr(ctx context.Context, path, name string) (value []byte, err error) {
	defer fs.observe("getxattr", path, time.Now(), 0, &err)
	return fs.store.GetXattr(path, name)
}

// SetXattr sets one extended attribute.
func (fs *FileSystem) SetXattr(ctx context.Context, path, name string, value []byte) (err error) {
	defer fs.observe("setxattr", path, time.Now(), int64(len(value)), &err)
	return fs.store.SetXattr(path, name, value)
}

// ListXattr returns attribute names in sorted order.
func (fs *FileSystem) ListXattr(ctx context.Context, path string) (names []string, err error) {
	defer fs.observe("listxattr", path, time.Now(), 0, &err)
	return fs.store.ListXattr(path)
}

// RemoveXattr deletes one extended attribute.
func (fs *FileSystem) RemoveXattr(ctx context.Context, path, name string) (err error) {
	defer fs.observe("removexattr", path, time.Now(), 0, &err)
	return fs.store.RemoveXattr(path, name)
}

// Statfs reports capacity. Passthrough falls back to the placeholder when
// the real statistics are unavailable.
func (fs *FileSystem) Statfs(ctx context.Context, path string) (info StatfsInfo, err error) {
	defer fs.observe("statfs", path, time.Now(), 0, &err)

	if fs.config.StatfsMode == StatfsPassthrough {
		info, err := hostStatfs(fs.config.StatfsPath)
		if err == nil {
			return info, nil
		}
		fs.logger.WithError(err).WithField("path", fs.config.StatfsPath).
			Warn("statfs passthrough failed, reporting placeholder")
	}

	files := uint64(fs.store.Len())
	return StatfsInfo{
		BlockSize:   placeholderBlockSize,
		Blocks:      placeholderBlocks,
		BlocksFree:  placeholderFree,
		BlocksAvail: placeholderFree,
		Files:       files,
		FilesFree:   placeholderFree,
		NameMax:     maxNameLength,
	}, nil
}
