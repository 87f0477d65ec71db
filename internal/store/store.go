// Package store implements the in-memory filesystem: a flat table of node
// metadata and a table of file contents, both keyed by absolute virtual
// path. Directory structure is implied by path prefixes.
package store

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/utils"
)

// Handle numbers start above the standard descriptors and wrap once they
// pass HandleMax.
const (
	HandleBase uint64 = 1025
	HandleMax  uint64 = 64000
)

// MaxFileSize bounds the content of a single file. Writes and truncates
// that would grow a file past it fail with FILE_TOO_LARGE.
const MaxFileSize int64 = 1 << 30

// Store is the in-memory node and content table. It is safe for concurrent
// use.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	data   map[string][]byte
	handle uint64

	owner Owner
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for node timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOwner sets the uid/gid recorded on created files and directories.
func WithOwner(owner Owner) Option {
	return func(s *Store) { s.owner = owner }
}

// CurrentOwner returns the effective uid/gid of this process.
func CurrentOwner() Owner {
	uid, gid := os.Geteuid(), os.Getegid()
	if uid < 0 {
		uid = 0
	}
	if gid < 0 {
		gid = 0
	}
	return Owner{UID: uint32(uid), GID: uint32(gid)}
}

// New creates a store over tables. A nil tables starts an empty filesystem.
// The store takes ownership of tables.
func New(tables *Tables, opts ...Option) *Store {
	s := &Store{
		handle: HandleBase,
		owner:  CurrentOwner(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if tables == nil {
		tables = NewTables(s.now())
	}
	if tables.Nodes == nil {
		tables.Nodes = make(map[string]*Node)
	}
	if tables.Data == nil {
		tables.Data = make(map[string][]byte)
	}
	if root, ok := tables.Nodes["/"]; !ok || !root.IsDir() {
		tables.Nodes["/"] = NewTables(s.now()).Nodes["/"]
	}

	s.nodes = tables.Nodes
	s.data = tables.Data
	return s
}

// Snapshot returns a deep copy of the tables.
func (s *Store) Snapshot() *Tables {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &Tables{
		Nodes: make(map[string]*Node, len(s.nodes)),
		Data:  make(map[string][]byte, len(s.data)),
	}
	for p, n := range s.nodes {
		t.Nodes[p] = n.Clone()
	}
	for p, d := range s.data {
		t.Data[p] = append([]byte(nil), d...)
	}
	return t
}

// Len returns the number of nodes, root included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func notFound(op, path string) error {
	return errors.NewError(errors.ErrCodeFileNotFound, "no such file or directory").
		WithComponent("store").
		WithOperation(op).
		WithContext("path", path)
}

func tooLarge(op, path string, size int64) error {
	return errors.NewError(errors.ErrCodeFileTooLarge, "file too large").
		WithComponent("store").
		WithOperation(op).
		WithContext("path", path).
		WithDetail("size", size)
}

// Attributes returns a copy of the node at path.
func (s *Store) Attributes(path string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, notFound("attributes", path)
	}
	return n.Clone(), nil
}

// NextHandle allocates a file handle number.
func (s *Store) NextHandle() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextHandleLocked()
}

func (s *Store) nextHandleLocked() uint64 {
	s.handle++
	if s.handle > HandleMax {
		s.handle = HandleBase
	}
	return s.handle
}

// Create makes an empty regular file at path, replacing any node already
// there, and returns a new handle for it.
func (s *Store) Create(path string, mode uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	owner := s.owner
	s.nodes[path] = &Node{
		Mode:  ModeRegular | mode&ModePerm,
		Nlink: 1,
		Ctime: now,
		Mtime: now,
		Atime: now,
		Owner: &owner,
	}
	s.data[path] = []byte{}
	return s.nextHandleLocked(), nil
}

// Mkdir makes a directory at path and bumps its parent's link count.
func (s *Store) Mkdir(path string, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	owner := s.owner
	prev := s.nodes[path]
	s.nodes[path] = &Node{
		Mode:  ModeDir | mode&ModePerm,
		Nlink: 2,
		Ctime: now,
		Mtime: now,
		Atime: now,
		Owner: &owner,
	}
	if prev == nil || !prev.IsDir() {
		s.linkParent(path, 1)
	}
	return nil
}

// linkParent adjusts the link count of path's parent by delta.
func (s *Store) linkParent(path string, delta int) {
	parent, ok := s.nodes[utils.ParentPath(path)]
	if !ok {
		return
	}
	if delta < 0 && parent.Nlink == 0 {
		return
	}
	parent.Nlink = uint32(int(parent.Nlink) + delta)
}

// ListChildren returns ".", "..", and the sorted names of the direct
// children of path.
func (s *Store) ListChildren(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for p := range s.nodes {
		if name, ok := utils.ChildName(path, p); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{".", ".."}, names...)
}

// Read returns up to size bytes of the content at path starting at offset.
// Reading past the end yields a short or empty slice.
func (s *Store) Read(path string, offset int64, size int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := s.data[path]
	if offset < 0 || offset >= int64(len(data)) || size <= 0 {
		return []byte{}
	}
	end := offset + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[offset:end]...)
}

// Write splices p into the content at path at offset, zero filling any gap,
// and returns len(p).
func (s *Store) Write(path string, p []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return 0, notFound("write", path)
	}
	if offset < 0 {
		offset = 0
	}

	if offset > MaxFileSize-int64(len(p)) {
		return 0, tooLarge("write", path, offset+int64(len(p)))
	}

	data := s.data[path]
	end := offset + int64(len(p))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], p)
	s.data[path] = data

	now := s.now()
	n.Size = int64(len(data))
	n.Mtime = now
	n.Ctime = now
	return len(p), nil
}

// Truncate cuts or zero pads the content at path to length.
func (s *Store) Truncate(path string, length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("truncate", path)
	}
	if length < 0 {
		length = 0
	}
	if length > MaxFileSize {
		return tooLarge("truncate", path, length)
	}

	data := s.data[path]
	if length <= int64(len(data)) {
		data = data[:length:length]
	} else {
		grown := make([]byte, length)
		copy(grown, data)
		data = grown
	}
	s.data[path] = data

	now := s.now()
	n.Size = length
	n.Mtime = now
	n.Ctime = now
	return nil
}

// Rename moves the node and content at oldPath to newPath, replacing
// whatever was there. Descendants of a renamed directory stay where they
// are.
func (s *Store) Rename(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[oldPath]
	if !ok {
		return notFound("rename", oldPath)
	}
	if oldPath == newPath {
		return nil
	}

	if prev, ok := s.nodes[newPath]; ok && prev.IsDir() {
		s.linkParent(newPath, -1)
	}
	if n.IsDir() {
		s.linkParent(oldPath, -1)
		s.linkParent(newPath, 1)
	}

	delete(s.nodes, oldPath)
	s.nodes[newPath] = n

	if d, ok := s.data[oldPath]; ok {
		delete(s.data, oldPath)
		s.data[newPath] = d
	} else {
		delete(s.data, newPath)
	}
	return nil
}

// Remove deletes the node and content at path.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; !ok {
		return notFound("unlink", path)
	}
	delete(s.nodes, path)
	delete(s.data, path)
	return nil
}

// RemoveDir deletes the directory node at path and drops its parent's link
// count. It does not check that the directory is empty.
func (s *Store) RemoveDir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; !ok {
		return notFound("rmdir", path)
	}
	delete(s.nodes, path)
	delete(s.data, path)
	s.linkParent(path, -1)
	return nil
}

// Symlink creates a link at path whose content is target.
func (s *Store) Symlink(path, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nodes[path] = &Node{
		Mode:  ModeSymlink | 0o777,
		Nlink: 1,
		Size:  int64(len(target)),
		Ctime: now,
		Mtime: now,
		Atime: now,
	}
	s.data[path] = []byte(target)
	return nil
}

// Readlink returns the target of the link at path.
func (s *Store) Readlink(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[path]; !ok {
		return "", notFound("readlink", path)
	}
	return string(s.data[path]), nil
}

// Chmod replaces the permission bits of path, keeping its type.
func (s *Store) Chmod(path string, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("chmod", path)
	}
	n.Mode = n.Mode&ModeTypeMask | mode&ModePerm
	n.Ctime = s.now()
	return nil
}

// Chown sets the owner of path.
func (s *Store) Chown(path string, uid, gid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("chown", path)
	}
	n.Owner = &Owner{UID: uid, GID: gid}
	n.Ctime = s.now()
	return nil
}

// SetTimes sets access and modification times. Nil values mean now.
func (s *Store) SetTimes(path string, atime, mtime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("utimens", path)
	}
	now := s.now()
	n.Atime, n.Mtime = now, now
	if atime != nil {
		n.Atime = *atime
	}
	if mtime != nil {
		n.Mtime = *mtime
	}
	return nil
}

// SetXattr stores an extended attribute on path.
func (s *Store) SetXattr(path, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("setxattr", path)
	}
	if n.Xattrs == nil {
		n.Xattrs = make(map[string][]byte)
	}
	n.Xattrs[name] = append([]byte(nil), value...)
	return nil
}

// GetXattr returns the value of an extended attribute.
func (s *Store) GetXattr(path, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, notFound("getxattr", path)
	}
	v, ok := n.Xattrs[name]
	if !ok {
		return nil, noAttribute("getxattr", path, name)
	}
	return append([]byte(nil), v...), nil
}

// ListXattr returns the sorted extended attribute names of path.
func (s *Store) ListXattr(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, notFound("listxattr", path)
	}
	names := make([]string, 0, len(n.Xattrs))
	for name := range n.Xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveXattr deletes an extended attribute.
func (s *Store) RemoveXattr(path, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("removexattr", path)
	}
	if _, ok := n.Xattrs[name]; !ok {
		return noAttribute("removexattr", path, name)
	}
	delete(n.Xattrs, name)
	return nil
}

func noAttribute(op, path, name string) error {
	return errors.NewError(errors.ErrCodeNoAttribute, "no such attribute").
		WithComponent("store").
		WithOperation(op).
		WithContext("path", path).
		WithContext("attribute", name)
}
