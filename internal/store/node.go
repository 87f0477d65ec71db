package store

import (
	"time"
)

// File type bits, laid out as in st_mode.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModeSymlink  uint32 = 0o120000
	ModePerm     uint32 = 0o7777
)

// Owner is the uid/gid pair recorded on a node.
type Owner struct {
	UID uint32 `cbor:"uid"`
	GID uint32 `cbor:"gid"`
}

// Node holds the metadata of one path.
type Node struct {
	Mode   uint32            `cbor:"mode"`
	Nlink  uint32            `cbor:"nlink"`
	Size   int64             `cbor:"size"`
	Ctime  time.Time         `cbor:"ctime"`
	Mtime  time.Time         `cbor:"mtime"`
	Atime  time.Time         `cbor:"atime"`
	Owner  *Owner            `cbor:"owner,omitempty"`
	Xattrs map[string][]byte `cbor:"xattrs,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Mode&ModeTypeMask == ModeDir }

// IsSymlink reports whether the node is a symbolic link.
func (n *Node) IsSymlink() bool { return n.Mode&ModeTypeMask == ModeSymlink }

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	c := *n
	if n.Owner != nil {
		o := *n.Owner
		c.Owner = &o
	}
	if n.Xattrs != nil {
		c.Xattrs = make(map[string][]byte, len(n.Xattrs))
		for k, v := range n.Xattrs {
			c.Xattrs[k] = append([]byte(nil), v...)
		}
	}
	return &c
}

// Tables is the persisted state of a store: node metadata and content,
// both keyed by virtual path.
type Tables struct {
	Nodes map[string]*Node  `cbor:"nodes"`
	Data  map[string][]byte `cbor:"data"`
}

// NewTables returns tables holding only the root directory.
func NewTables(now time.Time) *Tables {
	return &Tables{
		Nodes: map[string]*Node{
			"/": {
				Mode:  ModeDir | 0o755,
				Nlink: 2,
				Ctime: now,
				Mtime: now,
				Atime: now,
			},
		},
		Data: make(map[string][]byte),
	}
}
