//go:build linux || darwin || freebsd

package filesystem

import (
	"golang.org/x/sys/unix"
)

func hostStatfs(path string) (StatfsInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return StatfsInfo{}, err
	}
	return StatfsInfo{
		BlockSize:   uint32(st.Bsize),
		Blocks:      uint64(st.Blocks),
		BlocksFree:  uint64(st.Bfree),
		BlocksAvail: uint64(st.Bavail),
		Files:       uint64(st.Files),
		FilesFree:   uint64(st.Ffree),
		NameMax:     maxNameLength,
	}, nil
}
