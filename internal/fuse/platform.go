package fuse

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/pkg/errors"
)

// PlatformFileSystem is a mount driven by one of the FUSE bindings.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Wait()
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint   string
	FSName       string
	AllowOther   bool
	Debug        bool
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// DefaultMountConfig returns mount settings for mountPoint.
func DefaultMountConfig(mountPoint string) *MountConfig {
	return &MountConfig{
		MountPoint:   mountPoint,
		FSName:       "manualbox",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

func mountError(code errors.ErrorCode, msg, mountPoint string) *errors.ManualBoxError {
	return errors.NewError(code, msg).
		WithComponent("fuse").
		WithContext("mount_point", mountPoint)
}

func validateMountPoint(mountPoint string, logger logrus.FieldLogger) error {
	if mountPoint == "" {
		return mountError(errors.ErrCodeMountFailed, "mount point cannot be empty", mountPoint)
	}

	info, err := os.Stat(mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return mountError(errors.ErrCodeMountFailed, "mount point does not exist", mountPoint)
		}
		return mountError(errors.ErrCodeMountFailed, "cannot access mount point", mountPoint).WithCause(err)
	}
	if !info.IsDir() {
		return mountError(errors.ErrCodeMountFailed, "mount point is not a directory", mountPoint)
	}

	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return mountError(errors.ErrCodeMountFailed, "cannot read mount point directory", mountPoint).WithCause(err)
	}
	if len(entries) > 0 {
		logger.WithField("mount_point", mountPoint).Warn("mount point is not empty")
	}

	if isAlreadyMounted(mountPoint) {
		return mountError(errors.ErrCodeMountFailed, "mount point is already mounted", mountPoint)
	}
	return nil
}

// isAlreadyMounted checks the mount table where /proc is available and
// reports false elsewhere.
func isAlreadyMounted(mountPoint string) bool {
	mounts, err := procfs.GetMounts()
	if err != nil {
		return false
	}
	clean := filepath.Clean(mountPoint)
	for _, m := range mounts {
		if m.MountPoint == clean {
			return true
		}
	}
	return false
}
