//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/internal/filesystem"
	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/utils"
)

// MountManager manages FUSE mount operations
type MountManager struct {
	ops    filesystem.Operations
	config *MountConfig
	logger logrus.FieldLogger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

var _ PlatformFileSystem = (*MountManager)(nil)

// NewMountManager creates a new mount manager
func NewMountManager(ops filesystem.Operations, config *MountConfig, logger logrus.FieldLogger) *MountManager {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &MountManager{
		ops:    ops,
		config: config,
		logger: logger.WithField("component", "fuse"),
	}
}

// NewPlatformMount returns the go-fuse mount for ops.
func NewPlatformMount(ops filesystem.Operations, config *MountConfig, logger logrus.FieldLogger) PlatformFileSystem {
	return NewMountManager(ops, config, logger)
}

// Mount mounts the filesystem and serves it in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return mountError(errors.ErrCodeAlreadyStarted, "filesystem is already mounted", m.config.MountPoint)
	}
	if err := validateMountPoint(m.config.MountPoint, m.logger); err != nil {
		return err
	}

	server, err := fs.Mount(m.config.MountPoint, NewRoot(m.ops), m.buildFUSEOptions())
	if err != nil {
		return mountError(errors.ErrCodeMountFailed, "failed to mount filesystem", m.config.MountPoint).WithCause(err)
	}

	m.server = server
	m.mounted = true
	m.logger.WithField("mount_point", m.config.MountPoint).Info("filesystem mounted")

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Debug("FUSE server stopped")
	}()

	return nil
}

// Unmount unmounts the filesystem
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return mountError(errors.ErrCodeNotInitialized, "filesystem is not mounted", m.config.MountPoint)
	}

	m.logger.WithField("mount_point", m.config.MountPoint).Info("unmounting filesystem")
	if err := server.Unmount(); err != nil {
		return mountError(errors.ErrCodeUnmountFailed, "unmount failed", m.config.MountPoint).WithCause(err)
	}

	m.mu.Lock()
	m.mounted = false
	m.mu.Unlock()
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// MountPoint returns the mount point.
func (m *MountManager) MountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the filesystem is unmounted.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	return &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        m.config.FSName,
			FsName:      m.config.FSName,
			DirectMount: true,
			Debug:       m.config.Debug,
			AllowOther:  m.config.AllowOther,
		},
		AttrTimeout:     durationPtr(m.config.AttrTimeout),
		EntryTimeout:    durationPtr(m.config.EntryTimeout),
		NullPermissions: true,
	}
}
