//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/manualbox/manualbox/internal/filesystem"
	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/utils"
)

// CgoFuseMountManager manages cgofuse-based mounts
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
	logger     logrus.FieldLogger

	mu      sync.Mutex
	host    *fuse.FileSystemHost
	done    chan struct{}
	mounted bool
}

var _ PlatformFileSystem = (*CgoFuseMountManager)(nil)

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(ops filesystem.Operations, config *MountConfig, logger logrus.FieldLogger) *CgoFuseMountManager {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(ops),
		config:     config,
		logger:     logger.WithField("component", "fuse"),
	}
}

// NewPlatformMount returns the cgofuse mount for ops.
func NewPlatformMount(ops filesystem.Operations, config *MountConfig, logger logrus.FieldLogger) PlatformFileSystem {
	return NewCgoFuseMountManager(ops, config, logger)
}

func (m *CgoFuseMountManager) options() []string {
	opts := []string{
		"-o", "fsname=" + m.config.FSName,
		"-o", "direct_io",
	}
	if m.config.AllowOther {
		opts = append(opts, "-o", "allow_other")
	}
	if m.config.Debug {
		opts = append(opts, "-d")
	}
	switch runtime.GOOS {
	case "darwin":
		opts = append(opts, "-o", "volname=ManualBox")
	case "windows":
		opts = append(opts, "-o", "FileSystemName=ManualBox")
	}
	return opts
}

// Mount mounts the filesystem and returns once the host is serving it.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return mountError(errors.ErrCodeAlreadyStarted, "filesystem is already mounted", m.config.MountPoint)
	}
	if runtime.GOOS != "windows" {
		if err := validateMountPoint(m.config.MountPoint, m.logger); err != nil {
			return err
		}
	}

	m.filesystem.ready = make(chan struct{})
	m.host = fuse.NewFileSystemHost(m.filesystem)
	m.done = make(chan struct{})
	host, done := m.host, m.done

	go func() {
		if !host.Mount(m.config.MountPoint, m.options()) {
			m.logger.WithField("mount_point", m.config.MountPoint).Error("mount failed")
		}
		close(done)
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
	}()

	select {
	case <-m.filesystem.ready:
	case <-done:
		return mountError(errors.ErrCodeMountFailed, "failed to mount filesystem", m.config.MountPoint)
	case <-ctx.Done():
		host.Unmount()
		return mountError(errors.ErrCodeMountFailed, "mount interrupted", m.config.MountPoint).WithCause(ctx.Err())
	}

	m.mounted = true
	m.logger.WithField("mount_point", m.config.MountPoint).Info("filesystem mounted")
	return nil
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	m.mu.Lock()
	host, mounted := m.host, m.mounted
	m.mu.Unlock()

	if !mounted || host == nil {
		return mountError(errors.ErrCodeNotInitialized, "filesystem is not mounted", m.config.MountPoint)
	}
	if !host.Unmount() {
		return mountError(errors.ErrCodeUnmountFailed, "unmount failed", m.config.MountPoint)
	}

	m.mu.Lock()
	m.mounted = false
	m.mu.Unlock()
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the host returns.
func (m *CgoFuseMountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}
