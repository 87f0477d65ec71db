package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"github.com/manualbox/manualbox/internal/config"
	"github.com/manualbox/manualbox/internal/container"
	"github.com/manualbox/manualbox/internal/filesystem"
	"github.com/manualbox/manualbox/internal/fuse"
	"github.com/manualbox/manualbox/internal/gate"
	"github.com/manualbox/manualbox/internal/metrics"
	"github.com/manualbox/manualbox/internal/store"
	"github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/utils"
)

// KeyEnv names the environment variable holding a pre-provisioned key.
const KeyEnv = "MANUALBOX_KEY"

// KeyPrompter obtains the key for an existing container and shows the key
// generated for a new one.
type KeyPrompter interface {
	PromptKey(ctx context.Context) (string, error)
	AnnounceKey(secret string) error
}

// MountFunc creates the kernel mount for a filesystem.
type MountFunc func(ops filesystem.Operations, cfg *fuse.MountConfig, logger logrus.FieldLogger) fuse.PlatformFileSystem

// Adapter is one mount session: it owns the key, the container lock, the
// in-memory store, the access gate and the mount.
type Adapter struct {
	config      *config.Configuration
	mountPoint  string
	storagePath string
	sessionID   string
	logger      logrus.FieldLogger

	prompter KeyPrompter
	provider gate.DecisionProvider
	mountFn  MountFunc

	mu          sync.Mutex
	started     bool
	key         *container.Key
	lock        *container.Lock
	store       *store.Store
	gate        *gate.Gate
	filesystem  *filesystem.FileSystem
	metrics     *metrics.Collector
	mount       fuse.PlatformFileSystem
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithKeyPrompter sets how keys are asked for and shown.
func WithKeyPrompter(p KeyPrompter) Option {
	return func(a *Adapter) { a.prompter = p }
}

// WithDecisionProvider replaces the decision command.
func WithDecisionProvider(p gate.DecisionProvider) Option {
	return func(a *Adapter) { a.provider = p }
}

// WithMountFunc replaces the FUSE mount.
func WithMountFunc(fn MountFunc) Option {
	return func(a *Adapter) { a.mountFn = fn }
}

// New creates a new adapter instance for mountPoint.
func New(mountPoint string, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	storagePath, err := cfg.StoragePath()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid storage path").
			WithComponent("adapter")
	}

	a := &Adapter{
		config:      cfg,
		mountPoint:  mountPoint,
		storagePath: storagePath,
		sessionID:   uuid.NewString(),
		logger:      utils.DiscardLogger(),
		mountFn:     fuse.NewPlatformMount,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.provider == nil {
		a.provider = gate.NewCommandProvider(cfg.Access.DecisionCommand)
	}
	a.logger = a.logger.WithFields(logrus.Fields{
		"component": "adapter",
		"session":   a.sessionID,
	})
	return a, nil
}

// SessionID identifies this mount session in logs.
func (a *Adapter) SessionID() string { return a.sessionID }

// StoragePath returns the container file path.
func (a *Adapter) StoragePath() string { return a.storagePath }

// FileSystem returns the operation facade once started.
func (a *Adapter) FileSystem() *filesystem.FileSystem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filesystem
}

// Start opens the container and mounts it. Any failure before the mount is
// up leaves nothing held.
func (a *Adapter) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "adapter already started").
			WithComponent("adapter")
	}

	log := a.logger.WithFields(logrus.Fields{
		"storage":     a.storagePath,
		"mount_point": a.mountPoint,
	})
	log.Info("starting manualbox")

	lock, err := container.AcquireLock(a.storagePath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = lock.Release()
			a.key, a.lock, a.store, a.gate, a.filesystem, a.metrics = nil, nil, nil, nil, nil, nil
		}
	}()

	exists, err := container.Exists(a.storagePath)
	if err != nil {
		return err
	}

	key, generated, err := a.resolveKey(ctx, exists)
	if err != nil {
		return err
	}

	tables, err := container.Load(a.storagePath, key)
	if err != nil {
		return err
	}
	st := store.New(tables)
	log.WithField("nodes", st.Len()).Debug("container loaded")

	collector, err := metrics.NewCollector(&a.config.Monitoring.Metrics)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "metrics setup failed").
			WithComponent("adapter")
	}
	collector.SetLogger(a.logger)
	if err := collector.Start(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "metrics server failed").
			WithComponent("adapter")
	}
	defer func() {
		if err != nil {
			_ = collector.Stop(context.Background())
		}
	}()

	g := gate.New(a.provider, a.gateOptions(collector)...)

	policy, _ := gate.ParsePolicy(a.config.Access.Policy)
	keying, _ := gate.ParseKeying(a.config.Access.SessionKey)
	home, herr := homedir.Dir()
	if herr != nil {
		log.WithError(herr).Warn("cannot find home directory for statfs")
	}
	fsys := filesystem.New(st, g, filesystem.Config{
		MountPoint: a.mountPoint,
		Policy:     policy,
		Keying:     keying,
		StatfsMode: a.config.Statfs.Mode,
		StatfsPath: home,
	}, collector, a.logger)

	a.key = key
	a.lock = lock
	a.store = st
	a.gate = g
	a.filesystem = fsys
	a.metrics = collector

	// A new container is written at once, and a generated key is shown
	// only once that container is on disk.
	if !exists {
		if err := a.saveLocked(); err != nil {
			return err
		}
		if generated {
			if err := a.announceKey(key); err != nil {
				return err
			}
		}
	}

	mount := a.mountFn(fsys, &fuse.MountConfig{
		MountPoint:   a.mountPoint,
		FSName:       a.config.Mount.FSName,
		AllowOther:   a.config.Mount.AllowOther,
		Debug:        a.config.Mount.Debug,
		AttrTimeout:  a.config.Mount.AttrTimeout,
		EntryTimeout: a.config.Mount.EntryTimeout,
	}, a.logger)
	if err := mount.Mount(ctx); err != nil {
		return err
	}
	a.mount = mount

	if interval := a.config.Access.SweepInterval; interval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			g.Run(sweepCtx, interval)
		}()
		a.stopSweeper = cancel
		a.sweeperDone = done
	}

	a.started = true
	log.WithFields(logrus.Fields{
		"policy":  policy,
		"keying":  keying,
		"new_key": generated,
	}).Info("manualbox mounted")
	return nil
}

func (a *Adapter) gateOptions(collector *metrics.Collector) []gate.Option {
	opts := []gate.Option{
		gate.WithTimeout(a.config.Access.DecisionTimeout),
		gate.WithMaxRecords(a.config.Access.MaxRecords),
		gate.WithMetrics(collector),
		gate.WithLogger(a.logger),
	}
	if a.config.Access.ProcessNames {
		labeler, err := gate.NewProcfsLabeler()
		if err != nil {
			a.logger.WithError(err).Warn("process names unavailable, prompts will show paths only")
		} else {
			opts = append(opts, gate.WithLabeler(labeler))
		}
	}
	return opts
}

// resolveKey looks for a key in the environment, then the key file, then
// asks. A new container without a supplied key gets a generated one, shown
// once.
func (a *Adapter) resolveKey(ctx context.Context, exists bool) (*container.Key, bool, error) {
	secret, err := a.suppliedKey()
	if err != nil {
		return nil, false, err
	}

	if secret == "" && !exists {
		key, err := container.GenerateKey()
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrCodeInternalError, "key generation failed").
				WithComponent("adapter")
		}
		return key, true, nil
	}

	if secret == "" {
		if a.prompter == nil {
			return nil, false, errors.NewError(errors.ErrCodeInvalidKey, "no key supplied").
				WithComponent("adapter").
				WithDetail("hint", "set "+KeyEnv+" or storage.key_file")
		}
		secret, err = a.prompter.PromptKey(ctx)
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrCodeInvalidKey, "reading key failed").
				WithComponent("adapter")
		}
	}

	key, err := container.ParseKey(secret)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeInvalidKey, "unusable key").
			WithComponent("adapter")
	}
	if key.IsPassphrase() {
		key.SetWorkFactor(a.config.Storage.ScryptWorkFactor)
	}
	return key, false, nil
}

// announceKey shows a generated key. If it cannot be shown the new
// container is removed, since nothing could ever open it.
func (a *Adapter) announceKey(key *container.Key) error {
	var err error
	if a.prompter == nil {
		err = fmt.Errorf("no key prompter to show the key")
	} else {
		err = a.prompter.AnnounceKey(key.Secret())
	}
	if err != nil {
		if rmErr := os.Remove(a.storagePath); rmErr != nil {
			a.logger.WithError(rmErr).Warn("could not remove unannounced container")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "could not show new key").
			WithComponent("adapter")
	}
	return nil
}

func (a *Adapter) suppliedKey() (string, error) {
	if v := strings.TrimSpace(os.Getenv(KeyEnv)); v != "" {
		return v, nil
	}
	keyFile, err := a.config.KeyFilePath()
	if err != nil || keyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidKey, "reading key file failed").
			WithComponent("adapter").
			WithContext("file", keyFile)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the current store to the container.
func (a *Adapter) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return errors.NewError(errors.ErrCodeNotInitialized, "adapter not started").
			WithComponent("adapter")
	}
	return a.saveLocked()
}

func (a *Adapter) saveLocked() error {
	start := time.Now()
	n, err := container.Save(a.storagePath, a.store.Snapshot(), a.key)
	if err != nil {
		a.logger.WithError(err).Error("saving container failed")
		return err
	}
	a.metrics.SetContainerSize(n)
	a.logger.WithFields(logrus.Fields{
		"size":     utils.FormatBytes(n),
		"duration": time.Since(start),
	}).Info("container saved")
	return nil
}

// Wait blocks until the filesystem is unmounted from outside.
func (a *Adapter) Wait() {
	a.mu.Lock()
	mount := a.mount
	a.mu.Unlock()
	if mount != nil {
		mount.Wait()
	}
}

// Stop unmounts, saves and releases the container. The container is saved
// even when unmounting fails.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return errors.NewError(errors.ErrCodeNotInitialized, "adapter not started").
			WithComponent("adapter")
	}
	a.logger.Info("stopping manualbox")

	var firstErr error
	if a.mount.IsMounted() {
		if err := a.mount.Unmount(); err != nil {
			a.logger.WithError(err).Error("unmount failed")
			firstErr = err
		}
	}

	if a.stopSweeper != nil {
		a.stopSweeper()
		<-a.sweeperDone
		a.stopSweeper = nil
	}

	if err := a.saveLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.metrics.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("stopping metrics server failed")
	}
	if err := a.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.started = false
	a.key = nil
	a.logger.Info("manualbox stopped")
	return firstErr
}
