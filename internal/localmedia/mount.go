package localmedia

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/moby/sys/mountinfo"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// ErrNoDevice indicates no volume carries any of the requested labels.
var ErrNoDevice = errors.New("no labelled device found")

const readOnlyFlags = unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC

// Mounter performs mount(2) and umount(2).
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

type unixMounter struct{}

func (unixMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (unixMounter) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// Config configures a Prober.
type Config struct {
	// DevDir contains symlinks named after volume labels. Defaults to /dev/disk/by-label.
	DevDir string

	// RunDir holds ephemeral mountpoints and lock files.
	RunDir string
}

// Prober discovers and mounts labelled volumes.
type Prober struct {
	log     logr.Logger
	devDir  string
	runDir  string
	fs      afero.Fs
	mounter Mounter
	mounts  func() ([]*mountinfo.Info, error)
	locks   *kmutex.Kmutex
}

// Option configures a Prober.
type Option func(*Prober)

// WithMounter replaces the mount(2) implementation.
func WithMounter(m Mounter) Option {
	return func(p *Prober) { p.mounter = m }
}

// WithMountTable replaces the source of existing mounts.
func WithMountTable(fn func() ([]*mountinfo.Info, error)) Option {
	return func(p *Prober) { p.mounts = fn }
}

// NewProber creates a Prober.
func NewProber(logger logr.Logger, cfg Config, opts ...Option) *Prober {
	if cfg.DevDir == "" {
		cfg.DevDir = "/dev/disk/by-label"
	}

	p := &Prober{
		log:     logger,
		devDir:  cfg.DevDir,
		runDir:  cfg.RunDir,
		fs:      afero.NewOsFs(),
		mounter: unixMounter{},
		mounts: func() ([]*mountinfo.Info, error) {
			return mountinfo.GetMounts(nil)
		},
		locks: kmutex.New(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// FindDevices resolves labels to device paths. The result follows the order of labels and
// contains each device once. It returns ErrNoDevice if nothing matched.
func (p *Prober) FindDevices(labels []string) ([]string, error) {
	var (
		devices []string
		seen    = make(map[string]struct{})
	)

	for _, label := range labels {
		device, err := filepath.EvalSymlinks(filepath.Join(p.devDir, label))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				p.log.V(1).Info("Could not resolve label", "label", label, "error", err.Error())
			}
			continue
		}

		if _, ok := seen[device]; ok {
			continue
		}
		seen[device] = struct{}{}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, strings.Join(labels, ","))
	}

	return devices, nil
}

// Mount is an exclusive, read-only view of a device. Release must be called once the contents
// have been read.
type Mount struct {
	// Path is the root of the mounted filesystem.
	Path   string
	Device string

	once    sync.Once
	err     error
	release func() error
}

// Release unmounts the device if it was mounted by this Mount and drops the device lock. It is
// safe to call more than once.
func (m *Mount) Release() error {
	m.once.Do(func() {
		m.err = m.release()
	})
	return m.err
}

// Mount acquires exclusive use of device and makes its contents available read-only. If the
// device is already mounted elsewhere the existing mountpoint is used and left in place.
// Otherwise each of fstypes is tried in order against an ephemeral mountpoint.
func (p *Prober) Mount(ctx context.Context, device string, fstypes []string) (*Mount, error) {
	unlock, err := p.lock(ctx, device)
	if err != nil {
		return nil, err
	}

	if mp, ok := p.mountedAt(device); ok {
		p.log.V(1).Info("Using existing mount", "device", device, "mountpoint", mp)
		return &Mount{Path: mp, Device: device, release: unlock}, nil
	}

	target := filepath.Join(p.runDir, "mnt", uuid.NewString())
	if err := os.MkdirAll(target, 0o700); err != nil {
		return nil, errors.Join(fmt.Errorf("create mountpoint: %w", err), unlock())
	}

	var errs []error
	for _, fstype := range fstypes {
		if err := p.mounter.Mount(device, target, fstype, readOnlyFlags, ""); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", fstype, err))
			continue
		}

		p.log.V(1).Info("Mounted device", "device", device, "mountpoint", target, "fstype", fstype)

		return &Mount{
			Path:   target,
			Device: device,
			release: func() error {
				return errors.Join(
					p.mounter.Unmount(target, 0),
					os.Remove(target),
					unlock(),
				)
			},
		}, nil
	}

	errs = append(errs, os.Remove(target), unlock())

	return nil, fmt.Errorf("mount %v: %w", device, errors.Join(errs...))
}

// WithDevice mounts device, calls fn with the mount root and releases the mount regardless of
// how fn returns.
func (p *Prober) WithDevice(ctx context.Context, device string, fstypes []string, fn func(root string) error) (err error) {
	m, err := p.Mount(ctx, device, fstypes)
	if err != nil {
		return err
	}

	defer func() {
		if rerr := m.Release(); rerr != nil {
			p.log.Error(rerr, "Releasing mount", "device", device)
			if err == nil {
				err = rerr
			}
		}
	}()

	return fn(m.Path)
}

// ReadDevice reads a seed from the root of device.
func (p *Prober) ReadDevice(ctx context.Context, device string, fstypes []string, primary string, optional ...string) (map[string][]byte, error) {
	var docs map[string][]byte
	err := p.WithDevice(ctx, device, fstypes, func(root string) error {
		var err error
		docs, err = ReadSeed(p.fs, root, primary, optional...)
		return err
	})
	return docs, err
}

func (p *Prober) mountedAt(device string) (string, bool) {
	infos, err := p.mounts()
	if err != nil {
		p.log.V(1).Info("Could not read mount table", "error", err.Error())
		return "", false
	}

	for _, info := range infos {
		if info.Source == device {
			return info.Mountpoint, true
		}
	}

	return "", false
}

// lock serializes use of device within the process and across processes. The returned func
// releases both.
func (p *Prober) lock(ctx context.Context, device string) (func() error, error) {
	p.locks.Lock(device)

	dir := filepath.Join(p.runDir, "lock")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		p.locks.Unlock(device)
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	name := strings.ReplaceAll(strings.TrimPrefix(device, "/"), "/", "_") + ".lock"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		p.locks.Unlock(device)
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			p.locks.Unlock(device)
			return nil, fmt.Errorf("lock %v: %w", device, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			p.locks.Unlock(device)
			return nil, fmt.Errorf("lock %v: %w", device, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() error {
		defer p.locks.Unlock(device)
		return errors.Join(unix.Flock(int(f.Fd()), unix.LOCK_UN), f.Close())
	}, nil
}
