// Package state persists detection results and semaphores across boots.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/google/renameio"
	"github.com/google/uuid"
)

// Store is the instance state store. A single process writes the record; concurrent readers
// are tolerated because every write is a rename.
type Store struct {
	log   logr.Logger
	paths Paths
	clock clock.Clock

	bootID string

	mu         sync.Mutex
	instanceID string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used to timestamp semaphores.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open prepares the state tree at paths.Root. If the boot has changed since the last Open,
// per-boot semaphores are cleared.
func Open(logger logr.Logger, paths Paths, opts ...Option) (*Store, error) {
	if paths.Root == "" {
		return nil, errors.New("state: root cannot be empty")
	}
	if paths.BootIDPath == "" {
		paths.BootIDPath = DefaultBootIDPath
	}

	s := &Store{
		log:   logger,
		paths: paths,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{paths.data(), paths.onceSemaphores(), paths.instances(), paths.bootSemaphores()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	if err := s.resetBoot(); err != nil {
		return nil, err
	}

	if err := s.loadInstanceID(); err != nil {
		return nil, err
	}

	return s, nil
}

// loadInstanceID sets the current instance from the persisted record. data/instance-id and
// the instance symlink are rewritten when a crash left them naming another instance.
func (s *Store) loadInstanceID() error {
	id, err := readTrimmed(s.paths.instanceID())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	rec, err := s.ReadRecord()
	switch {
	case errors.Is(err, ErrNoRecord):
		if id != "" {
			s.log.Info("Ignoring instance-id without a persisted record", "instance_id", id)
		}
		return nil
	case err != nil:
		// A corrupt record is replaced on the next detection.
		s.instanceID = id
		return nil
	}

	s.instanceID = rec.InstanceID
	if id == rec.InstanceID {
		return nil
	}

	s.log.Info("Repairing instance-id from the persisted record", "stale_instance_id", id, "instance_id", rec.InstanceID)

	if err := os.MkdirAll(s.paths.instanceSemaphores(rec.InstanceID), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(s.paths.instanceID(), []byte(rec.InstanceID+"\n"), 0o644); err != nil {
		return fmt.Errorf("write instance-id: %w", err)
	}
	if err := renameio.Symlink(s.paths.instance(rec.InstanceID), s.paths.instanceLink()); err != nil {
		return fmt.Errorf("link instance: %w", err)
	}

	return nil
}

// InstanceID returns the instance-id of the persisted record, or "".
func (s *Store) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// PreviousInstanceID returns the instance-id recorded before the last instance change, or "".
func (s *Store) PreviousInstanceID() string {
	id, _ := readTrimmed(s.paths.previousInstanceID())
	return id
}

// BootID returns the identifier of the current boot.
func (s *Store) BootID() string {
	return s.bootID
}

func (s *Store) resetBoot() error {
	current, err := readTrimmed(s.paths.BootIDPath)
	if err == nil {
		_, err = uuid.Parse(current)
	}
	if err != nil {
		// Without a kernel boot id every run is treated as a new boot.
		s.log.Info("Boot id unavailable, treating run as a new boot", "path", s.paths.BootIDPath, "error", err.Error())
		current = uuid.NewString()
	}
	s.bootID = current

	previous, err := readTrimmed(s.paths.bootID())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if previous == current {
		return nil
	}

	s.log.V(1).Info("New boot, clearing per-boot semaphores", "boot_id", current)

	if err := os.RemoveAll(s.paths.bootSemaphores()); err != nil {
		return err
	}
	if err := os.MkdirAll(s.paths.bootSemaphores(), 0o755); err != nil {
		return err
	}

	return renameio.WriteFile(s.paths.bootID(), []byte(current+"\n"), 0o644)
}

// Clean removes the persisted record and status. If semaphores is true, every semaphore is
// removed too.
func (s *Store) Clean(semaphores bool) error {
	paths := []string{s.paths.record(), s.paths.instanceID(), s.paths.instanceLink(), s.paths.status()}
	if semaphores {
		paths = append(paths, s.paths.onceSemaphores(), s.paths.instances(), s.paths.bootSemaphores())
	}

	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.instanceID = ""
	s.mu.Unlock()

	return errors.Join(errs...)
}

// Status summarizes the most recent run.
type Status struct {
	Stage      string          `json:"stage"`
	Datasource string          `json:"datasource,omitempty"`
	InstanceID string          `json:"instance-id,omitempty"`
	FromCache  bool            `json:"from-cache"`
	Error      string          `json:"error,omitempty"`
	Attempts   []AttemptStatus `json:"attempts,omitempty"`
	Started    time.Time       `json:"started"`
	Finished   time.Time       `json:"finished"`
}

// AttemptStatus describes a single datasource probe.
type AttemptStatus struct {
	Datasource string    `json:"datasource"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// WriteStatus replaces the status of the last run.
func (s *Store) WriteStatus(st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.paths.status(), append(data, '\n'), 0o644)
}

// ReadStatus returns the status of the last run.
func (s *Store) ReadStatus() (*Status, error) {
	data, err := os.ReadFile(s.paths.status())
	if err != nil {
		return nil, err
	}

	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
