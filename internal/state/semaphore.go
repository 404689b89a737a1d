package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
)

// ErrNoInstance indicates a per-instance semaphore was requested before any record was persisted.
var ErrNoInstance = errors.New("no current instance")

// Frequency is how often a named action may run.
type Frequency string

const (
	PerInstance Frequency = "per-instance"
	PerBoot     Frequency = "per-boot"
	PerOnce     Frequency = "per-once"
	Always      Frequency = "always"
)

// ParseFrequency parses the string form of a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case PerInstance, PerBoot, PerOnce, Always:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Marker is the content of a semaphore file.
type Marker struct {
	Name       string    `json:"name"`
	Frequency  Frequency `json:"frequency"`
	InstanceID string    `json:"instance-id,omitempty"`
	BootID     string    `json:"boot-id,omitempty"`
	SetAt      time.Time `json:"set-at"`
}

// CheckAndSet reports whether the semaphore name has already been consumed for freq and, if it
// has not, consumes it. Exactly one of any number of concurrent callers observes false.
// Always semaphores are never consumed.
func (s *Store) CheckAndSet(name string, freq Frequency) (bool, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || strings.HasPrefix(name, ".") {
		return false, fmt.Errorf("invalid semaphore name %q", name)
	}

	marker := Marker{
		Name:      name,
		Frequency: freq,
		BootID:    s.bootID,
		SetAt:     s.clock.Now().UTC(),
	}

	var dir string
	switch freq {
	case Always:
		return false, nil
	case PerOnce:
		dir = s.paths.onceSemaphores()
	case PerBoot:
		dir = s.paths.bootSemaphores()
	case PerInstance:
		id := s.InstanceID()
		if id == "" {
			return false, ErrNoInstance
		}
		marker.InstanceID = id
		dir = s.paths.instanceSemaphores(id)
	default:
		return false, fmt.Errorf("unknown frequency %q", freq)
	}

	path := filepath.Join(dir, name)

	existing, err := readMarker(path)
	switch {
	case err == nil:
		if freq != PerInstance || existing.InstanceID == marker.InstanceID {
			return true, nil
		}
		// Set against another instance that reused this directory name. Replace it.
		s.log.V(1).Info("Replacing stale semaphore", "name", name, "instance_id", existing.InstanceID)
		return false, writeMarker(path, marker)
	case !errors.Is(err, fs.ErrNotExist):
		s.log.Error(err, "Replacing unreadable semaphore", "path", path)
		return false, writeMarker(path, marker)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	created, err := createMarker(path, marker)
	if err != nil {
		return false, err
	}

	return !created, nil
}

// ReadMarker returns the marker for name at freq, if set.
func (s *Store) ReadMarker(name string, freq Frequency) (*Marker, error) {
	var dir string
	switch freq {
	case PerOnce:
		dir = s.paths.onceSemaphores()
	case PerBoot:
		dir = s.paths.bootSemaphores()
	case PerInstance:
		dir = s.paths.instanceSemaphores(s.InstanceID())
	default:
		return nil, fmt.Errorf("frequency %q has no marker", freq)
	}
	return readMarker(filepath.Join(dir, name))
}

func readMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeMarker(path string, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// createMarker writes m to path only if path does not exist. The marker is fully written to a
// temporary file and then hard linked into place, so the name never refers to a partial file.
func createMarker(path string, m Marker) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
