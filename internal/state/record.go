package state

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio"
	"github.com/tinkerbell/sprout/internal/metadata"
	"github.com/zeebo/blake3"
)

// ErrCorrupt indicates the persisted record could not be trusted.
var ErrCorrupt = errors.New("state record corrupt")

// ErrNoRecord indicates no record has been persisted.
var ErrNoRecord = errors.New("no state record")

const recordVersion = 1

// Record is the persisted outcome of a successful detection.
type Record struct {
	// Datasource names the datasource kind the metadata came from.
	Datasource string `json:"datasource"`

	InstanceID string `json:"instance-id"`

	// Identity is the value the datasource's local re-identification produced when the record
	// was written. A later run reuses the record only while the identity is unchanged.
	Identity string `json:"identity"`

	Metadata  metadata.Metadata `json:"metadata"`
	FetchedAt time.Time         `json:"fetched-at"`
}

func (r Record) validate() error {
	if err := r.Metadata.Validate(); err != nil {
		return err
	}
	if r.InstanceID != r.Metadata.InstanceID {
		return fmt.Errorf("record instance-id %q does not match metadata instance-id %q", r.InstanceID, r.Metadata.InstanceID)
	}
	return nil
}

type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Record   json.RawMessage `json:"record"`
}

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func encodeRecord(r Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(envelope{
		Version:  recordVersion,
		Checksum: checksum(raw),
		Record:   raw,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if env.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}

	// The record is stored indented inside the envelope; the checksum covers its compact form.
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if env.Checksum != checksum(compact.Bytes()) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var r Record
	if err := json.Unmarshal(env.Record, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &r, nil
}

// ReadRecord reads the persisted record. It returns ErrNoRecord if none exists and an error
// wrapping ErrCorrupt if the record is unreadable.
func (s *Store) ReadRecord() (*Record, error) {
	data, err := os.ReadFile(s.paths.record())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return decodeRecord(data)
}

// LoadPrevious returns the persisted record or nil. A corrupt record is logged and treated as
// absent.
func (s *Store) LoadPrevious() *Record {
	r, err := s.ReadRecord()
	switch {
	case errors.Is(err, ErrNoRecord):
		return nil
	case err != nil:
		s.log.Error(err, "Ignoring persisted record", "path", s.paths.record())
		return nil
	}
	return r
}

// ShouldReuse reports whether prev describes the instance identified by identity.
func (s *Store) ShouldReuse(prev *Record, identity string) bool {
	return prev != nil && identity != "" && identity == prev.Identity
}

// Persist atomically replaces the record with r. Readers observe either the old or the new
// record, never a partial one.
func (s *Store) Persist(r Record) error {
	if err := r.validate(); err != nil {
		return err
	}

	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if err := os.MkdirAll(s.paths.instanceSemaphores(r.InstanceID), 0o755); err != nil {
		return err
	}

	if err := renameio.WriteFile(s.paths.record(), data, 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if err := renameio.WriteFile(s.paths.instanceID(), []byte(r.InstanceID+"\n"), 0o644); err != nil {
		return fmt.Errorf("write instance-id: %w", err)
	}

	if err := renameio.Symlink(s.paths.instance(r.InstanceID), s.paths.instanceLink()); err != nil {
		return fmt.Errorf("link instance: %w", err)
	}

	s.mu.Lock()
	s.instanceID = r.InstanceID
	s.mu.Unlock()

	s.log.V(1).Info("Persisted record", "instance_id", r.InstanceID, "datasource", r.Datasource)

	return nil
}

// HandleInstanceChange is called when the instance-id no longer matches prev. It clears the
// per-instance semaphores of the previous instance, discards the record and remembers the
// previous instance-id.
func (s *Store) HandleInstanceChange(prev *Record, freshID string) error {
	if prev == nil {
		return nil
	}

	s.log.Info("Instance changed", "previous_instance_id", prev.InstanceID, "instance_id", freshID)

	var errs []error
	if err := os.RemoveAll(s.paths.instanceSemaphores(prev.InstanceID)); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(s.paths.record()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := renameio.WriteFile(s.paths.previousInstanceID(), []byte(prev.InstanceID+"\n"), 0o644); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	if s.instanceID == prev.InstanceID {
		s.instanceID = ""
	}
	s.mu.Unlock()

	return errors.Join(errs...)
}
