// Package metadata defines the provider independent instance metadata handed to configuration
// modules. Every datasource normalizes into Metadata.
//
// Optional fields distinguish absent from provided-but-empty: a nil *string or nil []byte means
// the provider did not supply the value, a pointer to "" or a non-nil empty slice means it was
// supplied empty.
package metadata

import (
	"errors"
	"strings"
)

// ErrMissingInstanceID indicates a payload did not identify the instance.
var ErrMissingInstanceID = errors.New("instance-id is required")

// Metadata is the canonical metadata model.
type Metadata struct {
	// InstanceID uniquely identifies the instance. It is the only mandatory field.
	InstanceID string `json:"instance-id"`

	// Platform is the datasource kind that produced the metadata.
	Platform string `json:"platform"`

	Hostname         *string `json:"hostname"`
	AvailabilityZone *string `json:"availability-zone"`
	Region           *string `json:"region"`
	InstanceType     *string `json:"instance-type"`

	// PublicKeys is an ordered set of SSH public keys.
	PublicKeys []string `json:"public-keys"`

	// UserData, VendorData and NetworkConfig are opaque to this package and passed through
	// byte for byte.
	UserData      []byte `json:"user-data"`
	VendorData    []byte `json:"vendor-data"`
	NetworkConfig []byte `json:"network-config"`
}

// Validate ensures m satisfies the model invariants.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.InstanceID) == "" {
		return ErrMissingInstanceID
	}
	return nil
}

// AddPublicKeys appends keys to m.PublicKeys preserving first-seen order. Blank keys and
// duplicates are discarded.
func (m *Metadata) AddPublicKeys(keys ...string) {
	seen := make(map[string]struct{}, len(m.PublicKeys)+len(keys))
	for _, k := range m.PublicKeys {
		seen[k] = struct{}{}
	}

	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		m.PublicKeys = append(m.PublicKeys, k)
	}
}

// Optional returns a pointer to v.
func Optional(v string) *string {
	return &v
}

// OptionalNonEmpty returns a pointer to the trimmed v, or nil if v is blank. It is for providers
// that represent an absent value as an empty string.
func OptionalNonEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Value dereferences p returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
