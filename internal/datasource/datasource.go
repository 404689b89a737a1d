// Package datasource knows every environment the agent can run in. A Registry holds the
// configured candidates in priority order, probes them for raw payloads and normalizes payloads
// into metadata.Metadata.
package datasource

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/localmedia"
)

// Kind identifies a datasource. The set is closed.
type Kind string

const (
	NoCloud     Kind = "nocloud"
	ConfigDrive Kind = "configdrive"
	OpenStack   Kind = "openstack"
	EC2         Kind = "ec2"
	GCE         Kind = "gce"
	Azure       Kind = "azure"
)

// Kinds lists every supported Kind in the default priority order.
func Kinds() []Kind {
	return []Kind{NoCloud, ConfigDrive, EC2, GCE, Azure, OpenStack}
}

// ParseKind parses the string form of a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown datasource %q", s)
}

// ErrNotApplicable indicates a datasource is not present in this environment.
var ErrNotApplicable = errors.New("datasource not applicable")

// ErrMalformed indicates a payload could not be normalized. It is treated as not applicable.
var ErrMalformed = fetch.ErrMalformed

func notApplicable(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrNotApplicable, fmt.Sprintf(format, args...))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrMalformed, fmt.Sprintf(format, args...))
}

// IsNotApplicable reports whether err means the datasource does not exist here, as opposed to a
// failure that might clear up.
func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrNotApplicable) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, localmedia.ErrNoSeed) ||
		errors.Is(err, localmedia.ErrNoDevice) ||
		fetch.IsNotApplicable(err)
}

// Outcome is the result of probing a candidate.
type Outcome int

const (
	Found Outcome = iota
	NotApplicable
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotApplicable:
		return "not_applicable"
	case TransientFailure:
		return "transient_failure"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Raw is a set of named documents exactly as a datasource served them.
type Raw map[string][]byte

// Attempt records a single probe.
type Attempt struct {
	Kind    Kind
	Time    time.Time
	Outcome Outcome

	// Reason explains a NotApplicable or TransientFailure outcome.
	Reason string

	// Raw is set when Outcome is Found.
	Raw Raw
}

// Candidate is a configured datasource. Candidates are immutable once the Registry is built.
type Candidate struct {
	Kind     Kind
	Priority int
	Options  Options
}

// PlatformCheck controls whether an HTTP datasource requires a matching DMI signature before
// any request is sent.
type PlatformCheck string

const (
	PlatformCheckStrict PlatformCheck = "strict"
	PlatformCheckOff    PlatformCheck = "off"
)

// Options configures a Candidate. Fields irrelevant to a Kind are ignored.
type Options struct {
	// URL is the base URL of an HTTP metadata service.
	URL string

	// Policy bounds every request made by the candidate.
	Policy fetch.Policy

	// Timeout bounds the whole probe.
	Timeout time.Duration

	TokenTTL  time.Duration
	TokenMode fetch.TokenMode

	PlatformCheck PlatformCheck

	// SeedDirs are searched, in order, before any labelled volume.
	SeedDirs []string

	// Labels identify volumes carrying the payload, in order of preference.
	Labels []string

	// FSTypes are tried in order when mounting a volume.
	FSTypes []string
}

// DefaultOptions returns the options used for k when none are configured.
func DefaultOptions(k Kind) Options {
	opts := Options{
		Policy:        fetch.DefaultPolicy(),
		Timeout:       30 * time.Second,
		PlatformCheck: PlatformCheckOff,
	}

	switch k {
	case NoCloud:
		opts.SeedDirs = []string{"/var/lib/cloud/seed/nocloud", "/var/lib/cloud/seed/nocloud-net"}
		opts.Labels = []string{"cidata", "CIDATA"}
		opts.FSTypes = []string{"iso9660", "vfat"}
	case ConfigDrive:
		opts.SeedDirs = []string{"/mnt/config", "/config-2", "/media/configdrive", "/run/cloud-init/config-drive"}
		opts.Labels = []string{"config-2", "CONFIG-2"}
		opts.FSTypes = []string{"iso9660", "vfat"}
	case OpenStack:
		opts.URL = "http://169.254.169.254"
	case EC2:
		opts.URL = "http://169.254.169.254"
		opts.TokenTTL = 6 * time.Hour
		opts.TokenMode = fetch.TokenEager
		opts.PlatformCheck = PlatformCheckStrict
	case GCE:
		opts.URL = "http://metadata.google.internal/computeMetadata/v1"
	case Azure:
		opts.URL = "http://169.254.169.254"
	}

	return opts
}
