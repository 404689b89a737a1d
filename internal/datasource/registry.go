package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/metadata"
	"github.com/tinkerbell/sprout/internal/metrics"
)

// Media reads payloads from labelled volumes. *localmedia.Prober implements Media.
type Media interface {
	FindDevices(labels []string) ([]string, error)
	ReadDevice(ctx context.Context, device string, fstypes []string, primary string, optional ...string) (map[string][]byte, error)
}

// Config selects and orders the candidates of a Registry.
type Config struct {
	// Order lists the enabled kinds, highest priority first. Defaults to Kinds().
	Order []Kind

	// Options overrides DefaultOptions per kind.
	Options map[Kind]Options
}

// Dependencies are the collaborators used while probing.
type Dependencies struct {
	Log   logr.Logger
	Clock clock.Clock

	// FS is used to read seed directories and DMI attributes. Defaults to the OS filesystem.
	FS afero.Fs

	// SysfsRoot is where sysfs is mounted in FS. Defaults to /sys.
	SysfsRoot string

	// Media mounts labelled volumes. A nil Media disables volume probing.
	Media Media

	HTTPClient *http.Client

	// FetchOptions are applied to every fetch.Client after the registry's own options.
	FetchOptions []fetch.Option

	Metrics *metrics.Agent
}

// Registry holds the configured candidates in priority order.
type Registry struct {
	log        logr.Logger
	clock      clock.Clock
	fs         afero.Fs
	sysfs      string
	media      Media
	httpClient *http.Client
	fetchOpts  []fetch.Option
	metrics    *metrics.Agent
	candidates []Candidate
}

// NewRegistry validates cfg and builds a Registry. Unknown or repeated kinds are rejected.
func NewRegistry(cfg Config, deps Dependencies) (*Registry, error) {
	order := cfg.Order
	if len(order) == 0 {
		order = Kinds()
	}

	for k := range cfg.Options {
		if _, err := ParseKind(string(k)); err != nil {
			return nil, fmt.Errorf("options: %w", err)
		}
	}

	r := &Registry{
		log:        deps.Log,
		clock:      deps.Clock,
		fs:         deps.FS,
		sysfs:      deps.SysfsRoot,
		media:      deps.Media,
		httpClient: deps.HTTPClient,
		fetchOpts:  deps.FetchOptions,
		metrics:    deps.Metrics,
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.sysfs == "" {
		r.sysfs = "/sys"
	}

	seen := make(map[Kind]struct{}, len(order))
	for i, k := range order {
		if _, err := ParseKind(string(k)); err != nil {
			return nil, err
		}
		if _, ok := seen[k]; ok {
			return nil, fmt.Errorf("datasource %q listed more than once", k)
		}
		seen[k] = struct{}{}

		opts, ok := cfg.Options[k]
		if !ok {
			opts = DefaultOptions(k)
		}
		if err := opts.validate(k); err != nil {
			return nil, fmt.Errorf("datasource %q: %w", k, err)
		}

		r.candidates = append(r.candidates, Candidate{Kind: k, Priority: len(order) - i, Options: opts})
	}

	return r, nil
}

func (o Options) validate(k Kind) error {
	switch k {
	case NoCloud, ConfigDrive:
		if len(o.SeedDirs) == 0 && len(o.Labels) == 0 {
			return errors.New("at least one seed directory or label is required")
		}
	case OpenStack, EC2, GCE, Azure:
		if o.URL == "" {
			return errors.New("url is required")
		}
		if o.Policy.Attempts <= 0 && o.Policy.Budget <= 0 {
			return errors.New("retry policy needs a positive attempts or budget")
		}
	}

	switch o.PlatformCheck {
	case "", PlatformCheckStrict, PlatformCheckOff:
	default:
		return fmt.Errorf("unknown platform check %q", o.PlatformCheck)
	}

	switch o.TokenMode {
	case "", fetch.TokenEager, fetch.TokenChallenge:
	default:
		return fmt.Errorf("unknown token mode %q", o.TokenMode)
	}

	return nil
}

// Candidates returns the candidates ordered by descending priority.
func (r *Registry) Candidates() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Probe asks c whether it is present and, if so, returns its raw payload. Probe never returns an
// error; failures are described by the Attempt.
func (r *Registry) Probe(ctx context.Context, c Candidate) Attempt {
	a := Attempt{Kind: c.Kind, Time: r.clock.Now()}

	if c.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Options.Timeout)
		defer cancel()
	}

	log := r.log.WithValues("datasource", c.Kind)

	raw, err := r.probe(ctx, log, c)
	switch {
	case err == nil:
		a.Outcome = Found
		a.Raw = raw
	case IsNotApplicable(err):
		a.Outcome = NotApplicable
		a.Reason = err.Error()
	default:
		a.Outcome = TransientFailure
		a.Reason = err.Error()
	}

	r.metrics.ObserveProbe(string(c.Kind), a.Outcome.String())
	log.V(1).Info("Probed datasource", "outcome", a.Outcome.String(), "reason", a.Reason)

	return a
}

func (r *Registry) probe(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	switch c.Kind {
	case NoCloud:
		return r.probeNoCloud(ctx, log, c)
	case ConfigDrive:
		return r.probeConfigDrive(ctx, log, c)
	case OpenStack:
		return r.probeOpenStack(ctx, log, c)
	case EC2:
		return r.probeEC2(ctx, log, c)
	case GCE:
		return r.probeGCE(ctx, log, c)
	case Azure:
		return r.probeAzure(ctx, log, c)
	}
	return nil, notApplicable("unknown datasource %q", c.Kind)
}

// Normalize converts raw into Metadata. Any error wraps ErrMalformed.
func (r *Registry) Normalize(c Candidate, raw Raw) (metadata.Metadata, error) {
	var (
		md  metadata.Metadata
		err error
	)

	switch c.Kind {
	case NoCloud:
		md, err = normalizeNoCloud(raw)
	case ConfigDrive, OpenStack:
		md, err = normalizeOpenStack(raw)
	case EC2:
		md, err = normalizeEC2(raw)
	case GCE:
		md, err = normalizeGCE(raw)
	case Azure:
		md, err = normalizeAzure(raw)
	default:
		err = fmt.Errorf("unknown datasource %q", c.Kind)
	}

	if err == nil {
		md.Platform = string(c.Kind)
		err = md.Validate()
	}

	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return metadata.Metadata{}, err
	}

	return md, nil
}

// Identify returns a value that identifies the current instance for kind using local sources
// only. It never contacts a network service. An empty identity means none could be determined.
func (r *Registry) Identify(ctx context.Context, k Kind) (string, error) {
	c, ok := r.candidate(k)
	if !ok {
		c = Candidate{Kind: k, Options: DefaultOptions(k)}
	}

	switch k {
	case NoCloud:
		raw, err := r.readLocal(ctx, r.log, c, noCloudMetaData)
		if err != nil {
			return "", err
		}
		md, err := normalizeNoCloud(raw)
		if err != nil {
			return "", err
		}
		return md.InstanceID, nil
	case ConfigDrive:
		raw, err := r.readLocal(ctx, r.log, c, openStackMetaData)
		if err != nil {
			return "", err
		}
		md, err := normalizeOpenStack(raw)
		if err != nil {
			return "", err
		}
		return md.InstanceID, nil
	case EC2:
		hints := r.readDMI()
		if isEC2InstanceID(hints.BoardAssetTag) {
			return hints.BoardAssetTag, nil
		}
		return hints.ProductUUID, nil
	case OpenStack, GCE, Azure:
		return r.readDMI().ProductUUID, nil
	}

	return "", fmt.Errorf("unknown datasource %q", k)
}

func (r *Registry) candidate(k Kind) (Candidate, bool) {
	for _, c := range r.candidates {
		if c.Kind == k {
			return c, true
		}
	}
	return Candidate{}, false
}

// client builds a fetch.Client for a single probe of c.
func (r *Registry) client(log logr.Logger, c Candidate, opts ...fetch.Option) *fetch.Client {
	kind := string(c.Kind)

	all := []fetch.Option{
		fetch.WithClock(r.clock),
		fetch.WithObserver(func(outcome string) { r.metrics.ObserveFetch(kind, outcome) }),
	}
	if r.httpClient != nil {
		all = append(all, fetch.WithHTTPClient(r.httpClient))
	}
	all = append(all, opts...)
	all = append(all, r.fetchOpts...)

	return fetch.New(log, c.Options.Policy, all...)
}

// getOptional fetches url treating a 404 as an absent document.
func getOptional(ctx context.Context, client *fetch.Client, url string) ([]byte, bool, error) {
	body, err := client.Get(ctx, url)
	if err != nil {
		if fetch.StatusCode(err) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}
