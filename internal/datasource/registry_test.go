package datasource_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	. "github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/localmedia"
)

func quickPolicy() fetch.Policy {
	return fetch.Policy{
		Attempts:        1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
		Budget:          5 * time.Second,
		Timeout:         2 * time.Second,
	}
}

func httpOptions(url string) Options {
	return Options{URL: url, Policy: quickPolicy(), Timeout: 10 * time.Second, PlatformCheck: PlatformCheckOff}
}

func writeFiles(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
}

// fakeMedia serves payloads for labelled devices without mounting anything.
type fakeMedia struct {
	devices map[string]string
	images  map[string]map[string][]byte
	reads   int
}

func (m *fakeMedia) FindDevices(labels []string) ([]string, error) {
	var out []string
	for _, l := range labels {
		if d, ok := m.devices[l]; ok {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, localmedia.ErrNoDevice
	}
	return out, nil
}

func (m *fakeMedia) ReadDevice(_ context.Context, device string, _ []string, primary string, optional ...string) (map[string][]byte, error) {
	m.reads++
	img := m.images[device]
	if _, ok := img[primary]; !ok {
		return nil, localmedia.ErrNoSeed
	}
	docs := map[string][]byte{primary: img[primary]}
	for _, name := range optional {
		if d, ok := img[name]; ok {
			docs[name] = d
		}
	}
	return docs, nil
}

func TestNewRegistryErrors(t *testing.T) {
	cases := []struct {
		Name   string
		Config Config
	}{
		{Name: "UnknownKind", Config: Config{Order: []Kind{"vmware"}}},
		{Name: "Duplicate", Config: Config{Order: []Kind{EC2, NoCloud, EC2}}},
		{Name: "MissingURL", Config: Config{Order: []Kind{GCE}, Options: map[Kind]Options{GCE: {}}}},
		{Name: "NoSeedsOrLabels", Config: Config{Order: []Kind{NoCloud}, Options: map[Kind]Options{NoCloud: {}}}},
		{Name: "BadPlatformCheck", Config: Config{Order: []Kind{EC2}, Options: map[Kind]Options{EC2: {URL: "http://x", Policy: quickPolicy(), PlatformCheck: "maybe"}}}},
		{Name: "BadTokenMode", Config: Config{Order: []Kind{EC2}, Options: map[Kind]Options{EC2: {URL: "http://x", Policy: quickPolicy(), TokenMode: "lazy"}}}},
		{Name: "UnboundedRetries", Config: Config{Order: []Kind{EC2}, Options: map[Kind]Options{EC2: {URL: "http://x"}}}},
		{Name: "NegativeAttempts", Config: Config{Order: []Kind{Azure}, Options: map[Kind]Options{Azure: {URL: "http://x", Policy: fetch.Policy{Attempts: -1}}}}},
		{Name: "OptionsForUnknownKind", Config: Config{Options: map[Kind]Options{"smartos": {}}}},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			if _, err := NewRegistry(tc.Config, Dependencies{Log: logr.Discard()}); err == nil {
				t.Fatal("Expected an error")
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	r, err := NewRegistry(Config{Order: []Kind{EC2, NoCloud, Azure}}, Dependencies{Log: logr.Discard()})
	require.NoError(t, err)

	var kinds []Kind
	for _, c := range r.Candidates() {
		kinds = append(kinds, c.Kind)
	}

	if diff := cmp.Diff([]Kind{EC2, NoCloud, Azure}, kinds); diff != "" {
		t.Fatal(diff)
	}

	defaults, err := NewRegistry(Config{}, Dependencies{Log: logr.Discard()})
	require.NoError(t, err)

	kinds = nil
	for _, c := range defaults.Candidates() {
		kinds = append(kinds, c.Kind)
	}
	if diff := cmp.Diff(Kinds(), kinds); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" EC2 ")
	require.NoError(t, err)
	require.Equal(t, EC2, k)

	_, err = ParseKind("digitalocean")
	require.Error(t, err)
}

func TestProbeNoCloudSeed(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/seed/nocloud/meta-data": "instance-id: iid-seed\n",
		"/seed/nocloud/user-data": "#cloud-config\n",
	})

	opts := DefaultOptions(NoCloud)
	opts.SeedDirs = []string{"/missing", "/seed/nocloud"}

	r, err := NewRegistry(
		Config{Order: []Kind{NoCloud}, Options: map[Kind]Options{NoCloud: opts}},
		Dependencies{Log: logr.Discard(), FS: fsys},
	)
	require.NoError(t, err)

	a := r.Probe(context.Background(), r.Candidates()[0])
	if a.Outcome != Found {
		t.Fatalf("Expected: %v;\nReceived: %v (%v)", Found, a.Outcome, a.Reason)
	}

	expect := Raw{"meta-data": []byte("instance-id: iid-seed\n"), "user-data": []byte("#cloud-config\n")}
	if diff := cmp.Diff(expect, a.Raw); diff != "" {
		t.Fatal(diff)
	}

	id, err := r.Identify(context.Background(), NoCloud)
	require.NoError(t, err)
	require.Equal(t, "iid-seed", id)
}

func TestProbeLocalNotApplicable(t *testing.T) {
	r, err := NewRegistry(
		Config{Order: []Kind{NoCloud, ConfigDrive}},
		Dependencies{Log: logr.Discard(), FS: afero.NewMemMapFs(), Media: &fakeMedia{}},
	)
	require.NoError(t, err)

	for _, c := range r.Candidates() {
		a := r.Probe(context.Background(), c)
		if a.Outcome != NotApplicable {
			t.Fatalf("%v: Expected: %v;\nReceived: %v (%v)", c.Kind, NotApplicable, a.Outcome, a.Reason)
		}
	}
}

func TestProbeConfigDriveVolume(t *testing.T) {
	media := &fakeMedia{
		devices: map[string]string{"config-2": "/dev/sr0"},
		images: map[string]map[string][]byte{
			"/dev/sr0": {
				"openstack/latest/meta_data.json": []byte(`{"uuid": "d8e02d56-2648-49a3-bf97-6be8f1204f38"}`),
				"openstack/latest/user_data":      []byte("ud"),
			},
		},
	}

	r, err := NewRegistry(
		Config{Order: []Kind{ConfigDrive}},
		Dependencies{Log: logr.Discard(), FS: afero.NewMemMapFs(), Media: media},
	)
	require.NoError(t, err)

	a := r.Probe(context.Background(), r.Candidates()[0])
	require.Equal(t, Found, a.Outcome, a.Reason)
	require.Equal(t, []byte("ud"), a.Raw["openstack/latest/user_data"])

	md, err := r.Normalize(r.Candidates()[0], a.Raw)
	require.NoError(t, err)
	require.Equal(t, "d8e02d56-2648-49a3-bf97-6be8f1204f38", md.InstanceID)

	id, err := r.Identify(context.Background(), ConfigDrive)
	require.NoError(t, err)
	require.Equal(t, md.InstanceID, id)
}

// imdsv2 serves an EC2 metadata tree that requires a session token.
func imdsv2(t *testing.T, docs map[string]string) (*httptest.Server, *int32) {
	t.Helper()

	const token = "secret-token"
	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)

		if r.URL.Path == "/latest/api/token" {
			if r.Method != http.MethodPut || r.Header.Get("X-aws-ec2-metadata-token-ttl-seconds") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, token)
			return
		}

		if r.Header.Get("X-aws-ec2-metadata-token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		doc, ok := docs[strings.TrimPrefix(r.URL.Path, "/latest/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

func TestProbeEC2(t *testing.T) {
	server, _ := imdsv2(t, map[string]string{
		"meta-data/instance-id":                 "i-abc",
		"meta-data/placement/availability-zone": "us-west-2b",
		"meta-data/public-keys":                 "0=mykey",
		"meta-data/public-keys/0/openssh-key":   "ssh-rsa KEY mykey",
		"user-data":                             "#cloud-config\n",
	})

	for _, mode := range []fetch.TokenMode{fetch.TokenEager, fetch.TokenChallenge} {
		t.Run(string(mode), func(t *testing.T) {
			opts := httpOptions(server.URL)
			opts.TokenTTL = time.Hour
			opts.TokenMode = mode

			r, err := NewRegistry(
				Config{Order: []Kind{EC2}, Options: map[Kind]Options{EC2: opts}},
				Dependencies{Log: logr.Discard()},
			)
			require.NoError(t, err)

			c := r.Candidates()[0]
			a := r.Probe(context.Background(), c)
			require.Equal(t, Found, a.Outcome, a.Reason)

			md, err := r.Normalize(c, a.Raw)
			require.NoError(t, err)
			require.Equal(t, "i-abc", md.InstanceID)
			require.Equal(t, "us-west-2", *md.Region)
			require.Equal(t, []string{"ssh-rsa KEY mykey"}, md.PublicKeys)
			require.Nil(t, md.Hostname)
		})
	}
}

func TestProbeEC2PlatformCheck(t *testing.T) {
	server, hits := imdsv2(t, map[string]string{"meta-data/instance-id": "i-abc"})

	opts := httpOptions(server.URL)
	opts.PlatformCheck = PlatformCheckStrict

	cases := []struct {
		Name     string
		DMI      map[string]string
		Expected Outcome
	}{
		{Name: "NoSignature", Expected: NotApplicable},
		{Name: "OtherVendor", DMI: map[string]string{"/sys/class/dmi/id/sys_vendor": "Dell Inc.\n"}, Expected: NotApplicable},
		{Name: "Amazon", DMI: map[string]string{"/sys/class/dmi/id/sys_vendor": "Amazon EC2\n"}, Expected: Found},
		{Name: "XenHypervisor", DMI: map[string]string{"/sys/hypervisor/uuid": "EC2E1916-9099-7CAF-FD21-012345ABCDEF\n"}, Expected: Found},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeFiles(t, fsys, tc.DMI)

			r, err := NewRegistry(
				Config{Order: []Kind{EC2}, Options: map[Kind]Options{EC2: opts}},
				Dependencies{Log: logr.Discard(), FS: fsys},
			)
			require.NoError(t, err)

			before := atomic.LoadInt32(hits)
			a := r.Probe(context.Background(), r.Candidates()[0])
			require.Equal(t, tc.Expected, a.Outcome, a.Reason)

			if tc.Expected == NotApplicable && atomic.LoadInt32(hits) != before {
				t.Fatal("Expected no requests without a platform signature")
			}
		})
	}
}

func TestProbeGCE(t *testing.T) {
	cases := []struct {
		Name     string
		Flavor   string
		Expected Outcome
	}{
		{Name: "Google", Flavor: "Google", Expected: Found},
		{Name: "ImposterWithoutHeader", Expected: NotApplicable},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Metadata-Flavor") != "Google" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				if tc.Flavor != "" {
					w.Header().Set("Metadata-Flavor", tc.Flavor)
				}
				switch r.URL.Path {
				case "/computeMetadata/v1/instance/id":
					fmt.Fprint(w, "42")
				case "/computeMetadata/v1/instance/zone":
					fmt.Fprint(w, "projects/1/zones/europe-west1-b")
				default:
					http.NotFound(w, r)
				}
			}))
			defer server.Close()

			r, err := NewRegistry(
				Config{Order: []Kind{GCE}, Options: map[Kind]Options{GCE: httpOptions(server.URL + "/computeMetadata/v1")}},
				Dependencies{Log: logr.Discard()},
			)
			require.NoError(t, err)

			c := r.Candidates()[0]
			a := r.Probe(context.Background(), c)
			require.Equal(t, tc.Expected, a.Outcome, a.Reason)

			if a.Outcome == Found {
				md, err := r.Normalize(c, a.Raw)
				require.NoError(t, err)
				require.Equal(t, "42", md.InstanceID)
				require.Equal(t, "europe-west1", *md.Region)
			}
		})
	}
}

func TestProbeAzure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata") != "true" || r.URL.Query().Get("api-version") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/metadata/instance":
			fmt.Fprint(w, `{"compute": {"vmId": "vm-1", "name": "host", "location": "eastus"}}`)
		case "/metadata/instance/compute/userData":
			if r.URL.Query().Get("format") != "text" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, "aGVsbG8=")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	r, err := NewRegistry(
		Config{Order: []Kind{Azure}, Options: map[Kind]Options{Azure: httpOptions(server.URL)}},
		Dependencies{Log: logr.Discard()},
	)
	require.NoError(t, err)

	c := r.Candidates()[0]
	a := r.Probe(context.Background(), c)
	require.Equal(t, Found, a.Outcome, a.Reason)

	md, err := r.Normalize(c, a.Raw)
	require.NoError(t, err)
	require.Equal(t, "vm-1", md.InstanceID)
	require.Equal(t, "host", *md.Hostname)
	require.Equal(t, []byte("hello"), md.UserData)
	require.Nil(t, md.AvailabilityZone)
}

func TestProbeOutcomes(t *testing.T) {
	cases := []struct {
		Name     string
		Status   int
		Expected Outcome
	}{
		{Name: "ServerError", Status: http.StatusInternalServerError, Expected: TransientFailure},
		{Name: "Throttled", Status: http.StatusTooManyRequests, Expected: TransientFailure},
		{Name: "NotFound", Status: http.StatusNotFound, Expected: NotApplicable},
		{Name: "MethodNotAllowed", Status: http.StatusMethodNotAllowed, Expected: NotApplicable},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.Status)
			}))
			defer server.Close()

			r, err := NewRegistry(
				Config{Order: []Kind{OpenStack}, Options: map[Kind]Options{OpenStack: httpOptions(server.URL)}},
				Dependencies{Log: logr.Discard()},
			)
			require.NoError(t, err)

			a := r.Probe(context.Background(), r.Candidates()[0])
			require.Equal(t, tc.Expected, a.Outcome, a.Reason)
			require.NotEmpty(t, a.Reason)
			require.Nil(t, a.Raw)
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r, err := NewRegistry(
		Config{Order: []Kind{OpenStack}, Options: map[Kind]Options{OpenStack: httpOptions(url)}},
		Dependencies{Log: logr.Discard()},
	)
	require.NoError(t, err)

	a := r.Probe(context.Background(), r.Candidates()[0])
	require.Equal(t, TransientFailure, a.Outcome, a.Reason)
}

func TestIdentifyDMI(t *testing.T) {
	cases := []struct {
		Name     string
		Kind     Kind
		DMI      map[string]string
		Expected string
	}{
		{
			Name: "EC2AssetTag",
			Kind: EC2,
			DMI: map[string]string{
				"/sys/class/dmi/id/board_asset_tag": "i-0abc\n",
				"/sys/class/dmi/id/product_uuid":    "EC2ABCDEF\n",
			},
			Expected: "i-0abc",
		},
		{
			Name:     "EC2ProductUUID",
			Kind:     EC2,
			DMI:      map[string]string{"/sys/class/dmi/id/product_uuid": "EC2ABCDEF\n"},
			Expected: "ec2abcdef",
		},
		{
			Name:     "GCE",
			Kind:     GCE,
			DMI:      map[string]string{"/sys/class/dmi/id/product_uuid": "0A1B\n"},
			Expected: "0a1b",
		},
		{
			Name: "AzureNothing",
			Kind: Azure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeFiles(t, fsys, tc.DMI)

			r, err := NewRegistry(Config{}, Dependencies{Log: logr.Discard(), FS: fsys})
			require.NoError(t, err)

			id, err := r.Identify(context.Background(), tc.Kind)
			require.NoError(t, err)
			require.Equal(t, tc.Expected, id)
		})
	}
}

func TestIsNotApplicable(t *testing.T) {
	cases := []struct {
		Name     string
		Err      error
		Expected bool
	}{
		{Name: "NotApplicable", Err: fmt.Errorf("x: %w", ErrNotApplicable), Expected: true},
		{Name: "Malformed", Err: ErrMalformed, Expected: true},
		{Name: "NoSeed", Err: localmedia.ErrNoSeed, Expected: true},
		{Name: "NoDevice", Err: localmedia.ErrNoDevice, Expected: true},
		{Name: "Fetch404", Err: &fetch.Error{Class: fetch.ClassNotApplicable, StatusCode: 404}, Expected: true},
		{Name: "FetchTransient", Err: &fetch.Error{Class: fetch.ClassTransient}, Expected: false},
		{Name: "Other", Err: errors.New("boom"), Expected: false},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			if got := IsNotApplicable(tc.Err); got != tc.Expected {
				t.Fatalf("Expected: %v;\nReceived: %v", tc.Expected, got)
			}
		})
	}
}
