package detect_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/tinkerbell/sprout/internal/datasource"
	. "github.com/tinkerbell/sprout/internal/detect"
	ec2emu "github.com/tinkerbell/sprout/internal/emulator/ec2"
	"github.com/tinkerbell/sprout/internal/emulator/flatfile"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/metrics"
	"github.com/tinkerbell/sprout/internal/state"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

const instanceYAML = `
- userdata: |
    #cloud-config
    runcmd: [echo %[1]s]
  metadata:
    id: %[1]s
    localHostname: host-%[1]s
    instanceType: t3.micro
    placement:
      availabilityZone: us-east-1a
      region: us-east-1
    publicKeys:
      - name: ops
        key: ssh-ed25519 AAAA ops@%[1]s
    ipv4:
      local: 127.0.0.1
`

// switchable serves whichever flatfile backend is current so a test can replace the instance
// behind the emulator between runs.
type switchable struct {
	mu      sync.Mutex
	backend *flatfile.Backend
}

func (s *switchable) set(t *testing.T, instanceID string) {
	t.Helper()
	b, err := flatfile.FromYAML(strings.NewReader(fmt.Sprintf(instanceYAML, instanceID)))
	require.NoError(t, err)

	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

func (s *switchable) GetEC2Instance(ctx context.Context, ip string) (ec2emu.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.GetEC2Instance(ctx, ip)
}

// requestLog records every request the emulator answers as "METHOD path status".
type requestLog struct {
	mu       sync.Mutex
	requests []string
}

func (l *requestLog) middleware(ctx *gin.Context) {
	ctx.Next()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, fmt.Sprintf("%s %s %d", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status()))
}

func (l *requestLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.requests
	l.requests = nil
	return out
}

type harness struct {
	fs       afero.Fs
	imds     *switchable
	requests *requestLog
	store    *state.Store
	registry *datasource.Registry
	metrics  *metrics.Agent
}

func newHarness(t *testing.T, mode fetch.TokenMode) *harness {
	t.Helper()

	h := &harness{
		fs:       afero.NewMemMapFs(),
		imds:     &switchable{},
		requests: &requestLog{},
		metrics:  metrics.NewAgent(prometheus.NewRegistry()),
	}
	h.imds.set(t, "i-0aaaaaaaaaaaaaaaa")
	h.setAssetTag(t, "i-0aaaaaaaaaaaaaaaa")
	require.NoError(t, afero.WriteFile(h.fs, "/sys/class/dmi/id/sys_vendor", []byte("Amazon EC2\n"), 0o644))

	router := gin.New()
	router.Use(h.requests.middleware)
	ec2emu.New(logr.Discard(), h.imds, ec2emu.WithTokenRequired(true)).Configure(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	root := t.TempDir()
	bootID := filepath.Join(root, "boot_id")
	require.NoError(t, os.WriteFile(bootID, []byte(uuid.NewString()), 0o644))

	store, err := state.Open(logr.Discard(), state.Paths{Root: filepath.Join(root, "state"), BootIDPath: bootID})
	require.NoError(t, err)
	h.store = store

	policy := fetch.Policy{
		Attempts:        2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
		Budget:          5 * time.Second,
		Timeout:         2 * time.Second,
	}

	nocloud := datasource.DefaultOptions(datasource.NoCloud)
	nocloud.SeedDirs = []string{"/seed/nocloud"}
	nocloud.Labels = nil

	imds := datasource.DefaultOptions(datasource.EC2)
	imds.URL = server.URL
	imds.Policy = policy
	imds.TokenMode = mode

	registry, err := datasource.NewRegistry(datasource.Config{
		Order: []datasource.Kind{datasource.NoCloud, datasource.EC2},
		Options: map[datasource.Kind]datasource.Options{
			datasource.NoCloud: nocloud,
			datasource.EC2:     imds,
		},
	}, datasource.Dependencies{
		Log:       logr.Discard(),
		FS:        h.fs,
		SysfsRoot: "/sys",
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	h.registry = registry

	return h
}

func (h *harness) setAssetTag(t *testing.T, tag string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, "/sys/class/dmi/id/board_asset_tag", []byte(tag+"\n"), 0o644))
}

func (h *harness) acquire(t *testing.T) Result {
	t.Helper()
	engine := New(logr.Discard(), h.registry, h.store, WithDeadline(10*time.Second), WithMetrics(h.metrics))
	res, err := engine.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, Done, engine.Stage())
	return res
}

func TestScenarioLocalSeedWins(t *testing.T) {
	h := newHarness(t, fetch.TokenEager)

	userData := []byte("#cloud-config\npackages: [htop]\n")
	require.NoError(t, afero.WriteFile(h.fs, "/seed/nocloud/meta-data", []byte("instance-id: iid-local-01\nlocal-hostname: seeded\n"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/seed/nocloud/user-data", userData, 0o644))

	res := h.acquire(t)

	require.Equal(t, datasource.NoCloud, res.Datasource)
	require.Equal(t, "iid-local-01", res.Metadata.InstanceID)
	require.Equal(t, userData, res.Metadata.UserData)
	require.Len(t, res.Attempts, 1)

	if requests := h.requests.take(); len(requests) != 0 {
		t.Fatalf("Expected no metadata service requests;\nReceived: %v", requests)
	}
}

func TestScenarioTokenChallenge(t *testing.T) {
	h := newHarness(t, fetch.TokenChallenge)

	res := h.acquire(t)

	require.Equal(t, datasource.EC2, res.Datasource)
	require.Equal(t, "i-0aaaaaaaaaaaaaaaa", res.Metadata.InstanceID)
	require.NotNil(t, res.Metadata.Region)
	require.Equal(t, "us-east-1", *res.Metadata.Region)
	require.Equal(t, []string{"ssh-ed25519 AAAA ops@i-0aaaaaaaaaaaaaaaa"}, res.Metadata.PublicKeys)

	requests := h.requests.take()
	require.GreaterOrEqual(t, len(requests), 3)

	expect := []string{
		"GET /latest/meta-data/instance-id 401",
		"PUT /latest/api/token 200",
		"GET /latest/meta-data/instance-id 200",
	}
	if diff := cmp.Diff(expect, requests[:3]); diff != "" {
		t.Fatal(diff)
	}

	for _, r := range requests[3:] {
		if strings.HasSuffix(r, " 401") {
			t.Fatalf("Expected every request after the challenge to be authorized;\nReceived: %v", requests)
		}
	}
}

func TestScenarioSameInstanceReusesRecord(t *testing.T) {
	h := newHarness(t, fetch.TokenEager)

	first := h.acquire(t)
	require.False(t, first.FromCache)
	require.True(t, first.NewInstance)
	require.NotEmpty(t, h.requests.take())

	second := h.acquire(t)
	require.True(t, second.FromCache)
	require.False(t, second.NewInstance)

	if diff := cmp.Diff(first.Metadata, second.Metadata); diff != "" {
		t.Fatal(diff)
	}

	if requests := h.requests.take(); len(requests) != 0 {
		t.Fatalf("Expected: no requests on the second run;\nReceived: %v", requests)
	}

	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CacheHits))
}

func TestScenarioInstanceChange(t *testing.T) {
	h := newHarness(t, fetch.TokenEager)

	first := h.acquire(t)
	require.Equal(t, "i-0aaaaaaaaaaaaaaaa", first.Metadata.InstanceID)

	consumed, err := h.store.CheckAndSet("ssh-host-keys", state.PerInstance)
	require.NoError(t, err)
	require.False(t, consumed)

	consumed, err = h.store.CheckAndSet("first-boot", state.PerOnce)
	require.NoError(t, err)
	require.False(t, consumed)

	// The image is booted as a new instance.
	h.imds.set(t, "i-0bbbbbbbbbbbbbbbb")
	h.setAssetTag(t, "i-0bbbbbbbbbbbbbbbb")
	h.requests.take()

	second := h.acquire(t)
	require.False(t, second.FromCache)
	require.True(t, second.NewInstance)
	require.Equal(t, "i-0bbbbbbbbbbbbbbbb", second.Metadata.InstanceID)
	require.NotEmpty(t, h.requests.take())

	require.Equal(t, "i-0aaaaaaaaaaaaaaaa", h.store.PreviousInstanceID())
	require.Equal(t, "i-0bbbbbbbbbbbbbbbb", h.store.InstanceID())

	consumed, err = h.store.CheckAndSet("ssh-host-keys", state.PerInstance)
	require.NoError(t, err)
	require.False(t, consumed, "per-instance semaphore should reset for a new instance")

	consumed, err = h.store.CheckAndSet("first-boot", state.PerOnce)
	require.NoError(t, err)
	require.True(t, consumed, "per-once semaphore should survive an instance change")
}
