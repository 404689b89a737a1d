package cmd_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/tinkerbell/sprout/internal/cmd"
	"github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/fetch"
)

const configYAML = `
datasources:
  ec2:
    url: http://10.0.0.1
    attempts: 3
    initial-interval: 100ms
    budget: 5s
    token-mode: challenge
    token-ttl: 1h
  nocloud:
    seed-dirs:
      - /srv/seed
    labels: [SEED]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sprout.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileConfig(t *testing.T) {
	cfg, err := LoadFileConfig(writeConfig(t, configYAML))
	if err != nil {
		t.Fatal(err)
	}

	expect := FileConfig{
		Datasources: map[string]DatasourceConfig{
			"ec2": {
				URL:             "http://10.0.0.1",
				Attempts:        3,
				InitialInterval: 100 * time.Millisecond,
				Budget:          5 * time.Second,
				TokenMode:       "challenge",
				TokenTTL:        time.Hour,
			},
			"nocloud": {
				SeedDirs: []string{"/srv/seed"},
				Labels:   []string{"SEED"},
			},
		},
	}

	if diff := cmp.Diff(expect, cfg); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadFileConfigErrors(t *testing.T) {
	cases := []struct {
		Name string
		Path string
	}{
		{
			Name: "ExplicitMissing",
			Path: filepath.Join(t.TempDir(), "missing.yaml"),
		},
		{
			Name: "InvalidYAML",
			Path: writeConfig(t, "datasources: [unterminated"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			if _, err := LoadFileConfig(tc.Path); err == nil {
				t.Fatal("Expected error but received nil")
			}
		})
	}
}

func TestRegistryConfig(t *testing.T) {
	file := FileConfig{
		Datasources: map[string]DatasourceConfig{
			"ec2": {
				URL:       "http://10.0.0.1",
				Attempts:  3,
				TokenMode: "challenge",
			},
		},
	}

	cfg, err := RegistryConfig([]string{"nocloud", "ec2"}, file)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]datasource.Kind{datasource.NoCloud, datasource.EC2}, cfg.Order); diff != "" {
		t.Fatal(diff)
	}

	expect := datasource.DefaultOptions(datasource.EC2)
	expect.URL = "http://10.0.0.1"
	expect.Policy.Attempts = 3
	expect.TokenMode = fetch.TokenChallenge

	if diff := cmp.Diff(map[datasource.Kind]datasource.Options{datasource.EC2: expect}, cfg.Options); diff != "" {
		t.Fatal(diff)
	}
}

func TestRegistryConfigErrors(t *testing.T) {
	cases := []struct {
		Name  string
		Order []string
		File  FileConfig
	}{
		{
			Name:  "UnknownOrderedKind",
			Order: []string{"ec2", "vmware"},
		},
		{
			Name: "UnknownConfiguredKind",
			File: FileConfig{Datasources: map[string]DatasourceConfig{"vmware": {}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			if _, err := RegistryConfig(tc.Order, tc.File); err == nil {
				t.Fatal("Expected error but received nil")
			}
		})
	}
}
