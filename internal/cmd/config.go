package cmd

import (
	"errors"
	"io/fs"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/fetch"
)

// DefaultConfigPath is read when --config is not specified. A missing default file is ignored.
const DefaultConfigPath = "/etc/sprout/sprout.yaml"

// FileConfig is the content of the configuration file.
//
//	datasources:
//	  ec2:
//	    url: http://169.254.169.254
//	    attempts: 3
//	    budget: 5s
//	    token-mode: challenge
//	  nocloud:
//	    seed-dirs: [/var/lib/cloud/seed/nocloud]
type FileConfig struct {
	Datasources map[string]DatasourceConfig `mapstructure:"datasources"`
}

// DatasourceConfig overrides the defaults of a single datasource. Zero values keep the default.
type DatasourceConfig struct {
	URL string `mapstructure:"url"`

	Attempts        int           `mapstructure:"attempts"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	Jitter          float64       `mapstructure:"jitter"`
	Budget          time.Duration `mapstructure:"budget"`
	Timeout         time.Duration `mapstructure:"timeout"`

	TokenTTL      time.Duration `mapstructure:"token-ttl"`
	TokenMode     string        `mapstructure:"token-mode"`
	PlatformCheck string        `mapstructure:"platform-check"`

	SeedDirs []string `mapstructure:"seed-dirs"`
	Labels   []string `mapstructure:"labels"`
	FSTypes  []string `mapstructure:"fstypes"`
}

// LoadFileConfig reads the configuration file at path. When path is the default and the file
// does not exist an empty configuration is returned.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	vpr := viper.New()
	vpr.SetConfigFile(path)
	vpr.SetConfigType("yaml")

	if err := vpr.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, pkgerrors.Errorf("read config %v: %v", path, err)
	}

	if err := vpr.Unmarshal(&cfg); err != nil {
		return cfg, pkgerrors.Errorf("decode config %v: %v", path, err)
	}

	return cfg, nil
}

// RegistryConfig combines the ordered datasource list with the per-datasource overrides of the
// configuration file.
func RegistryConfig(order []string, file FileConfig) (datasource.Config, error) {
	var cfg datasource.Config

	for _, name := range order {
		k, err := datasource.ParseKind(name)
		if err != nil {
			return cfg, err
		}
		cfg.Order = append(cfg.Order, k)
	}

	if len(file.Datasources) > 0 {
		cfg.Options = make(map[datasource.Kind]datasource.Options, len(file.Datasources))
	}

	for name, override := range file.Datasources {
		k, err := datasource.ParseKind(name)
		if err != nil {
			return cfg, pkgerrors.Errorf("config: %v", err)
		}
		cfg.Options[k] = override.apply(datasource.DefaultOptions(k))
	}

	return cfg, nil
}

func (c DatasourceConfig) apply(opts datasource.Options) datasource.Options {
	if c.URL != "" {
		opts.URL = c.URL
	}

	p := &opts.Policy
	if c.Attempts != 0 {
		p.Attempts = c.Attempts
	}
	if c.InitialInterval != 0 {
		p.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval != 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.Multiplier != 0 {
		p.Multiplier = c.Multiplier
	}
	if c.Jitter != 0 {
		p.Jitter = c.Jitter
	}
	if c.Budget != 0 {
		p.Budget = c.Budget
	}
	if c.Timeout != 0 {
		p.Timeout = c.Timeout
	}

	if c.TokenTTL != 0 {
		opts.TokenTTL = c.TokenTTL
	}
	if c.TokenMode != "" {
		opts.TokenMode = fetch.TokenMode(c.TokenMode)
	}
	if c.PlatformCheck != "" {
		opts.PlatformCheck = datasource.PlatformCheck(c.PlatformCheck)
	}

	if len(c.SeedDirs) > 0 {
		opts.SeedDirs = c.SeedDirs
	}
	if len(c.Labels) > 0 {
		opts.Labels = c.Labels
	}
	if len(c.FSTypes) > 0 {
		opts.FSTypes = c.FSTypes
	}

	return opts
}
