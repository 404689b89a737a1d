package cmd

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/logger"
	"github.com/tinkerbell/sprout/internal/state"
)

const longHelp = `
Discover the datasource of this instance, retrieve its metadata and user-data, and persist the
result for the rest of the boot.

Each CLI argument has a corresponding environment variable in the form of the CLI argument
prefixed with SPROUT. If both the flag and environment variable form are specified, the flag form
takes precedence.

Examples
  --state-dir          SPROUT_STATE_DIR
  --datasources        SPROUT_DATASOURCES
  --log-level          SPROUT_LOG_LEVEL
`

// EnvNamePrefix defines the environment variable prefix required for all environment configuration.
const EnvNamePrefix = "SPROUT"

// RootCommandOptions encompasses all the configurability of the RootCommand.
type RootCommandOptions struct {
	Config string `mapstructure:"config"`

	StateDir   string `mapstructure:"state-dir"`
	RunDir     string `mapstructure:"run-dir"`
	BootIDPath string `mapstructure:"boot-id-path"`
	SysfsRoot  string `mapstructure:"sysfs-root"`
	DevDir     string `mapstructure:"dev-dir"`

	Datasources []string      `mapstructure:"datasources"`
	Deadline    time.Duration `mapstructure:"deadline"`

	LogLevel        string `mapstructure:"log-level"`
	MetricsTextfile string `mapstructure:"metrics-textfile"`
}

// RootCommand is the sprout entrypoint. Running it without a subcommand is equivalent to
// running init.
type RootCommand struct {
	*cobra.Command
	vpr  *viper.Viper
	Opts RootCommandOptions

	log logr.Logger
}

// NewRootCommand creates new RootCommand instance.
func NewRootCommand() (*RootCommand, error) {
	rootCmd := &RootCommand{
		Command: &cobra.Command{
			Use:          "sprout",
			Long:         longHelp,
			SilenceUsage: true,
		},
		log: logr.Discard(),
	}

	rootCmd.PersistentPreRunE = rootCmd.PreRun
	rootCmd.PersistentFlags().SortFlags = false

	// Ensure keys with `-` use `_` for env keys else Viper won't match them.
	rootCmd.vpr = viper.NewWithOptions(viper.EnvKeyReplacer(strings.NewReplacer("-", "_")))
	rootCmd.vpr.SetEnvPrefix(EnvNamePrefix)

	if err := rootCmd.configureFlags(); err != nil {
		return nil, err
	}

	initCmd := rootCmd.newInitCommand()
	rootCmd.RunE = initCmd.RunE

	rootCmd.AddCommand(
		initCmd,
		rootCmd.newQueryCommand(),
		rootCmd.newStatusCommand(),
		rootCmd.newCleanCommand(),
		rootCmd.newSemaphoreCommand(),
		newVersionCommand(),
	)

	return rootCmd, nil
}

// PreRun satisfies cobra.Command.PersistentPreRunE. It populates c.Opts and the logger.
func (c *RootCommand) PreRun(cmd *cobra.Command, _ []string) error {
	if err := c.vpr.Unmarshal(&c.Opts); err != nil {
		return err
	}

	log, err := logger.New(cmd.ErrOrStderr(), c.Opts.LogLevel, "sprout")
	if err != nil {
		return errors.Errorf("initialize logger: %v", err)
	}
	c.log = log

	return nil
}

func (c *RootCommand) configureFlags() error {
	flags := c.PersistentFlags()

	flags.String("config", "", "Path to the configuration file (default "+DefaultConfigPath+")")

	flags.String("state-dir", "/var/lib/sprout", "Directory holding the persisted record and semaphores")
	flags.String("run-dir", "/run/sprout", "Directory for ephemeral mountpoints and lock files")
	flags.String("boot-id-path", state.DefaultBootIDPath, "File exposing the kernel boot id")
	flags.String("sysfs-root", "/sys", "Mountpoint of sysfs, read for DMI platform hints")
	flags.String("dev-dir", "/dev/disk/by-label", "Directory of volume label symlinks")

	flags.StringSlice("datasources", kindNames(datasource.Kinds()), "Datasources to probe, highest priority first")
	flags.Duration("deadline", 2*time.Minute, "Upper bound on the whole detection")

	flags.String("log-level", "info", "Log level: info, debug or trace")
	flags.String("metrics-textfile", "", "Write detection metrics to this file in the Prometheus text format")

	if err := c.vpr.BindPFlags(flags); err != nil {
		return err
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = c.vpr.BindEnv(f.Name)
	})

	return err
}

// openStore opens the state store described by c.Opts.
func (c *RootCommand) openStore() (*state.Store, error) {
	store, err := state.Open(c.log, state.Paths{Root: c.Opts.StateDir, BootIDPath: c.Opts.BootIDPath})
	if err != nil {
		return nil, errors.Errorf("open state: %v", err)
	}
	return store, nil
}

func kindNames(kinds []datasource.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Execute runs the sprout command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, err := NewRootCommand()
	if err != nil {
		io.WriteString(stderr, err.Error()+"\n")
		return 1
	}

	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
