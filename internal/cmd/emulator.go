package cmd

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tinkerbell/sprout/internal/emulator/ec2"
	"github.com/tinkerbell/sprout/internal/emulator/flatfile"
	sprouthttp "github.com/tinkerbell/sprout/internal/http"
	"github.com/tinkerbell/sprout/internal/logger"
	"github.com/tinkerbell/sprout/internal/metrics"
	"github.com/tinkerbell/sprout/internal/xff"
	"github.com/tinkerbell/sprout/internal/zpages"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const emulatorLongHelp = `
Run an instance metadata service emulator serving the EC2 API from a flatfile of instances.
Instances are matched by the IPv4 address of the requesting client.

Each CLI argument has a corresponding environment variable in the form of the CLI argument
prefixed with IMDS_EMULATOR. If both the flag and environment variable form are specified, the
flag form takes precedence.

Examples
  --http-port          IMDS_EMULATOR_HTTP_PORT
  --flatfile-path      IMDS_EMULATOR_FLATFILE_PATH
  --trusted-proxies    IMDS_EMULATOR_TRUSTED_PROXIES
`

// EmulatorEnvNamePrefix defines the environment variable prefix of the emulator.
const EmulatorEnvNamePrefix = "IMDS_EMULATOR"

// EmulatorCommandOptions encompasses all the configurability of the EmulatorCommand.
type EmulatorCommandOptions struct {
	TrustedProxies string `mapstructure:"trusted-proxies"`

	HTTPPort int `mapstructure:"http-port"`

	FlatfilePath string `mapstructure:"flatfile-path"`

	RequireToken bool `mapstructure:"require-token"`

	LogLevel string `mapstructure:"log-level"`
}

// EmulatorCommand runs the metadata service emulator.
type EmulatorCommand struct {
	*cobra.Command
	vpr  *viper.Viper
	Opts EmulatorCommandOptions
}

// NewEmulatorCommand creates new EmulatorCommand instance.
func NewEmulatorCommand() (*EmulatorCommand, error) {
	emuCmd := &EmulatorCommand{
		Command: &cobra.Command{
			Use:          "imds-emulator",
			Long:         emulatorLongHelp,
			SilenceUsage: true,
			Args:         cobra.NoArgs,
		},
	}

	emuCmd.PreRunE = emuCmd.PreRun
	emuCmd.RunE = emuCmd.Run
	emuCmd.Flags().SortFlags = false

	emuCmd.vpr = viper.NewWithOptions(viper.EnvKeyReplacer(strings.NewReplacer("-", "_")))
	emuCmd.vpr.SetEnvPrefix(EmulatorEnvNamePrefix)

	if err := emuCmd.configureFlags(); err != nil {
		return nil, err
	}

	emuCmd.AddCommand(newVersionCommand())

	return emuCmd, nil
}

// PreRun satisfies cobra.Command.PreRunE and unmarshalls. Its responsible for populating c.Opts.
func (c *EmulatorCommand) PreRun(*cobra.Command, []string) error {
	if err := c.vpr.Unmarshal(&c.Opts); err != nil {
		return err
	}

	if c.Opts.FlatfilePath == "" {
		return errors.New("--flatfile-path is required")
	}

	return nil
}

// Run executes the emulator until it receives SIGINT or SIGTERM.
func (c *EmulatorCommand) Run(cmd *cobra.Command, _ []string) error {
	log, err := logger.New(cmd.ErrOrStderr(), c.Opts.LogLevel, "imds-emulator")
	if err != nil {
		return errors.Errorf("initialize logger: %v", err)
	}

	log.Info("Emulator options", "opts", fmt.Sprintf("%#v", c.Opts))

	ctx, otelShutdown := otelinit.InitOpenTelemetry(cmd.Context(), "imds-emulator")
	defer otelShutdown(ctx)

	backend, err := flatfile.FromYAMLFile(c.Opts.FlatfilePath)
	if err != nil {
		return errors.Errorf("load flatfile: %v", err)
	}

	proxies, err := xff.Parse(c.Opts.TrustedProxies)
	if err != nil {
		return err
	}

	xffmw, err := xff.Middleware(proxies)
	if err != nil {
		return err
	}

	registry := metrics.NewServerRegistry()

	router := gin.New()
	router.Use(
		logger.Middleware(log),
		gin.Recovery(),
		xffmw,
		metrics.InstrumentRequestCount(registry),
		metrics.InstrumentRequestDuration(registry),
	)

	zpages.Configure(router, registry, backend)

	fe := ec2.New(log.WithName("ec2"), backend, ec2.WithTokenRequired(c.Opts.RequireToken))
	fe.Configure(router)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var routines run.Group

	routines.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	routines.Add(
		func() error {
			handler := otelhttp.NewHandler(router, "imds-emulator")
			return sprouthttp.ListenAndServe(ctx, log, fmt.Sprintf(":%v", c.Opts.HTTPPort), handler)
		},
		func(error) { cancel() },
	)

	err = routines.Run()

	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info("Shutting down", "signal", sig.Signal.String())
		return nil
	}

	return err
}

func (c *EmulatorCommand) configureFlags() error {
	c.Flags().Int("http-port", 50061, "Port to listen on for HTTP requests")

	c.Flags().String("flatfile-path", "", "Path to the YAML file of instances to serve")

	c.Flags().String(
		"trusted-proxies",
		"",
		"A commma separated list of allowed peer IPs and/or CIDR blocks to replace with X-Forwarded-For",
	)

	c.Flags().Bool("require-token", false, "Reject metadata requests without an IMDSv2 session token")

	c.Flags().String("log-level", "info", "Log level: info, debug or trace")

	if err := c.vpr.BindPFlags(c.Flags()); err != nil {
		return err
	}

	var err error
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = c.vpr.BindEnv(f.Name)
	})

	return err
}
