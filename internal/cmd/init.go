package cmd

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/detect"
	"github.com/tinkerbell/sprout/internal/localmedia"
	"github.com/tinkerbell/sprout/internal/metrics"
)

// initSummary is printed on stdout once metadata has been acquired.
type initSummary struct {
	Datasource  string `json:"datasource"`
	InstanceID  string `json:"instance-id"`
	FromCache   bool   `json:"from-cache"`
	NewInstance bool   `json:"new-instance"`
}

func (c *RootCommand) newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Acquire and persist the instance metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runInit(cmd)
		},
	}
}

func (c *RootCommand) runInit(cmd *cobra.Command) error {
	ctx, otelShutdown := otelinit.InitOpenTelemetry(cmd.Context(), "sprout")
	defer otelShutdown(ctx)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	file, err := LoadFileConfig(c.Opts.Config)
	if err != nil {
		return err
	}

	cfg, err := RegistryConfig(c.Opts.Datasources, file)
	if err != nil {
		return err
	}

	store, err := c.openStore()
	if err != nil {
		return err
	}

	registerer := prometheus.NewRegistry()
	agent := metrics.NewAgent(registerer)

	media := localmedia.NewProber(c.log.WithName("localmedia"), localmedia.Config{
		DevDir: c.Opts.DevDir,
		RunDir: c.Opts.RunDir,
	})

	registry, err := datasource.NewRegistry(cfg, datasource.Dependencies{
		Log:       c.log.WithName("datasource"),
		FS:        afero.NewOsFs(),
		SysfsRoot: c.Opts.SysfsRoot,
		Media:     media,
		Metrics:   agent,
	})
	if err != nil {
		return errors.Errorf("configure datasources: %v", err)
	}

	engine := detect.New(c.log.WithName("detect"), registry, store,
		detect.WithDeadline(c.Opts.Deadline),
		detect.WithMetrics(agent),
	)

	res, acquireErr := engine.Acquire(ctx)

	if c.Opts.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(c.Opts.MetricsTextfile, registerer); err != nil {
			c.log.Error(err, "Could not write metrics textfile", "path", c.Opts.MetricsTextfile)
		}
	}

	if acquireErr != nil {
		return acquireErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(initSummary{
		Datasource:  string(res.Datasource),
		InstanceID:  res.Metadata.InstanceID,
		FromCache:   res.FromCache,
		NewInstance: res.NewInstance,
	})
}
