package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/localmedia"
)

// readLocal returns the first payload found for c. Seed directories are searched before labelled
// volumes, each in configured order.
func (r *Registry) readLocal(ctx context.Context, log logr.Logger, c Candidate, primary string, optional ...string) (Raw, error) {
	for _, dir := range c.Options.SeedDirs {
		docs, err := localmedia.ReadSeed(r.fs, dir, primary, optional...)
		switch {
		case err == nil:
			log.V(1).Info("Found seed", "dir", dir)
			return Raw(docs), nil
		case errors.Is(err, localmedia.ErrNoSeed):
			continue
		default:
			log.V(1).Info("Could not read seed", "dir", dir, "error", err.Error())
		}
	}

	if r.media == nil || len(c.Options.Labels) == 0 {
		return nil, notApplicable("no seed in %v", c.Options.SeedDirs)
	}

	devices, err := r.media.FindDevices(c.Options.Labels)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, notApplicable("no volume labelled %v", c.Options.Labels)
	}

	var lastErr error
	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		docs, err := r.media.ReadDevice(ctx, device, c.Options.FSTypes, primary, optional...)
		if err == nil {
			log.V(1).Info("Found payload on volume", "device", device)
			return Raw(docs), nil
		}
		log.V(1).Info("Could not read volume", "device", device, "error", err.Error())
		lastErr = err
	}

	if IsNotApplicable(lastErr) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("reading labelled volumes: %w", lastErr)
}
