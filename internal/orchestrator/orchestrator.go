// Package orchestrator sequences the fixed-order sync cycle, runs the
// media worker alongside it, and drives the periodic progress snapshot.
// Grounded on the teacher's top-level server loop: one goroutine per
// long-running concern, a ticker for the repeating work, and a
// recover-and-log boundary around anything that can fail independently
// of the others.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/metrics"
	"github.com/rennietech/mls-sync-core/internal/ratelimit"
	"github.com/rennietech/mls-sync-core/internal/sync"
)

// Resetter clears all systems of record before the first cycle.
type Resetter interface {
	Run(ctx context.Context) error
}

// IndexEnsurer creates/validates the search index's attribute settings.
type IndexEnsurer interface {
	EnsureIndex(ctx context.Context) error
}

// MediaWorker runs the continuous media-hydration loop and reports its
// per-cycle backlog sweep.
type MediaWorker interface {
	Run(ctx context.Context)
	Sweep(ctx context.Context) error
}

// ProgressRecorder snapshots system-wide progress.
type ProgressRecorder interface {
	Tick(ctx context.Context) error
}

// Orchestrator wires the five resource drivers, the media worker, and
// the progress recorder into one supervised process.
type Orchestrator struct {
	Reset    Resetter // nil when --reset-on-start was not passed
	Index    IndexEnsurer
	Media    MediaWorker
	Progress ProgressRecorder

	Listings   *sync.Driver
	Deletions  *sync.Driver
	Members    *sync.Driver
	Offices    *sync.Driver
	OpenHouses *sync.Driver

	Interval time.Duration
	Log      zerolog.Logger

	// Metrics and the two governors are optional: when Metrics is nil,
	// governor state is simply never mirrored into Prometheus.
	Metrics       *metrics.Registry
	APIGovernor   *ratelimit.Governor
	MediaGovernor *ratelimit.Governor
}

// Start performs the optional reset, ensures the search index exists,
// spawns the media worker in its own goroutine, runs one sync cycle
// immediately, and then repeats on Interval until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.Reset != nil {
		o.Log.Info().Msg("reset-on-start requested: clearing DB, object store, and search index")
		if err := o.Reset.Run(ctx); err != nil {
			o.Log.Error().Err(err).Msg("reset failed; continuing with existing state")
		}
	}

	if err := o.Index.EnsureIndex(ctx); err != nil {
		return err
	}

	go o.Media.Run(ctx)

	o.runCycle(ctx)

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// runCycle runs the five resource drivers in a fixed order — listings
// before deletions before the reference resources — followed by the
// retry-missing-media sweep and a progress snapshot. Each driver is
// isolated behind a recover-and-log boundary so a panic or error in one
// never takes down the process or skips the drivers after it.
func (o *Orchestrator) runCycle(ctx context.Context) {
	o.runDriver(ctx, "listings", o.Listings)
	o.runDriver(ctx, "deletions", o.Deletions)
	o.runDriver(ctx, "members", o.Members)
	o.runDriver(ctx, "offices", o.Offices)
	o.runDriver(ctx, "open_houses", o.OpenHouses)

	if err := o.Media.Sweep(ctx); err != nil {
		o.Log.Error().Err(err).Msg("media backlog sweep failed")
	}

	if err := o.Progress.Tick(ctx); err != nil {
		o.Log.Error().Err(err).Msg("progress snapshot failed")
	}

	if o.Metrics != nil {
		if o.APIGovernor != nil {
			o.Metrics.ObserveGovernor("upstream_api", o.APIGovernor.Snapshot())
		}
		if o.MediaGovernor != nil {
			o.Metrics.ObserveGovernor("media_cdn", o.MediaGovernor.Snapshot())
		}
	}
}

func (o *Orchestrator) runDriver(ctx context.Context, name string, d *sync.Driver) {
	defer func() {
		if r := recover(); r != nil {
			o.Log.Error().Interface("panic", r).Str("driver", name).Msg("driver panicked; cycle continues")
		}
	}()
	if err := d.Run(ctx); err != nil {
		o.Log.Error().Err(err).Str("driver", name).Msg("driver run failed; cycle continues")
	}
}
