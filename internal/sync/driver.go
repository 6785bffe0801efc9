// Package sync implements the delta-sync contract shared by every
// upstream resource: read high-water-mark, page with an incremental
// filter, process each record, advance the high-water-mark after every
// batch. Generalized from the teacher's single fixed query/response pair
// into a paging loop parameterized by resource, filter, and a
// per-resource page-processing callback.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/upstream"
)

// SyncStateStore is the persistence contract a driver needs for
// high-water-mark bookkeeping.
type SyncStateStore interface {
	GetSyncState(ctx context.Context, resource, originatingSystem string) (time.Time, error)
	SetSyncState(ctx context.Context, resource, originatingSystem string, hwm time.Time) error
}

// Fetcher is the subset of upstream.Client a driver needs.
type Fetcher interface {
	Fetch(ctx context.Context, req upstream.PageRequest) (*upstream.Page, error)
	FetchNext(ctx context.Context, nextLink string) (*upstream.Page, error)
}

// RecordsCounter is the internal/metrics surface a driver reports
// processed-record counts to. Optional: a nil Driver.Metrics is a no-op.
type RecordsCounter interface {
	Add(resource string, n int)
}

// ProcessPageFunc handles one page of decoded records, returning the
// maximum modified timestamp it saw so the caller can decide whether to
// advance the high-water-mark.
type ProcessPageFunc func(ctx context.Context, records []map[string]any) (maxModified time.Time, err error)

// Driver runs the six-step delta-sync algorithm against one resource.
type Driver struct {
	Resource          string
	OriginatingSystem string
	ODataResource     string
	Expand            string
	Select            string
	Visibility        *bool // nil = no visibility clause (Member/Office)
	BatchSize         int
	MaxRecords        int // 0 = unlimited; test/operator cap

	Fetcher    Fetcher
	SyncStates SyncStateStore
	Log        zerolog.Logger

	Process ProcessPageFunc
	Metrics RecordsCounter
}

// Run executes one full delta cycle for this resource: read W, page from
// upstream ordered by modified-at ascending, process each page, and
// persist the new high-water-mark after every batch (not only at the
// end) so a crash never re-processes an acknowledged batch.
func (d *Driver) Run(ctx context.Context) error {
	hwm, err := d.SyncStates.GetSyncState(ctx, d.Resource, d.OriginatingSystem)
	if err != nil {
		return fmt.Errorf("reading high-water-mark for %s: %w", d.Resource, err)
	}

	filter := upstream.NewFilter().OriginatingSystem(d.OriginatingSystem)
	if d.Visibility != nil {
		filter = filter.Visibility(*d.Visibility)
	}
	filter = filter.ModifiedAfter(hwm)

	req := upstream.PageRequest{
		Resource: d.ODataResource,
		Filter:   filter.String(),
		Expand:   d.Expand,
		Select:   d.Select,
		Top:      d.BatchSize,
		OrderBy:  "ModificationTimestamp asc",
	}

	page, err := d.Fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("fetching first page of %s: %w", d.Resource, err)
	}

	processed := 0
	running := hwm
	for {
		batchMax, err := d.Process(ctx, page.Value)
		if err != nil {
			return fmt.Errorf("processing %s page: %w", d.Resource, err)
		}
		processed += len(page.Value)
		if d.Metrics != nil {
			d.Metrics.Add(d.Resource, len(page.Value))
		}

		if batchMax.After(running) {
			running = batchMax
			if err := d.SyncStates.SetSyncState(ctx, d.Resource, d.OriginatingSystem, running); err != nil {
				return fmt.Errorf("persisting high-water-mark for %s: %w", d.Resource, err)
			}
		}

		if page.NextLink == "" {
			break
		}
		if d.MaxRecords > 0 && processed >= d.MaxRecords {
			d.Log.Info().Str("resource", d.Resource).Int("processed", processed).Msg("hit per-resource test cap, stopping early")
			break
		}

		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}

		page, err = d.Fetcher.FetchNext(ctx, page.NextLink)
		if err != nil {
			return fmt.Errorf("following nextLink for %s: %w", d.Resource, err)
		}
	}

	d.Log.Info().Str("resource", d.Resource).Int("processed", processed).Msg("sync cycle complete")
	return nil
}
