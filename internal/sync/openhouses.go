package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// OpenHouseStore is the internal/db surface the open house driver needs.
// InsertOpenHouses is expected to de-duplicate on (listing_key, start, end)
// and silently drop rows whose parent listing is absent.
type OpenHouseStore interface {
	InsertOpenHouses(ctx context.Context, houses []model.OpenHouse) error
}

// NewOpenHouseDriver builds the /OpenHouse delta driver.
func NewOpenHouseDriver(fetcher Fetcher, states SyncStateStore, store OpenHouseStore, originatingSystem string, batchSize, maxRecords int, log zerolog.Logger) *Driver {
	d := &Driver{
		Resource:          "OpenHouse",
		OriginatingSystem: originatingSystem,
		ODataResource:     "OpenHouse",
		BatchSize:         batchSize,
		MaxRecords:        maxRecords,
		SyncStates:        states,
		Fetcher:           fetcher,
		Log:               log,
	}
	d.Process = func(ctx context.Context, records []map[string]any) (time.Time, error) {
		var maxModified time.Time
		var batch []model.OpenHouse
		for _, rec := range records {
			oh := model.OpenHouse{
				ListingKey: str(rec, "ListingKey"),
				Start:      timeField(rec, "OpenHouseStartTime"),
				End:        timeField(rec, "OpenHouseEndTime"),
				Remarks:    str(rec, "OpenHouseRemarks"),
			}
			batch = append(batch, oh)
			if modified := timeField(rec, "ModificationTimestamp"); modified.After(maxModified) {
				maxModified = modified
			}
		}
		if len(batch) > 0 {
			if err := store.InsertOpenHouses(ctx, batch); err != nil {
				log.Error().Err(err).Msg("inserting open houses failed for this batch")
			}
		}
		return maxModified, nil
	}
	return d
}
