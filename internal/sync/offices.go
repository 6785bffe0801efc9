package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// OfficeStore is the internal/db surface the office driver needs.
type OfficeStore interface {
	UpsertOffice(ctx context.Context, o model.Office) error
}

// NewOfficeDriver builds the /Office delta driver, mirroring the member
// driver (no visibility clause, no deletion path).
func NewOfficeDriver(fetcher Fetcher, states SyncStateStore, store OfficeStore, originatingSystem string, batchSize, maxRecords int, log zerolog.Logger) *Driver {
	d := &Driver{
		Resource:          "Office",
		OriginatingSystem: originatingSystem,
		ODataResource:     "Office",
		BatchSize:         batchSize,
		MaxRecords:        maxRecords,
		SyncStates:        states,
		Fetcher:           fetcher,
		Log:               log,
	}
	d.Process = func(ctx context.Context, records []map[string]any) (time.Time, error) {
		var maxModified time.Time
		for _, rec := range records {
			raw, _ := json.Marshal(rec)
			o := model.Office{
				OfficeMlsID: str(rec, "OfficeMlsId"),
				Name:        str(rec, "OfficeName"),
				Phone:       str(rec, "OfficePhone"),
				Email:       str(rec, "OfficeEmail"),
				Address:     str(rec, "OfficeAddress1"),
				ModifiedAt:  timeField(rec, "ModificationTimestamp"),
				Raw:         raw,
			}
			if err := store.UpsertOffice(ctx, o); err != nil {
				log.Error().Err(err).Str("office_mls_id", o.OfficeMlsID).Msg("upserting office failed, skipping record")
				continue
			}
			if o.ModifiedAt.After(maxModified) {
				maxModified = o.ModifiedAt
			}
		}
		return maxModified, nil
	}
	return d
}
