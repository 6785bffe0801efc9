package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/rennietech/mls-sync-core/internal/model"
)

// MemberStore is the internal/db surface the member driver needs.
type MemberStore interface {
	UpsertMember(ctx context.Context, m model.Member) error
}

// NewMemberDriver builds the /Member delta driver. Members have no
// visibility clause and no deletion path (Open Question 5): they are
// upserted on their own cycle and never locally deleted by this core.
func NewMemberDriver(fetcher Fetcher, states SyncStateStore, store MemberStore, originatingSystem string, batchSize, maxRecords int, log zerolog.Logger) *Driver {
	d := &Driver{
		Resource:          "Member",
		OriginatingSystem: originatingSystem,
		ODataResource:     "Member",
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
			m := model.Member{
				MemberMlsID: str(rec, "MemberMlsId"),
				FullName:    str(rec, "MemberFullName"),
				Email:       str(rec, "MemberEmail"),
				Phone:       str(rec, "MemberDirectPhone"),
				OfficeMlsID: str(rec, "OfficeMlsId"),
				ModifiedAt:  timeField(rec, "ModificationTimestamp"),
				Raw:         raw,
			}
			if err := store.UpsertMember(ctx, m); err != nil {
				log.Error().Err(err).Str("member_mls_id", m.MemberMlsID).Msg("upserting member failed, skipping record")
				continue
			}
			if m.ModifiedAt.After(maxModified) {
				maxModified = m.ModifiedAt
			}
		}
		return maxModified, nil
	}
	return d
}
