package progress

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Truncator is the internal/db surface the reset needs.
type Truncator interface {
	TruncateAll(ctx context.Context) error
}

// ObjectLister is the internal/objectstore surface the reset needs.
type ObjectLister interface {
	ListUnder(ctx context.Context, prefix string) ([]string, error)
	DeleteMany(ctx context.Context, keys []string) error
}

// IndexClearer is the internal/search surface the reset needs.
type IndexClearer interface {
	DeleteAll(ctx context.Context) error
}

// Reset wipes all three systems of record for a clean restart.
type Reset struct {
	DB        Truncator
	Objects   ObjectLister
	Index     IndexClearer
	KeyPrefix string
	Log       zerolog.Logger
}

// Run performs the three legs in parallel; each leg's failure is logged but
// never aborts the others or the caller's startup sequence.
func (r *Reset) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := r.DB.TruncateAll(ctx); err != nil {
			r.Log.Error().Err(err).Msg("reset: truncating relational store failed")
		}
	}()

	go func() {
		defer wg.Done()
		keys, err := r.Objects.ListUnder(ctx, r.KeyPrefix)
		if err != nil {
			r.Log.Error().Err(err).Msg("reset: listing object-store prefix failed")
			return
		}
		if len(keys) == 0 {
			return
		}
		if err := r.Objects.DeleteMany(ctx, keys); err != nil {
			r.Log.Error().Err(err).Msg("reset: deleting object-store keys failed")
		}
	}()

	go func() {
		defer wg.Done()
		if err := r.Index.DeleteAll(ctx); err != nil {
			r.Log.Error().Err(err).Msg("reset: clearing search index failed")
		}
	}()

	wg.Wait()
	return nil
}

