// Command syncd is the replication and media-hydration daemon: it pages
// the upstream OData feed for listings, members, offices, and open
// houses, mirrors deletions, hydrates photo media into object storage,
// and keeps the search index and progress history current.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rennietech/mls-sync-core/internal/config"
	"github.com/rennietech/mls-sync-core/internal/db"
	"github.com/rennietech/mls-sync-core/internal/media"
	"github.com/rennietech/mls-sync-core/internal/metrics"
	"github.com/rennietech/mls-sync-core/internal/objectstore"
	"github.com/rennietech/mls-sync-core/internal/orchestrator"
	"github.com/rennietech/mls-sync-core/internal/progress"
	"github.com/rennietech/mls-sync-core/internal/ratelimit"
	"github.com/rennietech/mls-sync-core/internal/search"
	"github.com/rennietech/mls-sync-core/internal/sync"
	"github.com/rennietech/mls-sync-core/internal/upstream"
)

const (
	apiInterval        = 550 * time.Millisecond
	apiHourlyCeiling   = 7000
	mediaInterval      = 1500 * time.Millisecond
	mediaHourlyCeiling = 7000
	mediaMinInterval   = 500 * time.Millisecond
	mediaMaxInterval   = 5 * time.Second
	mediaRetuneEvery   = 30 * time.Second
	mediaIntervalKey   = "media_download_interval_ms"
)

func main() {
	v := viper.New()

	root := &cobra.Command{
		Use:   "syncd",
		Short: "Replication and media-hydration daemon for the MLS feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}
	root.Flags().Bool("reset-on-start", false, "wipe the database, object store, and search index before syncing")
	_ = v.BindPFlag("reset_on_start", root.Flags().Lookup("reset-on-start"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, v *viper.Viper) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	index := search.New(cfg.SearchEndpoint, cfg.SearchMasterKey, cfg.SearchIndexName)

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:  cfg.ObjectStoreEndpoint,
		Region:    cfg.ObjectStoreRegion,
		Bucket:    cfg.ObjectStoreBucket,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		CDNBase:   cfg.ObjectStoreCDNBase,
	})
	if err != nil {
		return fmt.Errorf("configuring object store: %w", err)
	}

	apiGovernor := ratelimit.New("upstream_api", apiInterval, apiHourlyCeiling)
	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamBearerToken, apiGovernor, log)

	mediaGovernor := ratelimit.New("media_cdn", mediaInterval, mediaHourlyCeiling,
		ratelimit.WithLiveTuning(store, mediaIntervalKey, mediaRetuneEvery, mediaMinInterval, mediaMaxInterval))
	downloader := media.NewHTTPDownloader()

	reg := metrics.NewRegistry()
	worker := media.NewWorker(store, objects, index, downloader, mediaGovernor, client, reg, cfg.OriginatingSystem, cfg.StoragePrefix, log)

	listingsDriver := sync.NewListingDriver(client, store, store, index, cfg.OriginatingSystem, cfg.BatchSize, cfg.MaxProperties, log)
	deletionsDriver := sync.NewDeletionsDriver(client, store, store, index, objects, cfg.StoragePrefix, cfg.OriginatingSystem, cfg.BatchSize, cfg.MaxProperties, log)
	membersDriver := sync.NewMemberDriver(client, store, store, cfg.OriginatingSystem, cfg.BatchSize, cfg.MaxMembers, log)
	officesDriver := sync.NewOfficeDriver(client, store, store, cfg.OriginatingSystem, cfg.BatchSize, cfg.MaxOffices, log)
	openHousesDriver := sync.NewOpenHouseDriver(client, store, store, cfg.OriginatingSystem, cfg.BatchSize, cfg.MaxOpenHouses, log)
	for _, d := range []*sync.Driver{listingsDriver, deletionsDriver, membersDriver, officesDriver, openHousesDriver} {
		d.Metrics = reg
	}

	recorder := progress.NewRecorder(store, worker, log)

	var resetter *progress.Reset
	if cfg.ResetOnStart {
		resetter = &progress.Reset{
			DB:        store,
			Objects:   objects,
			Index:     index,
			KeyPrefix: cfg.StoragePrefix + "/",
			Log:       log,
		}
	}

	orch := &orchestrator.Orchestrator{
		Index:         index,
		Media:         worker,
		Progress:      recorder,
		Listings:      listingsDriver,
		Deletions:     deletionsDriver,
		Members:       membersDriver,
		Offices:       officesDriver,
		OpenHouses:    openHousesDriver,
		Interval:      time.Duration(cfg.SyncIntervalMinutes) * time.Minute,
		Log:           log,
		Metrics:       reg,
		APIGovernor:   apiGovernor,
		MediaGovernor: mediaGovernor,
	}
	if resetter != nil {
		orch.Reset = resetter
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsPort); err != nil {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	log.Info().
		Str("originating_system", cfg.OriginatingSystem).
		Int("sync_interval_minutes", cfg.SyncIntervalMinutes).
		Bool("reset_on_start", cfg.ResetOnStart).
		Msg("syncd starting")

	return orch.Start(ctx)
}
