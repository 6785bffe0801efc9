// Package config loads the core's runtime configuration from the
// environment, following the same shape the upstream API client itself
// used to load its own credentials, but bound through viper so defaults
// and environment lookup are declarative instead of hand-rolled. No env
// prefix is applied: each key is read from its upper-cased env var name.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of environment-provided settings described in
// SPEC_FULL.md §5.
type Config struct {
	UpstreamBaseURL     string
	UpstreamBearerToken string
	OriginatingSystem   string

	DatabaseURL string

	SearchEndpoint  string
	SearchMasterKey string
	SearchIndexName string

	ObjectStoreEndpoint  string
	ObjectStoreRegion    string
	ObjectStoreBucket    string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreCDNBase   string
	StoragePrefix        string

	BatchSize           int
	SyncIntervalMinutes int
	MaxProperties       int
	MaxMembers          int
	MaxOffices          int
	MaxOpenHouses       int

	ResetOnStart bool
	MetricsPort  int
}

// Load reads configuration from the environment (and any flags already
// bound into v by the caller, e.g. cmd/syncd's --reset-on-start).
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage_prefix", "production")
	v.SetDefault("batch_size", 100)
	v.SetDefault("sync_interval_minutes", 5)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("max_properties", 0)
	v.SetDefault("max_members", 0)
	v.SetDefault("max_offices", 0)
	v.SetDefault("max_openhouses", 0)
	v.SetDefault("reset_on_start", false)

	cfg := &Config{
		UpstreamBaseURL:      v.GetString("upstream_base_url"),
		UpstreamBearerToken:  v.GetString("upstream_bearer_token"),
		OriginatingSystem:    v.GetString("originating_system"),
		DatabaseURL:          v.GetString("database_url"),
		SearchEndpoint:       v.GetString("search_endpoint"),
		SearchMasterKey:      v.GetString("search_master_key"),
		SearchIndexName:      v.GetString("search_index_name"),
		ObjectStoreEndpoint:  v.GetString("object_store_endpoint"),
		ObjectStoreRegion:    v.GetString("object_store_region"),
		ObjectStoreBucket:    v.GetString("object_store_bucket"),
		ObjectStoreAccessKey: v.GetString("object_store_access_key"),
		ObjectStoreSecretKey: v.GetString("object_store_secret_key"),
		ObjectStoreCDNBase:   v.GetString("object_store_cdn_base"),
		StoragePrefix:        v.GetString("storage_prefix"),
		BatchSize:            v.GetInt("batch_size"),
		SyncIntervalMinutes:  v.GetInt("sync_interval_minutes"),
		MaxProperties:        v.GetInt("max_properties"),
		MaxMembers:           v.GetInt("max_members"),
		MaxOffices:           v.GetInt("max_offices"),
		MaxOpenHouses:        v.GetInt("max_openhouses"),
		ResetOnStart:         v.GetBool("reset_on_start"),
		MetricsPort:          v.GetInt("metrics_port"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields required for the process to do anything
// useful. A configuration error here is fatal at startup (§7).
func (c *Config) Validate() error {
	missing := []string{}
	if c.UpstreamBaseURL == "" {
		missing = append(missing, "UPSTREAM_BASE_URL")
	}
	if c.UpstreamBearerToken == "" {
		missing = append(missing, "UPSTREAM_BEARER_TOKEN")
	}
	if c.OriginatingSystem == "" {
		missing = append(missing, "ORIGINATING_SYSTEM")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SearchEndpoint == "" {
		missing = append(missing, "SEARCH_ENDPOINT")
	}
	if c.SearchIndexName == "" {
		missing = append(missing, "SEARCH_INDEX_NAME")
	}
	if c.ObjectStoreBucket == "" {
		missing = append(missing, "OBJECT_STORE_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
