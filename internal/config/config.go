package config

import (
	"fmt"
	"os"

	"github.com/tubegraph/backend/internal/util"

	"github.com/pelletier/go-toml/v2"
)

// EnrichmentConfig controls how mentions are matched against existing
// graph nodes. The threshold is a distance cutoff: a candidate at or
// below it is treated as the same concept. It should stay conservative —
// merging two distinct concepts is worse than keeping a duplicate.
type EnrichmentConfig struct {
	Metric         string  `toml:"metric"`
	Threshold      float64 `toml:"similarity_threshold"`
	TieTolerance   float64 `toml:"tie_tolerance"`
	Candidates     int     `toml:"candidates"`
	CentroidPolicy string  `toml:"centroid_policy"`
}

type StoreConfig struct {
	Adapter string `toml:"adapter"`
}

type Config struct {
	Enrichment EnrichmentConfig `toml:"enrichment"`
	Store      StoreConfig      `toml:"store"`
}

// Distance metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// Centroid policies. "centroid" folds every matched mention into the
// stored vector as a running weighted mean; "first-wins" keeps the
// creation-time embedding untouched.
const (
	CentroidPolicyWeighted  = "centroid"
	CentroidPolicyFirstWins = "first-wins"
)

// Store adapters.
const (
	StoreAdapterPostgres = "postgres"
	StoreAdapterCypher   = "cypher"
	StoreAdapterMemory   = "memory"
)

// Default returns the built-in configuration. The threshold default is a
// cosine distance of 0.2 (similarity 0.8), chosen conservative so that
// only strongly similar surface forms merge.
func Default() *Config {
	return &Config{
		Enrichment: EnrichmentConfig{
			Metric:         MetricCosine,
			Threshold:      0.2,
			TieTolerance:   1e-6,
			Candidates:     5,
			CentroidPolicy: CentroidPolicyWeighted,
		},
		Store: StoreConfig{
			Adapter: StoreAdapterPostgres,
		},
	}
}

// Load reads the TOML config at path, falling back to defaults for a
// missing file, then applies environment overrides. Passing an empty
// path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := util.GetEnv("ENRICH_METRIC"); v != "" {
		cfg.Enrichment.Metric = v
	}
	if v := util.GetEnv("ENRICH_THRESHOLD"); v != "" {
		cfg.Enrichment.Threshold = util.GetEnvNumeric("ENRICH_THRESHOLD", 0)
	}
	if v := util.GetEnv("ENRICH_TIE_TOLERANCE"); v != "" {
		cfg.Enrichment.TieTolerance = util.GetEnvNumeric("ENRICH_TIE_TOLERANCE", 0)
	}
	if v := util.GetEnv("ENRICH_CANDIDATES"); v != "" {
		cfg.Enrichment.Candidates = int(util.GetEnvNumeric("ENRICH_CANDIDATES", 0))
	}
	if v := util.GetEnv("ENRICH_CENTROID_POLICY"); v != "" {
		cfg.Enrichment.CentroidPolicy = v
	}
	if v := util.GetEnv("STORE_ADAPTER"); v != "" {
		cfg.Store.Adapter = v
	}
}

// Validate checks that enum fields hold known values and numeric fields
// are in range.
func (c *Config) Validate() error {
	switch c.Enrichment.Metric {
	case MetricCosine, MetricEuclidean:
	default:
		return fmt.Errorf("unknown metric: %q", c.Enrichment.Metric)
	}
	switch c.Enrichment.CentroidPolicy {
	case CentroidPolicyWeighted, CentroidPolicyFirstWins:
	default:
		return fmt.Errorf("unknown centroid policy: %q", c.Enrichment.CentroidPolicy)
	}
	switch c.Store.Adapter {
	case StoreAdapterPostgres, StoreAdapterCypher, StoreAdapterMemory:
	default:
		return fmt.Errorf("unknown store adapter: %q", c.Store.Adapter)
	}
	if c.Enrichment.Threshold < 0 {
		return fmt.Errorf("similarity threshold must be >= 0, got %g", c.Enrichment.Threshold)
	}
	if c.Enrichment.TieTolerance < 0 {
		return fmt.Errorf("tie tolerance must be >= 0, got %g", c.Enrichment.TieTolerance)
	}
	if c.Enrichment.Candidates <= 0 {
		return fmt.Errorf("candidates must be > 0, got %d", c.Enrichment.Candidates)
	}
	return nil
}
