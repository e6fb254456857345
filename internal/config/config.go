package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the detection, rollup and
// index engines. Recognized environment variables are listed next to each
// field below.
type Config struct {
	// Mode selects an environment-specific default profile: "development",
	// "test", "staging" or "production".
	Mode string `yaml:"mode"`

	Cache       CacheConfig       `yaml:"cache"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Performance PerformanceConfig `yaml:"performance"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Rollup      RollupLimits      `yaml:"rollup"`
	Detection   DetectionConfig   `yaml:"detection"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	Storage     StorageConfig     `yaml:"storage"`
}

// CacheConfig configures the External Object Index's two-tier cache.
type CacheConfig struct {
	L1 L1CacheConfig `yaml:"l1"`
	L2 L2CacheConfig `yaml:"l2"`
}

// L1CacheConfig configures the in-memory tier. MaxEntries is range-checked
// by the validator; the index cache's L1 tier does not enforce it.
// Env: ROLLUP_CACHE_L1_MAX_ENTRIES, ROLLUP_CACHE_L1_TTL_MS
type L1CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// L2CacheConfig is the distributed (Redis) tier.
// Env: ROLLUP_CACHE_L2_TTL_MS, ROLLUP_CACHE_L2_PREFIX, ROLLUP_CACHE_L2_ADDR
type L2CacheConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
	Addr   string        `yaml:"addr"`
}

// IndexingConfig configures External Object Index build behavior.
// Env: EXTERNAL_INDEX_BATCH_SIZE, EXTERNAL_INDEX_MAX_CONCURRENT_BUILDS,
// EXTERNAL_INDEX_BUILD_TIMEOUT_MS
type IndexingConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	MaxConcurrentBuilds int           `yaml:"max_concurrent_builds"`
	BuildTimeout        time.Duration `yaml:"build_timeout"`
}

// PerformanceConfig configures lookup deadlines and batch sizes.
// Env: PERFORMANCE_LOOKUP_TIMEOUT_MS, PERFORMANCE_REVERSE_LOOKUP_TIMEOUT_MS,
// PERFORMANCE_MAX_BATCH_LOOKUP_SIZE
type PerformanceConfig struct {
	LookupTimeout        time.Duration `yaml:"lookup_timeout"`
	ReverseLookupTimeout time.Duration `yaml:"reverse_lookup_timeout"`
	MaxLookupResults     int           `yaml:"max_lookup_results"`
	MaxBatchLookupSize   int           `yaml:"max_batch_lookup_size"`
}

// ExtractionConfig configures the external-reference extractors.
// Env: EXTRACTION_MAX_REFERENCES_PER_NODE, EXTRACTION_CONFIDENCE_THRESHOLD.
// EnabledTypes has no environment variable; it is set only by defaults,
// the YAML file or programmatic overrides.
type ExtractionConfig struct {
	EnabledTypes         []string `yaml:"enabled_types"`
	MaxReferencesPerNode int      `yaml:"max_references_per_node"`
	ConfidenceThreshold  float64  `yaml:"confidence_threshold"`
}

// RollupLimits caps rollup configuration size.
// Env: ROLLUP_MAX_REPOSITORIES_PER_ROLLUP, ROLLUP_MAX_MATCHERS_PER_ROLLUP
type RollupLimits struct {
	MaxRepositoriesPerRollup int `yaml:"max_repositories_per_rollup"`
	MaxMatchersPerRollup     int `yaml:"max_matchers_per_rollup"`
	ParallelWorkers          int `yaml:"parallel_workers"`
}

// DetectionConfig configures the Detection Engine.
// Env: DETECTION_MAX_DEPTH, DETECTION_MIN_FLOW_CONFIDENCE,
// DETECTION_MAX_FLOWS_PER_PIPELINE
type DetectionConfig struct {
	MaxDepth             int     `yaml:"max_depth"`
	MinFlowConfidence    float64 `yaml:"min_flow_confidence"`
	MaxFlowsPerPipeline  int     `yaml:"max_flows_per_pipeline"`
	FlowEvidenceWeight   float64 `yaml:"flow_evidence_weight"`
	FlowMaxBonus         float64 `yaml:"flow_max_bonus"`
	FlowMaxPenalty       float64 `yaml:"flow_max_penalty"`
}

// Neo4jConfig connects the graph backend.
// Env: NEO4J_URI, NEO4J_USERNAME, NEO4J_PASSWORD, NEO4J_DATABASE
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// StorageConfig selects the persistence backend for scans, rollups,
// executions and index entries.
// Env: STORAGE_TYPE, STORAGE_POSTGRES_DSN, STORAGE_SQLITE_PATH
type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres" | "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "development",
		Cache: CacheConfig{
			L1: L1CacheConfig{MaxEntries: 10_000, TTL: 300 * time.Second},
			L2: L2CacheConfig{TTL: time.Hour, Prefix: "ext-idx:", Addr: "localhost:6379"},
		},
		Indexing: IndexingConfig{
			BatchSize:           1000,
			MaxConcurrentBuilds: 3,
			BuildTimeout:        5 * time.Minute,
		},
		Performance: PerformanceConfig{
			LookupTimeout:        100 * time.Millisecond,
			ReverseLookupTimeout: 500 * time.Millisecond,
			MaxLookupResults:     1000,
			MaxBatchLookupSize:   100,
		},
		Extraction: ExtractionConfig{
			EnabledTypes: []string{
				"arn", "resource_id", "k8s_reference", "container_image",
				"helm_chart", "git_url", "gcp_resource", "azure_resource",
			},
			MaxReferencesPerNode: 100,
			ConfidenceThreshold:  0.5,
		},
		Rollup: RollupLimits{
			MaxRepositoriesPerRollup: 50,
			MaxMatchersPerRollup:     20,
			ParallelWorkers:          4,
		},
		Detection: DetectionConfig{
			MaxDepth:            10,
			MinFlowConfidence:   50,
			MaxFlowsPerPipeline: 200,
			FlowEvidenceWeight:  0.3,
			FlowMaxBonus:        30,
			FlowMaxPenalty:      25,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".depgraph", "local.db"),
		},
	}
}

// modeDefaults returns overrides layered on top of Default() for each
// recognized Mode, mirroring the teacher's environment-specific defaults.
func modeDefaults(mode string) func(*Config) {
	switch mode {
	case "production":
		return func(c *Config) {
			c.Cache.L1.MaxEntries = 50_000
			c.Indexing.MaxConcurrentBuilds = 8
			c.Rollup.ParallelWorkers = 8
		}
	case "staging":
		return func(c *Config) {
			c.Cache.L1.MaxEntries = 20_000
			c.Indexing.MaxConcurrentBuilds = 5
		}
	case "test":
		return func(c *Config) {
			c.Cache.L1.MaxEntries = 100
			c.Cache.L1.TTL = time.Second
			c.Storage.Type = "sqlite"
			c.Storage.SQLitePath = ":memory:"
		}
	default: // "development"
		return func(c *Config) {}
	}
}

// Load loads configuration with increasing-priority layering: built-in
// defaults -> mode defaults -> YAML config file -> environment variables ->
// the overrides argument (programmatic, highest priority). Values from .env
// files are loaded into the process environment first, so they take effect
// at the environment-variable layer; they never replace a variable that is
// already set.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	loadEnvFiles()

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DEPGRAPH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".depgraph")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if mode := v.GetString("mode"); mode != "" {
		cfg.Mode = mode
	}
	modeDefaults(cfg.Mode)(cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	for _, o := range overrides {
		o(cfg)
	}

	if result := cfg.Validate(); result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %s", result.Error())
	}

	return cfg, nil
}

func loadEnvFiles() {
	mode := os.Getenv("DEPGRAPH_MODE")
	candidates := []string{".env.local", ".env"}
	if mode != "" {
		candidates = append([]string{".env." + mode}, candidates...)
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLLUP_CACHE_L1_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.L1.MaxEntries = n
		}
	}
	if v := os.Getenv("ROLLUP_CACHE_L1_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.L1.TTL = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("ROLLUP_CACHE_L2_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.L2.TTL = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("ROLLUP_CACHE_L2_PREFIX"); v != "" {
		cfg.Cache.L2.Prefix = v
	}
	if v := os.Getenv("ROLLUP_CACHE_L2_ADDR"); v != "" {
		cfg.Cache.L2.Addr = v
	}
	if v := os.Getenv("EXTERNAL_INDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.BatchSize = n
		}
	}
	if v := os.Getenv("EXTERNAL_INDEX_MAX_CONCURRENT_BUILDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.MaxConcurrentBuilds = n
		}
	}
	if v := os.Getenv("EXTERNAL_INDEX_BUILD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.BuildTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PERFORMANCE_LOOKUP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Performance.LookupTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PERFORMANCE_REVERSE_LOOKUP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Performance.ReverseLookupTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PERFORMANCE_MAX_BATCH_LOOKUP_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Performance.MaxBatchLookupSize = n
		}
	}
	if v := os.Getenv("EXTRACTION_MAX_REFERENCES_PER_NODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.MaxReferencesPerNode = n
		}
	}
	if v := os.Getenv("EXTRACTION_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Extraction.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		cfg.Neo4j.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		cfg.Neo4j.Database = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("STORAGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ROLLUP_MAX_REPOSITORIES_PER_ROLLUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rollup.MaxRepositoriesPerRollup = n
		}
	}
	if v := os.Getenv("ROLLUP_MAX_MATCHERS_PER_ROLLUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rollup.MaxMatchersPerRollup = n
		}
	}
	if v := os.Getenv("DETECTION_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.MaxDepth = n
		}
	}
	if v := os.Getenv("DETECTION_MIN_FLOW_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.MinFlowConfidence = f
		}
	}
	if v := os.Getenv("DETECTION_MAX_FLOWS_PER_PIPELINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.MaxFlowsPerPipeline = n
		}
	}
}

// Save writes the configuration to a YAML file, creating parent directories
// as needed.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("mode", c.Mode)
	v.Set("cache", c.Cache)
	v.Set("indexing", c.Indexing)
	v.Set("performance", c.Performance)
	v.Set("extraction", c.Extraction)
	v.Set("rollup", c.Rollup)
	v.Set("detection", c.Detection)
	v.Set("neo4j", c.Neo4j)
	v.Set("storage", c.Storage)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
