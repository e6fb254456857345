package config

import (
	"fmt"
	"strings"

	"github.com/iacgraph/depgraph/internal/errors"
)

// ValidationResult accumulates validation errors and warnings for a Config.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError records a fatal validation error.
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning records a non-fatal validation concern.
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any fatal errors were recorded.
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error renders the accumulated errors and warnings as a single message.
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", e))
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, w := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", w))
		}
	}
	return sb.String()
}

// Validate enforces the numeric ranges and required fields for the cache,
// indexing, performance, extraction, rollup, storage and Neo4j sub-configs,
// failing fast at startup rather than at first use. Detection settings are
// not range-checked.
// It never touches the network or filesystem; it is pure range checking.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateCache(result)
	c.validateIndexing(result)
	c.validatePerformance(result)
	c.validateExtraction(result)
	c.validateRollup(result)
	c.validateStorage(result)
	c.validateNeo4j(result)

	return result
}

// ValidateOrError is Validate, returning a *errors.Error when invalid.
func (c *Config) ValidateOrError() error {
	result := c.Validate()
	if result.HasErrors() {
		return errors.New(errors.CodeValidationFailed, result.Error())
	}
	return nil
}

func (c *Config) validateCache(result *ValidationResult) {
	l1 := c.Cache.L1
	if l1.MaxEntries < 100 || l1.MaxEntries > 100_000 {
		result.AddError("cache.l1.maxEntries must be between 100 and 100000, got %d", l1.MaxEntries)
	}
	if ms := l1.TTL.Milliseconds(); ms < 1_000 || ms > 3_600_000 {
		result.AddError("cache.l1.ttlMs must be between 1000 and 3600000, got %d", ms)
	}

	l2 := c.Cache.L2
	if ms := l2.TTL.Milliseconds(); ms < 60_000 || ms > 86_400_000 {
		result.AddError("cache.l2.ttlMs must be between 60000 and 86400000, got %d", ms)
	}
	if l2.Prefix == "" {
		result.AddWarning("cache.l2.prefix is empty, keys will collide with other consumers of the same Redis instance")
	}
	if l2.Addr == "" {
		result.AddWarning("cache.l2.addr is not set, L2 cache will be disabled")
	}
}

func (c *Config) validateIndexing(result *ValidationResult) {
	idx := c.Indexing
	if idx.BatchSize < 100 || idx.BatchSize > 5_000 {
		result.AddError("indexing.batchSize must be between 100 and 5000, got %d", idx.BatchSize)
	}
	if idx.MaxConcurrentBuilds < 1 || idx.MaxConcurrentBuilds > 10 {
		result.AddError("indexing.maxConcurrentBuilds must be between 1 and 10, got %d", idx.MaxConcurrentBuilds)
	}
	if idx.BuildTimeout <= 0 {
		result.AddError("indexing.buildTimeoutMs must be positive, got %d", idx.BuildTimeout.Milliseconds())
	}
}

func (c *Config) validatePerformance(result *ValidationResult) {
	p := c.Performance
	if ms := p.LookupTimeout.Milliseconds(); ms < 10 || ms > 1_000 {
		result.AddError("performance.lookupTimeoutMs must be between 10 and 1000, got %d", ms)
	}
	if ms := p.ReverseLookupTimeout.Milliseconds(); ms < 100 || ms > 5_000 {
		result.AddError("performance.reverseLookupTimeoutMs must be between 100 and 5000, got %d", ms)
	}
	if p.MaxBatchLookupSize < 10 || p.MaxBatchLookupSize > 1_000 {
		result.AddError("performance.maxBatchLookupSize must be between 10 and 1000, got %d", p.MaxBatchLookupSize)
	}
}

func (c *Config) validateExtraction(result *ValidationResult) {
	e := c.Extraction
	if len(e.EnabledTypes) == 0 {
		result.AddWarning("extraction.enabledTypes is empty, no external references will be extracted")
	}
	if e.MaxReferencesPerNode < 10 || e.MaxReferencesPerNode > 500 {
		result.AddError("extraction.maxReferencesPerNode must be between 10 and 500, got %d", e.MaxReferencesPerNode)
	}
	if e.ConfidenceThreshold < 0 || e.ConfidenceThreshold > 1 {
		result.AddError("extraction.confidenceThreshold must be between 0 and 1, got %.2f", e.ConfidenceThreshold)
	}
}

func (c *Config) validateRollup(result *ValidationResult) {
	r := c.Rollup
	if r.MaxRepositoriesPerRollup < 2 {
		result.AddError("rollup.maxRepositoriesPerRollup must be at least 2, got %d", r.MaxRepositoriesPerRollup)
	}
	if r.MaxMatchersPerRollup < 1 {
		result.AddError("rollup.maxMatchersPerRollup must be at least 1, got %d", r.MaxMatchersPerRollup)
	}
	if r.ParallelWorkers < 1 {
		result.AddError("rollup.parallelWorkers must be at least 1, got %d", r.ParallelWorkers)
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgresDsn is required when storage.type is \"postgres\"")
		} else if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") &&
			!strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("storage.postgresDsn must start with postgres:// or postgresql://")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			result.AddError("storage.sqlitePath is required when storage.type is \"sqlite\"")
		}
	default:
		result.AddError("storage.type must be \"postgres\" or \"sqlite\", got %q", c.Storage.Type)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddWarning("neo4j.uri is not set, graph persistence will be unavailable")
		return
	}
	if c.Neo4j.Username == "" || c.Neo4j.Password == "" {
		result.AddError("neo4j.username and neo4j.password are required when neo4j.uri is set")
	}
}
