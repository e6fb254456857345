package index

import (
	"context"
	"sort"
	"strings"

	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// priority orders lookup results when multiple reference types tie on
// an external id: entries more likely to be an authoritative identifier
// (an ARN, a cloud resource id) sort ahead of looser matches (a bare
// name-shaped git URL fragment).
var referenceTypePriority = map[models.ReferenceType]int{
	models.ReferenceTypeARN:            100,
	models.ReferenceTypeAzureResource:  95,
	models.ReferenceTypeGCPResource:    95,
	models.ReferenceTypeResourceID:     90,
	models.ReferenceTypeContainerImage: 80,
	models.ReferenceTypeK8sReference:   80,
	models.ReferenceTypeHelmChart:      75,
	models.ReferenceTypeGitURL:         70,
}

const (
	defaultMaxLookupResults  = 1000
	defaultMaxBatchLookup    = 100
)

// LookupFilter narrows a lookup to a reference type and/or a set of
// repositories, with pagination over the matching set.
type LookupFilter struct {
	ReferenceType *models.ReferenceType
	RepositoryIDs []string
	Limit         int
	Offset        int
}

// EntryRepository is the persisted backing store a Lookuper reads
// through on an index-cache miss.
type EntryRepository interface {
	FindByExternalID(ctx context.Context, tenantID, normalizedID string, filter LookupFilter) ([]models.ExternalObjectEntry, error)
	FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error)
}

// LookupConfig bounds how much a single lookup can return or batch.
type LookupConfig struct {
	MaxLookupResults int // default 1000
	MaxBatchLookup   int // default 100
}

func (c LookupConfig) withDefaults() LookupConfig {
	if c.MaxLookupResults <= 0 {
		c.MaxLookupResults = defaultMaxLookupResults
	}
	if c.MaxBatchLookup <= 0 {
		c.MaxBatchLookup = defaultMaxBatchLookup
	}
	return c
}

// Lookuper serves lookup and reverse-lookup queries against the
// External Object Index, going through a Cache before the backing
// EntryRepository.
type Lookuper struct {
	repo     EntryRepository
	cache    *Cache
	registry *Registry
	config   LookupConfig
}

// NewLookuper builds a Lookuper. cache may be nil, in which case every
// call goes straight to repo.
func NewLookuper(repo EntryRepository, cache *Cache, registry *Registry, config LookupConfig) *Lookuper {
	return &Lookuper{repo: repo, cache: cache, registry: registry, config: config.withDefaults()}
}

// Lookup resolves externalID to the entries that reference it, sorted
// by (reference type priority desc, indexed-at desc), honoring filter's
// pagination. An empty or whitespace-only externalID is rejected rather
// than silently matching everything.
func (l *Lookuper) Lookup(ctx context.Context, tenantID, externalID string, filter LookupFilter) ([]models.ExternalObjectEntry, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New(errors.CodeInvalidExternalID, "externalId must not be empty")
	}
	if filter.Limit <= 0 || filter.Limit > l.config.MaxLookupResults {
		filter.Limit = l.config.MaxLookupResults
	}

	normalized := l.normalize(externalID, filter.ReferenceType)

	var entries []models.ExternalObjectEntry
	var err error
	if l.cache != nil {
		entries, err = l.cache.GetOrLoad(ctx, tenantID, normalized, filter, func() ([]models.ExternalObjectEntry, error) {
			return l.repo.FindByExternalID(ctx, tenantID, normalized, filter)
		})
	} else {
		entries, err = l.repo.FindByExternalID(ctx, tenantID, normalized, filter)
	}
	if err != nil {
		return nil, err
	}

	entries = filterByRepository(entries, filter.RepositoryIDs)
	sortEntries(entries)
	return paginate(entries, filter.Offset, filter.Limit), nil
}

// BatchLookup resolves multiple external ids in one call, capped at
// MaxBatchLookup ids per call to bound how much the caller can force
// the index to materialize in a single request.
func (l *Lookuper) BatchLookup(ctx context.Context, tenantID string, externalIDs []string, filter LookupFilter) (map[string][]models.ExternalObjectEntry, error) {
	if len(externalIDs) > l.config.MaxBatchLookup {
		externalIDs = externalIDs[:l.config.MaxBatchLookup]
	}
	out := make(map[string][]models.ExternalObjectEntry, len(externalIDs))
	for _, id := range externalIDs {
		entries, err := l.Lookup(ctx, tenantID, id, filter)
		if err != nil {
			return nil, err
		}
		out[id] = entries
	}
	return out, nil
}

// ReverseLookup returns every external reference recorded against a
// single node in a single scan.
func (l *Lookuper) ReverseLookup(ctx context.Context, tenantID, nodeID, scanID string) ([]models.ExternalObjectEntry, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, errors.New(errors.CodeInvalidExternalID, "nodeId must not be empty")
	}
	entries, err := l.repo.FindByNodeID(ctx, tenantID, nodeID, scanID)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

func (l *Lookuper) normalize(externalID string, refType *models.ReferenceType) string {
	id := strings.TrimSpace(externalID)
	if refType == nil || l.registry == nil {
		return strings.ToLower(id)
	}
	if e, ok := l.registry.Get(*refType); ok {
		return e.Normalize(id)
	}
	return strings.ToLower(id)
}

func filterByRepository(entries []models.ExternalObjectEntry, repoIDs []string) []models.ExternalObjectEntry {
	if len(repoIDs) == 0 {
		return entries
	}
	allowed := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		allowed[id] = true
	}
	out := entries[:0:0]
	for _, e := range entries {
		if allowed[e.RepositoryID] {
			out = append(out, e)
		}
	}
	return out
}

func sortEntries(entries []models.ExternalObjectEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := referenceTypePriority[entries[i].ReferenceType], referenceTypePriority[entries[j].ReferenceType]
		if pi != pj {
			return pi > pj
		}
		return entries[i].IndexedAt.After(entries[j].IndexedAt)
	})
}

func paginate(entries []models.ExternalObjectEntry, offset, limit int) []models.ExternalObjectEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if end > len(entries) || limit <= 0 {
		end = len(entries)
	}
	return entries[offset:end]
}
