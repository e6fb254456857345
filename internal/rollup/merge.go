package rollup

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iacgraph/depgraph/internal/models"
)

// RepoGraph pairs a repository id with the DependencyGraph from its latest
// completed scan — the unit of input the merge pipeline consumes.
type RepoGraph struct {
	RepositoryID string
	Graph        *models.DependencyGraph
}

// unionFind is a standard disjoint-set structure over node ids, used to
// collapse matched node pairs into equivalence classes regardless of how
// many matchers (or transitive matches) joined them.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}, rank: map[string]int{}}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// nodeRef locates a node within a specific repository's graph.
type nodeRef struct {
	repoID string
	node   models.Node
}

// MatchCandidates finds, for every enabled matcher in priority order
// (highest first), all cross-repository node pairs it judges equivalent.
// Matchers bucket nodes by Matcher.IndexKey to avoid O(n^2) comparison
// across the whole node set; matchers with no usable index key (tag) fall
// back to a full scan within each NodeKind bucket, which is acceptable at
// the rollup scale this engine targets (tens of repositories, not
// millions of nodes).
func MatchCandidates(registry *Registry, repos []RepoGraph, matcherConfigs []models.MatcherConfig) []models.MatchResult {
	enabled := make([]models.MatcherConfig, 0, len(matcherConfigs))
	for _, c := range matcherConfigs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority > enabled[j].Priority })

	var refs []nodeRef
	for _, rg := range repos {
		for _, id := range rg.Graph.NodeOrder {
			refs = append(refs, nodeRef{rg.RepositoryID, rg.Graph.Nodes[id]})
		}
	}

	var results []models.MatchResult
	seenPairs := map[[2]string]bool{}

	for _, cfg := range enabled {
		m, ok := registry.Get(cfg.Type)
		if !ok {
			continue
		}

		indexed := map[string][]nodeRef{}
		var unindexed []nodeRef
		for _, r := range refs {
			key := m.IndexKey(r.node, cfg)
			if key == "" {
				unindexed = append(unindexed, r)
				continue
			}
			indexed[key] = append(indexed[key], r)
		}

		for _, bucket := range indexed {
			results = append(results, matchWithin(m, cfg, bucket, seenPairs)...)
		}
		if len(unindexed) > 0 {
			byKind := map[models.NodeKind][]nodeRef{}
			for _, r := range unindexed {
				byKind[r.node.Kind] = append(byKind[r.node.Kind], r)
			}
			for _, bucket := range byKind {
				results = append(results, matchWithin(m, cfg, bucket, seenPairs)...)
			}
		}
	}
	return results
}

func matchWithin(m Matcher, cfg models.MatcherConfig, bucket []nodeRef, seenPairs map[[2]string]bool) []models.MatchResult {
	var out []models.MatchResult
	for i := 0; i < len(bucket); i++ {
		for j := i + 1; j < len(bucket); j++ {
			a, b := bucket[i], bucket[j]
			if a.repoID == b.repoID {
				continue // matching only crosses repositories
			}
			key := pairKey(a.node.ID, b.node.ID)
			if seenPairs[key] {
				continue
			}
			result, matched := m.Match(a.node, b.node, cfg)
			if !matched {
				continue
			}
			result.SourceRepoID, result.TargetRepoID = a.repoID, b.repoID
			out = append(out, result)
			seenPairs[key] = true
		}
	}
	return out
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// BuildMergedNodes collapses match results into equivalence classes via
// union-find, then produces one MergedNode per class with attributes
// reconciled according to opts.ConflictResolution. Nodes that matched
// nothing are not merged (the rollup passes through unmatched nodes
// unchanged; callers should still keep the originals in the merged graph
// keyed by their own id).
func BuildMergedNodes(repos []RepoGraph, matches []models.MatchResult, opts models.MergeOptions) []models.MergedNode {
	uf := newUnionFind()
	for _, m := range matches {
		uf.union(m.SourceNodeID, m.TargetNodeID)
	}

	byID := map[string]nodeRef{}
	scanTime := map[string]time.Time{}
	for _, rg := range repos {
		scanTime[rg.RepositoryID] = rg.Graph.Metadata.CreatedAt
		for id, n := range rg.Graph.Nodes {
			byID[id] = nodeRef{rg.RepositoryID, n}
		}
	}

	bestPerNode := map[string]models.MatchResult{}
	matchCountPerRoot := map[string]int{}
	for _, m := range matches {
		root := uf.find(m.SourceNodeID)
		matchCountPerRoot[root]++
		if best, ok := bestPerNode[root]; !ok || m.Confidence > best.Confidence {
			bestPerNode[root] = m
		}
	}

	groups := map[string][]string{}
	for id := range byID {
		if _, matched := uf.parent[id]; !matched {
			continue // never participated in any union: not part of a class
		}
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}

	var merged []models.MergedNode
	for root, ids := range groups {
		if len(ids) < 2 {
			continue // a node that unioned with itself only isn't a real class
		}
		sort.Strings(ids)
		if opts.ConflictResolution == models.ConflictResolutionPreferLatest {
			sort.SliceStable(ids, func(i, j int) bool {
				return scanTime[byID[ids[i]].repoID].Before(scanTime[byID[ids[j]].repoID])
			})
		}
		merged = append(merged, buildOneMergedNode(root, ids, byID, bestPerNode[root], matchCountPerRoot[root], opts))
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func buildOneMergedNode(root string, ids []string, byID map[string]nodeRef, best models.MatchResult, matchCount int, opts models.MergeOptions) models.MergedNode {
	mergedID := "merged." + uuid.NewSHA1(uuid.NameSpaceOID, []byte(root)).String()

	var sourceRepoIDs []string
	var locations []models.SourceLocation
	seenRepo := map[string]bool{}
	mergedAttrs := map[string]string{}

	first := byID[ids[0]].node
	for _, id := range ids {
		ref := byID[id]
		if !seenRepo[ref.repoID] {
			sourceRepoIDs = append(sourceRepoIDs, ref.repoID)
			seenRepo[ref.repoID] = true
		}
		locations = append(locations, ref.node.Location)
		mergeAttributes(mergedAttrs, ref.node.Attributes, opts.ConflictResolution, opts.PreserveSourceInfo, ref.repoID)
	}

	return models.MergedNode{
		ID:             mergedID,
		SourceNodeIDs:  ids,
		SourceRepoIDs:  sourceRepoIDs,
		NodeKind:       first.Kind,
		Name:           first.Name,
		Locations:      locations,
		MergedMetadata: mergedAttrs,
		MatchInfo: models.MatchInfo{
			Strategy:   best.Strategy,
			Confidence: best.Confidence,
			MatchCount: matchCount,
		},
	}
}

// mergeAttributes folds src into dst according to resolution. "merge" keeps
// the first value seen per key (first-writer-wins, since map iteration
// order within a class is the sorted node id order established by the
// caller); "prefer_latest" overwrites with each subsequent source in the
// caller's order, which BuildMergedNodes sets to oldest scan first (graph
// Metadata.CreatedAt, ties by node id) so the most recent scan's value
// wins; "prefer_source" tags each key with its origin repo instead of
// picking a single value, so no information is discarded.
func mergeAttributes(dst map[string]string, src map[string]string, resolution models.ConflictResolution, preserveSourceInfo bool, repoID string) {
	for k, v := range src {
		switch resolution {
		case models.ConflictResolutionPreferLatest:
			dst[k] = v
		case models.ConflictResolutionPreferSource:
			key := k
			if preserveSourceInfo {
				key = k + "@" + repoID
			}
			dst[key] = v
		default: // ConflictResolutionMerge
			if _, exists := dst[k]; !exists {
				dst[k] = v
			}
		}
	}
}
