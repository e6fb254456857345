package rollup

import (
	"sort"

	"github.com/iacgraph/depgraph/internal/models"
)

// RewriteEdges replays every edge from every source repository's graph
// into the merged graph's id space: endpoints that belong to a merged
// node are rewritten to that merged node's id; endpoints that matched
// nothing keep their original id. Edges between two nodes that both
// resolve to the same merged node (now self-loops) are always dropped,
// since a self-loop carries no blast-radius information. Duplicate (source, target, kind)
// triples collapse into one edge, keeping the highest confidence and
// unioning evidence.
func RewriteEdges(repos []RepoGraph, mergedNodes []models.MergedNode, opts models.MergeOptions) []models.Edge {
	idToMerged := map[string]string{}
	for _, mn := range mergedNodes {
		for _, id := range mn.SourceNodeIDs {
			idToMerged[id] = mn.ID
		}
	}
	repoOf := map[string]string{}
	for _, rg := range repos {
		for id := range rg.Graph.Nodes {
			repoOf[id] = rg.RepositoryID
		}
	}

	resolve := func(id string) string {
		if merged, ok := idToMerged[id]; ok {
			return merged
		}
		return id
	}

	type key struct {
		source, target string
		kind           models.EdgeKind
	}
	dedup := map[key]models.Edge{}

	for _, rg := range repos {
		for _, e := range rg.Graph.Edges {
			src, tgt := resolve(e.SourceID), resolve(e.TargetID)
			if src == tgt {
				continue
			}
			crossRepo := repoOf[e.SourceID] != repoOf[e.TargetID]
			k := key{src, tgt, e.Kind}

			rewritten := e
			rewritten.SourceID, rewritten.TargetID = src, tgt
			if rewritten.Metadata == nil {
				rewritten.Metadata = map[string]string{}
			} else {
				cp := make(map[string]string, len(rewritten.Metadata))
				for mk, mv := range rewritten.Metadata {
					cp[mk] = mv
				}
				rewritten.Metadata = cp
			}
			if crossRepo && opts.CreateCrossRepoEdges {
				rewritten.Metadata["crossRepo"] = "true"
			}

			existing, ok := dedup[k]
			if !ok || rewritten.Confidence > existing.Confidence {
				if ok {
					rewritten.Evidence = append(rewritten.Evidence, existing.Evidence...)
				}
				dedup[k] = rewritten
			} else {
				existing.Evidence = append(existing.Evidence, rewritten.Evidence...)
				dedup[k] = existing
			}
		}
	}

	out := make([]models.Edge, 0, len(dedup))
	for _, e := range dedup {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
