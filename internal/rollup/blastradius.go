package rollup

import (
	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// MergedGraph is the Rollup Engine's persisted output: merged nodes plus
// passthrough nodes (those that matched nothing) and the rewritten edge
// set, indexed for traversal.
type MergedGraph struct {
	Nodes map[string]models.NodeKind // node id -> kind, merged or passthrough
	Edges []models.Edge
}

// adjacency precomputes outgoing and incoming edge lists per node so
// repeated BlastRadius queries over the same graph don't rescan all edges.
type adjacency struct {
	out map[string][]models.Edge
	in  map[string][]models.Edge
}

func buildAdjacency(edges []models.Edge) adjacency {
	adj := adjacency{out: map[string][]models.Edge{}, in: map[string][]models.Edge{}}
	for _, e := range edges {
		adj.out[e.SourceID] = append(adj.out[e.SourceID], e)
		adj.in[e.TargetID] = append(adj.in[e.TargetID], e)
	}
	return adj
}

// BlastRadius runs a bounded BFS from query.NodeIDs over g, following
// edges in query.Direction and restricted to query.IncludeEdgeKinds when
// non-empty. Traversal visits each node once (standard multi-source BFS),
// giving O(V+E) work within the visited frontier regardless of path
// count. Truncated is set if MaxDepth stopped the traversal before it
// exhausted every reachable node.
func BlastRadius(g *MergedGraph, query models.BlastRadiusQuery) (models.BlastRadiusResult, error) {
	if len(query.NodeIDs) == 0 {
		return models.BlastRadiusResult{}, errors.New(errors.CodeValidationFailed, "blast radius query requires at least one seed node id")
	}
	maxDepth := 10
	if query.MaxDepth != nil {
		maxDepth = *query.MaxDepth
	}

	includeKind := map[models.EdgeKind]bool{}
	for _, k := range query.IncludeEdgeKinds {
		includeKind[k] = true
	}
	filterKinds := len(includeKind) > 0

	adj := buildAdjacency(g.Edges)

	type frontierItem struct {
		id    string
		depth int
	}
	visited := map[string]int{}
	var queue []frontierItem
	for _, id := range query.NodeIDs {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		if _, seen := visited[id]; !seen {
			visited[id] = 0
			queue = append(queue, frontierItem{id, 0})
		}
	}

	var resultEdges []models.Edge
	seenEdge := map[string]bool{}
	truncated := false

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			truncated = truncated || hasUnvisitedNeighbors(item.id, adj, query.Direction, visited, includeKind, filterKinds)
			continue
		}

		neighbors := neighborEdges(item.id, adj, query.Direction)
		for _, e := range neighbors {
			if filterKinds && !includeKind[e.Kind] {
				continue
			}
			next := e.TargetID
			if e.TargetID == item.id {
				next = e.SourceID
			}
			ek := e.ID
			if ek == "" {
				ek = e.SourceID + "|" + e.TargetID + "|" + string(e.Kind)
			}
			if !seenEdge[ek] {
				resultEdges = append(resultEdges, e)
				seenEdge[ek] = true
			}
			if _, seen := visited[next]; !seen {
				visited[next] = item.depth + 1
				queue = append(queue, frontierItem{next, item.depth + 1})
			}
		}
	}

	nodes := make([]models.BlastRadiusNode, 0, len(visited))
	for id, depth := range visited {
		nodes = append(nodes, models.BlastRadiusNode{ID: id, Depth: depth, Kind: g.Nodes[id]})
	}

	return models.BlastRadiusResult{Nodes: nodes, Edges: resultEdges, Truncated: truncated}, nil
}

func neighborEdges(id string, adj adjacency, dir models.BlastRadiusDirection) []models.Edge {
	switch dir {
	case models.BlastRadiusDirectionUpstream:
		return adj.in[id]
	case models.BlastRadiusDirectionDownstream:
		return adj.out[id]
	default: // both
		all := make([]models.Edge, 0, len(adj.out[id])+len(adj.in[id]))
		all = append(all, adj.out[id]...)
		all = append(all, adj.in[id]...)
		return all
	}
}

func hasUnvisitedNeighbors(id string, adj adjacency, dir models.BlastRadiusDirection, visited map[string]int, includeKind map[models.EdgeKind]bool, filterKinds bool) bool {
	for _, e := range neighborEdges(id, adj, dir) {
		if filterKinds && !includeKind[e.Kind] {
			continue
		}
		next := e.TargetID
		if e.TargetID == id {
			next = e.SourceID
		}
		if _, seen := visited[next]; !seen {
			return true
		}
	}
	return false
}
