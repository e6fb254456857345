package graph

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// Store persists a Detection Engine scan or a Rollup Engine merge result
// into a Backend, batching node and edge writes the way the teacher's
// original graph builder batched commits and PRs.
type Store struct {
	backend Backend
	logger  *logrus.Logger
}

// NewStore wraps a Backend with persistence orchestration.
func NewStore(backend Backend, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{backend: backend, logger: logger}
}

// PersistStats tracks graph persistence counts.
type PersistStats struct {
	Nodes int
	Edges int
}

// PersistGraph writes every node and edge of a DependencyGraph to the
// backend. Nodes are written first so edge MERGE clauses always find both
// endpoints.
func (s *Store) PersistGraph(ctx context.Context, g *models.DependencyGraph) (*PersistStats, error) {
	stats := &PersistStats{}

	nodes := make([]GraphNode, 0, len(g.NodeOrder))
	for _, id := range g.NodeOrder {
		node, ok := g.Nodes[id]
		if !ok {
			continue
		}
		nodes = append(nodes, nodeToGraphNode(node))
	}

	if len(nodes) > 0 {
		if _, err := s.backend.CreateNodes(ctx, nodes); err != nil {
			return stats, errors.Wrapf(err, errors.CodeExecutionFailed, "persist nodes for scan %s", g.ScanID)
		}
		stats.Nodes = len(nodes)
	}

	edges := make([]GraphEdge, 0, len(g.Edges))
	for _, edge := range g.Edges {
		edges = append(edges, edgeToGraphEdge(edge))
	}

	if len(edges) > 0 {
		if err := s.backend.CreateEdges(ctx, edges); err != nil {
			return stats, errors.Wrapf(err, errors.CodeExecutionFailed, "persist edges for scan %s", g.ScanID)
		}
		stats.Edges = len(edges)
	}

	s.logger.WithFields(logrus.Fields{
		"scan_id": g.ScanID,
		"nodes":   stats.Nodes,
		"edges":   stats.Edges,
	}).Info("persisted dependency graph")

	return stats, nil
}

// PersistMergedNodes writes a rollup's merged node set (id -> kind) plus
// its rewritten edges. Used after the Rollup Engine produces a
// rollup.MergedGraph, which has no per-node Attributes/Location to carry.
func (s *Store) PersistMergedNodes(ctx context.Context, rollupID string, nodeKinds map[string]models.NodeKind, edges []models.Edge) (*PersistStats, error) {
	stats := &PersistStats{}

	nodes := make([]GraphNode, 0, len(nodeKinds))
	for id, kind := range nodeKinds {
		nodes = append(nodes, GraphNode{
			Label: string(kind),
			ID:    id,
			Properties: map[string]interface{}{
				"rollup_id": rollupID,
			},
		})
	}

	if len(nodes) > 0 {
		if _, err := s.backend.CreateNodes(ctx, nodes); err != nil {
			return stats, errors.Wrapf(err, errors.CodeExecutionFailed, "persist merged nodes for rollup %s", rollupID)
		}
		stats.Nodes = len(nodes)
	}

	graphEdges := make([]GraphEdge, 0, len(edges))
	for _, edge := range edges {
		graphEdges = append(graphEdges, edgeToGraphEdge(edge))
	}

	if len(graphEdges) > 0 {
		if err := s.backend.CreateEdges(ctx, graphEdges); err != nil {
			return stats, errors.Wrapf(err, errors.CodeExecutionFailed, "persist merged edges for rollup %s", rollupID)
		}
		stats.Edges = len(graphEdges)
	}

	return stats, nil
}

func nodeToGraphNode(n models.Node) GraphNode {
	props := make(map[string]interface{}, len(n.Attributes)+4)
	for k, v := range n.Attributes {
		props[k] = v
	}
	props["scan_id"] = n.ScanID
	props["name"] = n.Name
	if n.Location.FilePath != "" {
		props["file_path"] = n.Location.FilePath
		props["start_line"] = n.Location.StartLine
		props["end_line"] = n.Location.EndLine
	}
	return GraphNode{Label: string(n.Kind), ID: n.ID, Properties: props}
}

func edgeToGraphEdge(e models.Edge) GraphEdge {
	props := map[string]interface{}{
		"confidence": e.Confidence,
		"explicit":   e.Explicit,
	}
	for k, v := range e.Metadata {
		props[k] = v
	}
	return GraphEdge{Label: string(e.Kind), From: e.SourceID, To: e.TargetID, Properties: props}
}
