package graph

import "context"

// Backend defines the interface for graph database operations over a
// persisted dependency graph. Neo4j is the only implementation today;
// the interface stays narrow enough that a Gremlin-backed store (Neptune)
// could satisfy it too.
type Backend interface {
	// CreateNode creates a single node in the graph.
	CreateNode(ctx context.Context, node GraphNode) (string, error)

	// CreateNodes creates multiple nodes in batch.
	CreateNodes(ctx context.Context, nodes []GraphNode) ([]string, error)

	// CreateEdge creates a single edge in the graph.
	CreateEdge(ctx context.Context, edge GraphEdge) error

	// CreateEdges creates multiple edges in batch.
	CreateEdges(ctx context.Context, edges []GraphEdge) error

	// ExecuteBatch executes multiple commands in a single transaction.
	ExecuteBatch(ctx context.Context, commands []string) error

	// Query executes a query and returns results.
	Query(ctx context.Context, query string) (interface{}, error)

	// Close closes the backend connection.
	Close(ctx context.Context) error
}

// GraphNode is the persisted form of a models.Node: every node kind
// (terraform_resource, k8s_deployment, gitlab_pipeline, ...) carries the
// same envelope, labeled by Kind and keyed by ID.
type GraphNode struct {
	Label      string                 // models.NodeKind value
	ID         string                 // models.Node.ID, globally unique within a scan
	Properties map[string]interface{} // flattened Node fields plus Attributes
}

// GraphEdge is the persisted form of a models.Edge.
type GraphEdge struct {
	Label      string                 // models.EdgeKind value
	From       string                 // source node ID
	To         string                 // target node ID
	Properties map[string]interface{} // confidence, explicit, metadata
}
