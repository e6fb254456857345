package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// Neo4jBackend implements Backend against a Neo4j cluster using Cypher.
// Every persisted node carries the base label :Node, keyed uniformly on
// the `id` property (every models.Node has exactly one canonical ID
// regardless of Kind), plus a kind-specific label derived from its
// NodeKind/EdgeKind so callers can MATCH narrowly when they want to.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logrus.Logger
}

// QueryWithParams represents a Cypher query with its parameters.
type QueryWithParams struct {
	Query  string
	Params map[string]any
}

// NewNeo4jBackend creates a Neo4j backend instance, tuning the connection
// pool the way a long-running ingestion/query service needs: bounded pool
// size, a generous acquisition timeout, and liveness checks so stale
// connections get recycled rather than returned to a caller.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string, logger *logrus.Logger) (*Neo4jBackend, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 1 * time.Hour
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	return &Neo4jBackend{driver: driver, database: database, logger: logger}, nil
}

// kindLabel converts a models.NodeKind/EdgeKind value ("terraform_resource")
// into a valid Cypher label ("TerraformResource").
func kindLabel(kind string) string {
	var b strings.Builder
	nextUpper := true
	for _, r := range kind {
		if r == '_' || r == '-' {
			nextUpper = true
			continue
		}
		if nextUpper {
			b.WriteRune(toUpperRune(r))
			nextUpper = false
		} else {
			b.WriteRune(r)
		}
	}
	label := b.String()
	if label == "" || !isValidIdentifier(label) {
		return "Node"
	}
	return label
}

func toUpperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// relType converts an edge kind ("depends_on", "FEEDS_INTO") into an
// upper-snake Cypher relationship type ("DEPENDS_ON", "FEEDS_INTO").
func relType(kind string) string {
	upper := strings.ToUpper(kind)
	if !isValidIdentifier(upper) {
		return "RELATED_TO"
	}
	return upper
}

// CreateNode creates a single node using idempotent MERGE, keyed on id.
func (n *Neo4jBackend) CreateNode(ctx context.Context, node GraphNode) (string, error) {
	builder := NewCypherBuilder()
	idParam := builder.AddParam(node.ID)

	setClauses := []string{fmt.Sprintf("n.kind = %s", builder.AddParam(node.Label))}
	for key, value := range node.Properties {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid node property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = %s", key, builder.AddParam(value)))
	}

	cypher := fmt.Sprintf(
		"MERGE (n:Node {id: %s}) SET n:%s, %s RETURN n.id as id",
		idParam, kindLabel(node.Label), strings.Join(setClauses, ", "),
	)

	result, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, builder.Params(),
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return "", fmt.Errorf("failed to create node %s: %w", node.ID, err)
	}

	if len(result.Records) > 0 {
		if id, ok := result.Records[0].Get("id"); ok {
			return fmt.Sprintf("%v", id), nil
		}
	}
	return node.ID, nil
}

// CreateNodes creates multiple nodes in batch using the UNWIND pattern,
// grouped by kind label so each UNWIND call shares one dynamic label.
func (n *Neo4jBackend) CreateNodes(ctx context.Context, nodes []GraphNode) ([]string, error) {
	if len(nodes) == 0 {
		return []string{}, nil
	}

	batchCreator := NewBatchNodeCreator(n.driver, n.database, DefaultBatchConfig(), n.logger)

	nodesByLabel := make(map[string][]GraphNode)
	for _, node := range nodes {
		label := kindLabel(node.Label)
		nodesByLabel[label] = append(nodesByLabel[label], node)
	}

	for label, labelNodes := range nodesByLabel {
		if err := batchCreator.CreateNodes(ctx, label, labelNodes); err != nil {
			return nil, fmt.Errorf("failed to create %s nodes: %w", label, err)
		}
	}

	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids, nil
}

// CreateEdge creates a single edge using idempotent MERGE. Both endpoints
// are matched purely on id; no label is required since every node carries
// the uniform :Node base label.
func (n *Neo4jBackend) CreateEdge(ctx context.Context, edge GraphEdge) error {
	edgeType := relType(edge.Label)
	if !isValidIdentifier(edgeType) {
		return fmt.Errorf("invalid edge label: %s", edge.Label)
	}

	builder := NewCypherBuilder()
	fromParam := builder.AddParam(edge.From)
	toParam := builder.AddParam(edge.To)

	var setClauses []string
	for key, value := range edge.Properties {
		if !isValidIdentifier(key) {
			return fmt.Errorf("invalid edge property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("r.%s = %s", key, builder.AddParam(value)))
	}
	setClause := ""
	if len(setClauses) > 0 {
		setClause = "SET " + strings.Join(setClauses, ", ")
	}

	cypher := fmt.Sprintf(
		"MATCH (from:Node {id: %s}) MATCH (to:Node {id: %s}) MERGE (from)-[r:%s]->(to) %s RETURN from.id, to.id",
		fromParam, toParam, edgeType, setClause,
	)

	result, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, builder.Params(),
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("failed to create edge %s: from=%s to=%s: %w", edge.Label, edge.From, edge.To, err)
	}
	if len(result.Records) == 0 {
		return fmt.Errorf("edge endpoints not found: %s from=%s to=%s", edge.Label, edge.From, edge.To)
	}
	return nil
}

// CreateEdges creates multiple edges in batch using the UNWIND pattern,
// grouped by relationship type.
func (n *Neo4jBackend) CreateEdges(ctx context.Context, edges []GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	batchCreator := NewBatchNodeCreator(n.driver, n.database, DefaultBatchConfig(), n.logger)
	return batchCreator.CreateEdgesBatch(ctx, edges)
}

// ExecuteBatch executes multiple unparameterized commands in a single
// transaction. Prefer ExecuteBatchWithParams for anything taking input
// that didn't come from a validated identifier.
func (n *Neo4jBackend) ExecuteBatch(ctx context.Context, commands []string) error {
	queries := make([]QueryWithParams, len(commands))
	for i, cmd := range commands {
		queries[i] = QueryWithParams{Query: cmd}
	}
	return n.ExecuteBatchWithParams(ctx, queries)
}

// ExecuteBatchWithParams executes multiple parameterized queries in a
// single write transaction.
func (n *Neo4jBackend) ExecuteBatchWithParams(ctx context.Context, queries []QueryWithParams) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for i, q := range queries {
			if _, err := tx.Run(ctx, q.Query, q.Params); err != nil {
				return nil, fmt.Errorf("batch command %d failed: %w", i, err)
			}
		}
		return nil, nil
	})

	return err
}

// Query executes a Cypher query with no parameters and returns a scalar
// "count" field if the query produces one, routed to read replicas in
// cluster deployments.
func (n *Neo4jBackend) Query(ctx context.Context, query string) (interface{}, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if len(result.Records) > 0 {
		if count, ok := result.Records[0].Get("count"); ok {
			return count, nil
		}
	}
	return 0, nil
}

// QueryWithParams executes a parameterized Cypher query and returns every
// record as a map keyed by column name.
func (n *Neo4jBackend) QueryWithParams(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]map[string]interface{}, 0, len(result.Records))
	for _, record := range result.Records {
		row := make(map[string]interface{})
		for _, key := range record.Keys {
			if value, ok := record.Get(key); ok {
				row[key] = value
			}
		}
		results = append(results, row)
	}
	return results, nil
}

// QueryBlastRadius runs a variable-length Cypher traversal from seedIDs, a
// push-down alternative to rollup.BlastRadius's in-memory BFS for callers
// who'd rather let Neo4j walk a graph too large to hold in process memory.
func (n *Neo4jBackend) QueryBlastRadius(ctx context.Context, seedIDs []string, direction string, maxDepth int) ([]map[string]interface{}, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	var pattern string
	switch direction {
	case "upstream":
		pattern = fmt.Sprintf("(seed)<-[*1..%d]-(n)", maxDepth)
	case "downstream":
		pattern = fmt.Sprintf("(seed)-[*1..%d]->(n)", maxDepth)
	default:
		pattern = fmt.Sprintf("(seed)-[*1..%d]-(n)", maxDepth)
	}

	cypher := fmt.Sprintf(
		"MATCH (seed:Node) WHERE seed.id IN $seedIds MATCH %s RETURN DISTINCT n.id as id, n.kind as kind",
		pattern,
	)

	return n.QueryWithParams(ctx, cypher, map[string]interface{}{"seedIds": seedIDs})
}

// StreamNodesByKind lazily iterates every node carrying the given kind
// label, invoking fn once per id/name pair instead of buffering the whole
// result set in process memory the way QueryWithParams does. A tenant's
// merged graph can hold far more nodes of one kind (terraform_resource in
// particular) than comfortably fits in one eager response.
func (n *Neo4jBackend) StreamNodesByKind(ctx context.Context, kind string, fetchSize int, fn func(id, name string) error) error {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSizeConfig().MediumQueryFetchSize
	}
	query := "MATCH (n:Node {kind: $kind}) RETURN n.id as id, n.name as name"
	params := map[string]any{"kind": kind}

	return ExecuteQueryLazyWithReadTransaction(ctx, n.driver, query, params, n.database, fetchSize, func(iter *LazyQueryIterator) error {
		for iter.Next() {
			rec := iter.Record()
			id, _ := rec.Get("id")
			name, _ := rec.Get("name")
			idStr, _ := id.(string)
			nameStr, _ := name.(string)
			if err := fn(idStr, nameStr); err != nil {
				return err
			}
		}
		return iter.Err()
	})
}

// HealthCheck verifies the driver can still reach the cluster.
func (n *Neo4jBackend) HealthCheck(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}

// Driver exposes the underlying Neo4j driver for callers that need direct
// session control (e.g. the helpers in routing.go).
func (n *Neo4jBackend) Driver() neo4j.DriverWithContext {
	return n.driver
}

// Database returns the configured database name.
func (n *Neo4jBackend) Database() string {
	return n.database
}

// Close closes the Neo4j driver connection.
func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
