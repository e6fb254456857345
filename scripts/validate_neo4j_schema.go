package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// validate_neo4j_schema inspects a persisted scan's graph: node counts by
// kind label, edge counts by relationship type, and property coverage on
// the base :Node label. Usage: go run scripts/validate_neo4j_schema.go <scan_id>
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <scan_id>\n", os.Args[0])
		os.Exit(1)
	}
	scanID := os.Args[1]

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "bolt://localhost:7687"
	}
	password := os.Getenv("NEO4J_PASSWORD")
	if password == "" {
		log.Fatal("NEO4J_PASSWORD environment variable must be set")
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth("neo4j", password, ""))
	if err != nil {
		log.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(context.Background())

	ctx := context.Background()
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	fmt.Printf("=== Node Counts for scan_id=%s ===\n", scanID)
	result, err := session.Run(ctx,
		`MATCH (n:Node {scan_id: $scanID})
		 RETURN n.kind as kind, count(*) as count
		 ORDER BY count DESC`,
		map[string]any{"scanID": scanID})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		kind, _ := record.Get("kind")
		count, _ := record.Get("count")
		fmt.Printf("  %v: %v\n", kind, count)
	}

	fmt.Println("\n=== Node Property Coverage ===")
	result2, err := session.Run(ctx,
		`MATCH (n:Node {scan_id: $scanID})
		 RETURN count(n) as total_nodes,
		        count(n.name) as with_name,
		        count(n.file_path) as with_file_path
		 LIMIT 1`,
		map[string]any{"scanID": scanID})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if result2.Next(ctx) {
		record := result2.Record()
		total, _ := record.Get("total_nodes")
		name, _ := record.Get("with_name")
		path, _ := record.Get("with_file_path")
		fmt.Printf("  Total nodes: %v\n", total)
		fmt.Printf("  With name: %v\n", name)
		fmt.Printf("  With file_path: %v\n", path)
	}

	fmt.Println("\n=== Edge Counts ===")
	result3, err := session.Run(ctx,
		`MATCH (n:Node {scan_id: $scanID})-[r]->()
		 RETURN type(r) as edge_type, count(*) as count
		 ORDER BY count DESC`,
		map[string]any{"scanID": scanID})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for result3.Next(ctx) {
		record := result3.Record()
		edgeType, _ := record.Get("edge_type")
		count, _ := record.Get("count")
		fmt.Printf("  %v: %v\n", edgeType, count)
	}

	fmt.Println("\n=== Validation Complete ===")
}
