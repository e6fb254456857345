package main

import (
	"context"
	"log"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// wipe_neo4j_repo deletes every node and edge belonging to one scan,
// identified by the uniform scan_id property every persisted Node carries.
// Usage: go run scripts/wipe_neo4j_repo.go <scan_id>
func main() {
	ctx := context.Background()

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "bolt://localhost:7687"
	}

	password := os.Getenv("NEO4J_PASSWORD")
	if password == "" {
		log.Fatal("NEO4J_PASSWORD environment variable must be set")
	}

	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <scan_id>", os.Args[0])
	}
	scanID := os.Args[1]

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth("neo4j", password, ""))
	if err != nil {
		log.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatalf("Failed to verify connectivity: %v", err)
	}
	log.Println("connected to Neo4j")

	log.Printf("deleting all Neo4j data for scan_id=%s...", scanID)

	session := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (n {scan_id: $scanID})
			DETACH DELETE n
			RETURN count(n) as deleted_count
		`
		result, err := tx.Run(ctx, query, map[string]any{"scanID": scanID})
		if err != nil {
			return nil, err
		}

		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}

		count, _ := record.Get("deleted_count")
		return count, nil
	})
	if err != nil {
		log.Fatalf("Failed to delete nodes: %v", err)
	}

	log.Printf("wiped Neo4j data for scan_id=%s", scanID)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (n {scan_id: $scanID}) RETURN count(n) as count`
		result, err := tx.Run(ctx, query, map[string]any{"scanID": scanID})
		if err != nil {
			return nil, err
		}

		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}

		count, _ := record.Get("count")
		return count, nil
	})
	if err != nil {
		log.Fatalf("Failed to verify deletion: %v", err)
	}

	log.Printf("remaining nodes for scan_id=%s: %v", scanID, count)
}
