package graph

import (
	"context"
	"testing"
	"time"
)

// TestPerformanceBaselines verifies critical queries meet performance targets.
//
// Run with: go test -v -run TestPerformanceBaselines ./internal/graph
func TestPerformanceBaselines(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}

	// TODO: set up a test Neo4j connection; requires a populated database.
	t.Skip("requires Neo4j test database - implement when test infrastructure ready")

	ctx := context.Background()
	profiler := NewPerformanceProfiler()

	t.Run("blast_radius_query", func(t *testing.T) {
		maxDuration := 150 * time.Millisecond

		_ = ctx
		_ = profiler
		_ = maxDuration

		// Example once test infrastructure is ready:
		// _, err := profiler.Profile(ctx, "blast_radius_query", "test query", func() (any, error) {
		//     return backend.QueryBlastRadius(ctx, []string{"aws_instance.web"}, "downstream", 5)
		// })
		// if err != nil {
		//     t.Fatal(err)
		// }
		//
		// stats := profiler.GetStats("blast_radius_query")
		// if stats.AvgDuration > maxDuration {
		//     t.Errorf("blast_radius_query exceeded baseline: %v > %v", stats.AvgDuration, maxDuration)
		// }
	})
}

// BenchmarkQueryBlastRadius benchmarks the pushed-down blast-radius traversal.
//
// Run with: go test -bench=BenchmarkQueryBlastRadius -benchmem ./internal/graph
func BenchmarkQueryBlastRadius(b *testing.B) {
	b.Skip("requires Neo4j test database")

	ctx := context.Background()
	_ = ctx

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// TODO: Execute query
		// _, _ = backend.QueryBlastRadius(ctx, []string{"aws_instance.web"}, "downstream", 5)
	}
}

// BenchmarkBatchCreate benchmarks batch node creation.
func BenchmarkBatchCreate(b *testing.B) {
	b.Skip("requires Neo4j test database")

	ctx := context.Background()
	_ = ctx

	nodes := make([]GraphNode, 100)
	for i := 0; i < 100; i++ {
		nodes[i] = GraphNode{
			Label: "terraform_resource",
			Properties: map[string]any{
				"name": "test_resource",
			},
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// TODO: Execute batch create
		// _, _ = backend.CreateNodes(ctx, nodes)
	}
}

// TestRegressionDetection tests the regression detector.
func TestRegressionDetection(t *testing.T) {
	detector := NewRegressionDetector()

	profile1 := PerformanceProfile{
		Operation:    "blast_radius_query",
		Duration:     100 * time.Millisecond,
		RecordsCount: 50,
	}

	isRegression, _ := detector.Check(profile1)
	if isRegression {
		t.Error("Expected no regression for profile within baseline")
	}

	profile2 := PerformanceProfile{
		Operation:    "blast_radius_query",
		Duration:     200 * time.Millisecond, // Exceeds 150ms baseline
		RecordsCount: 50,
	}

	isRegression, message := detector.Check(profile2)
	if !isRegression {
		t.Error("Expected regression for profile exceeding duration baseline")
	}
	if message == "" {
		t.Error("Expected regression message")
	}

	profile3 := PerformanceProfile{
		Operation:    "UnknownOperation",
		Duration:     5 * time.Second,
		RecordsCount: 10000,
	}

	isRegression, _ = detector.Check(profile3)
	if isRegression {
		t.Error("Expected no regression for unknown operation (no baseline)")
	}
}

// TestPerformanceProfiler tests the profiler functionality.
func TestPerformanceProfiler(t *testing.T) {
	profiler := NewPerformanceProfiler()

	_, err := profiler.Profile(context.Background(), "test_op", "SELECT 1", func() (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})

	if err != nil {
		t.Fatal(err)
	}

	profiles := profiler.GetProfiles()
	if len(profiles) != 1 {
		t.Errorf("Expected 1 profile, got %d", len(profiles))
	}

	stats := profiler.GetStats("test_op")
	if stats == nil {
		t.Fatal("Expected stats for test_op")
	}

	if stats.SampleCount != 1 {
		t.Errorf("Expected 1 sample, got %d", stats.SampleCount)
	}

	if stats.AvgDuration < 10*time.Millisecond {
		t.Errorf("Expected duration >= 10ms, got %v", stats.AvgDuration)
	}
}

// TestPerformanceStats tests stats calculation.
func TestPerformanceStats(t *testing.T) {
	profiler := NewPerformanceProfiler()

	for i := 0; i < 5; i++ {
		duration := time.Duration(i+1) * 10 * time.Millisecond
		profiler.profiles = append(profiler.profiles, PerformanceProfile{
			Operation:    "test_op",
			Duration:     duration,
			RecordsCount: i * 10,
		})
	}

	stats := profiler.GetStats("test_op")

	if stats.SampleCount != 5 {
		t.Errorf("Expected 5 samples, got %d", stats.SampleCount)
	}

	if stats.MinDuration != 10*time.Millisecond {
		t.Errorf("Expected min duration 10ms, got %v", stats.MinDuration)
	}

	if stats.MaxDuration != 50*time.Millisecond {
		t.Errorf("Expected max duration 50ms, got %v", stats.MaxDuration)
	}

	expectedAvg := 30 * time.Millisecond
	if stats.AvgDuration != expectedAvg {
		t.Errorf("Expected avg duration %v, got %v", expectedAvg, stats.AvgDuration)
	}
}
