package graph

// BatchConfig defines optimal batch sizes for UNWIND-based node/edge
// creation. Every node kind shares one batch size because every node kind
// shares the same uniform "id" key and a comparable property-set size;
// there's no per-kind split the way a heterogeneous schema would need.
type BatchConfig struct {
	NodeBatchSize int // Optimal: 500-1000
	EdgeBatchSize int // Optimal: 1000-5000
}

// DefaultBatchConfig returns optimized batch sizes for a medium repository
// (roughly a few thousand detected resources).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 1000,
		EdgeBatchSize: 5000,
	}
}

// SmallRepoBatchConfig is for repositories with under 500 detected
// resources; smaller batches reduce memory pressure.
func SmallRepoBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 200,
		EdgeBatchSize: 1000,
	}
}

// LargeRepoBatchConfig is for repositories with over 10,000 detected
// resources; larger batches maximize throughput.
func LargeRepoBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 2000,
		EdgeBatchSize: 10000,
	}
}
