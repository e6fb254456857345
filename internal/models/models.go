// Package models holds the shared data types for the Detection Engine, the
// Rollup Engine and the External Object Index: Node, Edge, DependencyGraph,
// ExternalObjectEntry, RollupConfig, MatcherConfig, MatchResult, MergedNode
// and RollupExecution.
package models

import "time"

// NodeKind is the closed set of graph node kinds the Detection Engine
// produces. Kind-specific fields live in Node.Attributes; common fields
// live on the Node envelope.
type NodeKind string

const (
	NodeKindTerraformResource NodeKind = "terraform_resource"
	NodeKindTerraformData     NodeKind = "terraform_data"
	NodeKindTerraformModule   NodeKind = "terraform_module"
	NodeKindTerraformVariable NodeKind = "terraform_variable"
	NodeKindTerraformLocal    NodeKind = "terraform_local"
	NodeKindTerraformOutput   NodeKind = "terraform_output"
	NodeKindK8sDeployment     NodeKind = "k8s_deployment"
	NodeKindK8sService        NodeKind = "k8s_service"
	NodeKindK8sConfigMap      NodeKind = "k8s_configmap"
	NodeKindHelmRelease       NodeKind = "helm_release"
	NodeKindGitlabPipeline    NodeKind = "gitlab_pipeline"
	NodeKindGitlabStage       NodeKind = "gitlab_stage"
	NodeKindGitlabJob         NodeKind = "gitlab_job"
	NodeKindExternalReference NodeKind = "external_reference"
)

// EdgeKind is the closed set of directed relationships between nodes.
type EdgeKind string

const (
	EdgeKindDependsOn        EdgeKind = "depends_on"
	EdgeKindReferences       EdgeKind = "references"
	EdgeKindInputVariable    EdgeKind = "input_variable"
	EdgeKindLocalReference   EdgeKind = "local_reference"
	EdgeKindDataReference    EdgeKind = "data_reference"
	EdgeKindModuleCall       EdgeKind = "module_call"
	EdgeKindGitlabStageOrder EdgeKind = "gitlab_stage_order"
	EdgeKindGitlabNeeds      EdgeKind = "gitlab_needs"
	EdgeKindGitlabExtends    EdgeKind = "gitlab_extends"
	EdgeKindGitlabIncludes   EdgeKind = "gitlab_includes"
	EdgeKindGitlabUsesTF     EdgeKind = "gitlab_uses_tf"
	EdgeKindGitlabUsesHelm   EdgeKind = "gitlab_uses_helm"
	EdgeKindGitlabArtifact   EdgeKind = "gitlab_artifact_flow"
	EdgeKindFeedsInto        EdgeKind = "FEEDS_INTO"
)

// ConfidenceLevel buckets a numeric confidence score: high >= 80, medium in
// [50,80), low < 50.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// LevelOf buckets a clamped [0,100] confidence value.
func LevelOf(confidence int) ConfidenceLevel {
	switch {
	case confidence >= 80:
		return ConfidenceHigh
	case confidence >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SourceLocation is a file + line range a node or edge was derived from.
type SourceLocation struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// Evidence is a discrete observation supporting an edge or flow, weighted by
// type and strength in [0,1]. Flow evidence is scored on [0,100] in
// detect.FlowEvidence and divided by 100 when stored here.
type Evidence struct {
	Location SourceLocation `json:"location"`
	Snippet  string         `json:"snippet,omitempty"`
	Strength float64        `json:"strength"`
}

// Node is an immutable, kind-tagged graph vertex. Node ids are canonical,
// reproducible wire identifiers (e.g. "aws_instance.web", "var.ami_id");
// see internal/detect for construction rules.
type Node struct {
	ID         string            `json:"id" db:"id"`
	ScanID     string            `json:"scan_id" db:"scan_id"`
	Name       string            `json:"name" db:"name"`
	Kind       NodeKind          `json:"kind" db:"kind"`
	Location   SourceLocation    `json:"location"`
	Attributes map[string]string `json:"attributes"`
}

// Edge is a directed, typed relation between two nodes, carrying a
// confidence score in [0,100] and the evidence that produced it.
type Edge struct {
	ID         string     `json:"id" db:"id"`
	SourceID   string     `json:"source_id" db:"source_id"`
	TargetID   string     `json:"target_id" db:"target_id"`
	Kind       EdgeKind   `json:"kind" db:"kind"`
	Confidence int        `json:"confidence" db:"confidence"`
	Explicit   bool       `json:"explicit" db:"explicit"`
	Evidence   []Evidence `json:"evidence"`
	// Metadata carries edge-kind-specific detail that doesn't warrant its
	// own column, e.g. FEEDS_INTO's flow mechanism and transformation kind.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Level returns the edge's confidence bucket.
func (e Edge) Level() ConfidenceLevel { return LevelOf(e.Confidence) }

// DependencyGraphMetadata records per-graph build statistics.
type DependencyGraphMetadata struct {
	SourceFiles   []string       `json:"source_files"`
	KindCounts    map[string]int `json:"kind_counts"`
	BuildDuration time.Duration  `json:"build_duration"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DependencyGraph is the per-scan output of the Detection Engine: nodes
// keyed by id (insertion order preserved via NodeOrder), an ordered list of
// edges, and build metadata.
type DependencyGraph struct {
	ScanID    string                  `json:"scan_id" db:"scan_id"`
	Nodes     map[string]Node         `json:"nodes"`
	NodeOrder []string                `json:"node_order"`
	Edges     []Edge                  `json:"edges"`
	Metadata  DependencyGraphMetadata `json:"metadata"`
}

// NewDependencyGraph returns an empty graph for scanID.
func NewDependencyGraph(scanID string) *DependencyGraph {
	return &DependencyGraph{
		ScanID: scanID,
		Nodes:  make(map[string]Node),
		Metadata: DependencyGraphMetadata{
			KindCounts: make(map[string]int),
		},
	}
}

// AddNode inserts a node, preserving insertion order, and is a no-op if the
// id is already present (nodes are immutable once created).
func (g *DependencyGraph) AddNode(n Node) {
	if _, exists := g.Nodes[n.ID]; exists {
		return
	}
	g.Nodes[n.ID] = n
	g.NodeOrder = append(g.NodeOrder, n.ID)
	g.Metadata.KindCounts[string(n.Kind)]++
}

// AddEdge appends an edge only if both endpoints resolve to nodes already
// present in the graph; unresolved references are never emitted as edges.
// Returns whether the edge was added.
func (g *DependencyGraph) AddEdge(e Edge) bool {
	if _, ok := g.Nodes[e.SourceID]; !ok {
		return false
	}
	if _, ok := g.Nodes[e.TargetID]; !ok {
		return false
	}
	g.Edges = append(g.Edges, e)
	return true
}

// Scan records one Detection Engine run over one repository.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Scan is the persisted record of one Detection Engine run.
type Scan struct {
	ID           string     `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	RepositoryID string     `json:"repository_id" db:"repository_id"`
	Status       ScanStatus `json:"status" db:"status"`
	NodeCount    int        `json:"node_count" db:"node_count"`
	EdgeCount    int        `json:"edge_count" db:"edge_count"`
	FileErrors   map[string]string `json:"file_errors,omitempty"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ReferenceType is the closed set of external identifier shapes the
// External Object Index extracts and indexes.
type ReferenceType string

const (
	ReferenceTypeARN             ReferenceType = "arn"
	ReferenceTypeResourceID      ReferenceType = "resource_id"
	ReferenceTypeK8sReference    ReferenceType = "k8s_reference"
	ReferenceTypeContainerImage  ReferenceType = "container_image"
	ReferenceTypeHelmChart       ReferenceType = "helm_chart"
	ReferenceTypeGitURL          ReferenceType = "git_url"
	ReferenceTypeGCPResource     ReferenceType = "gcp_resource"
	ReferenceTypeAzureResource   ReferenceType = "azure_resource"
)

// ExternalObjectEntry is one row of the External Object Index's inverted
// index: one external identifier occurrence on one node of one scan.
type ExternalObjectEntry struct {
	ExternalID    string            `json:"external_id" db:"external_id"`
	ReferenceType ReferenceType     `json:"reference_type" db:"reference_type"`
	NormalizedID  string            `json:"normalized_id" db:"normalized_id"`
	Components    map[string]string `json:"components,omitempty"`
	TenantID      string            `json:"tenant_id" db:"tenant_id"`
	RepositoryID  string            `json:"repository_id" db:"repository_id"`
	ScanID        string            `json:"scan_id" db:"scan_id"`
	NodeID        string            `json:"node_id" db:"node_id"`
	NodeName      string            `json:"node_name" db:"node_name"`
	NodeKind      NodeKind          `json:"node_kind" db:"node_kind"`
	FilePath      string            `json:"file_path" db:"file_path"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IndexedAt     time.Time         `json:"indexed_at" db:"indexed_at"`
}

// Key returns the tuple that must be unique across the external object
// index: (tenant, scan, node, reference type, normalized id).
func (e ExternalObjectEntry) Key() string {
	return e.TenantID + "|" + e.ScanID + "|" + e.NodeID + "|" + string(e.ReferenceType) + "|" + e.NormalizedID
}

// MatcherType is the closed set of ways two nodes from different scans can
// be declared equivalent by the Rollup Engine.
type MatcherType string

const (
	MatcherTypeARN        MatcherType = "arn"
	MatcherTypeResourceID MatcherType = "resource_id"
	MatcherTypeName       MatcherType = "name"
	MatcherTypeTag        MatcherType = "tag"
)

// TagMatchMode controls whether all or any of a tag matcher's required tags
// must be satisfied.
type TagMatchMode string

const (
	TagMatchModeAll TagMatchMode = "all"
	TagMatchModeAny TagMatchMode = "any"
)

// MatcherConfig is a tagged union over MatcherType; kind-specific fields are
// populated according to Type and validated by each Matcher's
// ValidateConfig in internal/rollup (matchers.go).
type MatcherConfig struct {
	Type          MatcherType       `json:"type"`
	Enabled       bool              `json:"enabled"`
	Priority      int               `json:"priority"`       // 0..100, higher breaks ties earlier
	MinConfidence int               `json:"min_confidence"` // 0..100

	// arn
	MaskComponents []string `json:"mask_components,omitempty"`
	AllowPartial   bool     `json:"allow_partial,omitempty"`

	// resource_id
	NormalizeID bool `json:"normalize_id,omitempty"`

	// name
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	NamespacePrefix string `json:"namespace_prefix,omitempty"`

	// tag
	RequiredTags map[string]string `json:"required_tags,omitempty"`
	MatchMode    TagMatchMode      `json:"match_mode,omitempty"`
}

// ConflictResolution is the closed set of strategies for reconciling
// attribute disagreement between nodes merged by a rollup.
type ConflictResolution string

const (
	ConflictResolutionMerge        ConflictResolution = "merge"
	ConflictResolutionPreferLatest ConflictResolution = "prefer_latest"
	ConflictResolutionPreferSource ConflictResolution = "prefer_source"
)

// MergeOptions configures how the Rollup Engine produces the merged graph.
type MergeOptions struct {
	ConflictResolution ConflictResolution `json:"conflict_resolution"`
	PreserveSourceInfo bool               `json:"preserve_source_info"`
	CreateCrossRepoEdges bool             `json:"create_cross_repo_edges"`
	MaxNodes           int                `json:"max_nodes,omitempty"`
}

// RollupStatus is the closed set of lifecycle states for a RollupConfig.
type RollupStatus string

const (
	RollupStatusActive   RollupStatus = "active"
	RollupStatusPaused   RollupStatus = "paused"
	RollupStatusArchived RollupStatus = "archived"
)

// RollupConfig describes one rollup: the repositories to merge, the
// matchers to apply, and the merge options.
type RollupConfig struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description" db:"description"`
	RepositoryIDs  []string        `json:"repository_ids"`
	Matchers       []MatcherConfig `json:"matchers"`
	MergeOptions   MergeOptions    `json:"merge_options"`
	IncludeKinds   []NodeKind      `json:"include_kinds,omitempty"`
	ExcludeKinds   []NodeKind      `json:"exclude_kinds,omitempty"`
	CronSchedule   string          `json:"cron_schedule,omitempty" db:"cron_schedule"`
	Version        int             `json:"version" db:"version"`
	Status         RollupStatus    `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// MatchDetails records which attribute produced a MatchResult, for
// diagnostics.
type MatchDetails struct {
	MatchedAttribute string `json:"matched_attribute"`
	SourceValue      string `json:"source_value"`
	TargetValue      string `json:"target_value"`
	Context          string `json:"context,omitempty"`
}

// MatchResult is the output of evaluating one MatcherConfig against two
// candidate nodes from different scans.
type MatchResult struct {
	SourceNodeID string       `json:"source_node_id"`
	TargetNodeID string       `json:"target_node_id"`
	SourceRepoID string       `json:"source_repo_id"`
	TargetRepoID string       `json:"target_repo_id"`
	Strategy     MatcherType  `json:"strategy"`
	Confidence   int          `json:"confidence"`
	Details      MatchDetails `json:"details"`
}

// MatchInfo records which matcher and confidence produced a MergedNode.
type MatchInfo struct {
	Strategy   MatcherType `json:"strategy"`
	Confidence int         `json:"confidence"`
	MatchCount int         `json:"match_count"`
}

// MergedNode is the rollup output: an equivalence class of ≥2 source nodes
// from distinct repositories, collapsed into one representative node.
type MergedNode struct {
	ID             string            `json:"id" db:"id"`
	SourceNodeIDs  []string          `json:"source_node_ids"`
	SourceRepoIDs  []string          `json:"source_repo_ids"`
	NodeKind       NodeKind          `json:"node_kind" db:"node_kind"`
	Name           string            `json:"name" db:"name"`
	Locations      []SourceLocation  `json:"locations"`
	MergedMetadata map[string]string `json:"merged_metadata"`
	MatchInfo      MatchInfo         `json:"match_info"`
}

// RollupExecutionStatus is the closed set of lifecycle states for a
// RollupExecution.
type RollupExecutionStatus string

const (
	RollupExecutionStatusPending   RollupExecutionStatus = "pending"
	RollupExecutionStatusRunning   RollupExecutionStatus = "running"
	RollupExecutionStatusCompleted RollupExecutionStatus = "completed"
	RollupExecutionStatusFailed    RollupExecutionStatus = "failed"
	RollupExecutionStatusCancelled RollupExecutionStatus = "cancelled"
)

// RollupExecutionStats summarizes one execution's output.
type RollupExecutionStats struct {
	ScansProcessed   int `json:"scans_processed"`
	NodesConsidered  int `json:"nodes_considered"`
	MatchesFound     int `json:"matches_found"`
	MergedNodeCount  int `json:"merged_node_count"`
	MergedEdgeCount  int `json:"merged_edge_count"`
	CrossRepoEdges   int `json:"cross_repo_edges"`
}

// RollupExecution records one run of a RollupConfig.
type RollupExecution struct {
	ID           string                `json:"id" db:"id"`
	RollupID     string                `json:"rollup_id" db:"rollup_id"`
	TenantID     string                `json:"tenant_id" db:"tenant_id"`
	Status       RollupExecutionStatus `json:"status" db:"status"`
	ScanIDs      []string              `json:"scan_ids"`
	Stats        RollupExecutionStats  `json:"stats"`
	ErrorMessage string                `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time            `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
}

// BlastRadiusDirection controls which edge direction a blast-radius
// traversal follows.
type BlastRadiusDirection string

const (
	BlastRadiusDirectionUpstream   BlastRadiusDirection = "upstream"
	BlastRadiusDirectionDownstream BlastRadiusDirection = "downstream"
	BlastRadiusDirectionBoth       BlastRadiusDirection = "both"
)

// BlastRadiusQuery parameterizes a bounded BFS traversal from one or more
// seed nodes over a merged graph.
// MaxDepth is a pointer so "not provided" (nil, falls back to the
// traversal's default depth) can be told apart from an explicit 0,
// which means "return only the seed nodes."
type BlastRadiusQuery struct {
	NodeIDs          []string             `json:"node_ids"`
	Direction        BlastRadiusDirection `json:"direction"`
	MaxDepth         *int                 `json:"max_depth,omitempty"`
	IncludeEdgeKinds []EdgeKind           `json:"include_edge_kinds,omitempty"`
}

// BlastRadiusNode is one node in a BlastRadiusResult, annotated with the
// depth it was discovered at.
type BlastRadiusNode struct {
	ID    string   `json:"id"`
	Depth int      `json:"depth"`
	Kind  NodeKind `json:"kind"`
}

// BlastRadiusResult is the bounded set of nodes and edges reachable from a
// BlastRadiusQuery, along with whether the traversal was truncated by
// MaxDepth.
type BlastRadiusResult struct {
	Nodes     []BlastRadiusNode `json:"nodes"`
	Edges     []Edge            `json:"edges"`
	Truncated bool              `json:"truncated"`
}
