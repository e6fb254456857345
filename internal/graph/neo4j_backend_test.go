package graph

import "testing"

func TestKindLabel(t *testing.T) {
	tests := []struct {
		kind     string
		expected string
	}{
		{"terraform_resource", "TerraformResource"},
		{"terraform_module", "TerraformModule"},
		{"k8s_deployment", "K8sDeployment"},
		{"gitlab_pipeline", "GitlabPipeline"},
		{"external_reference", "ExternalReference"},
		{"helm_release", "HelmRelease"},
		{"", "Node"},
		{"123invalid", "Node"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got := kindLabel(tt.kind)
			if got != tt.expected {
				t.Errorf("kindLabel(%q) = %q; want %q", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestRelType(t *testing.T) {
	tests := []struct {
		kind     string
		expected string
	}{
		{"depends_on", "DEPENDS_ON"},
		{"FEEDS_INTO", "FEEDS_INTO"},
		{"references", "REFERENCES"},
		{"", "RELATED_TO"},
		{"has space", "RELATED_TO"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got := relType(tt.kind)
			if got != tt.expected {
				t.Errorf("relType(%q) = %q; want %q", tt.kind, got, tt.expected)
			}
		})
	}
}
