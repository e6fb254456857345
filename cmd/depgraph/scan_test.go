package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iacgraph/depgraph/internal/detect"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path     string
		wantKind detect.InputKind
		wantOK   bool
	}{
		{"main.tf", detect.InputKindTerraform, true},
		{"variables.tf.json", detect.InputKindTerraform, true},
		{".gitlab-ci.yml", detect.InputKindGitlabCI, true},
		{"pipelines/.gitlab-ci.yaml", detect.InputKindGitlabCI, true},
		{"charts/redis/Chart.yaml", detect.InputKindHelmChart, true},
		{"Chart.yml", detect.InputKindHelmChart, true},
		{"k8s/deployment.yaml", detect.InputKindK8sManifest, true},
		{"k8s/service.yml", detect.InputKindK8sManifest, true},
		{"README.md", "", false},
		{"main.go", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, ok := classify(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestClassify_ChartYamlTakesPriorityOverGenericYaml(t *testing.T) {
	kind, ok := classify("Chart.yaml")
	assert.True(t, ok)
	assert.Equal(t, detect.InputKindHelmChart, kind, "Chart.yaml must classify as a helm chart, not a generic k8s manifest")
}
