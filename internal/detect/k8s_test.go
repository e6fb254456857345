package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

func k8sInput(src string) Input {
	return Input{FilePath: "deploy.yaml", Kind: InputKindK8sManifest, Raw: []byte(src)}
}

func TestK8sDetector_Detect_DeploymentWithConfigMapRefs(t *testing.T) {
	src := `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: prod
spec:
  template:
    spec:
      containers:
        - name: app
          image: web:1.0
          envFrom:
            - configMapRef:
                name: web-config
          env:
            - name: LOG_LEVEL
              valueFrom:
                configMapKeyRef:
                  name: logging-config
`
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 1)

	node := result.Nodes[0]
	assert.Equal(t, "k8s.deployment.prod.web", node.ID)
	assert.Equal(t, models.NodeKindK8sDeployment, node.Kind)
	assert.Equal(t, "web:1.0", node.Attributes["image"])

	require.Len(t, result.Edges, 2)
	var envFromFound, envKeyFound bool
	for _, e := range result.Edges {
		assert.Equal(t, "k8s.deployment.prod.web", e.SourceID)
		assert.Equal(t, models.EdgeKindDependsOn, e.Kind)
		switch e.TargetID {
		case "k8s.configmap.prod.web-config":
			envFromFound = true
			assert.Equal(t, 95, e.Confidence)
		case "k8s.configmap.prod.logging-config":
			envKeyFound = true
			assert.Equal(t, 90, e.Confidence)
		}
	}
	assert.True(t, envFromFound)
	assert.True(t, envKeyFound)
}

func TestK8sDetector_Detect_NamespaceDefaultsWhenMissing(t *testing.T) {
	src := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: shared-config
data:
  key1: value1
  key2: value2
`
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "k8s.configmap.default.shared-config", result.Nodes[0].ID)
	assert.Equal(t, "2", result.Nodes[0].Attributes["keyCount"])
}

func TestK8sDetector_Detect_ServiceEmitsSelectorWarning(t *testing.T) {
	src := `
apiVersion: v1
kind: Service
metadata:
  name: web-svc
  namespace: prod
spec:
  selector:
    matchLabels:
      app: web
  ports:
    - port: 80
      targetPort: 8080
`
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, models.NodeKindK8sService, result.Nodes[0].Kind)
	assert.NotEmpty(t, result.Warnings)
}

func TestK8sDetector_Detect_MultiDocumentManifest(t *testing.T) {
	src := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
  namespace: prod
data:
  foo: bar
---
apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: db
  namespace: prod
spec:
  template:
    spec:
      containers:
        - name: db
          image: postgres:15
`
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 2)

	kinds := map[string]models.NodeKind{}
	for _, n := range result.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, models.NodeKindK8sConfigMap, kinds["k8s.configmap.prod.app-config"])
	assert.Equal(t, models.NodeKindK8sDeployment, kinds["k8s.statefulset.prod.db"])
}

func TestK8sDetector_Detect_SkipsDocumentsMissingKindOrName(t *testing.T) {
	src := `
foo: bar
---
apiVersion: v1
kind: ConfigMap
metadata:
  namespace: prod
data:
  k: v
`
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	assert.Empty(t, result.Nodes)
}

func TestK8sDetector_Detect_ParseError(t *testing.T) {
	d := NewK8sDetector()
	result := d.Detect(context.Background(), k8sInput("kind: [unterminated"), Context{ScanID: "scan-1"})
	assert.NotEmpty(t, result.Errors)
}

func TestHelmChartDetector_Detect(t *testing.T) {
	src := `
name: myapp
version: 1.2.3
appVersion: "2.0"
description: My application chart
`
	d := NewHelmChartDetector()
	result := d.Detect(context.Background(), Input{FilePath: "Chart.yaml", Kind: InputKindHelmChart, Raw: []byte(src)}, Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 1)

	node := result.Nodes[0]
	assert.Equal(t, "helm.release.myapp", node.ID)
	assert.Equal(t, models.NodeKindHelmRelease, node.Kind)
	assert.Equal(t, "1.2.3", node.Attributes["version"])
	assert.Equal(t, "2.0", node.Attributes["appVersion"])
}

func TestHelmChartDetector_Detect_MissingNameErrors(t *testing.T) {
	d := NewHelmChartDetector()
	result := d.Detect(context.Background(), Input{FilePath: "Chart.yaml", Kind: InputKindHelmChart, Raw: []byte("version: 1.0.0")}, Context{ScanID: "scan-1"})
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.Nodes)
}

func TestHelmChartDetector_Detect_ParseError(t *testing.T) {
	d := NewHelmChartDetector()
	result := d.Detect(context.Background(), Input{FilePath: "Chart.yaml", Kind: InputKindHelmChart, Raw: []byte("name: [unterminated")}, Context{ScanID: "scan-1"})
	assert.NotEmpty(t, result.Errors)
}
