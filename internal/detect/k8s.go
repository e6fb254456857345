package detect

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iacgraph/depgraph/internal/models"
)

// k8sManifest is the subset of a Kubernetes manifest document this detector
// understands. A single file may contain multiple "---"-separated
// documents.
type k8sManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name      string `yaml:"name"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metadata"`
	Spec struct {
		Selector struct {
			MatchLabels map[string]string `yaml:"matchLabels"`
		} `yaml:"selector"`
		Template struct {
			Spec struct {
				Containers []k8sContainer `yaml:"containers"`
			} `yaml:"spec"`
		} `yaml:"template"`
		// Service-specific
		Ports []struct {
			Port       int `yaml:"port"`
			TargetPort int `yaml:"targetPort"`
		} `yaml:"ports"`
	} `yaml:"spec"`
	Data map[string]string `yaml:"data"`
}

type k8sContainer struct {
	Name    string `yaml:"name"`
	Image   string `yaml:"image"`
	EnvFrom []struct {
		ConfigMapRef struct {
			Name string `yaml:"name"`
		} `yaml:"configMapRef"`
	} `yaml:"envFrom"`
	Env []struct {
		Name      string `yaml:"name"`
		ValueFrom struct {
			ConfigMapKeyRef struct {
				Name string `yaml:"name"`
			} `yaml:"configMapKeyRef"`
		} `yaml:"valueFrom"`
	} `yaml:"env"`
}

// K8sDetector parses Kubernetes manifest YAML (Deployment/Service/
// ConfigMap) into k8s_* nodes, wiring a depends_on edge from a Deployment
// to any ConfigMap its containers reference via envFrom or
// configMapKeyRef.
type K8sDetector struct{}

func NewK8sDetector() *K8sDetector { return &K8sDetector{} }

func (d *K8sDetector) Name() string  { return "k8s_manifest" }
func (d *K8sDetector) Priority() int { return 80 }
func (d *K8sDetector) CanDetect(i Input) bool {
	return i.Kind == InputKindK8sManifest
}

func (d *K8sDetector) Detect(_ context.Context, input Input, dctx Context) DetectionResult {
	var result DetectionResult
	loc := models.SourceLocation{FilePath: input.FilePath}

	decoder := yaml.NewDecoder(strings.NewReader(string(input.Raw)))
	for {
		var m k8sManifest
		if err := decoder.Decode(&m); err != nil {
			if err.Error() == "EOF" {
				break
			}
			result.Errors = append(result.Errors, fmt.Sprintf("failed to parse %s: %v", input.FilePath, err))
			break
		}
		if m.Kind == "" || m.Metadata.Name == "" {
			continue
		}

		switch m.Kind {
		case "Deployment", "StatefulSet", "DaemonSet":
			id := k8sNodeID(m.Kind, m.Metadata.Namespace, m.Metadata.Name)
			attrs := map[string]string{"namespace": m.Metadata.Namespace, "kind": m.Kind}
			if len(m.Spec.Template.Spec.Containers) > 0 {
				attrs["image"] = m.Spec.Template.Spec.Containers[0].Image
			}
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: m.Metadata.Name, Kind: models.NodeKindK8sDeployment,
				Location: loc, Attributes: attrs,
			})
			for _, c := range m.Spec.Template.Spec.Containers {
				for _, ef := range c.EnvFrom {
					if ef.ConfigMapRef.Name == "" {
						continue
					}
					cmID := k8sNodeID("ConfigMap", m.Metadata.Namespace, ef.ConfigMapRef.Name)
					result.Edges = append(result.Edges, models.Edge{
						SourceID: id, TargetID: cmID, Kind: models.EdgeKindDependsOn, Confidence: 95, Explicit: true,
						Evidence: []models.Evidence{{Location: loc, Strength: 1.0, Snippet: "envFrom.configMapRef"}},
					})
				}
				for _, e := range c.Env {
					if e.ValueFrom.ConfigMapKeyRef.Name == "" {
						continue
					}
					cmID := k8sNodeID("ConfigMap", m.Metadata.Namespace, e.ValueFrom.ConfigMapKeyRef.Name)
					result.Edges = append(result.Edges, models.Edge{
						SourceID: id, TargetID: cmID, Kind: models.EdgeKindDependsOn, Confidence: 90, Explicit: true,
						Evidence: []models.Evidence{{Location: loc, Strength: 0.9, Snippet: "env.valueFrom.configMapKeyRef"}},
					})
				}
			}

		case "Service":
			id := k8sNodeID("Service", m.Metadata.Namespace, m.Metadata.Name)
			attrs := map[string]string{"namespace": m.Metadata.Namespace}
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: m.Metadata.Name, Kind: models.NodeKindK8sService,
				Location: loc, Attributes: attrs,
			})
			if len(m.Spec.Selector.MatchLabels) > 0 {
				// A Service selecting a Deployment's pods implies it depends
				// on whatever Deployment owns those labels; without a label
				// index across files this can't be resolved to a specific
				// Deployment id here, so it is left as a warning.
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("service %s/%s selects pods by label; cross-manifest selector resolution not attempted", m.Metadata.Namespace, m.Metadata.Name))
			}

		case "ConfigMap":
			id := k8sNodeID("ConfigMap", m.Metadata.Namespace, m.Metadata.Name)
			attrs := map[string]string{"namespace": m.Metadata.Namespace, "keyCount": fmt.Sprintf("%d", len(m.Data))}
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: m.Metadata.Name, Kind: models.NodeKindK8sConfigMap,
				Location: loc, Attributes: attrs,
			})
		}
	}

	return result
}

func k8sNodeID(kind, namespace, name string) string {
	if namespace == "" {
		namespace = "default"
	}
	return fmt.Sprintf("k8s.%s.%s.%s", strings.ToLower(kind), namespace, name)
}

// helmChartMeta is the subset of Chart.yaml this detector reads.
type helmChartMeta struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	AppVersion  string `yaml:"appVersion"`
	Description string `yaml:"description"`
}

// HelmChartDetector parses a Chart.yaml into a single helm_release node
// representing that chart's release identity.
type HelmChartDetector struct{}

func NewHelmChartDetector() *HelmChartDetector { return &HelmChartDetector{} }

func (d *HelmChartDetector) Name() string  { return "helm_chart" }
func (d *HelmChartDetector) Priority() int { return 80 }
func (d *HelmChartDetector) CanDetect(i Input) bool {
	return i.Kind == InputKindHelmChart
}

func (d *HelmChartDetector) Detect(_ context.Context, input Input, dctx Context) DetectionResult {
	var result DetectionResult
	var chart helmChartMeta
	if err := yaml.Unmarshal(input.Raw, &chart); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to parse %s: %v", input.FilePath, err))
		return result
	}
	if chart.Name == "" {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: missing chart name", input.FilePath))
		return result
	}
	id := "helm.release." + chart.Name
	result.Nodes = append(result.Nodes, models.Node{
		ID: id, ScanID: dctx.ScanID, Name: chart.Name, Kind: models.NodeKindHelmRelease,
		Location: models.SourceLocation{FilePath: input.FilePath},
		Attributes: map[string]string{
			"version":    chart.Version,
			"appVersion": chart.AppVersion,
		},
	})
	return result
}
