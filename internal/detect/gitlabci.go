package detect

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iacgraph/depgraph/internal/models"
)

// gitlabPipeline is the subset of GitLab CI YAML this detector understands.
// Unknown top-level keys are ignored.
type gitlabPipeline struct {
	Stages  []string               `yaml:"stages"`
	Include []gitlabIncludeEntry   `yaml:"include"`
	Jobs    map[string]gitlabJob   `yaml:",inline"`
}

type gitlabIncludeEntry struct {
	Local    string `yaml:"local,omitempty"`
	Project  string `yaml:"project,omitempty"`
	Template string `yaml:"template,omitempty"`
}

// UnmarshalYAML lets a bare string include entry ("local: foo.yml" written
// as just "foo.yml") decode into Local.
func (e *gitlabIncludeEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&e.Local)
	}
	type plain gitlabIncludeEntry
	return value.Decode((*plain)(e))
}

type gitlabJob struct {
	Stage     string          `yaml:"stage,omitempty"`
	Image     string          `yaml:"image,omitempty"`
	Script    []string        `yaml:"script,omitempty"`
	Needs     []yamlNeed      `yaml:"needs,omitempty"`
	Extends   yamlStrList     `yaml:"extends,omitempty"`
	Artifacts gitlabArtifacts `yaml:"artifacts,omitempty"`
}

type gitlabArtifacts struct {
	Paths []string `yaml:"paths,omitempty"`
}

// yamlNeed accepts both "needs: [job1, job2]" and the object form
// "needs: [{job: job1}]".
type yamlNeed struct {
	Job string
}

func (n *yamlNeed) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&n.Job)
	}
	var obj struct {
		Job string `yaml:"job"`
	}
	if err := value.Decode(&obj); err != nil {
		return err
	}
	n.Job = obj.Job
	return nil
}

// yamlStrList accepts both a bare string and a list of strings for
// "extends".
type yamlStrList []string

func (l *yamlStrList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = []string{s}
		return nil
	}
	var ss []string
	if err := value.Decode(&ss); err != nil {
		return err
	}
	*l = ss
	return nil
}

var reservedKeys = map[string]bool{
	"stages": true, "include": true, "variables": true, "default": true, "workflow": true,
}

var (
	tfCommandRe   = regexp.MustCompile(`^\s*(?:terraform|terragrunt)\s+(init|plan|apply|destroy|output|validate|show)\b`)
	tfImageRe     = regexp.MustCompile(`(?i)terraform`)
	helmCommandRe = regexp.MustCompile(`^\s*helm(?:file)?\s+(install|upgrade|template|uninstall|lint)\b`)
)

// GitlabCIDetector parses GitLab CI pipeline YAML into gitlab_* nodes and
// edges.
type GitlabCIDetector struct{}

func NewGitlabCIDetector() *GitlabCIDetector { return &GitlabCIDetector{} }

func (d *GitlabCIDetector) Name() string  { return "gitlab_ci" }
func (d *GitlabCIDetector) Priority() int { return 90 }
func (d *GitlabCIDetector) CanDetect(i Input) bool {
	return i.Kind == InputKindGitlabCI
}

func (d *GitlabCIDetector) Detect(_ context.Context, input Input, dctx Context) DetectionResult {
	var result DetectionResult

	var pipeline gitlabPipeline
	if err := yaml.Unmarshal(input.Raw, &pipeline); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to parse %s: %v", input.FilePath, err))
		return result
	}

	loc := models.SourceLocation{FilePath: input.FilePath}
	pipelineID := "gitlab.pipeline"
	result.Nodes = append(result.Nodes, models.Node{
		ID: pipelineID, ScanID: dctx.ScanID, Name: "pipeline", Kind: models.NodeKindGitlabPipeline, Location: loc,
		Attributes: map[string]string{},
	})

	for _, inc := range pipeline.Include {
		target := inc.Local
		if target == "" {
			target = inc.Project
		}
		if target == "" {
			target = inc.Template
		}
		if target == "" {
			continue
		}
		includeID := "gitlab.include." + target
		result.Nodes = append(result.Nodes, models.Node{
			ID: includeID, ScanID: dctx.ScanID, Name: target, Kind: models.NodeKindGitlabPipeline, Location: loc,
			Attributes: map[string]string{"includeTarget": target},
		})
		result.Edges = append(result.Edges, models.Edge{
			SourceID: pipelineID, TargetID: includeID, Kind: models.EdgeKindGitlabIncludes,
			Confidence: 100, Explicit: true,
		})
	}

	stageIDs := make([]string, 0, len(pipeline.Stages))
	for _, stage := range pipeline.Stages {
		id := "gitlab.stage." + stage
		stageIDs = append(stageIDs, id)
		result.Nodes = append(result.Nodes, models.Node{
			ID: id, ScanID: dctx.ScanID, Name: stage, Kind: models.NodeKindGitlabStage, Location: loc,
			Attributes: map[string]string{},
		})
	}
	for i := 1; i < len(stageIDs); i++ {
		result.Edges = append(result.Edges, models.Edge{
			SourceID: stageIDs[i-1], TargetID: stageIDs[i], Kind: models.EdgeKindGitlabStageOrder,
			Confidence: 100, Explicit: true,
		})
	}

	jobNames := make([]string, 0, len(pipeline.Jobs))
	for name := range pipeline.Jobs {
		if reservedKeys[name] || strings.HasPrefix(name, ".") {
			continue
		}
		jobNames = append(jobNames, name)
	}
	sort.Strings(jobNames)

	for _, name := range jobNames {
		job := pipeline.Jobs[name]
		jobID := "gitlab.job." + name
		attrs := map[string]string{}
		if job.Image != "" {
			attrs["image"] = job.Image
		}
		result.Nodes = append(result.Nodes, models.Node{
			ID: jobID, ScanID: dctx.ScanID, Name: name, Kind: models.NodeKindGitlabJob, Location: loc, Attributes: attrs,
		})

		if job.Stage != "" {
			stageID := "gitlab.stage." + job.Stage
			result.Edges = append(result.Edges, models.Edge{
				SourceID: jobID, TargetID: stageID, Kind: models.EdgeKindGitlabStageOrder, Confidence: 100, Explicit: true,
			})
		}
		for _, need := range job.Needs {
			if need.Job == "" {
				continue
			}
			result.Edges = append(result.Edges, models.Edge{
				SourceID: jobID, TargetID: "gitlab.job." + need.Job, Kind: models.EdgeKindGitlabNeeds,
				Confidence: 100, Explicit: true,
			})
			if producer, ok := pipeline.Jobs[need.Job]; ok && len(producer.Artifacts.Paths) > 0 {
				result.Edges = append(result.Edges, models.Edge{
					SourceID: "gitlab.job." + need.Job, TargetID: jobID, Kind: models.EdgeKindGitlabArtifact,
					Confidence: 95, Explicit: true,
					Evidence: []models.Evidence{{Location: loc, Strength: 1.0, Snippet: strings.Join(producer.Artifacts.Paths, ",")}},
				})
			}
		}
		for _, ext := range job.Extends {
			result.Edges = append(result.Edges, models.Edge{
				SourceID: jobID, TargetID: "gitlab.job." + ext, Kind: models.EdgeKindGitlabExtends,
				Confidence: 100, Explicit: true,
			})
		}

		if usesTerraform(job) {
			result.Edges = append(result.Edges, models.Edge{
				SourceID: jobID, TargetID: jobID, Kind: models.EdgeKindGitlabUsesTF, Confidence: 90, Explicit: true,
			})
		}
		if usesHelm(job) {
			result.Edges = append(result.Edges, models.Edge{
				SourceID: jobID, TargetID: jobID, Kind: models.EdgeKindGitlabUsesHelm, Confidence: 90, Explicit: true,
			})
		}
	}

	return result
}

func usesTerraform(job gitlabJob) bool {
	if tfImageRe.MatchString(job.Image) {
		return true
	}
	for _, line := range job.Script {
		if tfCommandRe.MatchString(line) {
			return true
		}
	}
	return false
}

func usesHelm(job gitlabJob) bool {
	for _, line := range job.Script {
		if helmCommandRe.MatchString(line) {
			return true
		}
	}
	return false
}

// primaryTerraformCommand returns the first script line matching the
// Terraform command pattern, used as the detection anchor for downstream
// flow analysis.
func primaryTerraformCommand(job gitlabJob) (string, bool) {
	for _, line := range job.Script {
		if tfCommandRe.MatchString(line) {
			return line, true
		}
	}
	return "", false
}

// HelmInvocation is one parsed helm command line, extracted for downstream
// flow detection.
type HelmInvocation struct {
	Subcommand  string
	ReleaseName string
	Chart       string
	Namespace   string
	ValuesFiles []string
	SetValues   map[string]string
	Atomic      bool
	Wait        bool
	DryRun      bool
	Install     bool
}

var flagWithValueRe = regexp.MustCompile(`^--?(\S+)$`)

// parseHelmInvocation extracts structured fields (release name, chart,
// namespace, values files, flags) from a raw helm command line.
func parseHelmInvocation(line string) (HelmInvocation, bool) {
	m := helmCommandRe.FindStringSubmatch(line)
	if m == nil {
		return HelmInvocation{}, false
	}
	inv := HelmInvocation{Subcommand: m[1], SetValues: map[string]string{}}

	tokens := strings.Fields(line)
	var positional []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "--set" && i+1 < len(tokens):
			i++
			k, v, _ := strings.Cut(tokens[i], "=")
			inv.SetValues[k] = v
		case (tok == "-n" || tok == "--namespace") && i+1 < len(tokens):
			i++
			inv.Namespace = tokens[i]
		case (tok == "-f" || tok == "--values") && i+1 < len(tokens):
			i++
			inv.ValuesFiles = append(inv.ValuesFiles, tokens[i])
		case tok == "--atomic":
			inv.Atomic = true
		case tok == "--wait":
			inv.Wait = true
		case tok == "--dry-run":
			inv.DryRun = true
		case tok == "--install":
			inv.Install = true
		case flagWithValueRe.MatchString(tok):
			// any other flag is ignored; a separate value token after it is
			// not consumed and is read as a positional argument
		default:
			if !strings.HasPrefix(tok, "-") {
				positional = append(positional, tok)
			}
		}
	}

	if inv.Subcommand == "upgrade" && inv.Install {
		inv.Subcommand = "upsert"
	}

	// positional[0] is "helm", positional[1] is the subcommand word already
	// captured by helmCommandRe; release name and chart are the next two.
	args := positional
	if len(args) > 0 && (args[0] == "helm" || args[0] == "helmfile") {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:] // drop subcommand token
	}
	if len(args) > 0 {
		inv.ReleaseName = args[0]
	}
	if len(args) > 1 {
		inv.Chart = args[1]
	}

	return inv, true
}
