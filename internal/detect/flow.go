package detect

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iacgraph/depgraph/internal/models"
)

// FlowPattern is the closed set of mechanisms by which a Terraform output
// can reach a Helm invocation within the same pipeline.
type FlowPattern string

const (
	// FlowDirectOutput: a helm command substitutes `terraform output` (or
	// `terragrunt output`) directly into a --set value.
	FlowDirectOutput FlowPattern = "direct_output"
	// FlowOutputToEnv: a script line exports an env var from a terraform
	// output, and a later helm command references that env var.
	FlowOutputToEnv FlowPattern = "output_to_env"
	// FlowOutputToFile: a script line redirects terraform output into a
	// file, and a later helm command loads that file via -f/--values.
	FlowOutputToFile FlowPattern = "output_to_file"
	// FlowArtifactTransfer: a job declares an artifact path that a
	// downstream (needs/extends) job's helm invocation consumes.
	FlowArtifactTransfer FlowPattern = "artifact_transfer"
)

// patternBaseConfidence is the starting score for each pattern before
// evidence, bonuses and penalties are applied.
var patternBaseConfidence = map[FlowPattern]int{
	FlowDirectOutput:     90,
	FlowOutputToEnv:      80,
	FlowOutputToFile:     75,
	FlowArtifactTransfer: 65,
}

// EvidenceType is the closed set of signals the confidence scorer weighs.
type EvidenceType string

const (
	EvidenceExplicitReference EvidenceType = "explicit_reference" // literal "terraform output <name>" call
	EvidenceExpressionMatch   EvidenceType = "expression_match"   // output name appears in a --set expression
	EvidenceJobDependency     EvidenceType = "job_dependency"     // consuming job declares needs/extends on producer
	EvidenceEnvVariable       EvidenceType = "env_variable"       // env var exported from terraform output, referenced downstream
	EvidenceArtifactPath      EvidenceType = "artifact_path"      // producer's declared artifact path consumed downstream
	EvidenceSemanticMatch     EvidenceType = "semantic_match"     // loose textual correlation between names
	EvidenceFilePathMatch     EvidenceType = "file_path_match"    // redirected file matches a helm -f argument
	EvidenceNamingConvention  EvidenceType = "naming_convention"  // output/env/value names share a naming convention
	EvidenceStepProximity     EvidenceType = "step_proximity"     // producing and consuming steps are adjacent in script order
)

// evidenceTypeWeight weights each evidence type's contribution to the
// aggregate evidence term.
var evidenceTypeWeight = map[EvidenceType]float64{
	EvidenceExplicitReference: 1.0,
	EvidenceExpressionMatch:   0.8,
	EvidenceJobDependency:     0.6,
	EvidenceEnvVariable:       0.7,
	EvidenceArtifactPath:      0.6,
	EvidenceSemanticMatch:     0.4,
	EvidenceFilePathMatch:     0.8,
	EvidenceNamingConvention:  0.3,
	EvidenceStepProximity:     0.3,
}

// FlowEvidence is one observed signal supporting a candidate flow. Strength
// is in [0,100]; scoreConfidence weighs it on that scale directly, and it
// is divided by 100 only when written into models.Evidence.Strength.
type FlowEvidence struct {
	Type        EvidenceType
	Strength    float64
	Description string
}

// ScoreParams tunes the confidence formula; defaults mirror
// internal/config's DetectionConfig.
type ScoreParams struct {
	EvidenceWeight float64
	MaxBonus       int
	MaxPenalty     int
}

func DefaultScoreParams() ScoreParams {
	return ScoreParams{EvidenceWeight: 0.3, MaxBonus: 30, MaxPenalty: 25}
}

// flowBonusPenalty collects the named adjustments the scorer sums and caps.
type flowBonusPenalty struct {
	explicitBonus        int
	jobDepBonus          int
	nameMatchBonus       int
	transformationPenalty int
	weakEvidencePenalty   int
}

// scoreConfidence implements confidence =
//
//	clamp(patternBase
//	  + evidenceWeight * sum(strength_i * typeWeight_i) / N
//	  + min(maxBonus, explicitBonus + jobDepBonus + nameMatchBonus)
//	  - min(maxPenalty, transformationPenalty + weakEvidencePenalty),
//	  0, 100)
func scoreConfidence(pattern FlowPattern, evidence []FlowEvidence, adj flowBonusPenalty, p ScoreParams) int {
	base := float64(patternBaseConfidence[pattern])

	var evidenceSum float64
	for _, e := range evidence {
		evidenceSum += e.Strength * evidenceTypeWeight[e.Type]
	}
	var evidenceTerm float64
	if len(evidence) > 0 {
		evidenceTerm = p.EvidenceWeight * evidenceSum / float64(len(evidence))
	}

	bonus := adj.explicitBonus + adj.jobDepBonus + adj.nameMatchBonus
	if bonus > p.MaxBonus {
		bonus = p.MaxBonus
	}
	penalty := adj.transformationPenalty + adj.weakEvidencePenalty
	if penalty > p.MaxPenalty {
		penalty = p.MaxPenalty
	}

	score := base + evidenceTerm + float64(bonus) - float64(penalty)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score + 0.5)
}

var (
	outputCallRe    = regexp.MustCompile(`(?:terraform|terragrunt)\s+output(\s+-json)?(\s+-raw)?\s*([a-zA-Z0-9_-]*)`)
	exportEnvRe     = regexp.MustCompile(`^\s*export\s+([A-Za-z_][A-Za-z0-9_]*)=.*(?:terraform|terragrunt)\s+output`)
	redirectFileRe  = regexp.MustCompile(`(?:terraform|terragrunt)\s+output.*>\s*(\S+)`)
	envVarRefRe     = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)
)

// FlowDetector infers FEEDS_INTO edges from a terraform output into a
// downstream helm invocation within the same GitLab CI pipeline, scoring
// each candidate with scoreConfidence. It re-parses the same YAML
// GitlabCIDetector consumes; this is a deliberate simplification over
// threading parsed jobs between detectors.
type FlowDetector struct {
	Params ScoreParams
	// MinConfidence below which a candidate flow is dropped entirely.
	MinConfidence int
	// MaxFlows caps the number of FEEDS_INTO edges emitted per pipeline
	// file; 0 means unbounded. Keeps a pathological pipeline with many
	// terraform-output/helm-invocation pairs from flooding the graph.
	MaxFlows int
}

func NewFlowDetector() *FlowDetector {
	return &FlowDetector{Params: DefaultScoreParams(), MinConfidence: 50}
}

func (d *FlowDetector) Name() string     { return "tf_helm_flow" }
func (d *FlowDetector) Priority() int    { return 50 }
func (d *FlowDetector) CanDetect(i Input) bool {
	return i.Kind == InputKindGitlabCI
}

func (d *FlowDetector) Detect(_ context.Context, input Input, dctx Context) DetectionResult {
	var result DetectionResult

	var pipeline gitlabPipeline
	if err := yaml.Unmarshal(input.Raw, &pipeline); err != nil {
		return result // GitlabCIDetector already reports this parse failure
	}

	jobNames := make([]string, 0, len(pipeline.Jobs))
	for name := range pipeline.Jobs {
		if reservedKeys[name] || strings.HasPrefix(name, ".") {
			continue
		}
		jobNames = append(jobNames, name)
	}
	sort.Strings(jobNames)

	for _, producerName := range jobNames {
		producer := pipeline.Jobs[producerName]
		outputs := scanOutputCalls(producer.Script)
		if len(outputs) == 0 {
			continue
		}

		for _, consumerName := range jobNames {
			if consumerName == producerName {
				continue
			}
			consumer := pipeline.Jobs[consumerName]
			if !usesHelm(consumer) {
				continue
			}
			dependent := dependsOn(consumer, producerName)

			for _, inv := range scanHelmLines(consumer.Script) {
				flow, ok := matchFlow(outputs, producer, inv, dependent, d.Params)
				if !ok {
					continue
				}
				if flow.confidence < d.MinConfidence {
					continue
				}
				result.Edges = append(result.Edges, models.Edge{
					SourceID:   "output." + flow.outputName,
					TargetID:   "gitlab.job." + consumerName,
					Kind:       models.EdgeKindFeedsInto,
					Confidence: flow.confidence,
					Explicit:   false,
					Evidence: []models.Evidence{{
						Location: models.SourceLocation{FilePath: input.FilePath},
						Snippet:  flow.snippet,
						Strength: flow.evidence[0].Strength / 100,
					}},
					Metadata: map[string]string{
						"pattern":       string(flow.pattern),
						"producerJob":   producerName,
						"consumerJob":   consumerName,
						"sourceType":    string(models.NodeKindTerraformOutput),
						"targetType":    string(models.NodeKindGitlabJob),
					},
				})
				if d.MaxFlows > 0 && len(result.Edges) >= d.MaxFlows {
					return result
				}
			}
		}
	}

	return result
}

func dependsOn(job gitlabJob, otherName string) bool {
	for _, n := range job.Needs {
		if n.Job == otherName {
			return true
		}
	}
	for _, e := range job.Extends {
		if e == otherName {
			return true
		}
	}
	return false
}

func scanOutputCalls(script []string) map[string]bool {
	names := map[string]bool{}
	for _, line := range script {
		if m := outputCallRe.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[3])
			if name != "" {
				names[name] = true
			} else {
				names[""] = true // bare "terraform output" (all outputs, -json)
			}
		}
	}
	return names
}

func scanHelmLines(script []string) []HelmInvocation {
	var invs []HelmInvocation
	for _, line := range script {
		if inv, ok := parseHelmInvocation(line); ok {
			invs = append(invs, inv)
		}
	}
	return invs
}

type candidateFlow struct {
	pattern    FlowPattern
	outputName string
	confidence int
	snippet    string
	evidence   []FlowEvidence
}

// matchFlow tests every output name a producer job emitted against one
// consumer helm invocation, returning the highest-confidence pattern match.
func matchFlow(outputs map[string]bool, producer gitlabJob, inv HelmInvocation, dependent bool, params ScoreParams) (candidateFlow, bool) {
	var best candidateFlow
	found := false

	exported := exportedEnvNames(producer.Script)

	for name := range outputs {
		if name == "" {
			continue
		}

		// direct_output: the output name appears verbatim in a --set value
		// of the helm line.
		if valueReferencesName(inv, name) {
			ev := []FlowEvidence{{Type: EvidenceExplicitReference, Strength: 100, Description: "output name in helm --set value"}}
			adj := flowBonusPenalty{nameMatchBonus: 15}
			if dependent {
				adj.jobDepBonus = 10
			}
			conf := scoreConfidence(FlowDirectOutput, ev, adj, params)
			if !found || conf > best.confidence {
				best = candidateFlow{FlowDirectOutput, name, conf, "helm references terraform output " + name, ev}
				found = true
			}
		}

		// output_to_env: an env var exported from `terraform output` is
		// referenced in the helm line's --set values.
		for envName := range exported {
			if !lineReferencesEnvVar(inv, envName) {
				continue
			}
			strength := 60.0
			if strings.EqualFold(envName, name) {
				strength = 90.0
			}
			ev := []FlowEvidence{{Type: EvidenceEnvVariable, Strength: strength, Description: "env var " + envName + " referenced in helm command"}}
			adj := flowBonusPenalty{}
			if dependent {
				adj.jobDepBonus = 10
			}
			conf := scoreConfidence(FlowOutputToEnv, ev, adj, params)
			if !found || conf > best.confidence {
				best = candidateFlow{FlowOutputToEnv, name, conf, "helm uses env var " + envName, ev}
				found = true
			}
		}

		// output_to_file: a file terraform output was redirected to is
		// loaded by the helm line via -f/--values.
		for _, file := range redirectedFiles(producer.Script) {
			if !valuesFileMatches(inv, file) {
				continue
			}
			ev := []FlowEvidence{{Type: EvidenceFilePathMatch, Strength: 80, Description: "helm -f loads " + file}}
			adj := flowBonusPenalty{}
			if dependent {
				adj.jobDepBonus = 10
			}
			conf := scoreConfidence(FlowOutputToFile, ev, adj, params)
			if !found || conf > best.confidence {
				best = candidateFlow{FlowOutputToFile, name, conf, "helm loads values file " + file, ev}
				found = true
			}
		}
	}

	// artifact_transfer: producer declares an artifact path consumed via
	// job dependency alone, with no textual name correlation.
	if dependent && len(producer.Artifacts.Paths) > 0 {
		for name := range outputs {
			if name == "" {
				continue
			}
			ev := []FlowEvidence{{Type: EvidenceArtifactPath, Strength: 50, Description: "downstream job declares needs/extends on producer with a declared artifact"}}
			conf := scoreConfidence(FlowArtifactTransfer, ev, flowBonusPenalty{jobDepBonus: 10}, params)
			if !found || conf > best.confidence {
				best = candidateFlow{FlowArtifactTransfer, name, conf, "artifact-linked job consumes terraform output " + name, ev}
				found = true
			}
		}
	}

	return best, found
}

func exportedEnvNames(script []string) map[string]bool {
	names := map[string]bool{}
	for _, line := range script {
		if m := exportEnvRe.FindStringSubmatch(line); m != nil {
			names[m[1]] = true
		}
	}
	return names
}

func redirectedFiles(script []string) []string {
	var files []string
	for _, line := range script {
		if m := redirectFileRe.FindStringSubmatch(line); m != nil {
			files = append(files, m[1])
		}
	}
	return files
}

func valueReferencesName(inv HelmInvocation, name string) bool {
	for _, v := range inv.SetValues {
		if strings.Contains(v, name) {
			return true
		}
	}
	return false
}

func lineReferencesEnvVar(inv HelmInvocation, envName string) bool {
	for _, v := range inv.SetValues {
		if m := envVarRefRe.FindStringSubmatch(v); m != nil && m[1] == envName {
			return true
		}
	}
	return false
}

func valuesFileMatches(inv HelmInvocation, file string) bool {
	for _, f := range inv.ValuesFiles {
		if f == file || strings.HasSuffix(file, f) || strings.HasSuffix(f, file) {
			return true
		}
	}
	return false
}
