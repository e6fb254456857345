package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

func TestScoreConfidence_EvidenceTermUsesRawStrength(t *testing.T) {
	// Strength is documented as [0,100]; the evidence term must weigh it
	// directly, not re-normalize it a second time before the persisted
	// models.Evidence.Strength conversion (which happens separately).
	ev := []FlowEvidence{{Type: EvidenceEnvVariable, Strength: 90, Description: "env var match"}}
	params := DefaultScoreParams()

	got := scoreConfidence(FlowOutputToEnv, ev, flowBonusPenalty{}, params)

	// base=80, evidenceTerm = 0.3 * (90*0.7) / 1 = 18.9 -> 98.9 -> rounds to 99.
	assert.Equal(t, 99, got)
}

func TestScoreConfidence_MultipleEvidenceAveraged(t *testing.T) {
	ev := []FlowEvidence{
		{Type: EvidenceEnvVariable, Strength: 90},
		{Type: EvidenceSemanticMatch, Strength: 40},
	}
	params := DefaultScoreParams()

	got := scoreConfidence(FlowOutputToEnv, ev, flowBonusPenalty{}, params)

	// base=80, sum = 90*0.7 + 40*0.4 = 63+16 = 79, evidenceTerm = 0.3*79/2 = 11.85 -> 91.85 -> 92.
	assert.Equal(t, 92, got)
}

func TestScoreConfidence_BonusAndPenaltyClampToParams(t *testing.T) {
	params := ScoreParams{EvidenceWeight: 0, MaxBonus: 10, MaxPenalty: 5}

	bonused := scoreConfidence(FlowArtifactTransfer, nil, flowBonusPenalty{nameMatchBonus: 50}, params)
	assert.Equal(t, patternBaseConfidence[FlowArtifactTransfer]+10, bonused)

	penalized := scoreConfidence(FlowArtifactTransfer, nil, flowBonusPenalty{weakEvidencePenalty: 50}, params)
	assert.Equal(t, patternBaseConfidence[FlowArtifactTransfer]-5, penalized)
}

func TestScoreConfidence_ClampsToZeroAndHundred(t *testing.T) {
	params := ScoreParams{EvidenceWeight: 0, MaxBonus: 0, MaxPenalty: 1000}
	low := scoreConfidence(FlowArtifactTransfer, nil, flowBonusPenalty{weakEvidencePenalty: 1000}, params)
	assert.Equal(t, 0, low)

	highParams := ScoreParams{EvidenceWeight: 10, MaxBonus: 1000, MaxPenalty: 0}
	high := scoreConfidence(FlowDirectOutput, []FlowEvidence{{Type: EvidenceExplicitReference, Strength: 100}}, flowBonusPenalty{nameMatchBonus: 1000}, highParams)
	assert.Equal(t, 100, high)
}

func gitlabCIInput(src string) Input {
	return Input{FilePath: ".gitlab-ci.yml", Kind: InputKindGitlabCI, Raw: []byte(src)}
}

// TestFlowDetector_Detect_DirectOutput exercises the direct_output pattern:
// a helm --set value literally contains the terraform output name, and the
// consuming job also declares a job dependency on the producer.
func TestFlowDetector_Detect_DirectOutput(t *testing.T) {
	src := `
terraform_apply:
  script:
    - terraform apply -auto-approve
    - terraform output app_version

deploy_app:
  needs:
    - terraform_apply
  script:
    - helm upgrade --install myapp ./chart --set image.tag=app_version
`
	d := NewFlowDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Len(t, result.Edges, 1)

	e := result.Edges[0]
	assert.Equal(t, "output.app_version", e.SourceID)
	assert.Equal(t, "gitlab.job.deploy_app", e.TargetID)
	assert.Equal(t, models.EdgeKindFeedsInto, e.Kind)
	assert.Equal(t, "direct_output", e.Metadata["pattern"])
	require.Len(t, e.Evidence, 1)
	assert.Equal(t, 1.0, e.Evidence[0].Strength)
}

// TestFlowDetector_Detect_OutputToEnv confirms the evidence term measurably
// moves the confidence score rather than rounding away to nothing, pinning
// down the corrected scale from scoreConfidence.
func TestFlowDetector_Detect_OutputToEnv(t *testing.T) {
	src := `
terraform_apply:
  script:
    - terraform output app_version
    - export APP_VERSION=$(terraform output app_version)

deploy_app:
  script:
    - helm upgrade myapp ./chart --set image.tag=$APP_VERSION
`
	d := NewFlowDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Len(t, result.Edges, 1)

	e := result.Edges[0]
	assert.Equal(t, "output_to_env", e.Metadata["pattern"])
	assert.Equal(t, 99, e.Confidence)
	assert.InDelta(t, 0.9, e.Evidence[0].Strength, 1e-9)
}

func TestFlowDetector_Detect_NoHelmConsumer_NoEdges(t *testing.T) {
	src := `
terraform_apply:
  script:
    - terraform output app_version

other_job:
  script:
    - echo "nothing to do with helm"
`
	d := NewFlowDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	assert.Empty(t, result.Edges)
}

func TestMatchFlow_OutputToFile(t *testing.T) {
	producer := gitlabJob{Script: []string{"terraform output -json app_config > values.json"}}
	inv, ok := parseHelmInvocation("helm upgrade myapp ./chart -f values.json")
	require.True(t, ok)

	flow, matched := matchFlow(scanOutputCalls(producer.Script), producer, inv, false, DefaultScoreParams())
	require.True(t, matched)
	assert.Equal(t, FlowOutputToFile, flow.pattern)
}

func TestMatchFlow_ArtifactTransfer(t *testing.T) {
	producer := gitlabJob{
		Script:    []string{"terraform output app_version"},
		Artifacts: gitlabArtifacts{Paths: []string{"tfoutput.json"}},
	}
	inv, ok := parseHelmInvocation("helm upgrade myapp ./chart")
	require.True(t, ok)

	flow, matched := matchFlow(scanOutputCalls(producer.Script), producer, inv, true, DefaultScoreParams())
	require.True(t, matched)
	assert.Equal(t, FlowArtifactTransfer, flow.pattern)
}

func TestMatchFlow_NoOutputsNoMatch(t *testing.T) {
	producer := gitlabJob{Script: []string{"echo nothing"}}
	inv, ok := parseHelmInvocation("helm upgrade myapp ./chart")
	require.True(t, ok)

	_, matched := matchFlow(scanOutputCalls(producer.Script), producer, inv, false, DefaultScoreParams())
	assert.False(t, matched)
}

func TestParseHelmInvocation_UpgradeInstallBecomesUpsert(t *testing.T) {
	inv, ok := parseHelmInvocation("helm upgrade --install myapp ./chart --namespace prod -f values.yaml")
	require.True(t, ok)
	assert.Equal(t, "upsert", inv.Subcommand)
	assert.Equal(t, "myapp", inv.ReleaseName)
	assert.Equal(t, "./chart", inv.Chart)
	assert.Equal(t, "prod", inv.Namespace)
	assert.Equal(t, []string{"values.yaml"}, inv.ValuesFiles)
}

func TestParseHelmInvocation_NotAHelmLine(t *testing.T) {
	_, ok := parseHelmInvocation("echo hello")
	assert.False(t, ok)
}

func TestScanOutputCalls_BareOutputMarksAllOutputs(t *testing.T) {
	names := scanOutputCalls([]string{"terraform output -json"})
	assert.True(t, names[""])
}

func TestExportedEnvNames(t *testing.T) {
	names := exportedEnvNames([]string{
		"export APP_VERSION=$(terraform output app_version)",
		"export UNRELATED=foo",
	})
	assert.True(t, names["APP_VERSION"])
	assert.False(t, names["UNRELATED"])
}

func TestRedirectedFiles(t *testing.T) {
	files := redirectedFiles([]string{"terraform output -json > out/values.json"})
	require.Len(t, files, 1)
	assert.Equal(t, "out/values.json", files[0])
}
