package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iacgraph/depgraph/internal/models"
)

func TestGitlabCIDetector_Detect_FullPipeline(t *testing.T) {
	src := `
stages:
  - plan
  - deploy

include:
  - local: .gitlab/terraform.yml
  - template: Security/SAST.gitlab-ci.yml

.base_job:
  image: alpine

plan:
  stage: plan
  image: hashicorp/terraform:1.5
  script:
    - terraform init
    - terraform plan

apply:
  stage: plan
  extends: .base_job
  needs:
    - job: plan
  artifacts:
    paths:
      - tfplan.out
  script:
    - terraform apply -auto-approve

deploy:
  stage: deploy
  needs:
    - apply
  script:
    - helm upgrade --install myapp ./chart
`
	d := NewGitlabCIDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)

	byID := map[string]models.Node{}
	for _, n := range result.Nodes {
		byID[n.ID] = n
	}

	require.Contains(t, byID, "gitlab.pipeline")
	require.Contains(t, byID, "gitlab.include..gitlab/terraform.yml")
	require.Contains(t, byID, "gitlab.include.Security/SAST.gitlab-ci.yml")
	require.Contains(t, byID, "gitlab.stage.plan")
	require.Contains(t, byID, "gitlab.stage.deploy")
	require.Contains(t, byID, "gitlab.job.plan")
	require.Contains(t, byID, "gitlab.job.apply")
	require.Contains(t, byID, "gitlab.job.deploy")
	assert.NotContains(t, byID, "gitlab.job..base_job", "hidden jobs (leading dot) aren't emitted as job nodes")

	type pair struct {
		src, dst string
		kind     models.EdgeKind
	}
	var edges []pair
	for _, e := range result.Edges {
		edges = append(edges, pair{e.SourceID, e.TargetID, e.Kind})
	}

	assert.Contains(t, edges, pair{"gitlab.pipeline", "gitlab.include..gitlab/terraform.yml", models.EdgeKindGitlabIncludes})
	assert.Contains(t, edges, pair{"gitlab.stage.plan", "gitlab.stage.deploy", models.EdgeKindGitlabStageOrder})
	assert.Contains(t, edges, pair{"gitlab.job.apply", "gitlab.job.plan", models.EdgeKindGitlabNeeds})
	assert.Contains(t, edges, pair{"gitlab.job.deploy", "gitlab.job.apply", models.EdgeKindGitlabNeeds})
	assert.Contains(t, edges, pair{"gitlab.job.apply", "gitlab.job.deploy", models.EdgeKindGitlabArtifact})
	assert.Contains(t, edges, pair{"gitlab.job.apply", "gitlab.job..base_job", models.EdgeKindGitlabExtends}, "extends target keeps the literal label, including a leading dot for hidden jobs")
	assert.Contains(t, edges, pair{"gitlab.job.plan", "gitlab.job.plan", models.EdgeKindGitlabUsesTF})
	assert.Contains(t, edges, pair{"gitlab.job.deploy", "gitlab.job.deploy", models.EdgeKindGitlabUsesHelm})
}

func TestGitlabCIDetector_Detect_ParseError(t *testing.T) {
	d := NewGitlabCIDetector()
	result := d.Detect(context.Background(), gitlabCIInput("not: [valid: yaml"), Context{ScanID: "scan-1"})
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.Nodes)
}

func TestGitlabIncludeEntry_UnmarshalYAML_BareString(t *testing.T) {
	src := `
include:
  - .gitlab/ci-base.yml
build:
  script:
    - echo hi
`
	d := NewGitlabCIDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)

	var found bool
	for _, n := range result.Nodes {
		if n.ID == "gitlab.include..gitlab/ci-base.yml" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestYamlNeed_UnmarshalYAML_ObjectAndScalarForms(t *testing.T) {
	src := `
producer:
  script:
    - echo produce

consumer:
  needs:
    - producer
    - job: producer
  script:
    - echo consume
`
	d := NewGitlabCIDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)

	var needsCount int
	for _, e := range result.Edges {
		if e.Kind == models.EdgeKindGitlabNeeds && e.SourceID == "gitlab.job.consumer" && e.TargetID == "gitlab.job.producer" {
			needsCount++
		}
	}
	assert.Equal(t, 2, needsCount, "scalar and {job: ...} need forms both resolve to the same target")
}

func TestYamlStrList_UnmarshalYAML_ScalarAndListForms(t *testing.T) {
	src := `
.base:
  image: alpine

scalar_extends:
  extends: .base
  script:
    - echo a

list_extends:
  extends:
    - .base
  script:
    - echo b
`
	d := NewGitlabCIDetector()
	result := d.Detect(context.Background(), gitlabCIInput(src), Context{ScanID: "scan-1"})
	require.Empty(t, result.Errors)

	var scalarFound, listFound bool
	for _, e := range result.Edges {
		if e.Kind != models.EdgeKindGitlabExtends {
			continue
		}
		if e.SourceID == "gitlab.job.scalar_extends" && e.TargetID == "gitlab.job..base" {
			scalarFound = true
		}
		if e.SourceID == "gitlab.job.list_extends" && e.TargetID == "gitlab.job..base" {
			listFound = true
		}
	}
	assert.True(t, scalarFound)
	assert.True(t, listFound)
}

func TestUsesTerraform_DetectsByImageOrScript(t *testing.T) {
	assert.True(t, usesTerraform(gitlabJob{Image: "hashicorp/terraform:1.5"}))
	assert.True(t, usesTerraform(gitlabJob{Script: []string{"terraform plan"}}))
	assert.False(t, usesTerraform(gitlabJob{Script: []string{"echo hi"}}))
}

func TestUsesHelm_DetectsBySubcommand(t *testing.T) {
	assert.True(t, usesHelm(gitlabJob{Script: []string{"helm install myapp ./chart"}}))
	assert.True(t, usesHelm(gitlabJob{Script: []string{"helmfile template"}}))
	assert.False(t, usesHelm(gitlabJob{Script: []string{"echo hi"}}))
}

func TestPrimaryTerraformCommand(t *testing.T) {
	line, ok := primaryTerraformCommand(gitlabJob{Script: []string{"echo start", "terraform apply -auto-approve"}})
	require.True(t, ok)
	assert.Equal(t, "terraform apply -auto-approve", line)

	_, ok = primaryTerraformCommand(gitlabJob{Script: []string{"echo only"}})
	assert.False(t, ok)
}
