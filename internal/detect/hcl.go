package detect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/iacgraph/depgraph/internal/models"
)

// knownProviderPrefixes lists provider namespaces recognized for rule 5 of
// reference resolution (a bare "<type>.<name>" reference to a resource or
// data block owned by a known provider). This is intentionally a small,
// extensible set; unknown prefixes simply fail to resolve and are recorded
// as unresolved rather than causing an error.
var knownProviderPrefixes = []string{
	"aws_", "azurerm_", "google_", "kubernetes_", "helm_", "random_", "null_", "local_", "template_",
}

// contextualPrefixes never produce edges per reference resolution rule 6.
var contextualPrefixes = map[string]bool{
	"count": true, "each": true, "self": true, "path": true, "terraform": true,
}

// TerraformDetector parses Terraform HCL files into terraform_* nodes and
// resolves in-language references into edges.
type TerraformDetector struct {
	parser *hclparse.Parser
}

// NewTerraformDetector constructs a TerraformDetector.
func NewTerraformDetector() *TerraformDetector {
	return &TerraformDetector{parser: hclparse.NewParser()}
}

func (d *TerraformDetector) Name() string     { return "terraform" }
func (d *TerraformDetector) Priority() int    { return 100 }
func (d *TerraformDetector) CanDetect(i Input) bool {
	return i.Kind == InputKindTerraform && (strings.HasSuffix(i.FilePath, ".tf") || strings.HasSuffix(i.FilePath, ".tf.json"))
}

var blockSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "data", LabelNames: []string{"type", "name"}},
		{Type: "variable", LabelNames: []string{"name"}},
		{Type: "output", LabelNames: []string{"name"}},
		{Type: "locals"},
		{Type: "module", LabelNames: []string{"name"}},
	},
}

func (d *TerraformDetector) Detect(_ context.Context, input Input, dctx Context) DetectionResult {
	var result DetectionResult

	file, diags := d.parser.ParseHCL(input.Raw, input.FilePath)
	if file == nil || diags.HasErrors() {
		result.Errors = append(result.Errors, fmt.Sprintf("parse error in %s: %s", input.FilePath, diags.Error()))
		return result
	}

	content, diags := file.Body.Content(blockSchema)
	if diags.HasErrors() {
		result.Errors = append(result.Errors, fmt.Sprintf("schema error in %s: %s", input.FilePath, diags.Error()))
		return result
	}

	type pendingEdge struct {
		nodeID string
		attrs  hcl.Attributes
	}
	var pending []pendingEdge

	for _, block := range content.Blocks {
		loc := models.SourceLocation{FilePath: input.FilePath, StartLine: block.DefRange.Start.Line, EndLine: block.DefRange.End.Line}

		switch block.Type {
		case "resource":
			if len(block.Labels) < 2 {
				continue
			}
			id := fmt.Sprintf("%s.%s", block.Labels[0], block.Labels[1])
			attrs, _ := block.Body.JustAttributes()
			nodeAttrs := literalAttributes(attrs)
			nodeAttrs["resourceType"] = block.Labels[0]
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: block.Labels[1], Kind: models.NodeKindTerraformResource,
				Location: loc, Attributes: nodeAttrs,
			})
			pending = append(pending, pendingEdge{id, attrs})

		case "data":
			if len(block.Labels) < 2 {
				continue
			}
			id := fmt.Sprintf("data.%s.%s", block.Labels[0], block.Labels[1])
			attrs, _ := block.Body.JustAttributes()
			nodeAttrs := literalAttributes(attrs)
			nodeAttrs["dataType"] = block.Labels[0]
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: block.Labels[1], Kind: models.NodeKindTerraformData,
				Location: loc, Attributes: nodeAttrs,
			})
			pending = append(pending, pendingEdge{id, attrs})

		case "variable":
			if len(block.Labels) < 1 {
				continue
			}
			id := fmt.Sprintf("var.%s", block.Labels[0])
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: block.Labels[0], Kind: models.NodeKindTerraformVariable, Location: loc,
				Attributes: map[string]string{},
			})

		case "output":
			if len(block.Labels) < 1 {
				continue
			}
			id := fmt.Sprintf("output.%s", block.Labels[0])
			attrs, _ := block.Body.JustAttributes()
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: block.Labels[0], Kind: models.NodeKindTerraformOutput, Location: loc,
				Attributes: map[string]string{},
			})
			pending = append(pending, pendingEdge{id, attrs})

		case "module":
			if len(block.Labels) < 1 {
				continue
			}
			id := fmt.Sprintf("module.%s", block.Labels[0])
			attrs, _ := block.Body.JustAttributes()
			moduleAttrs := map[string]string{}
			if src, ok := attrs["source"]; ok {
				if v, diags := src.Expr.Value(nil); !diags.HasErrors() && v.Type().FriendlyName() == "string" {
					moduleAttrs["source"] = v.AsString()
				}
			}
			result.Nodes = append(result.Nodes, models.Node{
				ID: id, ScanID: dctx.ScanID, Name: block.Labels[0], Kind: models.NodeKindTerraformModule, Location: loc,
				Attributes: moduleAttrs,
			})
			pending = append(pending, pendingEdge{id, attrs})

		case "locals":
			attrs, _ := block.Body.JustAttributes()
			names := make([]string, 0, len(attrs))
			for name := range attrs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				id := fmt.Sprintf("local.%s", name)
				result.Nodes = append(result.Nodes, models.Node{
					ID: id, ScanID: dctx.ScanID, Name: name, Kind: models.NodeKindTerraformLocal, Location: loc,
					Attributes: map[string]string{},
				})
				pending = append(pending, pendingEdge{id, hcl.Attributes{name: attrs[name]}})
			}
		}
	}

	// Reference resolution runs after all nodes exist so that forward
	// references within the same file resolve correctly.
	for _, p := range pending {
		edges, warnings := resolveReferences(p.nodeID, p.attrs, dctx.MaxDepth, input.FilePath)
		result.Edges = append(result.Edges, edges...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result
}

// literalAttributes evaluates every top-level attribute with a nil
// EvalContext and stringifies whichever ones resolve to a known literal
// (string/number/bool), the same way the module block's "source"
// attribute is read elsewhere in this file. Computed values (anything
// referencing another resource, a variable, or a function call) evaluate
// to an unknown or erroring value and are skipped rather than guessed at
// — a node's Attributes map only ever holds values that were literally
// written in the source file. The conventional "tags" attribute (a map
// of string to string) is flattened into "tag:<key>" entries so the
// Rollup Engine's tag matcher and the External Object Index's extractors
// can read individual tag values without knowing Terraform's shape for
// tags.
func literalAttributes(attrs hcl.Attributes) map[string]string {
	out := map[string]string{}
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || !v.IsWhollyKnown() || v.IsNull() {
			continue
		}
		switch {
		case v.Type() == cty.String:
			out[name] = v.AsString()
		case v.Type() == cty.Number:
			f, _ := v.AsBigFloat().Float64()
			out[name] = strconv.FormatFloat(f, 'f', -1, 64)
		case v.Type() == cty.Bool:
			out[name] = strconv.FormatBool(v.True())
		case (v.Type().IsObjectType() || v.Type().IsMapType()) && name == "tags":
			it := v.ElementIterator()
			for it.Next() {
				k, val := it.Element()
				if val.Type() == cty.String {
					out["tag:"+k.AsString()] = val.AsString()
				}
			}
		}
	}
	return out
}

// resolveReferences walks every attribute's variable traversals and applies
// the six reference-resolution rules, in order, to each traversal.
func resolveReferences(sourceID string, attrs hcl.Attributes, maxDepth int, filePath string) ([]models.Edge, []string) {
	var edges []models.Edge
	var warnings []string

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := attrs[name]
		for _, trav := range attr.Expr.Variables() {
			parts := traversalParts(trav, maxDepth)
			if len(parts) == 0 {
				continue
			}
			targetID, kind, ok := classifyReference(parts)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("unresolved reference %s in %s", strings.Join(parts, "."), sourceID))
				continue
			}
			if kind == "" {
				continue // contextual reference: no edge, not a warning either
			}
			edges = append(edges, models.Edge{
				SourceID:   sourceID,
				TargetID:   targetID,
				Kind:       kind,
				Confidence: 90,
				Explicit:   true,
				Evidence: []models.Evidence{{
					Location: models.SourceLocation{FilePath: filePath, StartLine: trav.SourceRange().Start.Line},
					Strength: 1.0,
				}},
			})
		}
	}

	return edges, warnings
}

// traversalParts renders an hcl.Traversal as a string slice [a, b, c, ...],
// capped at maxDepth parts (default 10).
func traversalParts(trav hcl.Traversal, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	var parts []string
	for i, t := range trav {
		if i >= maxDepth {
			break
		}
		switch v := t.(type) {
		case hcl.TraverseRoot:
			parts = append(parts, v.Name)
		case hcl.TraverseAttr:
			parts = append(parts, v.Name)
		case hcl.TraverseIndex:
			// indexing doesn't add a name component to the node id
		}
	}
	return parts
}

// classifyReference applies reference-resolution rules 1-6. Returns
// (targetNodeID, edgeKind, resolved). When resolved is true but kind is
// empty, the reference is contextual and produces no edge.
func classifyReference(parts []string) (string, models.EdgeKind, bool) {
	if len(parts) == 0 {
		return "", "", false
	}
	head := parts[0]

	if contextualPrefixes[head] {
		return "", "", true
	}

	switch head {
	case "var":
		if len(parts) < 2 {
			return "", "", false
		}
		return "var." + parts[1], models.EdgeKindInputVariable, true
	case "local":
		if len(parts) < 2 {
			return "", "", false
		}
		return "local." + parts[1], models.EdgeKindLocalReference, true
	case "data":
		if len(parts) < 3 {
			return "", "", false
		}
		return fmt.Sprintf("data.%s.%s", parts[1], parts[2]), models.EdgeKindDataReference, true
	case "module":
		if len(parts) < 2 {
			return "", "", false
		}
		return "module." + parts[1], models.EdgeKindModuleCall, true
	}

	// rule 5: T.N[...] where T starts with a known provider prefix
	if len(parts) >= 2 && hasKnownProviderPrefix(head) {
		return fmt.Sprintf("%s.%s", head, parts[1]), models.EdgeKindReferences, true
	}

	return "", "", false
}

func hasKnownProviderPrefix(resourceType string) bool {
	for _, prefix := range knownProviderPrefixes {
		if strings.HasPrefix(resourceType, prefix) {
			return true
		}
	}
	return false
}
