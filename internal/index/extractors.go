// Package index implements the External Object Index: an inverted index
// from external identifiers (ARNs, container images, Kubernetes
// references, git URLs, cloud resource ids) back to the graph nodes that
// reference them, serving both the Rollup Engine's matcher evaluation
// and standalone reverse-lookup queries.
package index

import (
	"regexp"
	"strings"

	"github.com/iacgraph/depgraph/internal/models"
)

// placeholders are values Terraform (and similar tools) write for an
// attribute whose real value isn't known yet — a planned-but-not-applied
// resource, an unset optional field. None of these are real external
// identifiers and extracting them would pollute the index with entries
// that can never match anything.
var placeholders = map[string]bool{
	"<computed>":          true,
	"(known after apply)": true,
	"unknown":              true,
	"null":                 true,
	"undefined":            true,
	"n/a":                  true,
	"":                     true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// ExtractedReference is one external identifier occurrence found on a
// node, before it's wrapped into a persisted models.ExternalObjectEntry.
type ExtractedReference struct {
	ExternalID string
	Components map[string]string
}

// Extractor is implemented once per models.ReferenceType.
type Extractor interface {
	Type() models.ReferenceType
	CanHandle(n models.Node) bool
	Extract(n models.Node) []ExtractedReference
	Normalize(id string) string
	ParseComponents(id string) map[string]string
}

// Registry resolves a ReferenceType to its Extractor and can run every
// registered extractor against a node.
type Registry struct {
	byType map[models.ReferenceType]Extractor
	order  []Extractor // registration order, for deterministic iteration
}

// NewRegistry builds the registry with the eight built-in extractors
// named in the External Object Index's closed ReferenceType set.
func NewRegistry() *Registry {
	r := &Registry{byType: map[models.ReferenceType]Extractor{}}
	for _, e := range []Extractor{
		arnExtractor{},
		resourceIDExtractor{},
		k8sReferenceExtractor{},
		containerImageExtractor{},
		helmChartExtractor{},
		gitURLExtractor{},
		gcpResourceExtractor{},
		azureResourceExtractor{},
	} {
		r.byType[e.Type()] = e
		r.order = append(r.order, e)
	}
	return r
}

func (r *Registry) Get(t models.ReferenceType) (Extractor, bool) {
	e, ok := r.byType[t]
	return e, ok
}

// ExtractAll runs every registered extractor that CanHandle n, skipping
// (not erroring on) extractors that don't apply — a node is rarely more
// than one or two reference types at once, but nothing prevents it
// (e.g. a Terraform resource with both an "arn" and a "tags" map yields
// an arn entry and, via the tag matcher's own attribute reads, is still
// just one extraction pass here).
func (r *Registry) ExtractAll(n models.Node) []ExtractedReference {
	var out []ExtractedReference
	for _, e := range r.order {
		if !e.CanHandle(n) {
			continue
		}
		out = append(out, e.Extract(n)...)
	}
	return out
}

// --- arn ---

var arnGrammar = regexp.MustCompile(`^arn:(aws|aws-cn|aws-us-gov):([^:]+):([^:]*):([^:]*):(.+)$`)

type arnExtractor struct{}

func (arnExtractor) Type() models.ReferenceType { return models.ReferenceTypeARN }

func (arnExtractor) CanHandle(n models.Node) bool {
	arn, ok := n.Attributes["arn"]
	return ok && !isPlaceholder(arn) && arnGrammar.MatchString(arn)
}

func (e arnExtractor) Extract(n models.Node) []ExtractedReference {
	arn := n.Attributes["arn"]
	if !e.CanHandle(n) {
		return nil
	}
	return []ExtractedReference{{ExternalID: arn, Components: e.ParseComponents(arn)}}
}

func (arnExtractor) Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (arnExtractor) ParseComponents(id string) map[string]string {
	m := arnGrammar.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	return map[string]string{
		"partition": m[1],
		"service":   m[2],
		"region":    m[3],
		"account":   m[4],
		"resource":  m[5],
	}
}

// --- resource_id ---

type resourceIDExtractor struct{}

func (resourceIDExtractor) Type() models.ReferenceType { return models.ReferenceTypeResourceID }

func resourceIDValue(n models.Node) (string, bool) {
	if id, ok := n.Attributes["resourceId"]; ok && !isPlaceholder(id) {
		return id, true
	}
	if id, ok := n.Attributes["id"]; ok && !isPlaceholder(id) {
		return id, true
	}
	return "", false
}

func (resourceIDExtractor) CanHandle(n models.Node) bool {
	_, ok := resourceIDValue(n)
	return ok
}

func (e resourceIDExtractor) Extract(n models.Node) []ExtractedReference {
	id, ok := resourceIDValue(n)
	if !ok {
		return nil
	}
	components := map[string]string{}
	if rt, ok := n.Attributes["resourceType"]; ok {
		components["resourceType"] = rt
	}
	return []ExtractedReference{{ExternalID: id, Components: components}}
}

func (resourceIDExtractor) Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if idx := strings.Index(id, ":"); idx >= 0 && strings.HasPrefix(id, "urn") {
		id = id[idx+1:]
	}
	id = strings.TrimLeft(id, "0")
	if id == "" {
		id = "0"
	}
	return id
}

func (resourceIDExtractor) ParseComponents(id string) map[string]string { return nil }

// --- k8s_reference ---

type k8sReferenceExtractor struct{}

func (k8sReferenceExtractor) Type() models.ReferenceType { return models.ReferenceTypeK8sReference }

var k8sNodeKinds = map[models.NodeKind]bool{
	models.NodeKindK8sDeployment: true,
	models.NodeKindK8sService:    true,
	models.NodeKindK8sConfigMap:  true,
}

func (k8sReferenceExtractor) CanHandle(n models.Node) bool {
	return k8sNodeKinds[n.Kind] && n.Name != "" && !isPlaceholder(n.Name)
}

func (e k8sReferenceExtractor) Extract(n models.Node) []ExtractedReference {
	if !e.CanHandle(n) {
		return nil
	}
	ns := n.Attributes["namespace"]
	if ns == "" {
		ns = "default"
	}
	id := ns + "/" + string(n.Kind) + "/" + n.Name
	return []ExtractedReference{{ExternalID: id, Components: map[string]string{
		"namespace": ns, "kind": string(n.Kind), "name": n.Name,
	}}}
}

func (k8sReferenceExtractor) Normalize(id string) string { return strings.ToLower(id) }

func (k8sReferenceExtractor) ParseComponents(id string) map[string]string {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return nil
	}
	return map[string]string{"namespace": parts[0], "kind": parts[1], "name": parts[2]}
}

// --- container_image ---

var imageRef = regexp.MustCompile(`^(?:([a-zA-Z0-9.-]+(?::[0-9]+)?)/)?([a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*)(?::([\w][\w.-]{0,127}))?(?:@(sha256:[a-fA-F0-9]{64}))?$`)

type containerImageExtractor struct{}

func (containerImageExtractor) Type() models.ReferenceType { return models.ReferenceTypeContainerImage }

func (containerImageExtractor) CanHandle(n models.Node) bool {
	image, ok := n.Attributes["image"]
	return ok && !isPlaceholder(image)
}

func (e containerImageExtractor) Extract(n models.Node) []ExtractedReference {
	image := n.Attributes["image"]
	if !e.CanHandle(n) {
		return nil
	}
	return []ExtractedReference{{ExternalID: image, Components: e.ParseComponents(image)}}
}

func (containerImageExtractor) Normalize(id string) string {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "@") {
		return id
	}
	lastSegment := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		lastSegment = id[i+1:]
	}
	if !strings.Contains(lastSegment, ":") {
		id += ":latest"
	}
	return id
}

func (containerImageExtractor) ParseComponents(id string) map[string]string {
	m := imageRef.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	out := map[string]string{"repository": m[2]}
	if m[1] != "" {
		out["registry"] = m[1]
	}
	if m[3] != "" {
		out["tag"] = m[3]
	}
	if m[4] != "" {
		out["digest"] = m[4]
	}
	return out
}

// --- helm_chart ---

type helmChartExtractor struct{}

func (helmChartExtractor) Type() models.ReferenceType { return models.ReferenceTypeHelmChart }

func (helmChartExtractor) CanHandle(n models.Node) bool {
	return n.Kind == models.NodeKindHelmRelease && n.Name != ""
}

func (e helmChartExtractor) Extract(n models.Node) []ExtractedReference {
	if !e.CanHandle(n) {
		return nil
	}
	version := n.Attributes["version"]
	id := n.Name
	if version != "" && !isPlaceholder(version) {
		id = n.Name + "-" + version
	}
	return []ExtractedReference{{ExternalID: id, Components: map[string]string{
		"name": n.Name, "version": version,
	}}}
}

func (helmChartExtractor) Normalize(id string) string { return strings.ToLower(id) }

func (helmChartExtractor) ParseComponents(id string) map[string]string {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return map[string]string{"name": id}
	}
	return map[string]string{"name": id[:idx], "version": id[idx+1:]}
}

// --- git_url ---

var gitURLRe = regexp.MustCompile(`^(?:git::)?(?:(?:https?|ssh|git)://|git@)[^\s]+\.git(?:[?#].*)?$|^git@[^:]+:[^\s]+\.git$`)

type gitURLExtractor struct{}

func (gitURLExtractor) Type() models.ReferenceType { return models.ReferenceTypeGitURL }

func (gitURLExtractor) CanHandle(n models.Node) bool {
	src, ok := n.Attributes["source"]
	return ok && !isPlaceholder(src) && gitURLRe.MatchString(src)
}

func (e gitURLExtractor) Extract(n models.Node) []ExtractedReference {
	src := n.Attributes["source"]
	if !e.CanHandle(n) {
		return nil
	}
	return []ExtractedReference{{ExternalID: src, Components: e.ParseComponents(src)}}
}

func (gitURLExtractor) Normalize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "git::")
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	return strings.ToLower(id)
}

func (e gitURLExtractor) ParseComponents(id string) map[string]string {
	norm := e.Normalize(id)
	refIdx := strings.Index(id, "?ref=")
	components := map[string]string{"url": norm}
	if refIdx >= 0 {
		components["ref"] = id[refIdx+len("?ref="):]
	}
	return components
}

// --- gcp_resource ---

var gcpSelfLinkRe = regexp.MustCompile(`^(?:https://www\.googleapis\.com/compute/v1/)?projects/([^/]+)/(?:zones|regions|global)/([^/]+)/([a-zA-Z]+)/([^/]+)$`)

type gcpResourceExtractor struct{}

func (gcpResourceExtractor) Type() models.ReferenceType { return models.ReferenceTypeGCPResource }

func gcpSelfLink(n models.Node) (string, bool) {
	for _, key := range []string{"selfLink", "self_link", "id"} {
		if v, ok := n.Attributes[key]; ok && !isPlaceholder(v) && gcpSelfLinkRe.MatchString(v) {
			return v, true
		}
	}
	return "", false
}

func (gcpResourceExtractor) CanHandle(n models.Node) bool {
	_, ok := gcpSelfLink(n)
	return ok
}

func (e gcpResourceExtractor) Extract(n models.Node) []ExtractedReference {
	link, ok := gcpSelfLink(n)
	if !ok {
		return nil
	}
	return []ExtractedReference{{ExternalID: link, Components: e.ParseComponents(link)}}
}

func (gcpResourceExtractor) Normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func (gcpResourceExtractor) ParseComponents(id string) map[string]string {
	m := gcpSelfLinkRe.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	return map[string]string{"project": m[1], "location": m[2], "resourceType": m[3], "name": m[4]}
}

// --- azure_resource ---

var azureResourceIDRe = regexp.MustCompile(`(?i)^/subscriptions/([^/]+)/resourceGroups/([^/]+)/providers/([^/]+)/([^/]+)/([^/]+)$`)

type azureResourceExtractor struct{}

func (azureResourceExtractor) Type() models.ReferenceType { return models.ReferenceTypeAzureResource }

func azureResourceID(n models.Node) (string, bool) {
	v, ok := n.Attributes["id"]
	if !ok || isPlaceholder(v) || !azureResourceIDRe.MatchString(v) {
		return "", false
	}
	return v, true
}

func (azureResourceExtractor) CanHandle(n models.Node) bool {
	_, ok := azureResourceID(n)
	return ok
}

func (e azureResourceExtractor) Extract(n models.Node) []ExtractedReference {
	id, ok := azureResourceID(n)
	if !ok {
		return nil
	}
	return []ExtractedReference{{ExternalID: id, Components: e.ParseComponents(id)}}
}

func (azureResourceExtractor) Normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func (azureResourceExtractor) ParseComponents(id string) map[string]string {
	m := azureResourceIDRe.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	return map[string]string{
		"subscription":  m[1],
		"resourceGroup": m[2],
		"provider":      m[3],
		"resourceType":  m[4],
		"name":          m[5],
	}
}
