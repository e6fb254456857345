// Package rollup implements the Rollup Engine: matching nodes across scans
// into equivalence classes, merging them into a cross-repository graph, and
// answering blast-radius queries over the result.
package rollup

import (
	"fmt"
	"strings"

	"github.com/iacgraph/depgraph/internal/errors"
	"github.com/iacgraph/depgraph/internal/models"
)

// Matcher evaluates one MatcherConfig against a candidate pair of nodes
// drawn from two different repositories' scans.
type Matcher interface {
	Type() models.MatcherType
	ValidateConfig(cfg models.MatcherConfig) error
	// Match returns a MatchResult and true if source and target are judged
	// equivalent under cfg; false (zero MatchResult) otherwise.
	Match(source, target models.Node, cfg models.MatcherConfig) (models.MatchResult, bool)
	// IndexKey returns the bucketing key used to narrow candidate pairs
	// before Match is called, or "" if the node can't be indexed (it will
	// never match under this matcher).
	IndexKey(n models.Node, cfg models.MatcherConfig) string
}

// Registry resolves a MatcherType to its Matcher implementation.
type Registry struct {
	matchers map[models.MatcherType]Matcher
}

// NewRegistry builds the registry with the four built-in matcher kinds.
func NewRegistry() *Registry {
	r := &Registry{matchers: map[models.MatcherType]Matcher{}}
	for _, m := range []Matcher{arnMatcher{}, resourceIDMatcher{}, nameMatcher{}, tagMatcher{}} {
		r.matchers[m.Type()] = m
	}
	return r
}

func (r *Registry) Get(t models.MatcherType) (Matcher, bool) {
	m, ok := r.matchers[t]
	return m, ok
}

// ValidateMatchers checks every configured matcher against its type's
// validator and the shared invariants (enabled type known, priority and
// confidence within range).
func ValidateMatchers(registry *Registry, configs []models.MatcherConfig, maxMatchers int) error {
	if len(configs) > maxMatchers {
		return errors.Newf(errors.CodeValidationFailed, "too many matchers: %d configured, max %d", len(configs), maxMatchers)
	}
	for i, cfg := range configs {
		m, ok := registry.Get(cfg.Type)
		if !ok {
			return errors.Newf(errors.CodeValidationFailed, "matcher %d: unknown type %q", i, cfg.Type)
		}
		if cfg.Priority < 0 || cfg.Priority > 100 {
			return errors.Newf(errors.CodeValidationFailed, "matcher %d: priority %d out of range [0,100]", i, cfg.Priority)
		}
		if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
			return errors.Newf(errors.CodeValidationFailed, "matcher %d: min_confidence %d out of range [0,100]", i, cfg.MinConfidence)
		}
		if err := m.ValidateConfig(cfg); err != nil {
			return errors.Wrapf(err, errors.CodeValidationFailed, "matcher %d (%s)", i, cfg.Type)
		}
	}
	return nil
}

// --- arn ---

type arnMatcher struct{}

func (arnMatcher) Type() models.MatcherType { return models.MatcherTypeARN }

func (arnMatcher) ValidateConfig(cfg models.MatcherConfig) error {
	return nil // MaskComponents/AllowPartial have no invalid combination
}

func (arnMatcher) IndexKey(n models.Node, cfg models.MatcherConfig) string {
	arn, ok := n.Attributes["arn"]
	if !ok || arn == "" {
		return ""
	}
	return "arn:" + maskARN(arn, cfg.MaskComponents)
}

func (m arnMatcher) Match(source, target models.Node, cfg models.MatcherConfig) (models.MatchResult, bool) {
	sArn, sOK := source.Attributes["arn"]
	tArn, tOK := target.Attributes["arn"]
	if !sOK || !tOK || sArn == "" || tArn == "" {
		return models.MatchResult{}, false
	}
	maskedS := maskARN(sArn, cfg.MaskComponents)
	maskedT := maskARN(tArn, cfg.MaskComponents)

	confidence := 0
	switch {
	case sArn == tArn:
		confidence = 100
	case maskedS == maskedT && cfg.AllowPartial:
		confidence = 90
	default:
		return models.MatchResult{}, false
	}
	if confidence < cfg.MinConfidence {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		SourceNodeID: source.ID, TargetNodeID: target.ID,
		Strategy: models.MatcherTypeARN, Confidence: confidence,
		Details: models.MatchDetails{MatchedAttribute: "arn", SourceValue: sArn, TargetValue: tArn},
	}, true
}

// maskARN blanks out the colon-delimited components named in mask (by
// position name: partition, service, region, account, resource).
var arnPositions = []string{"prefix", "partition", "service", "region", "account", "resource"}

func maskARN(arn string, mask []string) string {
	if len(mask) == 0 {
		return arn
	}
	maskSet := make(map[string]bool, len(mask))
	for _, m := range mask {
		maskSet[m] = true
	}
	parts := strings.SplitN(arn, ":", 6)
	for i, p := range parts {
		if i < len(arnPositions) && maskSet[arnPositions[i]] {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ":")
}

// --- resource_id ---

type resourceIDMatcher struct{}

func (resourceIDMatcher) Type() models.MatcherType { return models.MatcherTypeResourceID }

func (resourceIDMatcher) ValidateConfig(cfg models.MatcherConfig) error { return nil }

func resourceID(n models.Node, normalize bool) (string, bool) {
	id, ok := n.Attributes["resourceId"]
	if !ok || id == "" {
		id, ok = n.Attributes["id"]
	}
	if !ok || id == "" {
		return "", false
	}
	if normalize {
		id = strings.ToLower(strings.TrimSpace(id))
	}
	return id, true
}

func (resourceIDMatcher) IndexKey(n models.Node, cfg models.MatcherConfig) string {
	id, ok := resourceID(n, cfg.NormalizeID)
	if !ok {
		return ""
	}
	return "rid:" + id
}

func (m resourceIDMatcher) Match(source, target models.Node, cfg models.MatcherConfig) (models.MatchResult, bool) {
	sID, sOK := resourceID(source, cfg.NormalizeID)
	tID, tOK := resourceID(target, cfg.NormalizeID)
	if !sOK || !tOK || sID != tID {
		return models.MatchResult{}, false
	}
	confidence := 95
	if confidence < cfg.MinConfidence {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		SourceNodeID: source.ID, TargetNodeID: target.ID,
		Strategy: models.MatcherTypeResourceID, Confidence: confidence,
		Details: models.MatchDetails{MatchedAttribute: "resourceId", SourceValue: sID, TargetValue: tID},
	}, true
}

// --- name ---

type nameMatcher struct{}

func (nameMatcher) Type() models.MatcherType { return models.MatcherTypeName }

func (nameMatcher) ValidateConfig(cfg models.MatcherConfig) error { return nil }

func qualifiedName(n models.Node, cfg models.MatcherConfig) string {
	name := n.Name
	if !cfg.CaseSensitive {
		name = strings.ToLower(name)
	}
	if cfg.NamespacePrefix != "" {
		if ns, ok := n.Attributes["namespace"]; ok && ns != "" {
			name = ns + "/" + name
		} else {
			name = cfg.NamespacePrefix + "/" + name
		}
	}
	return name
}

func (nameMatcher) IndexKey(n models.Node, cfg models.MatcherConfig) string {
	return "name:" + qualifiedName(n, cfg)
}

func (m nameMatcher) Match(source, target models.Node, cfg models.MatcherConfig) (models.MatchResult, bool) {
	if source.Kind != target.Kind {
		return models.MatchResult{}, false
	}
	sName := qualifiedName(source, cfg)
	tName := qualifiedName(target, cfg)
	if sName != tName {
		return models.MatchResult{}, false
	}
	confidence := 75
	if confidence < cfg.MinConfidence {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		SourceNodeID: source.ID, TargetNodeID: target.ID,
		Strategy: models.MatcherTypeName, Confidence: confidence,
		Details: models.MatchDetails{MatchedAttribute: "name", SourceValue: sName, TargetValue: tName},
	}, true
}

// --- tag ---

type tagMatcher struct{}

func (tagMatcher) Type() models.MatcherType { return models.MatcherTypeTag }

func (tagMatcher) ValidateConfig(cfg models.MatcherConfig) error {
	if len(cfg.RequiredTags) == 0 {
		return fmt.Errorf("tag matcher requires at least one entry in required_tags")
	}
	if cfg.MatchMode != models.TagMatchModeAll && cfg.MatchMode != models.TagMatchModeAny {
		return fmt.Errorf("tag matcher match_mode must be %q or %q", models.TagMatchModeAll, models.TagMatchModeAny)
	}
	return nil
}

// IndexKey can't usefully bucket tag matches (any subset of tags may
// satisfy "any" mode), so tag matching always falls back to the
// kind-bucketed full scan; see merge.go's candidate generation.
func (tagMatcher) IndexKey(n models.Node, cfg models.MatcherConfig) string { return "" }

func (m tagMatcher) Match(source, target models.Node, cfg models.MatcherConfig) (models.MatchResult, bool) {
	matched := 0
	var lastKey, lastVal string
	for k, v := range cfg.RequiredTags {
		sv, sOK := source.Attributes["tag:"+k]
		tv, tOK := target.Attributes["tag:"+k]
		if sOK && tOK && (v == "" || (sv == v && tv == v)) {
			matched++
			lastKey, lastVal = k, v
		}
	}
	required := len(cfg.RequiredTags)
	satisfied := (cfg.MatchMode == models.TagMatchModeAll && matched == required) ||
		(cfg.MatchMode == models.TagMatchModeAny && matched > 0)
	if !satisfied {
		return models.MatchResult{}, false
	}
	confidence := 85
	if confidence < cfg.MinConfidence {
		return models.MatchResult{}, false
	}
	return models.MatchResult{
		SourceNodeID: source.ID, TargetNodeID: target.ID,
		Strategy: models.MatcherTypeTag, Confidence: confidence,
		Details: models.MatchDetails{MatchedAttribute: "tag:" + lastKey, SourceValue: lastVal, TargetValue: lastVal,
			Context: fmt.Sprintf("%d/%d required tags matched", matched, required)},
	}, true
}
