package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ModuleSourceKind is the closed tagged union of Terraform module source
// forms.
type ModuleSourceKind string

const (
	ModuleSourceLocal    ModuleSourceKind = "local"
	ModuleSourceRegistry ModuleSourceKind = "registry"
	ModuleSourceGitHub   ModuleSourceKind = "github"
	ModuleSourceGit      ModuleSourceKind = "git"
	ModuleSourceS3       ModuleSourceKind = "s3"
	ModuleSourceGCS      ModuleSourceKind = "gcs"
	ModuleSourceUnknown  ModuleSourceKind = "unknown"
)

// ModuleSource is the parsed (not fetched) representation of a module
// "source" attribute.
type ModuleSource struct {
	Kind ModuleSourceKind
	Raw  string

	// local
	Path         string
	ResolvedPath string

	// registry
	Hostname  string
	Namespace string
	Name      string
	Provider  string

	// github / git
	Owner string
	Repo  string
	GitPath string
	Ref   string
	IsSSH bool
	URL   string

	// s3 / gcs
	Bucket string
	Region string
}

var (
	registrySourceRe = regexp.MustCompile(`^(?:([a-zA-Z0-9.-]+)/)?([a-zA-Z0-9_-]+)/([a-zA-Z0-9_-]+)/([a-zA-Z0-9_-]+)$`)
	githubSSHRe       = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/.]+)(?:\.git)?(?://(.+))?$`)
	githubHTTPSRe     = regexp.MustCompile(`^(?:git::)?https://github\.com/([^/]+)/([^/.]+)(?:\.git)?(?://(.+))?$`)
)

// ParseModuleSource classifies a module "source" string into its tagged
// union form. Ref suffixes ("?ref=...") are extracted for github/git forms.
func ParseModuleSource(raw string) ModuleSource {
	src := ModuleSource{Raw: raw}

	switch {
	case strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../"):
		src.Kind = ModuleSourceLocal
		src.Path = raw
		src.ResolvedPath = raw
		return src

	case strings.HasPrefix(raw, "s3::"):
		src.Kind = ModuleSourceS3
		rest := strings.TrimPrefix(raw, "s3::")
		if u, region, bucket, ok := parseS3(rest); ok {
			src.URL, src.Region, src.Bucket = u, region, bucket
		}
		return src

	case strings.HasPrefix(raw, "gcs::"):
		src.Kind = ModuleSourceGCS
		rest := strings.TrimPrefix(raw, "gcs::")
		bucket, path := splitOnce(strings.TrimPrefix(rest, "https://www.googleapis.com/storage/v1/"), "/")
		src.Bucket, src.GitPath = bucket, path
		return src
	}

	body, ref := splitRef(raw)

	if m := githubSSHRe.FindStringSubmatch(body); m != nil {
		src.Kind = ModuleSourceGitHub
		src.Owner, src.Repo, src.GitPath, src.IsSSH = m[1], m[2], m[3], true
		src.Ref = ref
		return src
	}
	if m := githubHTTPSRe.FindStringSubmatch(body); m != nil {
		src.Kind = ModuleSourceGitHub
		src.Owner, src.Repo, src.GitPath = m[1], m[2], m[3]
		src.Ref = ref
		return src
	}
	if strings.HasPrefix(body, "git::") || strings.HasPrefix(body, "git@") || strings.HasSuffix(strings.Split(body, "//")[0], ".git") {
		src.Kind = ModuleSourceGit
		src.URL = strings.TrimPrefix(body, "git::")
		src.Ref = ref
		return src
	}
	if m := registrySourceRe.FindStringSubmatch(raw); m != nil {
		src.Kind = ModuleSourceRegistry
		src.Hostname = m[1]
		src.Namespace, src.Name, src.Provider = m[2], m[3], m[4]
		return src
	}

	src.Kind = ModuleSourceUnknown
	return src
}

func splitRef(s string) (body, ref string) {
	if i := strings.Index(s, "?ref="); i >= 0 {
		return s[:i], s[i+len("?ref="):]
	}
	return s, ""
}

func splitOnce(s, sep string) (string, string) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+len(sep):]
}

func parseS3(rest string) (url, region, bucket string, ok bool) {
	// form: https://bucket.s3-region.amazonaws.com/path
	re := regexp.MustCompile(`https://([^.]+)\.s3-?([a-z0-9-]*)\.amazonaws\.com/`)
	m := re.FindStringSubmatch(rest)
	if m == nil {
		return "", "", "", false
	}
	return rest, m[2], m[1], true
}

// ConstraintOp is the closed set of version-constraint comparison operators.
type ConstraintOp string

const (
	OpEqual            ConstraintOp = "="
	OpNotEqual         ConstraintOp = "!="
	OpGreaterThan      ConstraintOp = ">"
	OpGreaterThanEqual ConstraintOp = ">="
	OpLessThan         ConstraintOp = "<"
	OpLessThanEqual    ConstraintOp = "<="
	OpPessimistic      ConstraintOp = "~>"
)

// VersionConstraint is one "op version" clause of a module version
// constraint expression.
type VersionConstraint struct {
	Op      ConstraintOp
	Version string
}

var constraintClauseRe = regexp.MustCompile(`^\s*(=|!=|>=|<=|>|<|~>)?\s*([0-9][0-9A-Za-z.\-+]*)\s*$`)

// ParseVersionConstraint parses the grammar
// "op ws* semver (, ws* op ws* semver)*", defaulting the operator to "="
// when omitted. Returns an error if any clause fails to parse as a semver
// version.
func ParseVersionConstraint(expr string) ([]VersionConstraint, error) {
	var constraints []VersionConstraint
	for _, clause := range strings.Split(expr, ",") {
		m := constraintClauseRe.FindStringSubmatch(clause)
		if m == nil {
			return nil, fmt.Errorf("invalid version constraint clause: %q", clause)
		}
		op := ConstraintOp(m[1])
		if op == "" {
			op = OpEqual
		}
		if _, err := semver.NewVersion(m[2]); err != nil {
			return nil, fmt.Errorf("invalid semver in clause %q: %w", clause, err)
		}
		constraints = append(constraints, VersionConstraint{Op: op, Version: m[2]})
	}
	return constraints, nil
}

// SatisfiesAll reports whether version satisfies every clause in
// constraints, using go-cty-free direct semver comparison.
func SatisfiesAll(version string, constraints []VersionConstraint) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}
	for _, c := range constraints {
		cv, err := semver.NewVersion(c.Version)
		if err != nil {
			return false, err
		}
		if !satisfiesOne(v, c.Op, cv) {
			return false, nil
		}
	}
	return true, nil
}

func satisfiesOne(v *semver.Version, op ConstraintOp, constraint *semver.Version) bool {
	switch op {
	case OpEqual:
		return v.Equal(constraint)
	case OpNotEqual:
		return !v.Equal(constraint)
	case OpGreaterThan:
		return v.GreaterThan(constraint)
	case OpGreaterThanEqual:
		return v.GreaterThan(constraint) || v.Equal(constraint)
	case OpLessThan:
		return v.LessThan(constraint)
	case OpLessThanEqual:
		return v.LessThan(constraint) || v.Equal(constraint)
	case OpPessimistic:
		upper := constraint.IncMinor()
		return (v.GreaterThan(constraint) || v.Equal(constraint)) && v.LessThan(&upper)
	default:
		return false
	}
}

// Format re-renders a ModuleSource back to its canonical string form. For
// every supported kind, ParseModuleSource(s.Format()) round-trips to an
// equivalent ModuleSource.
func (s ModuleSource) Format() string {
	switch s.Kind {
	case ModuleSourceLocal:
		return s.Path
	case ModuleSourceRegistry:
		if s.Hostname != "" {
			return fmt.Sprintf("%s/%s/%s/%s", s.Hostname, s.Namespace, s.Name, s.Provider)
		}
		return fmt.Sprintf("%s/%s/%s", s.Namespace, s.Name, s.Provider)
	case ModuleSourceGitHub:
		body := fmt.Sprintf("https://github.com/%s/%s", s.Owner, s.Repo)
		if s.IsSSH {
			body = fmt.Sprintf("git@github.com:%s/%s.git", s.Owner, s.Repo)
		}
		if s.GitPath != "" {
			body += "//" + s.GitPath
		}
		if s.Ref != "" {
			body += "?ref=" + s.Ref
		}
		return body
	case ModuleSourceGit:
		body := s.URL
		if strings.Contains(body, "://") {
			body = "git::" + body
		}
		if s.Ref != "" {
			body += "?ref=" + s.Ref
		}
		return body
	default:
		return s.Raw
	}
}
