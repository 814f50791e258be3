package service

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// AliasClassifier decides whether a hostname is a stable public address for a deployment.
type AliasClassifier interface {
	IsStableAlias(candidate string) bool
}

// ClassifierFactory builds the classifier for one deployment once its raw build URL is known.
type ClassifierFactory func(project, rawBuildURL string) AliasClassifier

var (
	stableAliasPattern = regexp.MustCompile(`^[a-z0-9-]+\.vercel\.app$`)
	// Unique deployment hosts look like <project>-<9 char hash>-<scope>.vercel.app.
	buildHashPattern = regexp.MustCompile(`^[a-z0-9]{9}$`)
)

// DomainClassifier is the default AliasClassifier.
type DomainClassifier struct {
	Project              string
	RawBuildHost         string
	EphemeralFragments   []string
	CustomDomainSuffixes []string
}

// NewDomainClassifier derives the ephemeral fragments of rawBuildURL for project.
func NewDomainClassifier(project, rawBuildURL string, customDomainSuffixes []string) DomainClassifier {
	host := HostOf(rawBuildURL)
	return DomainClassifier{
		Project:              strings.ToLower(project),
		RawBuildHost:         host,
		EphemeralFragments:   EphemeralFragments(project, host),
		CustomDomainSuffixes: normaliseSuffixes(customDomainSuffixes),
	}
}

// DefaultClassifierFactory returns a factory producing DomainClassifiers.
func DefaultClassifierFactory(customDomainSuffixes []string) ClassifierFactory {
	return func(project, rawBuildURL string) AliasClassifier {
		return NewDomainClassifier(project, rawBuildURL, customDomainSuffixes)
	}
}

func (c DomainClassifier) IsStableAlias(candidate string) bool {
	host := HostOf(candidate)
	if host == "" || host == c.RawBuildHost {
		return false
	}
	if strings.Contains(host, "-git-") {
		return false
	}
	for _, fragment := range c.EphemeralFragments {
		if fragment != "" && strings.Contains(host, fragment) {
			return false
		}
	}
	if c.looksLikeBuildHost(host) {
		return false
	}

	for _, suffix := range c.CustomDomainSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return stableAliasPattern.MatchString(host)
}

// looksLikeBuildHost catches unique hosts of older builds of the same project.
func (c DomainClassifier) looksLikeBuildHost(host string) bool {
	if c.Project == "" || !strings.HasPrefix(host, c.Project+"-") {
		return false
	}
	label := strings.TrimSuffix(host, ".vercel.app")
	rest := strings.TrimPrefix(label, c.Project+"-")
	first, _, found := strings.Cut(rest, "-")
	return found && buildHashPattern.MatchString(first) && containsDigit(first)
}

// EphemeralFragments extracts the per-build hash from a unique deployment host.
func EphemeralFragments(project, buildHost string) []string {
	project = strings.ToLower(project)
	label := strings.TrimSuffix(strings.ToLower(buildHost), ".vercel.app")
	if project == "" || !strings.HasPrefix(label, project+"-") {
		return nil
	}
	rest := strings.TrimPrefix(label, project+"-")
	first, _, _ := strings.Cut(rest, "-")
	if !buildHashPattern.MatchString(first) {
		return nil
	}
	return []string{first}
}

// HostOf lower-cases candidate and strips any scheme, port and path.
func HostOf(candidate string) string {
	candidate = strings.TrimSpace(strings.ToLower(candidate))
	if candidate == "" {
		return ""
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// rankAliases orders stable candidates: custom domains first, then shorter hosts.
func rankAliases(hosts []string, customSuffixes []string) []string {
	isCustom := func(h string) bool {
		for _, s := range customSuffixes {
			if h == s || strings.HasSuffix(h, "."+s) {
				return true
			}
		}
		return false
	}
	out := append([]string(nil), hosts...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := isCustom(out[i]), isCustom(out[j])
		if ci != cj {
			return ci
		}
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func normaliseSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
