// Package attribution assigns normalized access log lines to configured
// projects. Signals are tried strongest first: explicit hint, hostname,
// free-text heuristics, then project cardinality. The first configured
// project that matches a step wins; overlapping slugs (app vs app-v2) are
// resolved by configuration order, not by best match.
package attribution

import (
	"regexp"
	"strings"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/ident"
	"github.com/splax/deploydeck/internal/logparse"
)

// Projects is the registry view attribution needs.
type Projects interface {
	All() []domain.ProjectConfig
	Len() int
	FallbackSlug() string
}

// Step names, reported alongside a match for debugging.
const (
	StepHint        = "hint"
	StepHost        = "host"
	StepText        = "text"
	StepCardinality = "cardinality"
)

var dashboardPathPattern = regexp.MustCompile(`^/v1(?:/?$|[?#]|/(?:projects|logs|webhooks|deployments|oauth)(?:$|[/?#]))`)

// Resolver runs the attribution chain against a fixed project set.
type Resolver struct {
	projects       []domain.ProjectConfig
	fallbackSlug   string
	dashboardHosts map[string]struct{}
}

// New snapshots the registry. dashboardHosts lists hosts serving the
// dashboard or its API; their traffic is never attributed.
func New(projects Projects, dashboardHosts []string) *Resolver {
	r := &Resolver{
		projects:       projects.All(),
		fallbackSlug:   projects.FallbackSlug(),
		dashboardHosts: make(map[string]struct{}),
	}
	for _, h := range dashboardHosts {
		if host := ident.NormalizeHost(h); host != "" {
			r.dashboardHosts[host] = struct{}{}
		}
	}
	return r
}

// IsDashboardTraffic reports whether a request targets the dashboard's own API.
func (r *Resolver) IsDashboardTraffic(path, host string) bool {
	if dashboardPathPattern.MatchString(strings.TrimSpace(path)) {
		return true
	}
	if _, ok := r.dashboardHosts[ident.NormalizeHost(host)]; ok && host != "" {
		return true
	}
	return false
}

// Resolve returns the slug for req and the step that matched.
func (r *Resolver) Resolve(req logparse.Request) (slug string, step string, ok bool) {
	if slug, ok := r.ByHint(req.ProjectHint); ok {
		return slug, StepHint, true
	}
	if slug, ok := r.ByHost(req.Host); ok {
		return slug, StepHost, true
	}
	if slug, ok := r.ByText(req.Path, req.Message, req.Host); ok {
		return slug, StepText, true
	}
	if slug, ok := r.ByCardinality(); ok {
		return slug, StepCardinality, true
	}
	return "", "", false
}

// ByHint accepts an explicit project field when it names a configured
// project, or the fallback project when none are configured.
func (r *Resolver) ByHint(hint string) (string, bool) {
	slug := ident.NormalizeSlug(hint)
	if slug == "" {
		return "", false
	}
	if len(r.projects) == 0 {
		return slug, slug == r.fallbackSlug
	}
	for _, p := range r.projects {
		if p.Slug == slug {
			return slug, true
		}
	}
	return "", false
}

// ByHost matches the line host against preview hosts, then configured
// domains, then slug-shaped hostname labels.
func (r *Resolver) ByHost(rawHost string) (string, bool) {
	host := ident.NormalizeHost(rawHost)
	if host == "" {
		return "", false
	}
	for _, p := range r.projects {
		if p.PreviewHost != "" && p.PreviewHost == host {
			return p.Slug, true
		}
	}
	for _, p := range r.projects {
		for _, d := range p.Domains {
			if d == host {
				return p.Slug, true
			}
		}
	}
	labels := strings.Split(host, ".")
	for _, p := range r.projects {
		for _, label := range labels {
			if label != "" && label == p.Slug {
				return p.Slug, true
			}
		}
	}
	return "", false
}

// ByText looks for a project slug inside the request path, message and host,
// both verbatim and with punctuation stripped.
func (r *Resolver) ByText(path, message, host string) (string, bool) {
	haystack := strings.ToLower(path + " " + message + " " + host)
	canonical := ident.CanonicalText(path + message + host)
	if strings.TrimSpace(haystack) == "" {
		return "", false
	}
	for _, p := range r.projects {
		if p.Slug != "" && strings.Contains(haystack, p.Slug) {
			return p.Slug, true
		}
		if c := ident.CanonicalText(p.Slug); c != "" && strings.Contains(canonical, c) {
			return p.Slug, true
		}
	}
	return "", false
}

// ByCardinality attributes everything to the only project, or to the
// fallback project when none are configured.
func (r *Resolver) ByCardinality() (string, bool) {
	switch len(r.projects) {
	case 0:
		return r.fallbackSlug, r.fallbackSlug != ""
	case 1:
		return r.projects[0].Slug, true
	default:
		return "", false
	}
}
