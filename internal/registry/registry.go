// Package registry holds the process-wide table of configured projects. It
// is built once at startup and never mutated afterwards.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/ident"
	"github.com/splax/deploydeck/internal/validation"
)

const (
	defaultBranch      = "main"
	defaultEnvironment = "Production"
	domainEnvPrefix    = "PROJECT_DOMAINS_"
)

// ErrUnknownProject is returned when a slug is not part of the registry.
var ErrUnknownProject = errors.New("registry: unknown project")

// Registry is a read-only project table keyed by slug.
type Registry struct {
	projects     []domain.ProjectConfig
	bySlug       map[string]int
	fallbackName string
	fallbackSlug string
}

type entry struct {
	ProjectName   string          `json:"projectName" validate:"required"`
	Repository    string          `json:"repository" validate:"required"`
	Branch        string          `json:"branch"`
	RepoPath      string          `json:"repoPath" validate:"required"`
	DeployCommand string          `json:"deployCommand" validate:"required"`
	Environment   string          `json:"environment"`
	RemoteHost    string          `json:"remoteHost"`
	Domains       json.RawMessage `json:"domains"`
	PreviewURL    string          `json:"previewUrl"`
}

// Options tunes how raw configuration entries become projects.
type Options struct {
	// LookupEnv resolves per-project domain overrides. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Parse decodes a JSON array of project entries. Invalid entries are skipped
// and reported individually; the remaining entries still load.
func Parse(raw []byte, opts Options) ([]domain.ProjectConfig, []error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, []error{fmt.Errorf("projects config must be a JSON array: %w", err)}
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var (
		projects []domain.ProjectConfig
		errs     []error
		seen     = make(map[string]struct{})
	)
	for i, item := range items {
		project, err := buildProject(item, lookup)
		if err != nil {
			errs = append(errs, fmt.Errorf("project entry %d skipped: %w", i, err))
			continue
		}
		if _, dup := seen[project.Slug]; dup {
			errs = append(errs, fmt.Errorf("project entry %d skipped: duplicate slug %q", i, project.Slug))
			continue
		}
		seen[project.Slug] = struct{}{}
		projects = append(projects, project)
	}
	return projects, errs
}

func buildProject(raw json.RawMessage, lookup func(string) (string, bool)) (domain.ProjectConfig, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.ProjectConfig{}, fmt.Errorf("decode: %w", err)
	}
	e.ProjectName = strings.TrimSpace(e.ProjectName)
	e.Repository = strings.TrimSpace(e.Repository)
	e.RepoPath = strings.TrimSpace(e.RepoPath)
	e.DeployCommand = strings.TrimSpace(e.DeployCommand)
	if err := validation.Struct(e); err != nil {
		return domain.ProjectConfig{}, err
	}
	slug := ident.NormalizeSlug(e.ProjectName)
	if slug == "" {
		return domain.ProjectConfig{}, fmt.Errorf("projectName %q has no usable characters", e.ProjectName)
	}
	branch := strings.TrimSpace(e.Branch)
	if branch == "" {
		branch = defaultBranch
	}
	environment := strings.TrimSpace(e.Environment)
	if environment == "" {
		environment = defaultEnvironment
	}
	project := domain.ProjectConfig{
		Name:                e.ProjectName,
		Slug:                slug,
		Repository:          e.Repository,
		RepositoryCanonical: ident.CanonicalRepoName(e.Repository),
		Branch:              branch,
		RepoPath:            e.RepoPath,
		DeployCommand:       e.DeployCommand,
		Environment:         environment,
		RemoteHost:          strings.TrimSpace(e.RemoteHost),
		PreviewURL:          strings.TrimSpace(e.PreviewURL),
	}
	project.PreviewHost = previewHost(project.PreviewURL)
	project.Domains = mergeDomains(decodeDomains(e.Domains), envDomains(slug, lookup))
	return project, nil
}

// decodeDomains accepts either a JSON string list or a comma separated string.
func decodeDomains(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return strings.Split(joined, ",")
	}
	return nil
}

func envDomains(slug string, lookup func(string) (string, bool)) []string {
	key := domainEnvPrefix + strings.ToUpper(strings.ReplaceAll(slug, "-", "_"))
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	return strings.Split(value, ",")
}

func mergeDomains(groups ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, d := range group {
			host := ident.NormalizeHost(d)
			if host == "" {
				continue
			}
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			out = append(out, host)
		}
	}
	return out
}

func previewHost(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return ident.NormalizeHost(u.Host)
	}
	return ident.NormalizeHost(raw)
}

// New builds a registry from already validated projects. fallbackName names
// the implicit project used when nothing is configured.
func New(projects []domain.ProjectConfig, fallbackName string) *Registry {
	r := &Registry{
		projects:     append([]domain.ProjectConfig(nil), projects...),
		bySlug:       make(map[string]int, len(projects)),
		fallbackName: strings.TrimSpace(fallbackName),
	}
	if r.fallbackName == "" {
		r.fallbackName = "app"
	}
	r.fallbackSlug = ident.NormalizeSlug(r.fallbackName)
	if r.fallbackSlug == "" {
		r.fallbackSlug = "app"
	}
	for i, p := range r.projects {
		if _, exists := r.bySlug[p.Slug]; !exists {
			r.bySlug[p.Slug] = i
		}
	}
	return r
}

// Len returns the number of configured projects.
func (r *Registry) Len() int {
	return len(r.projects)
}

// All returns configured projects in configuration order.
func (r *Registry) All() []domain.ProjectConfig {
	return append([]domain.ProjectConfig(nil), r.projects...)
}

// BySlug returns the configured project with the given slug.
func (r *Registry) BySlug(slug string) (domain.ProjectConfig, bool) {
	idx, ok := r.bySlug[slug]
	if !ok {
		return domain.ProjectConfig{}, false
	}
	return r.projects[idx], true
}

// FallbackSlug is the slug every record is attributed to when no projects are configured.
func (r *Registry) FallbackSlug() string {
	return r.fallbackSlug
}

// FallbackProject describes the implicit project used when nothing is configured.
func (r *Registry) FallbackProject() domain.ProjectConfig {
	return domain.ProjectConfig{
		Name:        r.fallbackName,
		Slug:        r.fallbackSlug,
		Branch:      defaultBranch,
		Environment: defaultEnvironment,
	}
}

// Listing returns the projects exposed to dashboards: the configured ones,
// or the fallback project when none are configured.
func (r *Registry) Listing() []domain.ProjectConfig {
	if len(r.projects) == 0 {
		return []domain.ProjectConfig{r.FallbackProject()}
	}
	return r.All()
}

// ValidSlugs lists the slugs accepted by query endpoints.
func (r *Registry) ValidSlugs() []string {
	if len(r.projects) == 0 {
		return []string{r.fallbackSlug}
	}
	out := make([]string, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.Slug)
	}
	return out
}

// Resolve returns the project for slug, including the fallback project when
// nothing is configured. Unknown slugs yield ErrUnknownProject.
func (r *Registry) Resolve(slug string) (domain.ProjectConfig, error) {
	if len(r.projects) == 0 && slug == r.fallbackSlug {
		return r.FallbackProject(), nil
	}
	if p, ok := r.BySlug(slug); ok {
		return p, nil
	}
	return domain.ProjectConfig{}, fmt.Errorf("%w: %q", ErrUnknownProject, slug)
}

// NameFor returns the display name of slug, or slug itself when unknown.
func (r *Registry) NameFor(slug string) string {
	if p, err := r.Resolve(slug); err == nil {
		return p.Name
	}
	return slug
}
