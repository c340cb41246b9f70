package registry

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/splax/deploydeck/pkg/config"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseSkipsInvalidEntries(t *testing.T) {
	raw := `[
		{"projectName": "Acme App", "repository": "org/acme", "repoPath": "/srv/acme", "deployCommand": "make deploy", "domains": ["https://Acme.Example.com/"]},
		{"projectName": "", "repository": "org/none", "repoPath": "/srv/none", "deployCommand": "true"},
		"not an object",
		{"projectName": "Beta App", "repository": "beta", "repoPath": "/srv/beta", "deployCommand": "npm run deploy", "branch": "*", "environment": "Staging"},
		{"projectName": "acme-app", "repository": "org/dup", "repoPath": "/srv/dup", "deployCommand": "true"}
	]`
	projects, errs := Parse([]byte(raw), Options{LookupEnv: noEnv})
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	acme := projects[0]
	if acme.Slug != "acme-app" || acme.Branch != "main" || acme.Environment != "Production" {
		t.Fatalf("unexpected acme defaults: %+v", acme)
	}
	if acme.RepositoryCanonical != "acme" {
		t.Fatalf("unexpected canonical repo %q", acme.RepositoryCanonical)
	}
	if len(acme.Domains) != 1 || acme.Domains[0] != "acme.example.com" {
		t.Fatalf("unexpected domains %v", acme.Domains)
	}
	beta := projects[1]
	if beta.Branch != "*" || beta.Environment != "Staging" || beta.HasOwner() {
		t.Fatalf("unexpected beta project: %+v", beta)
	}
}

func TestParseRejectsNonArray(t *testing.T) {
	projects, errs := Parse([]byte(`{"projectName":"x"}`), Options{LookupEnv: noEnv})
	if projects != nil || len(errs) != 1 {
		t.Fatalf("expected single error for non-array config, got %v %v", projects, errs)
	}
}

func TestParseMergesDomainOverridesAndPreviewHost(t *testing.T) {
	env := map[string]string{"PROJECT_DOMAINS_ACME_APP": "www.acme.io, acme.example.com"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	raw := `[{"projectName": "Acme App", "repository": "org/acme", "repoPath": "/srv/acme", "deployCommand": "x", "domains": "acme.example.com", "previewUrl": "https://preview.acme.dev:8443/home"}]`
	projects, errs := Parse([]byte(raw), Options{LookupEnv: lookup})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	p := projects[0]
	if len(p.Domains) != 2 || p.Domains[0] != "acme.example.com" || p.Domains[1] != "www.acme.io" {
		t.Fatalf("unexpected merged domains %v", p.Domains)
	}
	if p.PreviewHost != "preview.acme.dev" {
		t.Fatalf("unexpected preview host %q", p.PreviewHost)
	}
}

func TestRegistryFallback(t *testing.T) {
	reg := New(nil, "My Site")
	if reg.FallbackSlug() != "my-site" {
		t.Fatalf("unexpected fallback slug %q", reg.FallbackSlug())
	}
	slugs := reg.ValidSlugs()
	if len(slugs) != 1 || slugs[0] != "my-site" {
		t.Fatalf("unexpected valid slugs %v", slugs)
	}
	if _, err := reg.Resolve("my-site"); err != nil {
		t.Fatalf("expected fallback to resolve, got %v", err)
	}
	if _, err := reg.Resolve("other"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("expected ErrUnknownProject, got %v", err)
	}
	if listing := reg.Listing(); len(listing) != 1 || listing[0].Slug != "my-site" {
		t.Fatalf("unexpected listing %v", listing)
	}
}

func TestRegistryLookups(t *testing.T) {
	projects, _ := Parse([]byte(`[
		{"projectName": "Acme App", "repository": "org/acme", "repoPath": "/srv/acme", "deployCommand": "x"},
		{"projectName": "Beta App", "repository": "beta", "repoPath": "/srv/beta", "deployCommand": "y"}
	]`), Options{LookupEnv: noEnv})
	reg := New(projects, "")
	if reg.Len() != 2 {
		t.Fatalf("expected 2 projects, got %d", reg.Len())
	}
	if p, ok := reg.BySlug("beta-app"); !ok || p.RepoPath != "/srv/beta" {
		t.Fatalf("unexpected lookup result %+v %v", p, ok)
	}
	if reg.NameFor("acme-app") != "Acme App" {
		t.Fatalf("unexpected name %q", reg.NameFor("acme-app"))
	}
	if reg.NameFor("ghost") != "ghost" {
		t.Fatal("expected unknown slug to echo back")
	}
	if _, err := reg.Resolve("app"); !errors.Is(err, ErrUnknownProject) {
		t.Fatal("fallback slug must not resolve once projects are configured")
	}
}

func TestLoadReadsProjectsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	if err := os.WriteFile(path, []byte(`[{"projectName":"Acme","repository":"org/acme","repoPath":"/srv","deployCommand":"x"}]`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := Load(config.APIConfig{ProjectsFile: path}, logger)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one project, got %d", reg.Len())
	}
	if _, err := Load(config.APIConfig{ProjectsFile: filepath.Join(dir, "missing.json")}, logger); err == nil {
		t.Fatal("expected error for missing projects file")
	}
}
