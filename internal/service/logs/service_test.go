package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/splax/deploydeck/internal/attribution"
	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/registry"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

type fakeTailer struct {
	content string
	err     error
	lines   int
}

func (f *fakeTailer) Tail(_ context.Context, _, _ string, lines int) (string, error) {
	f.lines = lines
	return f.content, f.err
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, content string, cfg config.APIConfig) (Service, *fakeTailer) {
	t.Helper()
	reg := registry.New([]domain.ProjectConfig{
		{Name: "Acme App", Slug: "acme-app", Domains: []string{"acme.example.com"}},
		{Name: "Beta App", Slug: "beta-app"},
	}, "app")
	tailer := &fakeTailer{content: content}
	if cfg.AccessLogRemoteHost == "" {
		cfg.AccessLogRemoteHost = "web@vps"
	}
	if cfg.AccessLogTailLines == 0 {
		cfg.AccessLogTailLines = 2000
	}
	if cfg.AccessLogTailMultiplier == 0 {
		cfg.AccessLogTailMultiplier = 20
	}
	resolver := attribution.New(reg, []string{"dash.example.com"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(tailer, resolver, reg, logger, cfg).WithClock(func() time.Time { return fixedNow }), tailer
}

const accessFixture = `1.2.3.4 - - [01/Mar/2024:10:00:00 +0000] "GET / HTTP/1.1" 200 512 "-" "curl/8" "acme.example.com"
1.2.3.4 - - [01/Mar/2024:11:00:00 +0000] "GET /beta-app/index.html HTTP/1.1" 404 12 "-" "curl/8"
1.2.3.4 - - [01/Mar/2024:11:30:00 +0000] "GET /v1/deployments HTTP/1.1" 200 12 "-" "curl/8" "acme.example.com"
1.2.3.4 - - [01/Mar/2024:11:40:00 +0000] "GET / HTTP/1.1" 200 12 "-" "curl/8" "dash.example.com"
garbage line
{"timestamp":"2024-03-01T09:00:00Z","method":"POST","path":"/api","statusCode":201,"host":"acme.example.com"}
{"method":"GET","path":"/","host":"acme.example.com"}
1.2.3.4 - - [01/Mar/2024:11:50:00 +0000] "GET /other HTTP/1.1" 200 12 "-" "curl/8" "unknown.example.net"
`

func TestListAttributesFiltersAndSorts(t *testing.T) {
	svc, tailer := newService(t, accessFixture, config.APIConfig{})
	entries, meta, err := svc.List(context.Background(), domain.Query{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tailer.lines != 2000 {
		t.Fatalf("expected tail of 2000 lines, got %d", tailer.lines)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
	}
	wantSlugs := []string{"beta-app", "acme-app", "acme-app", "acme-app"}
	for i, e := range entries {
		if e.ProjectSlug != wantSlugs[i] {
			t.Fatalf("entry %d slug %q, want %q", i, e.ProjectSlug, wantSlugs[i])
		}
	}
	if entries[0].ProjectName != "Beta App" || entries[0].StatusCode == nil || *entries[0].StatusCode != 404 {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	// The line without a timestamp sorts last and shows the read time.
	last := entries[3]
	if last.Timestamp != "2024-03-01T12:00:00.000Z" {
		t.Fatalf("expected defaulted timestamp, got %q", last.Timestamp)
	}
	if !strings.HasPrefix(last.LogID, "acme-app-1709294400000-") {
		t.Fatalf("unexpected log id %q", last.LogID)
	}
	if meta.LinesScanned != 8 || meta.LinesMatched != 4 || meta.Source != SourceRemote {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestListProjectAndRangeFilters(t *testing.T) {
	svc, _ := newService(t, accessFixture, config.APIConfig{})
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	entries, _, err := svc.List(context.Background(), domain.Query{Project: "acme-app", Limit: 10, Start: &start})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Timestamp != "2024-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestListTruncatesAfterSorting(t *testing.T) {
	svc, tailer := newService(t, accessFixture, config.APIConfig{AccessLogTailLines: 10, AccessLogTailMultiplier: 20})
	entries, _, err := svc.List(context.Background(), domain.Query{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tailer.lines != 40 {
		t.Fatalf("expected tail of 40 lines, got %d", tailer.lines)
	}
	if len(entries) != 2 || entries[0].ProjectSlug != "beta-app" || entries[1].Timestamp != "2024-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestListLogIDsAreUnique(t *testing.T) {
	line := `1.2.3.4 - - [01/Mar/2024:10:00:00 +0000] "GET / HTTP/1.1" 200 512 "-" "curl/8" "acme.example.com"` + "\n"
	svc, _ := newService(t, strings.Repeat(line, 5), config.APIConfig{})
	entries, _, err := svc.List(context.Background(), domain.Query{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.LogID] {
			t.Fatalf("duplicate log id %q", e.LogID)
		}
		seen[e.LogID] = true
	}
}

func TestListRemoteFailure(t *testing.T) {
	svc, tailer := newService(t, "", config.APIConfig{AccessLogPath: "/var/log/nginx/access.log"})
	tailer.err = remote.ErrRemoteUnavailable
	_, meta, err := svc.List(context.Background(), domain.Query{Limit: 5})
	var re *remote.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected read error, got %v", err)
	}
	if re.Host != "web@vps" || meta.Host != "web@vps" {
		t.Fatalf("unexpected host in error %+v meta %+v", re, meta)
	}
}
