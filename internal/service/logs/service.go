package logs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/splax/deploydeck/internal/attribution"
	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/logparse"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

// Sources reported in read metadata.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Tailer reads the last lines of a file on a host.
type Tailer interface {
	Tail(ctx context.Context, host, path string, lines int) (string, error)
}

// Names resolves display names for attributed slugs.
type Names interface {
	NameFor(slug string) string
}

// Service reads and attributes web server access logs.
type Service struct {
	tailer      Tailer
	resolver    *attribution.Resolver
	names       Names
	logger      *slog.Logger
	path        string
	remoteHost  string
	tailLines   int
	multiplier  int
	readTimeout time.Duration
	now         func() time.Time
}

// New returns an access log reader configured from cfg.
func New(tailer Tailer, resolver *attribution.Resolver, names Names, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		tailer:      tailer,
		resolver:    resolver,
		names:       names,
		logger:      logger,
		path:        cfg.AccessLogPath,
		remoteHost:  cfg.AccessLogRemoteHost,
		tailLines:   cfg.AccessLogTailLines,
		multiplier:  cfg.AccessLogTailMultiplier,
		readTimeout: cfg.RemoteReadTimeout,
		now:         time.Now,
	}
}

// WithClock overrides the clock used for lines without a timestamp.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

type candidate struct {
	entry domain.RequestLogEntry
	epoch int64
}

// List returns attributed request entries matching q, newest first.
func (s Service) List(ctx context.Context, q domain.Query) ([]domain.RequestLogEntry, domain.ReadMeta, error) {
	limit := domain.ClampLimit(q.Limit)
	content, meta, err := s.read(ctx, limit)
	if err != nil {
		return nil, meta, err
	}
	now := s.now()
	var matched []candidate
	for i, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		meta.LinesScanned++
		req, ok := logparse.ParseRequestLine(line)
		if !ok {
			continue
		}
		if s.resolver.IsDashboardTraffic(req.Path, req.Host) {
			continue
		}
		slug, _, ok := s.resolver.Resolve(req)
		if !ok {
			continue
		}
		if q.Project != "" && slug != q.Project {
			continue
		}
		parsed, parsedOK := logparse.ParseTime(req.Timestamp)
		if !parsedOK {
			parsed = time.Time{}
		}
		if !q.InRange(parsed) {
			continue
		}
		display := parsed
		if !parsedOK {
			display = now
		}
		var epoch int64
		if parsedOK {
			epoch = parsed.UnixMilli()
		}
		matched = append(matched, candidate{
			epoch: epoch,
			entry: domain.RequestLogEntry{
				LogID:       fmt.Sprintf("%s-%d-%d", slug, display.UnixMilli(), i),
				Timestamp:   logparse.FormatISO(display),
				Method:      req.Method,
				StatusCode:  req.StatusCode,
				Host:        req.Host,
				Path:        req.Path,
				Message:     req.Message,
				ProjectSlug: slug,
				ProjectName: s.names.NameFor(slug),
				RemoteAddr:  req.RemoteAddr,
				Source:      req.Format,
			},
		})
	}
	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].epoch > matched[b].epoch
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	entries := make([]domain.RequestLogEntry, len(matched))
	for i, c := range matched {
		entries[i] = c.entry
	}
	meta.LinesMatched = len(entries)
	return entries, meta, nil
}

func (s Service) read(ctx context.Context, limit int) (string, domain.ReadMeta, error) {
	if s.remoteHost != "" {
		meta := domain.ReadMeta{Source: SourceRemote, Path: s.path, Host: s.remoteHost}
		lines := max(s.tailLines, limit*s.multiplier)
		if s.readTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
			defer cancel()
		}
		content, err := s.tailer.Tail(ctx, s.remoteHost, s.path, lines)
		if err != nil {
			s.logger.Warn("access log read failed", "host", s.remoteHost, "path", s.path, "error", err)
			return "", meta, &remote.ReadError{Kind: "access", Host: s.remoteHost, Path: s.path, EnvVar: "ACCESS_LOG_REMOTE_HOST", PathEnvVar: "ACCESS_LOG_PATH", Err: err}
		}
		return content, meta, nil
	}
	meta := domain.ReadMeta{Source: SourceLocal, Path: s.path}
	content, err := remote.ReadLocal(s.path)
	if err != nil {
		s.logger.Warn("access log read failed", "path", s.path, "error", err)
		return "", meta, &remote.ReadError{Kind: "access", Path: s.path, EnvVar: "ACCESS_LOG_PATH", Err: err}
	}
	return content, meta, nil
}
