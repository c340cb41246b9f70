package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/logparse"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

// minRemoteLines is the smallest tail requested from a remote tracker log.
const minRemoteLines = 100

// Sources reported in read metadata.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Tailer reads the last lines of a file on a host.
type Tailer interface {
	Tail(ctx context.Context, host, path string, lines int) (string, error)
}

// Service reads deployment records from the tracker log.
type Service struct {
	tailer      Tailer
	logger      *slog.Logger
	path        string
	remoteHost  string
	readTimeout time.Duration
	aliases     map[string]string
	now         func() time.Time
}

// New returns a tracker reader configured from cfg.
func New(tailer Tailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		tailer:      tailer,
		logger:      logger,
		path:        cfg.TrackerLogPath,
		remoteHost:  cfg.TrackerRemoteHost,
		readTimeout: cfg.RemoteReadTimeout,
		aliases:     cfg.AuthorAliases,
		now:         time.Now,
	}
}

// WithClock overrides the clock used for defaulted timestamps.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

// List returns the newest tracker records matching q, newest first.
func (s Service) List(ctx context.Context, q domain.Query) ([]domain.DeploymentRecord, domain.ReadMeta, error) {
	limit := domain.ClampLimit(q.Limit)
	content, meta, err := s.read(ctx, limit)
	if err != nil {
		return nil, meta, err
	}
	opts := logparse.TrackerOptions{Now: s.now, AuthorAliases: s.aliases, Source: meta.Source}
	lines := strings.Split(content, "\n")
	records := make([]domain.DeploymentRecord, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(records) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		meta.LinesScanned++
		record, ok := logparse.ParseTrackerLine(line, opts)
		if !ok {
			continue
		}
		if q.Project != "" && record.ProjectSlug != q.Project {
			continue
		}
		if !q.InRange(record.TrackedTime()) {
			continue
		}
		records = append(records, record)
	}
	meta.LinesMatched = len(records)
	return records, meta, nil
}

// Latest returns the newest record for project, or nil when none exists.
func (s Service) Latest(ctx context.Context, project string) (*domain.DeploymentRecord, domain.ReadMeta, error) {
	records, meta, err := s.List(ctx, domain.Query{Project: project, Limit: 1})
	if err != nil || len(records) == 0 {
		return nil, meta, err
	}
	return &records[0], meta, nil
}

func (s Service) read(ctx context.Context, limit int) (string, domain.ReadMeta, error) {
	if s.remoteHost != "" {
		meta := domain.ReadMeta{Source: SourceRemote, Path: s.path, Host: s.remoteHost}
		lines := max(limit*5, minRemoteLines)
		if s.readTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
			defer cancel()
		}
		content, err := s.tailer.Tail(ctx, s.remoteHost, s.path, lines)
		if err != nil {
			s.logger.Warn("tracker log read failed", "host", s.remoteHost, "path", s.path, "error", err)
			return "", meta, &remote.ReadError{Kind: "tracker", Host: s.remoteHost, Path: s.path, EnvVar: "DEPLOY_TRACKER_REMOTE_HOST", PathEnvVar: "DEPLOY_TRACKER_LOG", Err: err}
		}
		return content, meta, nil
	}
	meta := domain.ReadMeta{Source: SourceLocal, Path: s.path}
	content, err := remote.ReadLocal(s.path)
	if err != nil {
		s.logger.Warn("tracker log read failed", "path", s.path, "error", err)
		return "", meta, &remote.ReadError{Kind: "tracker", Path: s.path, EnvVar: "DEPLOY_TRACKER_LOG", Err: err}
	}
	return content, meta, nil
}

// IsReadError reports whether err came from an unreadable source.
func IsReadError(err error) bool {
	var re *remote.ReadError
	return errors.As(err, &re)
}
