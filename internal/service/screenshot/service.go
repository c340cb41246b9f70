package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/splax/deploydeck/internal/ident"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

var (
	// ErrDisabled is returned when no capture command is configured.
	ErrDisabled = errors.New("screenshot capture is not configured")
	// ErrNoURL is returned when the project has no preview URL.
	ErrNoURL = errors.New("project has no preview url")
)

// Executor runs a shell script locally when host is empty.
type Executor interface {
	RunScript(ctx context.Context, host, script string) (remote.Result, error)
}

// Service captures deployment screenshots through an external command.
// The command is invoked as `<command> <url> <output.png>`.
type Service struct {
	exec    Executor
	logger  *slog.Logger
	command string
	dir     string
	timeout time.Duration
	group   *singleflight.Group
}

// New returns a screenshot service configured from cfg.
func New(exec Executor, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		exec:    exec,
		logger:  logger,
		command: strings.TrimSpace(cfg.ScreenshotCommand),
		dir:     cfg.ScreenshotDir,
		timeout: cfg.ScreenshotTimeout,
		group:   &singleflight.Group{},
	}
}

// Enabled reports whether a capture command is configured.
func (s Service) Enabled() bool {
	return s.command != ""
}

// Path returns where the screenshot for a deployment is stored.
func (s Service) Path(slug, deploymentID string) string {
	return filepath.Join(s.dir, ident.NormalizeSlug(slug), fileSafe(deploymentID)+".png")
}

// Capture returns the screenshot for a deployment, taking it first if it does
// not exist yet. Concurrent callers for the same deployment share one capture.
func (s Service) Capture(ctx context.Context, slug, deploymentID, url string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(url) == "" {
		return "", ErrNoURL
	}
	target := s.Path(slug, deploymentID)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	key := ident.NormalizeSlug(slug) + ":" + deploymentID
	ch := s.group.DoChan(key, func() (any, error) {
		return target, s.capture(ctx, key, url, target)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s Service) capture(ctx context.Context, key, url, target string) error {
	// The capture outlives any single caller; it is bounded by its own timeout.
	runCtx := context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
		defer cancel()
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	tmp := target + ".tmp"
	script := fmt.Sprintf("%s %s %s\n", s.command, remote.ShellQuote(url), remote.ShellQuote(tmp))
	started := time.Now()
	res, err := s.exec.RunScript(runCtx, "", script)
	if err != nil {
		_ = os.Remove(tmp)
		s.logger.Warn("screenshot capture failed", "key", key, "url", url, "error", err, "stderr", remote.LastLines(res.Stderr, 10))
		return fmt.Errorf("capture %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("store screenshot %s: %w", key, err)
	}
	s.logger.Info("screenshot captured", "key", key, "url", url, "duration", time.Since(started).String())
	return nil
}

func fileSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
