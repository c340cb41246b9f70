package registry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/splax/deploydeck/pkg/config"
)

// Load builds the registry from PROJECTS_JSON or PROJECTS_FILE. Skipped
// entries are logged; only an unreadable projects file is fatal.
func Load(cfg config.APIConfig, logger *slog.Logger) (*Registry, error) {
	raw := strings.TrimSpace(cfg.ProjectsJSON)
	if raw == "" && strings.TrimSpace(cfg.ProjectsFile) != "" {
		data, err := os.ReadFile(cfg.ProjectsFile)
		if err != nil {
			return nil, fmt.Errorf("read projects file %s: %w", cfg.ProjectsFile, err)
		}
		raw = string(data)
	}
	projects, errs := Parse([]byte(raw), Options{})
	for _, err := range errs {
		logger.Warn("project config entry rejected", "error", err)
	}
	reg := New(projects, cfg.DefaultProjectName)
	if reg.Len() == 0 {
		logger.Warn("no projects configured; attributing everything to fallback project", "project", reg.FallbackSlug())
	} else {
		logger.Info("project registry loaded", "projects", reg.Len(), "slugs", strings.Join(reg.ValidSlugs(), ","))
	}
	return reg, nil
}
