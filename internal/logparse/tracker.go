package logparse

import (
	"strings"
	"time"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/ident"
)

// Defaults applied to tracker records with missing fields.
const (
	DefaultStatus      = "Ready"
	DefaultDuration    = "n/a"
	DefaultBranch      = "main"
	DefaultCommitHash  = "unknown"
	DefaultEnvironment = "Production"
	DefaultAuthor      = "unknown"
)

// TrackerOptions controls tracker record normalization.
type TrackerOptions struct {
	Now           func() time.Time
	AuthorAliases map[string]string
	Source        string
}

// ParseTrackerLine decodes one JSON-lines tracker entry into a fully
// populated record. Lines that are not a JSON object are rejected.
func ParseTrackerLine(line string, opts TrackerOptions) (domain.DeploymentRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.DeploymentRecord{}, false
	}
	obj, ok := decodeObject(trimmed)
	if !ok {
		return domain.DeploymentRecord{}, false
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	field := func(key string) string {
		return firstString(obj, []string{key})
	}
	record := domain.DeploymentRecord{
		DeploymentID:  strings.ToUpper(field("deploymentId")),
		Environment:   withDefault(field("environment"), DefaultEnvironment),
		Status:        withDefault(field("status"), DefaultStatus),
		Duration:      withDefault(field("duration"), DefaultDuration),
		ProjectName:   field("projectName"),
		Branch:        withDefault(field("branch"), DefaultBranch),
		CommitHash:    withDefault(field("commitHash"), DefaultCommitHash),
		CommitMessage: field("commitMessage"),
		Author:        RemapAuthor(field("author"), opts.AuthorAliases),
		AuthorEmail:   field("authorEmail"),
		ServerHost:    field("serverHost"),
		ServerUser:    field("serverUser"),
		RepoPath:      field("repoPath"),
		Source:        withDefault(field("source"), opts.Source),
	}
	record.ProjectSlug = ident.NormalizeSlug(record.ProjectName)
	if v, ok := firstValue(obj, []string{"trackedAt"}); ok {
		if iso, ok := ToISOTimestamp(v); ok {
			record.TrackedAt = iso
		} else {
			record.TrackedAt = stringify(v)
		}
	}
	if record.TrackedAt == "" {
		record.TrackedAt = FormatISO(now())
	}
	if v, ok := firstValue(obj, []string{"commitAt"}); ok {
		if iso, ok := ToISOTimestamp(v); ok {
			record.CommitAt = iso
		} else {
			record.CommitAt = stringify(v)
		}
	}
	return record, true
}

// RemapAuthor maps a raw author name through the alias table
// (case-insensitive). Names without an alias pass through unchanged.
func RemapAuthor(raw string, aliases map[string]string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return DefaultAuthor
	}
	if alias, ok := aliases[name]; ok && alias != "" {
		return alias
	}
	for k, alias := range aliases {
		if strings.EqualFold(k, name) && alias != "" {
			return alias
		}
	}
	return name
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
