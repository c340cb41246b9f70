package autodeploy

import (
	"strings"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/ident"
)

// Match returns the first project configured for the pushed repository and
// branch, in registry order.
func Match(projects []domain.ProjectConfig, push domain.AutoDeployContext) (domain.ProjectConfig, bool) {
	for _, p := range projects {
		if MatchesRepository(p, push) && MatchesBranch(p, push.Branch) {
			return p, true
		}
	}
	return domain.ProjectConfig{}, false
}

// MatchesRepository compares owner/name repositories by full name and bare
// repositories by canonical name.
func MatchesRepository(p domain.ProjectConfig, push domain.AutoDeployContext) bool {
	configured := strings.TrimSpace(p.Repository)
	if configured == "" {
		return false
	}
	if p.HasOwner() {
		return push.RepositoryFullName != "" && strings.EqualFold(configured, strings.TrimSpace(push.RepositoryFullName))
	}
	incoming := push.RepositoryName
	if incoming == "" {
		incoming = push.RepositoryFullName
	}
	want := ident.CanonicalRepoName(configured)
	return want != "" && want == ident.CanonicalRepoName(incoming)
}

// MatchesBranch accepts the wildcard branch or an exact name.
func MatchesBranch(p domain.ProjectConfig, branch string) bool {
	return p.Branch == domain.WildcardBranch || p.Branch == branch
}
