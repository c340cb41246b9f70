package domain

import "strings"

// ProjectConfig describes one deployable unit loaded from configuration.
type ProjectConfig struct {
	Name                string   `json:"projectName"`
	Slug                string   `json:"projectSlug"`
	Repository          string   `json:"repository"`
	RepositoryCanonical string   `json:"repositoryCanonical"`
	Branch              string   `json:"branch"`
	RepoPath            string   `json:"repoPath"`
	DeployCommand       string   `json:"-"`
	Environment         string   `json:"environment"`
	RemoteHost          string   `json:"remoteHost,omitempty"`
	Domains             []string `json:"domains"`
	PreviewURL          string   `json:"previewUrl,omitempty"`
	PreviewHost         string   `json:"-"`
}

// WildcardBranch matches any pushed branch.
const WildcardBranch = "*"

// HasOwner reports whether Repository is in owner/repo form.
func (p ProjectConfig) HasOwner() bool {
	return strings.Contains(p.Repository, "/")
}
