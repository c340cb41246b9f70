package domain

import "time"

// DeploymentRecord is one normalized line of the deployment tracker log.
type DeploymentRecord struct {
	DeploymentID  string `json:"deploymentId"`
	Environment   string `json:"environment"`
	Status        string `json:"status"`
	Duration      string `json:"duration"`
	ProjectName   string `json:"projectName"`
	ProjectSlug   string `json:"projectSlug"`
	Branch        string `json:"branch"`
	CommitHash    string `json:"commitHash"`
	CommitMessage string `json:"commitMessage"`
	TrackedAt     string `json:"trackedAt"`
	CommitAt      string `json:"commitAt,omitempty"`
	Author        string `json:"author"`
	AuthorEmail   string `json:"authorEmail,omitempty"`
	ServerHost    string `json:"serverHost,omitempty"`
	ServerUser    string `json:"serverUser,omitempty"`
	RepoPath      string `json:"repoPath,omitempty"`
	Source        string `json:"source"`
}

// TrackedTime parses TrackedAt. Unparseable values yield the zero time.
func (d DeploymentRecord) TrackedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, d.TrackedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
