package domain

import "time"

// AutoDeployContext carries push details from the webhook into a job.
type AutoDeployContext struct {
	RepositoryName     string `json:"repositoryName"`
	RepositoryFullName string `json:"repositoryFullName"`
	Branch             string `json:"branch"`
	CommitHash         string `json:"commitHash"`
	CommitMessage      string `json:"commitMessage"`
	Pusher             string `json:"pusher"`
}

// AutoDeployJob is an in-memory deploy request. It is never persisted.
type AutoDeployJob struct {
	ID         string
	Project    ProjectConfig
	Context    AutoDeployContext
	EnqueuedAt time.Time
}

// QueueKey identifies the serialization lane of the job.
func (j AutoDeployJob) QueueKey() string {
	return j.Project.Slug + ":" + j.Context.Branch
}

// Job lifecycle states published to subscribers.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// JobEvent is a lifecycle notification for an auto-deploy job.
type JobEvent struct {
	JobID       string    `json:"jobId"`
	ProjectSlug string    `json:"projectSlug"`
	Branch      string    `json:"branch"`
	CommitHash  string    `json:"commitHash,omitempty"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
