package autodeploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

const outputTailLines = 40

// Executor runs a shell script on host, or locally when host is empty.
type Executor interface {
	RunScript(ctx context.Context, host, script string) (remote.Result, error)
}

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(event domain.JobEvent) error
}

// Orchestrator accepts matched pushes and runs their deploy scripts through
// a per project and branch queue.
type Orchestrator struct {
	exec    Executor
	events  Publisher
	logger  *slog.Logger
	queue   *Queue
	metrics *metrics
	timeout time.Duration
	wrapper string
	now     func() time.Time
	newID   func() string
}

// New builds an orchestrator. events may be nil. Metrics are registered with
// reg when it is not nil.
func New(exec Executor, events Publisher, logger *slog.Logger, cfg config.APIConfig, reg prometheus.Registerer) *Orchestrator {
	return &Orchestrator{
		exec:    exec,
		events:  events,
		logger:  logger,
		queue:   NewQueue(logger),
		metrics: newMetrics(reg),
		timeout: cfg.AutoDeployTimeout,
		wrapper: cfg.AutoDeployWrapper,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Enqueue schedules a deploy of project for push and returns immediately.
func (o *Orchestrator) Enqueue(project domain.ProjectConfig, push domain.AutoDeployContext) domain.AutoDeployJob {
	job := domain.AutoDeployJob{
		ID:         o.newID(),
		Project:    project,
		Context:    push,
		EnqueuedAt: o.now().UTC(),
	}
	o.logger.Info("auto deploy queued", jobAttrs(job)...)
	o.publish(job, domain.JobQueued, "")
	o.queue.Submit(job.QueueKey(), func() { o.run(job) })
	return job
}

// Wait blocks until all queued jobs finish or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	return o.queue.Wait(ctx)
}

// Pending reports how many project and branch pairs have queued work.
func (o *Orchestrator) Pending() int {
	return o.queue.Keys()
}

func (o *Orchestrator) run(job domain.AutoDeployJob) {
	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	o.publish(job, domain.JobRunning, "")
	o.metrics.running.Inc()
	defer o.metrics.running.Dec()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("auto deploy panicked", append(jobAttrs(job), "panic", p)...)
			o.metrics.jobs.WithLabelValues(job.Project.Slug, domain.JobFailed).Inc()
			o.publish(job, domain.JobFailed, fmt.Sprintf("panic: %v", p))
		}
	}()
	started := time.Now()
	o.logger.Info("auto deploy started", jobAttrs(job)...)

	res, err := o.exec.RunScript(ctx, job.Project.RemoteHost, BuildScript(job, o.wrapper))

	elapsed := time.Since(started)
	state := domain.JobSucceeded
	if err != nil {
		state = domain.JobFailed
	}
	o.metrics.jobs.WithLabelValues(job.Project.Slug, state).Inc()
	o.metrics.duration.WithLabelValues(job.Project.Slug, state).Observe(elapsed.Seconds())

	attrs := append(jobAttrs(job), "duration", elapsed.String(), "output_truncated", res.Truncated)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timed out after " + o.timeout.String()
		}
		attrs = append(attrs, "error", reason, "stderr", remote.LastLines(res.Stderr, outputTailLines))
		o.logger.Error("auto deploy failed", attrs...)
		o.publish(job, domain.JobFailed, reason)
		return
	}
	o.logger.Info("auto deploy finished", attrs...)
	o.logger.Debug("auto deploy output", "job_id", job.ID, "stdout", remote.LastLines(res.Stdout, outputTailLines))
	o.publish(job, domain.JobSucceeded, "")
}

func (o *Orchestrator) publish(job domain.AutoDeployJob, state, reason string) {
	if o.events == nil {
		return
	}
	err := o.events.Publish(domain.JobEvent{
		JobID:       job.ID,
		ProjectSlug: job.Project.Slug,
		Branch:      job.Context.Branch,
		CommitHash:  job.Context.CommitHash,
		State:       state,
		Error:       reason,
		At:          o.now().UTC(),
	})
	if err != nil {
		o.logger.Warn("failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func jobAttrs(job domain.AutoDeployJob) []any {
	return []any{
		"job_id", job.ID,
		"project", job.Project.Slug,
		"repository", job.Project.Repository,
		"branch", job.Context.Branch,
		"commit", job.Context.CommitHash,
		"pusher", job.Context.Pusher,
		"remote_host", job.Project.RemoteHost,
	}
}
