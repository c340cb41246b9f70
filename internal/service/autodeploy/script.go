package autodeploy

import (
	"fmt"
	"strings"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/remote"
)

// BuildScript renders the POSIX shell script that syncs the project's
// checkout to origin/<branch> and runs its deploy command. Every
// interpolated value is single-quoted.
func BuildScript(job domain.AutoDeployJob, wrapper string) string {
	q := remote.ShellQuote
	branch := job.Context.Branch
	localRef := "refs/heads/" + branch
	remoteBranch := "origin/" + branch
	refspec := localRef + ":refs/remotes/origin/" + branch

	var b strings.Builder
	b.WriteString("set -eu\n")
	b.WriteString("export GIT_TERMINAL_PROMPT=0\n")
	fmt.Fprintf(&b, "export DEPLOY_JOB_ID=%s DEPLOY_PROJECT=%s DEPLOY_BRANCH=%s DEPLOY_COMMIT=%s DEPLOY_PUSHER=%s\n",
		q(job.ID), q(job.Project.Slug), q(branch), q(job.Context.CommitHash), q(job.Context.Pusher))
	fmt.Fprintf(&b, "cd %s\n", q(job.Project.RepoPath))
	fmt.Fprintf(&b, "git fetch origin %s\n", q(refspec))
	fmt.Fprintf(&b, "if git show-ref --verify --quiet %s; then\n", q(localRef))
	fmt.Fprintf(&b, "  git checkout %s\n", q(branch))
	b.WriteString("else\n")
	fmt.Fprintf(&b, "  git checkout -b %s --track %s\n", q(branch), q(remoteBranch))
	b.WriteString("fi\n")
	fmt.Fprintf(&b, "git reset --hard %s\n", q(remoteBranch))
	wrapper = strings.TrimSpace(wrapper)
	if wrapper != "" {
		fmt.Fprintf(&b, "if [ -f %s ]; then\n", q(wrapper))
		fmt.Fprintf(&b, "  sh %s %s\n", q(wrapper), q(job.Project.DeployCommand))
		b.WriteString("else\n")
		fmt.Fprintf(&b, "  sh -c %s\n", q(job.Project.DeployCommand))
		b.WriteString("fi\n")
	} else {
		fmt.Fprintf(&b, "sh -c %s\n", q(job.Project.DeployCommand))
	}
	return b.String()
}
