package autodeploy

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/splax/deploydeck/internal/domain"
)

const fakeGit = `#!/bin/sh
{
  printf 'git'
  for a in "$@"; do printf ' [%s]' "$a"; done
  printf '\n'
} >> "$GIT_LOG"
if [ "$1" = "show-ref" ]; then
  exit 1
fi
exit 0
`

func TestBuildScriptQuotesEveryValue(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	repo := filepath.Join(dir, "repo with 'quote'")
	for _, d := range []string{bin, repo} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(bin, "git"), []byte(fakeGit), 0o755); err != nil {
		t.Fatalf("write git: %v", err)
	}
	gitLog := filepath.Join(dir, "git.log")
	out := filepath.Join(dir, "out.txt")

	job := domain.AutoDeployJob{
		ID: "job-1",
		Project: domain.ProjectConfig{
			Slug:          "acme",
			RepoPath:      repo,
			DeployCommand: `printf '%s|%s' "$DEPLOY_BRANCH" "$(pwd)" > "$OUT_FILE"`,
		},
		Context: domain.AutoDeployContext{Branch: "feature/o'brien", CommitHash: "abc", Pusher: "o'neil"},
	}
	script := BuildScript(job, "scripts/deploy-wrapper.sh")

	cmd := exec.Command("sh", "-s")
	cmd.Stdin = strings.NewReader(script)
	cmd.Env = append(os.Environ(),
		"PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"),
		"GIT_LOG="+gitLog,
		"OUT_FILE="+out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("script failed: %v\n%s\n%s", err, output, script)
	}

	logged, err := os.ReadFile(gitLog)
	if err != nil {
		t.Fatalf("read git log: %v", err)
	}
	want := []string{
		"git [fetch] [origin] [refs/heads/feature/o'brien:refs/remotes/origin/feature/o'brien]",
		"git [show-ref] [--verify] [--quiet] [refs/heads/feature/o'brien]",
		"git [checkout] [-b] [feature/o'brien] [--track] [origin/feature/o'brien]",
		"git [reset] [--hard] [origin/feature/o'brien]",
	}
	got := strings.Split(strings.TrimSpace(string(logged)), "\n")
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected git calls:\n%s", logged)
	}

	result, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(result) != "feature/o'brien|"+repo {
		t.Fatalf("unexpected deploy output %q", result)
	}
}

func TestBuildScriptUsesWrapperWhenPresent(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	repo := filepath.Join(dir, "repo")
	if err := os.MkdirAll(filepath.Join(repo, "scripts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bin, "git"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write git: %v", err)
	}
	wrapper := "#!/bin/sh\nprintf 'wrapped:%s' \"$1\" > \"$OUT_FILE\"\n"
	if err := os.WriteFile(filepath.Join(repo, "scripts", "deploy-wrapper.sh"), []byte(wrapper), 0o644); err != nil {
		t.Fatalf("write wrapper: %v", err)
	}
	out := filepath.Join(dir, "out.txt")
	job := domain.AutoDeployJob{
		Project: domain.ProjectConfig{RepoPath: repo, DeployCommand: "make deploy"},
		Context: domain.AutoDeployContext{Branch: "main"},
	}
	cmd := exec.Command("sh", "-s")
	cmd.Stdin = strings.NewReader(BuildScript(job, "scripts/deploy-wrapper.sh"))
	cmd.Env = append(os.Environ(), "PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"), "OUT_FILE="+out)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("script failed: %v\n%s", err, output)
	}
	result, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(result) != "wrapped:make deploy" {
		t.Fatalf("unexpected output %q", result)
	}
}

func TestBuildScriptStopsOnFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	job := domain.AutoDeployJob{
		Project: domain.ProjectConfig{RepoPath: filepath.Join(dir, "missing"), DeployCommand: "touch " + filepath.Join(dir, "ran")},
		Context: domain.AutoDeployContext{Branch: "main"},
	}
	cmd := exec.Command("sh", "-s")
	cmd.Stdin = strings.NewReader(BuildScript(job, ""))
	if err := cmd.Run(); err == nil {
		t.Fatal("expected failure for missing repo path")
	}
	if _, err := os.Stat(filepath.Join(dir, "ran")); err == nil {
		t.Fatal("deploy command ran after a failed step")
	}
}
