package runner

import (
	"os"
	"os/exec"
	"os/user"
	"strings"
)

// GitSnapshot is the repository state captured at attempt time.
// Zero values mean the working directory is not a git checkout or git
// was unavailable; capture never fails an execution.
type GitSnapshot struct {
	Commit string
	Branch string
	Dirty  bool
}

// CaptureGit records the git state of a working directory, best effort.
func CaptureGit(dir string) GitSnapshot {
	var snap GitSnapshot
	commit, err := gitOutput(dir, "rev-parse", "HEAD")
	if err != nil {
		return snap
	}
	snap.Commit = commit
	if branch, err := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		snap.Branch = branch
	}
	if status, err := gitOutput(dir, "status", "--porcelain"); err == nil {
		snap.Dirty = status != ""
	}
	return snap
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ciEnvVars are the provider markers worth preserving on an attempt.
var ciEnvVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITHUB_RUN_ID",
	"GITHUB_REF",
	"GITLAB_CI",
	"CI_PIPELINE_ID",
	"JENKINS_URL",
	"BUILD_NUMBER",
	"BUILDKITE",
	"BUILDKITE_BUILD_ID",
	"CIRCLECI",
	"CIRCLE_BUILD_NUM",
}

// DetectCI collects the CI provider variables present in an environment.
// Returns nil when none are set.
func DetectCI(environ []string) map[string]string {
	present := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			present[k] = v
		}
	}
	var ci map[string]string
	for _, key := range ciEnvVars {
		if v, ok := present[key]; ok {
			if ci == nil {
				ci = make(map[string]string)
			}
			ci[key] = v
		}
	}
	return ci
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
