package ci

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Runner executes one command and returns its error (non-nil for a
// non-zero exit). Injected so the pipeline is testable without git or the
// formatter installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands in a working directory.
type ExecRunner struct {
	Dir string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Step is one pipeline command.
type Step struct {
	Name            string
	Cmd             []string
	ContinueOnError bool
}

// Config pins the tool versions and identity the pipeline uses.
type Config struct {
	RuffVersion string `yaml:"ruff_version"`
	UVVersion   string `yaml:"uv_version"`
	CommitName  string `yaml:"commit_name"`
	CommitEmail string `yaml:"commit_email"`
	CommitMsg   string `yaml:"commit_msg"`
}

// DefaultConfig matches the workflow's pinned versions.
func DefaultConfig() Config {
	return Config{
		RuffVersion: "0.4.4",
		UVVersion:   "0.1.44",
		CommitName:  "format-bot",
		CommitEmail: "format-bot@users.noreply.github.com",
		CommitMsg:   "style: apply automatic formatting",
	}
}

// Pipeline is the ordered formatting run.
type Pipeline struct {
	Runner Runner
	Config Config
}

// Steps returns the pipeline in execution order. The formatter step
// carries ContinueOnError: a formatter crash must not fail the run.
func (p *Pipeline) Steps() []Step {
	c := p.Config
	return []Step{
		{Name: "install-uv", Cmd: []string{"pip", "install", "uv==" + c.UVVersion}},
		{Name: "install-ruff", Cmd: []string{"uv", "pip", "install", "--system", "ruff==" + c.RuffVersion}},
		{Name: "format", Cmd: []string{"ruff", "check", "--fix", "."}, ContinueOnError: true},
		{Name: "format-style", Cmd: []string{"ruff", "format", "."}, ContinueOnError: true},
	}
}

// Run executes the pipeline for an event. Returns the names of the steps
// that actually ran. The commit step is gated on `git diff-index --quiet
// HEAD` failing, i.e. the tree differing after formatting; push happens
// only after a commit.
func (p *Pipeline) Run(ctx context.Context, e Event) ([]string, error) {
	if !ShouldRun(e) {
		log.Debug().Str("kind", string(e.Kind)).Str("target", e.TargetBranch).Msg("event does not trigger format pipeline")
		return nil, nil
	}

	var ran []string
	for _, s := range p.Steps() {
		err := p.Runner.Run(ctx, s.Cmd[0], s.Cmd[1:]...)
		ran = append(ran, s.Name)
		if err != nil {
			if s.ContinueOnError {
				log.Warn().Err(err).Str("step", s.Name).Msg("step failed, continuing")
				continue
			}
			return ran, fmt.Errorf("step %s: %w", s.Name, err)
		}
	}

	// No changes: diff-index exits zero and the commit is skipped.
	if err := p.Runner.Run(ctx, "git", "diff-index", "--quiet", "HEAD"); err == nil {
		log.Info().Msg("working tree clean, nothing to commit")
		return ran, nil
	}

	c := p.Config
	commit := []Step{
		{Name: "git-config-name", Cmd: []string{"git", "config", "user.name", c.CommitName}},
		{Name: "git-config-email", Cmd: []string{"git", "config", "user.email", c.CommitEmail}},
		{Name: "git-add", Cmd: []string{"git", "add", "-A"}},
		{Name: "git-commit", Cmd: []string{"git", "commit", "-m", c.CommitMsg}},
		{Name: "git-push", Cmd: []string{"git", "push"}},
	}
	for _, s := range commit {
		if err := p.Runner.Run(ctx, s.Cmd[0], s.Cmd[1:]...); err != nil {
			return ran, fmt.Errorf("step %s: %w", s.Name, err)
		}
		ran = append(ran, s.Name)
	}
	return ran, nil
}
