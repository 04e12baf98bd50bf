package backend

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	gssh "github.com/evowfc/evowfc/internal/ssh"
)

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Slurm submits scripts to a SLURM head node over SSH: stage files with
// SFTP, run sbatch, poll squeue/sacct for state, pull results back.
// Transport retries live in the ssh client, not here.
type Slurm struct {
	Client *gssh.Client
}

func NewSlurm(client *gssh.Client) *Slurm {
	return &Slurm{Client: client}
}

func (s *Slurm) Name() string { return "slurm" }

// Submit stages the submission and runs sbatch, returning the numeric job
// id from the scheduler's acknowledgement line. Transport failures are
// retried inside Client.RunCommand; an sbatch rejection is final.
func (s *Slurm) Submit(ctx context.Context, sub Submission) (string, error) {
	cli, err := gssh.Dial(ctx, s.Client)
	if err != nil {
		return "", fmt.Errorf("dial head node: %w", err)
	}
	scriptPath := path.Join(sub.WorkDir, sub.JobName+".sbatch")
	stageErr := func() error {
		if _, err := s.Client.RunCommand(ctx, "mkdir -p "+shellQuote(sub.WorkDir)); err != nil {
			return fmt.Errorf("mkdir workdir: %w", err)
		}
		for local, rel := range sub.Stage {
			remote := path.Join(sub.WorkDir, rel)
			if err := pushPath(ctx, cli, local, remote); err != nil {
				return fmt.Errorf("stage %s: %w", local, err)
			}
		}
		return writeRemote(ctx, cli, scriptPath, sub.Script)
	}()
	_ = cli.Close()
	if stageErr != nil {
		return "", stageErr
	}

	cmd := fmt.Sprintf("cd %s && sbatch %s", shellQuote(sub.WorkDir), shellQuote(scriptPath))
	out, err := s.Client.RunCommand(ctx, cmd)
	if err != nil {
		if strings.Contains(out, "sbatch: error") {
			return "", fmt.Errorf("sbatch rejected job: %s", strings.TrimSpace(out))
		}
		return "", fmt.Errorf("submit: %w", err)
	}
	m := submittedRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(out))
	}
	log.Info().Str("job_id", m[1]).Str("job", sub.JobName).Msg("batch job submitted")
	return m[1], nil
}

// State asks squeue first (covers pending/running) and falls back to sacct
// for jobs that already left the queue.
func (s *Slurm) State(ctx context.Context, jobID string) (JobState, error) {
	out, err := s.Client.RunCommand(ctx, "squeue -h -j "+shellQuote(jobID)+" -o %T")
	if err == nil {
		if st := parseState(out); st != StateUnknown {
			return st, nil
		}
	}
	out, err = s.Client.RunCommand(ctx, "sacct -n -X -j "+shellQuote(jobID)+" -o State")
	if err != nil {
		return StateUnknown, fmt.Errorf("query job state: %w", err)
	}
	st := parseState(out)
	if st == StateUnknown {
		return StateUnknown, fmt.Errorf("no state for job %s", jobID)
	}
	return st, nil
}

func (s *Slurm) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.Client.RunCommand(ctx, "scancel "+shellQuote(jobID)); err != nil {
		return fmt.Errorf("scancel: %w", err)
	}
	return nil
}

// Fetch pulls the submission's declared result files.
func (s *Slurm) Fetch(ctx context.Context, sub Submission) error {
	if len(sub.Fetch) == 0 {
		return nil
	}
	cli, err := gssh.Dial(ctx, s.Client)
	if err != nil {
		return fmt.Errorf("dial head node: %w", err)
	}
	defer cli.Close()
	for rel, local := range sub.Fetch {
		remote := path.Join(sub.WorkDir, rel)
		if err := gssh.PullFile(ctx, cli, remote, local); err != nil {
			return fmt.Errorf("fetch %s: %w", rel, err)
		}
	}
	return nil
}

// parseState maps scheduler output to a JobState. sacct may suffix states,
// e.g. "CANCELLED by 1234".
func parseState(out string) JobState {
	f := strings.Fields(strings.TrimSpace(out))
	if len(f) == 0 {
		return StateUnknown
	}
	st := strings.ToUpper(f[0])
	if i := strings.IndexByte(st, '+'); i > 0 {
		st = st[:i]
	}
	switch {
	case st == "PENDING" || st == "CONFIGURING":
		return StatePending
	case st == "RUNNING" || st == "COMPLETING":
		return StateRunning
	case st == "COMPLETED":
		return StateCompleted
	case st == "TIMEOUT":
		return StateTimeout
	case strings.HasPrefix(st, "CANCELLED"):
		return StateCancelled
	case st == "FAILED" || st == "NODE_FAIL" || st == "OUT_OF_MEMORY" || st == "PREEMPTED":
		return StateFailed
	default:
		return StateUnknown
	}
}

// pushPath stages a local file or directory tree to remote.
func pushPath(ctx context.Context, cli *xssh.Client, local, remote string) error {
	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return gssh.PushDir(ctx, cli, local, remote)
	}
	return gssh.PushFile(ctx, cli, local, remote)
}

func writeRemote(ctx context.Context, cli *xssh.Client, remotePath, content string) error {
	return gssh.WriteFile(ctx, cli, remotePath, []byte(content), 0o755)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
