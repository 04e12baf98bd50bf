package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Local runs scripts as child processes. Job IDs are synthetic and state
// tracking is in-memory; useful for development and tests where no cluster
// is reachable.
type Local struct {
	Shell string // defaults to /bin/sh

	mu     sync.Mutex
	nextID int
	jobs   map[string]*localJob
}

type localJob struct {
	cmd   *exec.Cmd
	state JobState
	done  chan struct{}
}

func NewLocal() *Local {
	return &Local{jobs: map[string]*localJob{}}
}

func (l *Local) Name() string { return "local" }

func (l *Local) shell() string {
	if l.Shell != "" {
		return l.Shell
	}
	return "/bin/sh"
}

// Submit stages files into the workdir, writes the script and starts it.
func (l *Local) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.WorkDir == "" {
		return "", fmt.Errorf("local submit: workdir required")
	}
	if err := os.MkdirAll(sub.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir workdir: %w", err)
	}
	for local, rel := range sub.Stage {
		if err := copyPath(local, filepath.Join(sub.WorkDir, rel)); err != nil {
			return "", fmt.Errorf("stage %s: %w", local, err)
		}
	}
	scriptPath := filepath.Join(sub.WorkDir, sub.JobName+".sbatch")
	if err := os.WriteFile(scriptPath, []byte(sub.Script), 0o755); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}

	cmd := exec.Command(l.shell(), scriptPath)
	cmd.Dir = sub.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start script: %w", err)
	}

	l.mu.Lock()
	l.nextID++
	id := strconv.Itoa(l.nextID)
	job := &localJob{cmd: cmd, state: StateRunning, done: make(chan struct{})}
	l.jobs[id] = job
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		if job.state != StateCancelled {
			if err != nil {
				job.state = StateFailed
			} else {
				job.state = StateCompleted
			}
		}
		l.mu.Unlock()
		close(job.done)
		log.Debug().Str("job", id).Err(err).Msg("local job finished")
	}()
	return id, nil
}

func (l *Local) State(ctx context.Context, jobID string) (JobState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return StateUnknown, fmt.Errorf("unknown job: %s", jobID)
	}
	return job.state, nil
}

func (l *Local) Cancel(ctx context.Context, jobID string) error {
	l.mu.Lock()
	job, ok := l.jobs[jobID]
	if ok && !job.state.Terminal() {
		job.state = StateCancelled
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job: %s", jobID)
	}
	if job.cmd.Process != nil {
		_ = job.cmd.Process.Kill()
	}
	return nil
}

// Fetch is a no-op for the local backend: results are already on disk.
func (l *Local) Fetch(ctx context.Context, sub Submission) error { return nil }

// Wait blocks until the job reaches a terminal state (test helper and
// foreground submissions).
func (l *Local) Wait(ctx context.Context, jobID string) (JobState, error) {
	l.mu.Lock()
	job, ok := l.jobs[jobID]
	l.mu.Unlock()
	if !ok {
		return StateUnknown, fmt.Errorf("unknown job: %s", jobID)
	}
	select {
	case <-ctx.Done():
		return StateUnknown, ctx.Err()
	case <-job.done:
	}
	return l.State(ctx, jobID)
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
