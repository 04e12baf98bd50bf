package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalSubmitRunsScript(t *testing.T) {
	l := NewLocal()
	work := t.TempDir()

	id, err := l.Submit(context.Background(), Submission{
		JobName: "unit",
		Script:  "#!/bin/sh\necho done > marker.txt\n",
		WorkDir: work,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := l.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st != StateCompleted {
		t.Fatalf("state %s, want COMPLETED", st)
	}
	if _, err := os.Stat(filepath.Join(work, "marker.txt")); err != nil {
		t.Fatalf("script did not run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "unit.sbatch")); err != nil {
		t.Fatalf("script file not written: %v", err)
	}
}

func TestLocalFailedScript(t *testing.T) {
	l := NewLocal()
	id, err := l.Submit(context.Background(), Submission{
		JobName: "boom",
		Script:  "#!/bin/sh\nexit 3\n",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := l.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st != StateFailed {
		t.Fatalf("state %s, want FAILED", st)
	}
}

func TestLocalStagesFiles(t *testing.T) {
	l := NewLocal()
	src := filepath.Join(t.TempDir(), "input.yaml")
	if err := os.WriteFile(src, []byte("ga: {}\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	work := t.TempDir()

	id, err := l.Submit(context.Background(), Submission{
		JobName: "staged",
		Script:  "#!/bin/sh\ntest -f conf/input.yaml\n",
		WorkDir: work,
		Stage:   map[string]string{src: "conf/input.yaml"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := l.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st != StateCompleted {
		t.Fatalf("staged file missing inside job, state %s", st)
	}
}

func TestLocalCancel(t *testing.T) {
	l := NewLocal()
	id, err := l.Submit(context.Background(), Submission{
		JobName: "sleeper",
		Script:  "#!/bin/sh\nsleep 30\n",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := l.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, err := l.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st != StateCancelled {
		t.Fatalf("state %s, want CANCELLED", st)
	}
}

func TestLocalUnknownJob(t *testing.T) {
	l := NewLocal()
	if _, err := l.State(context.Background(), "999"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
	if err := l.Cancel(context.Background(), "999"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestLocalRequiresWorkdir(t *testing.T) {
	l := NewLocal()
	if _, err := l.Submit(context.Background(), Submission{JobName: "x", Script: "true"}); err == nil {
		t.Fatalf("expected error without workdir")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewLocal())
	if _, err := r.Get("local"); err != nil {
		t.Fatalf("local should be registered: %v", err)
	}
	if _, err := r.Get("slurm"); err == nil {
		t.Fatalf("expected error for unregistered backend")
	}
}
