// Package backend abstracts where a rendered batch script runs: a local
// process for development, or sbatch on a SLURM head node over SSH.
package backend

import (
	"context"
	"fmt"

	"github.com/evowfc/evowfc/pkg/api"
)

// JobState is the scheduler-visible lifecycle of a submitted job. Names
// follow sacct.
type JobState string

const (
	StatePending   JobState = "PENDING"
	StateRunning   JobState = "RUNNING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
	StateTimeout   JobState = "TIMEOUT"
	StateCancelled JobState = "CANCELLED"
	StateUnknown   JobState = "UNKNOWN"
)

// Terminal reports whether a state is final.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Failed reports whether a terminal state counts as a failure.
func (s JobState) Failed() bool {
	return s == StateFailed || s == StateTimeout || s == StateCancelled
}

// Public maps a scheduler state to the public API form.
func (s JobState) Public() api.JobStatus {
	switch s {
	case StatePending:
		return api.JobPending
	case StateRunning:
		return api.JobRunning
	case StateCompleted:
		return api.JobCompleted
	case StateCancelled:
		return api.JobCancelled
	case StateFailed, StateTimeout:
		return api.JobFailed
	}
	return api.JobStatus("unknown")
}

// Submission is one job handed to a backend.
type Submission struct {
	JobName string
	Script  string            // rendered batch script content
	WorkDir string            // remote/local working directory
	Stage   map[string]string // local path -> workdir-relative path to stage before submit
	Fetch   map[string]string // workdir-relative path -> local path to pull after completion
}

// Backend submits scripts and reports job state.
type Backend interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (jobID string, err error)
	State(ctx context.Context, jobID string) (JobState, error)
	Cancel(ctx context.Context, jobID string) error
	// Fetch pulls the submission's declared result files after the job
	// reached a terminal state.
	Fetch(ctx context.Context, sub Submission) error
}

// Registry holds backends by name.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{}}
}

func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend not registered: %s", name)
	}
	return b, nil
}
