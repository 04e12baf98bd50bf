package api

// v0 contains public types served by the monitoring endpoints.

// StudySummary describes one tuning study for /v0/status consumers.
type StudySummary struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Mode      string `json:"mode" yaml:"mode"`
	Tasks     string `json:"tasks" yaml:"tasks"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// StatusDocument is the body of /v0/status.
type StatusDocument struct {
	Studies []StudySummary `json:"studies" yaml:"studies"`
}

// JobStatus is the lifecycle of a submitted batch job as reported by a
// backend.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)
