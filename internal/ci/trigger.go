// Package ci reproduces the repository's formatting pipeline: decide
// whether an event triggers it, install pinned tools, run the formatter
// tolerating its failure, and commit+push only when the tree changed.
package ci

// EventKind is the repository event that may trigger the pipeline.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Event is one repository event.
type Event struct {
	Kind EventKind
	// TargetBranch is the base branch of a pull request; empty for push.
	TargetBranch string
}

// DefaultBranch gates pull-request events.
const DefaultBranch = "main"

// ShouldRun reports whether the pipeline triggers: every push does, and
// pull requests only when they target the default branch.
func ShouldRun(e Event) bool {
	switch e.Kind {
	case EventPush:
		return true
	case EventPullRequest:
		return e.TargetBranch == DefaultBranch
	default:
		return false
	}
}
