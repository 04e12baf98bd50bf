package launch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/evowfc/evowfc/internal/backend"
)

// Job is one submitted batch job as the launcher tracks it.
type Job struct {
	ID         string
	Name       string
	Backend    string
	Submission backend.Submission
	Directives DirectiveSet
}

// Launcher submits rendered scripts through a backend and drives the
// notification contract: one start notification per submission, terminal
// notifications per the directive set's mail triggers.
type Launcher struct {
	Backend  backend.Backend
	Notifier Notifier
	// PollInterval controls Watch; defaults to 30s.
	PollInterval time.Duration
}

func NewLauncher(b backend.Backend, n Notifier) *Launcher {
	if n == nil {
		n = LogNotifier{}
	}
	return &Launcher{Backend: b, Notifier: n}
}

// EnsureLogDir creates the local log directory derived from the output
// template. Idempotent; called before any submission so the scheduler has
// somewhere to write.
func EnsureLogDir(d DirectiveSet) error {
	dir := logDir(d)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

// Submit renders the script and hands it off. The start notification fires
// exactly once, before handoff, matching BEGIN mail semantics. Failure of
// the delegated program is not handled here; it surfaces through Watch as
// the backend's terminal state.
func (l *Launcher) Submit(ctx context.Context, spec ScriptSpec, sub backend.Submission) (*Job, error) {
	if err := EnsureLogDir(spec.Directives); err != nil {
		return nil, err
	}
	script, err := RenderScript(spec)
	if err != nil {
		return nil, err
	}
	sub.JobName = spec.Directives.JobName
	sub.Script = script

	if spec.Directives.WantsMail(MailBegin) {
		if err := l.Notifier.Notify(ctx, Notification{Event: EventBegin, JobName: sub.JobName}); err != nil {
			log.Warn().Err(err).Msg("start notification failed")
		}
	}

	id, err := l.Backend.Submit(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("submit job %s: %w", sub.JobName, err)
	}
	log.Info().Str("job", sub.JobName).Str("job_id", id).Str("backend", l.Backend.Name()).Msg("job submitted")
	return &Job{
		ID:         id,
		Name:       sub.JobName,
		Backend:    l.Backend.Name(),
		Submission: sub,
		Directives: spec.Directives,
	}, nil
}

// Watch polls until the job reaches a terminal state, then fetches result
// files and sends the terminal notification the triggers ask for. Returns
// the terminal state.
func (l *Launcher) Watch(ctx context.Context, job *Job) (backend.JobState, error) {
	interval := l.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := l.Backend.State(ctx, job.ID)
		if err != nil {
			return backend.StateUnknown, err
		}
		if st.Terminal() {
			if err := l.Backend.Fetch(ctx, job.Submission); err != nil {
				log.Warn().Err(err).Str("job_id", job.ID).Msg("result fetch failed")
			}
			l.notifyTerminal(ctx, job, st)
			return st, nil
		}
		select {
		case <-ctx.Done():
			return backend.StateUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Launcher) notifyTerminal(ctx context.Context, job *Job, st backend.JobState) {
	var event Event
	if st.Failed() {
		event = EventFail
		if !job.Directives.WantsMail(MailFail) {
			return
		}
	} else {
		event = EventEnd
		if !job.Directives.WantsMail(MailEnd) {
			return
		}
	}
	n := Notification{
		Event:   event,
		JobName: job.Name,
		JobID:   job.ID,
		Detail:  fmt.Sprintf("terminal state: %s", st),
	}
	if err := l.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("terminal notification failed")
	}
}
