package launch

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evowfc/evowfc/internal/backend"
)

// fakeBackend scripts a sequence of states for one job.
type fakeBackend struct {
	states    []backend.JobState
	idx       int
	submitted backend.Submission
	fetched   int
	submitErr error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Submit(ctx context.Context, sub backend.Submission) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = sub
	return "101", nil
}

func (f *fakeBackend) State(ctx context.Context, jobID string) (backend.JobState, error) {
	st := f.states[f.idx]
	if f.idx < len(f.states)-1 {
		f.idx++
	}
	return st, nil
}

func (f *fakeBackend) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeBackend) Fetch(ctx context.Context, sub backend.Submission) error {
	f.fetched++
	return nil
}

// recordingNotifier captures every notification.
type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.events = append(r.events, n.Event)
	return nil
}

func testSpec(t *testing.T) ScriptSpec {
	t.Helper()
	d := DefaultDirectives("unit-job")
	d.MailUser = "ops@example.com"
	d.Output = filepath.Join(t.TempDir(), "logs", "%x_%j.out")
	d.Error = ""
	return ScriptSpec{Directives: d, Command: "true"}
}

func TestSubmitNotifiesBeginOnce(t *testing.T) {
	fb := &fakeBackend{states: []backend.JobState{backend.StateCompleted}}
	rec := &recordingNotifier{}
	l := NewLauncher(fb, rec)

	spec := testSpec(t)
	job, err := l.Submit(context.Background(), spec, backend.Submission{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "101" || job.Backend != "fake" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(rec.events) != 1 || rec.events[0] != EventBegin {
		t.Fatalf("expected exactly one BEGIN, got %v", rec.events)
	}
	if fb.submitted.Script == "" {
		t.Fatalf("rendered script not handed to backend")
	}
	if fb.submitted.JobName != "unit-job" {
		t.Fatalf("job name not propagated: %q", fb.submitted.JobName)
	}
	// The log directory exists before submission.
	if _, err := os.Stat(filepath.Dir(spec.Directives.Output)); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestSubmitSkipsBeginWithoutTrigger(t *testing.T) {
	fb := &fakeBackend{states: []backend.JobState{backend.StateCompleted}}
	rec := &recordingNotifier{}
	l := NewLauncher(fb, rec)

	spec := testSpec(t)
	spec.Directives.MailTriggers = []MailTrigger{MailFail}
	if _, err := l.Submit(context.Background(), spec, backend.Submission{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("no BEGIN trigger configured, got %v", rec.events)
	}
}

func TestSubmitBackendError(t *testing.T) {
	fb := &fakeBackend{submitErr: fmt.Errorf("sbatch: invalid account")}
	l := NewLauncher(fb, &recordingNotifier{})
	if _, err := l.Submit(context.Background(), testSpec(t), backend.Submission{}); err == nil {
		t.Fatalf("expected submit error")
	}
}

func watchJob(t *testing.T, states []backend.JobState) (backend.JobState, *recordingNotifier, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{states: states}
	rec := &recordingNotifier{}
	l := NewLauncher(fb, rec)
	l.PollInterval = time.Millisecond

	spec := testSpec(t)
	job, err := l.Submit(context.Background(), spec, backend.Submission{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := l.Watch(context.Background(), job)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	return st, rec, fb
}

func TestWatchNotifiesEndOnSuccess(t *testing.T) {
	st, rec, fb := watchJob(t, []backend.JobState{
		backend.StatePending, backend.StateRunning, backend.StateCompleted,
	})
	if st != backend.StateCompleted {
		t.Fatalf("terminal state %s, want COMPLETED", st)
	}
	want := []Event{EventBegin, EventEnd}
	if len(rec.events) != 2 || rec.events[0] != want[0] || rec.events[1] != want[1] {
		t.Fatalf("notifications %v, want %v", rec.events, want)
	}
	if fb.fetched != 1 {
		t.Fatalf("results fetched %d times, want 1", fb.fetched)
	}
}

func TestWatchNotifiesFailOnFailure(t *testing.T) {
	st, rec, _ := watchJob(t, []backend.JobState{
		backend.StateRunning, backend.StateFailed,
	})
	if st != backend.StateFailed {
		t.Fatalf("terminal state %s, want FAILED", st)
	}
	if len(rec.events) != 2 || rec.events[1] != EventFail {
		t.Fatalf("expected FAIL notification, got %v", rec.events)
	}
}

func TestWatchTimeoutCountsAsFailure(t *testing.T) {
	st, rec, _ := watchJob(t, []backend.JobState{backend.StateTimeout})
	if st != backend.StateTimeout {
		t.Fatalf("terminal state %s, want TIMEOUT", st)
	}
	if rec.events[len(rec.events)-1] != EventFail {
		t.Fatalf("timeout should notify FAIL, got %v", rec.events)
	}
}

func TestEnsureLogDirIdempotent(t *testing.T) {
	d := DefaultDirectives("job")
	d.Output = filepath.Join(t.TempDir(), "logs", "%x_%j.out")
	if err := EnsureLogDir(d); err != nil {
		t.Fatalf("first EnsureLogDir: %v", err)
	}
	if err := EnsureLogDir(d); err != nil {
		t.Fatalf("second EnsureLogDir: %v", err)
	}

	// No directory component: nothing to create.
	d.Output = "plain.log"
	if err := EnsureLogDir(d); err != nil {
		t.Fatalf("bare filename: %v", err)
	}
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewSMTPNotifier("relay:25", "noreply@cluster", "ops@example.com", nil)
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := n.Notify(context.Background(), Notification{
		Event:   EventEnd,
		JobName: "wfc-tune",
		JobID:   "4242",
		Detail:  "terminal state: COMPLETED",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotAddr != "relay:25" || gotFrom != "noreply@cluster" {
		t.Fatalf("relay/from: %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("recipients: %v", gotTo)
	}
	body := string(gotMsg)
	for _, want := range []string{"To: ops@example.com", "Subject:", "END", "wfc-tune", "4242"} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q:\n%s", want, body)
		}
	}
}

func TestSMTPNotifierRequiresRecipient(t *testing.T) {
	n := NewSMTPNotifier("relay:25", "noreply@cluster", "", nil)
	if err := n.Notify(context.Background(), Notification{Event: EventBegin}); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
