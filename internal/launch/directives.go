// Package launch turns a job description into a batch script, hands it to
// a backend, and notifies a fixed recipient on start, completion and
// failure.
package launch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sbatchPrefix is the directive marker SLURM scans for at the top of a
// batch script.
const sbatchPrefix = "#SBATCH"

// MailTrigger is a scheduler mail event.
type MailTrigger string

const (
	MailBegin MailTrigger = "BEGIN"
	MailEnd   MailTrigger = "END"
	MailFail  MailTrigger = "FAIL"
)

// Duration is a time.Duration that travels through YAML as a readable
// string such as "24h" or "90m" instead of integer nanoseconds.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// DirectiveSet is the resource and behavior request submitted with a job.
// Immutable once rendered; the scheduler reads it before execution.
type DirectiveSet struct {
	JobName      string        `yaml:"job_name"`
	Output       string        `yaml:"output"` // log path template, %x/%j expanded
	Error        string        `yaml:"error"`
	MailTriggers []MailTrigger `yaml:"mail_triggers"`
	MailUser     string        `yaml:"mail_user"`
	TimeLimit    Duration      `yaml:"time_limit"`
	Nodes        int           `yaml:"nodes"`
	NTasks       int           `yaml:"ntasks"`
	CPUsPerTask  int           `yaml:"cpus_per_task"`
	Memory       string        `yaml:"memory"` // e.g. 16G
	Account      string        `yaml:"account"`
}

// DefaultDirectives mirrors the envelope the launch script requested: one
// node, one task, bounded CPUs and memory.
func DefaultDirectives(jobName string) DirectiveSet {
	return DirectiveSet{
		JobName:      jobName,
		Output:       "logs/%x_%j.out",
		Error:        "logs/%x_%j.err",
		MailTriggers: []MailTrigger{MailBegin, MailEnd, MailFail},
		TimeLimit:    Duration(24 * time.Hour),
		Nodes:        1,
		NTasks:       1,
		CPUsPerTask:  16,
		Memory:       "32G",
	}
}

// Validate checks the resource envelope.
func (d DirectiveSet) Validate() error {
	if d.JobName == "" {
		return fmt.Errorf("job name required")
	}
	if d.Nodes <= 0 || d.NTasks <= 0 || d.CPUsPerTask <= 0 {
		return fmt.Errorf("nodes, ntasks and cpus-per-task must be positive")
	}
	if d.TimeLimit <= 0 {
		return fmt.Errorf("time limit must be positive")
	}
	if len(d.MailTriggers) > 0 && d.MailUser == "" {
		return fmt.Errorf("mail triggers set but no mail user")
	}
	return nil
}

// WantsMail reports whether the trigger list includes t.
func (d DirectiveSet) WantsMail(t MailTrigger) bool {
	for _, mt := range d.MailTriggers {
		if mt == t {
			return true
		}
	}
	return false
}

// Lines renders the directive block deterministically.
func (d DirectiveSet) Lines() []string {
	out := []string{
		fmt.Sprintf("%s --job-name=%s", sbatchPrefix, d.JobName),
	}
	if d.Output != "" {
		out = append(out, fmt.Sprintf("%s --output=%s", sbatchPrefix, d.Output))
	}
	if d.Error != "" {
		out = append(out, fmt.Sprintf("%s --error=%s", sbatchPrefix, d.Error))
	}
	if len(d.MailTriggers) > 0 {
		ts := make([]string, len(d.MailTriggers))
		for i, t := range d.MailTriggers {
			ts[i] = string(t)
		}
		sort.Strings(ts)
		out = append(out,
			fmt.Sprintf("%s --mail-type=%s", sbatchPrefix, strings.Join(ts, ",")),
			fmt.Sprintf("%s --mail-user=%s", sbatchPrefix, d.MailUser))
	}
	out = append(out,
		fmt.Sprintf("%s --time=%s", sbatchPrefix, formatTimeLimit(time.Duration(d.TimeLimit))),
		fmt.Sprintf("%s --nodes=%d", sbatchPrefix, d.Nodes),
		fmt.Sprintf("%s --ntasks=%d", sbatchPrefix, d.NTasks),
		fmt.Sprintf("%s --cpus-per-task=%d", sbatchPrefix, d.CPUsPerTask))
	if d.Memory != "" {
		out = append(out, fmt.Sprintf("%s --mem=%s", sbatchPrefix, d.Memory))
	}
	if d.Account != "" {
		out = append(out, fmt.Sprintf("%s --account=%s", sbatchPrefix, d.Account))
	}
	return out
}

// formatTimeLimit renders a duration as D-HH:MM:SS or HH:MM:SS.
func formatTimeLimit(d time.Duration) string {
	total := int(d.Seconds())
	days := total / 86400
	total %= 86400
	h, m, s := total/3600, (total%3600)/60, total%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ExpandLogPattern substitutes %x (job name) and %j (job id) the way the
// scheduler does for log paths.
func ExpandLogPattern(pattern, jobName, jobID string) string {
	r := strings.NewReplacer("%x", jobName, "%j", jobID)
	return r.Replace(pattern)
}
