package launch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// TuneArgs is the fixed argument set forwarded to the tuner. Every field
// is required and at least one task must be present.
type TuneArgs struct {
	Mode                string
	GenerationsPerTrial int
	HyperparameterDir   string
	OutputFile          string
	Tasks               []string
	OptunaTrials        int
}

// Validate enforces the invocation contract.
func (a TuneArgs) Validate() error {
	if a.Mode == "" {
		return fmt.Errorf("mode required")
	}
	if a.GenerationsPerTrial <= 0 {
		return fmt.Errorf("generations-per-trial must be > 0")
	}
	if a.HyperparameterDir == "" {
		return fmt.Errorf("hyperparameter-dir required")
	}
	if a.OutputFile == "" {
		return fmt.Errorf("output-file required")
	}
	if len(a.Tasks) == 0 {
		return fmt.Errorf("at least one task required")
	}
	if a.OptunaTrials <= 0 {
		return fmt.Errorf("optuna-trials must be > 0")
	}
	return nil
}

// Args renders the command-line argument list, one --task per tag.
func (a TuneArgs) Args() ([]string, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := []string{
		"--mode", a.Mode,
		"--generations-per-trial", strconv.Itoa(a.GenerationsPerTrial),
		"--hyperparameter-dir", a.HyperparameterDir,
		"--output-file", a.OutputFile,
	}
	for _, t := range a.Tasks {
		out = append(out, "--task", t)
	}
	out = append(out, "--optuna-trials", strconv.Itoa(a.OptunaTrials))
	return out, nil
}

// ScriptSpec is everything needed to render a batch script.
type ScriptSpec struct {
	Directives DirectiveSet
	// VenvPath, when set, is sourced before the command runs (the
	// delegated program may be the Python pipeline).
	VenvPath string
	// Command is the program the job runs; Args its argument list.
	Command string
	Args    []string
}

// RenderScript produces the batch script: shebang, directive block, log
// directory creation, environment activation and the delegated command.
// Rendering is deterministic for a given spec.
func RenderScript(spec ScriptSpec) (string, error) {
	if err := spec.Directives.Validate(); err != nil {
		return "", fmt.Errorf("directives: %w", err)
	}
	if spec.Command == "" {
		return "", fmt.Errorf("command required")
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, line := range spec.Directives.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	// Log directory must exist before the scheduler or the job writes to
	// it; mkdir -p keeps this idempotent.
	if dir := logDir(spec.Directives); dir != "" {
		fmt.Fprintf(&b, "mkdir -p %s\n", dir)
	}
	fmt.Fprintf(&b, "echo \"Job $SLURM_JOB_ID ($SLURM_JOB_NAME) started on $(hostname) by $USER\"\n")
	if spec.VenvPath != "" {
		fmt.Fprintf(&b, "source %s/bin/activate\n", spec.VenvPath)
	}
	b.WriteString(spec.Command)
	for _, a := range spec.Args {
		b.WriteByte(' ')
		b.WriteString(shellWord(a))
	}
	b.WriteByte('\n')
	return b.String(), nil
}

// logDir extracts the directory of the output log template, if any.
func logDir(d DirectiveSet) string {
	if d.Output == "" {
		return ""
	}
	dir := filepath.Dir(d.Output)
	if dir == "." {
		return ""
	}
	return dir
}

func shellWord(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
