package main

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evowfc/evowfc/internal/backend"
	"github.com/evowfc/evowfc/internal/ci"
	"github.com/evowfc/evowfc/internal/config"
	"github.com/evowfc/evowfc/internal/evolve"
	"github.com/evowfc/evowfc/internal/launch"
	gssh "github.com/evowfc/evowfc/internal/ssh"
	"github.com/evowfc/evowfc/internal/store"
	"github.com/evowfc/evowfc/internal/task"
	"github.com/evowfc/evowfc/internal/telemetry"
	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/tune"
	"github.com/evowfc/evowfc/pkg/api"
)

// Load configuration from the --config flag or the default path
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return config.Load(cfgPath)
}

// Resolve the backend registry
func resolveRegistry(ctx context.Context, cfg config.Config) (*backend.Registry, error) {
	reg := backend.NewRegistry()
	reg.Register(backend.NewLocal())
	if cfg.Slurm.Host != "" {
		signer, err := gssh.LoadPrivateKeySigner(filepath.Join(cfg.Slurm.KeyDir, "id_ed25519"))
		if err != nil {
			return nil, fmt.Errorf("slurm backend: %w", err)
		}
		kh, err := gssh.LoadKnownHostsCallback(cfg.Slurm.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("slurm backend: %w", err)
		}
		c := &gssh.Client{
			Addr:       fmt.Sprintf("%s:%d", cfg.Slurm.Host, cfg.Slurm.Port),
			User:       cfg.Slurm.User,
			Signer:     signer,
			KnownHosts: kh,
			Timeout:    15 * time.Second,
			Retries:    2,
			Backoff:    500 * time.Millisecond,
		}
		reg.Register(backend.NewSlurm(c))
	}
	return reg, nil
}

func resolveBackend(ctx context.Context, cfg config.Config, name string) (backend.Backend, error) {
	if name == "" {
		name = cfg.Backend
	}
	reg, err := resolveRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return reg.Get(name)
}

// Build the notifier from config: SMTP when a relay and a recipient are
// configured, otherwise log-only.
func resolveNotifier(cfg config.Config) launch.Notifier {
	recipient := cfg.Directives.MailUser
	if recipient == "" {
		recipient = cfg.Notify.Recipient
	}
	if cfg.Notify.SMTPAddr == "" || recipient == "" {
		return launch.LogNotifier{}
	}
	var auth smtp.Auth
	if cfg.Notify.Username != "" && cfg.SMTPPassword != "" {
		host := cfg.Notify.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.Notify.Username, cfg.SMTPPassword, host)
	}
	return launch.NewSMTPNotifier(cfg.Notify.SMTPAddr, cfg.Notify.From, recipient, auth)
}

// Load a tileset by builtin name or file path
func resolveTileset(name string) (*tileset.Set, error) {
	if _, err := os.Stat(name); err == nil {
		return tileset.LoadFile(name)
	}
	return tileset.Builtin(name)
}

// Build the directive set: config defaults overlaid with flags
func directivesFromFlags(cmd *cobra.Command, cfg config.Config, jobName string) launch.DirectiveSet {
	d := cfg.Directives
	if d.Output == "" {
		d = launch.DefaultDirectives(jobName)
	}
	d.JobName = jobName
	if v, _ := cmd.Flags().GetString("mail-user"); v != "" {
		d.MailUser = v
	}
	if d.MailUser == "" {
		d.MailUser = cfg.Notify.Recipient
	}
	if d.MailUser != "" && len(d.MailTriggers) == 0 {
		d.MailTriggers = []launch.MailTrigger{launch.MailBegin, launch.MailEnd, launch.MailFail}
	}
	if v, _ := cmd.Flags().GetString("account"); v != "" {
		d.Account = v
	}
	if v, _ := cmd.Flags().GetDuration("time-limit"); v > 0 {
		d.TimeLimit = launch.Duration(v)
	}
	return d
}

// Initialize configuration and environment
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "evowfc initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = config.DefaultPath()
			}
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := config.Write(cfgPath, config.Default()); err != nil {
					return err
				}
				fmt.Printf("wrote default config to %s\n", cfgPath)
			} else {
				fmt.Printf("config already exists at %s\n", cfgPath)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Slurm.KeyDir != "" {
				keyPath := filepath.Join(cfg.Slurm.KeyDir, "id_ed25519")
				if _, err := os.Stat(keyPath); os.IsNotExist(err) {
					pub, err := gssh.GenerateEd25519Keypair(keyPath)
					if err != nil {
						return err
					}
					fmt.Printf("generated SSH key at %s\npublic key: %s", keyPath, pub)
				}
			}
			if cfg.Slurm.KnownHosts != "" {
				if err := gssh.EnsureKnownHostsFile(cfg.Slurm.KnownHosts); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// List the registered reward tasks
func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List available reward tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range task.Default().Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// Run a hyperparameter study in-process
func newTuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Run a hyperparameter study for the evolutionary map generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			modeStr, _ := cmd.Flags().GetString("mode")
			mode, err := evolve.ParseMode(modeStr)
			if err != nil {
				return err
			}
			gens, _ := cmd.Flags().GetInt("generations-per-trial")
			hpDir, _ := cmd.Flags().GetString("hyperparameter-dir")
			outFile, _ := cmd.Flags().GetString("output-file")
			tasks, _ := cmd.Flags().GetStringSlice("task")
			trials, _ := cmd.Flags().GetInt("optuna-trials")
			name, _ := cmd.Flags().GetString("name")
			seed, _ := cmd.Flags().GetInt64("seed")
			width, _ := cmd.Flags().GetInt("width")
			height, _ := cmd.Flags().GetInt("height")
			tsName, _ := cmd.Flags().GetString("tileset")
			noStore, _ := cmd.Flags().GetBool("no-store")

			if width == 0 {
				width = cfg.Map.Width
			}
			if height == 0 {
				height = cfg.Map.Height
			}
			if tsName == "" {
				tsName = cfg.Map.Tileset
			}
			ts, err := resolveTileset(tsName)
			if err != nil {
				return err
			}

			opts := tune.Options{
				Name:                name,
				Mode:                mode,
				GenerationsPerTrial: gens,
				Trials:              trials,
				HyperparameterDir:   hpDir,
				OutputFile:          outFile,
				Tasks:               tasks,
				Tileset:             ts,
				Width:               width,
				Height:              height,
				Seed:                seed,
			}
			if !noStore && cfg.StorePath != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
					return err
				}
				st, err := store.Open(cfg.StorePath)
				if err != nil {
					return err
				}
				defer st.Close()
				opts.Store = st
			}

			start := time.Now()
			res, err := tune.Run(cmd.Context(), task.Default(), opts)
			if err != nil {
				return err
			}
			telemetry.TimerGlobal("tune_study_duration", time.Since(start), map[string]string{"mode": modeStr})
			fmt.Printf("study %s: best value %.4f over %d trials\n", res.StudyID, res.BestValue, len(res.Trials))
			fmt.Printf("best parameters written to %s\n", outFile)
			return nil
		},
	}
	cmd.Flags().String("mode", "fi2pop", "evolution mode: fi2pop or penalty")
	cmd.Flags().Int("generations-per-trial", 0, "generations evolved per trial")
	cmd.Flags().String("hyperparameter-dir", "", "directory of search space YAML files")
	cmd.Flags().String("output-file", "", "where to write the best parameters YAML")
	cmd.Flags().StringSlice("task", nil, "reward task tag (repeatable)")
	cmd.Flags().Int("optuna-trials", 0, "trial budget for the study")
	cmd.Flags().String("name", "", "study name")
	cmd.Flags().Int64("seed", 0, "random seed (0 = time-based)")
	cmd.Flags().Int("width", 0, "map width (defaults from config)")
	cmd.Flags().Int("height", 0, "map height (defaults from config)")
	cmd.Flags().String("tileset", "", "builtin tileset name or file path")
	cmd.Flags().Bool("no-store", false, "skip persisting trials to the study database")
	_ = cmd.MarkFlagRequired("generations-per-trial")
	_ = cmd.MarkFlagRequired("hyperparameter-dir")
	_ = cmd.MarkFlagRequired("output-file")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("optuna-trials")
	return cmd
}

// Build the batch script spec from flags
func scriptSpecFromFlags(cmd *cobra.Command, cfg config.Config) (launch.ScriptSpec, error) {
	jobName, _ := cmd.Flags().GetString("name")
	program, _ := cmd.Flags().GetString("program")
	modeStr, _ := cmd.Flags().GetString("mode")
	gens, _ := cmd.Flags().GetInt("generations-per-trial")
	hpDir, _ := cmd.Flags().GetString("hyperparameter-dir")
	outFile, _ := cmd.Flags().GetString("output-file")
	tasks, _ := cmd.Flags().GetStringSlice("task")
	trials, _ := cmd.Flags().GetInt("optuna-trials")

	ta := launch.TuneArgs{
		Mode:                modeStr,
		GenerationsPerTrial: gens,
		HyperparameterDir:   hpDir,
		OutputFile:          outFile,
		Tasks:               tasks,
		OptunaTrials:        trials,
	}
	taArgs, err := ta.Args()
	if err != nil {
		return launch.ScriptSpec{}, err
	}
	return launch.ScriptSpec{
		Directives: directivesFromFlags(cmd, cfg, jobName),
		VenvPath:   cfg.VenvPath,
		Command:    program,
		Args:       taArgs,
	}, nil
}

func addScriptFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "evowfc-tune", "job name")
	cmd.Flags().String("program", "python core/fi2pop.py", "program the job runs")
	cmd.Flags().String("mode", "fi2pop", "evolution mode: fi2pop or penalty")
	cmd.Flags().Int("generations-per-trial", 0, "generations evolved per trial")
	cmd.Flags().String("hyperparameter-dir", "", "directory of search space YAML files")
	cmd.Flags().String("output-file", "", "where the job writes the best parameters YAML")
	cmd.Flags().StringSlice("task", nil, "reward task tag (repeatable)")
	cmd.Flags().Int("optuna-trials", 0, "trial budget for the study")
	cmd.Flags().String("mail-user", "", "notification recipient")
	cmd.Flags().String("account", "", "scheduler account to charge")
	cmd.Flags().Duration("time-limit", 0, "wall-clock limit (e.g. 24h)")
	_ = cmd.MarkFlagRequired("generations-per-trial")
	_ = cmd.MarkFlagRequired("hyperparameter-dir")
	_ = cmd.MarkFlagRequired("output-file")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("optuna-trials")
}

// Render the batch script without submitting it
func newScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Render the batch script for a tuning run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			spec, err := scriptSpecFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			script, err := launch.RenderScript(spec)
			if err != nil {
				return err
			}
			fmt.Print(script)
			return nil
		},
	}
	addScriptFlags(cmd)
	return cmd
}

// Submit a tuning run as a batch job
func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a tuning run to the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			backendName, _ := cmd.Flags().GetString("backend")
			watch, _ := cmd.Flags().GetBool("watch")
			workDir, _ := cmd.Flags().GetString("workdir")
			stage, _ := cmd.Flags().GetStringSlice("stage")
			fetch, _ := cmd.Flags().GetStringSlice("fetch")

			spec, err := scriptSpecFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			b, err := resolveBackend(cmd.Context(), cfg, backendName)
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir = cfg.Slurm.WorkDir
			}
			sub := backend.Submission{
				JobName: spec.Directives.JobName,
				WorkDir: workDir,
			}
			if sub.Stage, err = parseMappingSpecs(stage, "--stage"); err != nil {
				return err
			}
			if sub.Fetch, err = parseMappingSpecs(fetch, "--fetch"); err != nil {
				return err
			}

			l := launch.NewLauncher(b, resolveNotifier(cfg))
			job, err := l.Submit(cmd.Context(), spec, sub)
			if err != nil {
				return err
			}
			telemetry.CounterGlobal("jobs_submitted", 1, map[string]string{"backend": b.Name()})
			fmt.Printf("submitted job %s (%s) via %s\n", job.ID, job.Name, job.Backend)
			if watch {
				st, err := l.Watch(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Printf("job %s finished: %s\n", job.ID, st)
				if st.Failed() {
					return fmt.Errorf("job %s ended in state %s", job.ID, st)
				}
			}
			return nil
		},
	}
	addScriptFlags(cmd)
	cmd.Flags().String("backend", "", "backend name (defaults from config)")
	cmd.Flags().Bool("watch", false, "poll until the job reaches a terminal state")
	cmd.Flags().String("workdir", "", "remote working directory")
	cmd.Flags().StringSlice("stage", nil, "local:remote paths to upload before submit")
	cmd.Flags().StringSlice("fetch", nil, "remote:local paths to download after completion")
	return cmd
}

func parseMappingSpecs(specs []string, flag string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s spec: %s", flag, s)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// Query the state of a submitted job
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a submitted job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jobID, _ := cmd.Flags().GetString("job")
			backendName, _ := cmd.Flags().GetString("backend")
			b, err := resolveBackend(cmd.Context(), cfg, backendName)
			if err != nil {
				return err
			}
			st, err := b.State(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", jobID, st.Public())
			return nil
		},
	}
	cmd.Flags().String("job", "", "job id")
	cmd.Flags().String("backend", "", "backend name (defaults from config)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

// Cancel a submitted job
func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a submitted job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jobID, _ := cmd.Flags().GetString("job")
			backendName, _ := cmd.Flags().GetString("backend")
			b, err := resolveBackend(cmd.Context(), cfg, backendName)
			if err != nil {
				return err
			}
			if err := b.Cancel(cmd.Context(), jobID); err != nil {
				return err
			}
			fmt.Printf("cancelled %s\n", jobID)
			return nil
		},
	}
	cmd.Flags().String("job", "", "job id")
	cmd.Flags().String("backend", "", "backend name (defaults from config)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

// Run the formatting pipeline
func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt",
		Short: "Run the repository formatting pipeline and commit the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			eventStr, _ := cmd.Flags().GetString("event")
			target, _ := cmd.Flags().GetString("target-branch")
			dir, _ := cmd.Flags().GetString("dir")

			var kind ci.EventKind
			switch eventStr {
			case "push":
				kind = ci.EventPush
			case "pull_request":
				kind = ci.EventPullRequest
			default:
				return fmt.Errorf("unknown event: %s", eventStr)
			}
			p := &ci.Pipeline{Runner: ci.ExecRunner{Dir: dir}, Config: cfg.CI}
			ran, err := p.Run(cmd.Context(), ci.Event{Kind: kind, TargetBranch: target})
			if err != nil {
				return err
			}
			if ran == nil {
				fmt.Println("skipped: event does not trigger the pipeline")
				return nil
			}
			fmt.Printf("ran steps: %s\n", strings.Join(ran, ", "))
			return nil
		},
	}
	cmd.Flags().String("event", "push", "triggering event: push or pull_request")
	cmd.Flags().String("target-branch", "", "pull request target branch")
	cmd.Flags().String("dir", ".", "repository directory")
	return cmd
}

// Serve monitoring endpoints
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and study status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")

			st, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			telemetry.InitGlobal(true)
			collector := telemetry.GetGlobal()
			defer telemetry.Shutdown()

			ms := telemetry.NewMonitoringServer(addr, collector, func(ctx context.Context) (any, error) {
				studies, err := st.Studies(ctx)
				if err != nil {
					return nil, err
				}
				doc := api.StatusDocument{Studies: make([]api.StudySummary, 0, len(studies))}
				for _, s := range studies {
					doc.Studies = append(doc.Studies, api.StudySummary{
						ID:        s.ID,
						Name:      s.Name,
						Mode:      s.Mode,
						Tasks:     s.Tasks,
						CreatedAt: s.CreatedAt.Format(time.RFC3339),
					})
				}
				return doc, nil
			})
			for name, check := range telemetry.DefaultHealthChecks() {
				ms.RegisterHealthCheck(name, check)
			}
			ms.RegisterHealthCheck("store", func() telemetry.HealthCheck {
				hc := telemetry.HealthCheck{Name: "store", Status: telemetry.HealthStatusHealthy, Message: "database reachable"}
				if err := st.Ping(cmd.Context()); err != nil {
					hc.Status = telemetry.HealthStatusUnhealthy
					hc.Message = err.Error()
				}
				return hc
			})
			return ms.Start()
		},
	}
	cmd.Flags().String("addr", ":8787", "listen address")
	return cmd
}

// Shell completion
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
}
