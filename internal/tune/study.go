package tune

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/evowfc/evowfc/internal/evolve"
	"github.com/evowfc/evowfc/internal/store"
	"github.com/evowfc/evowfc/internal/task"
	"github.com/evowfc/evowfc/internal/tileset"
)

// failedTrialValue ranks trials that never reached feasibility below every
// completed one while still ordering them by how close they got.
const failedTrialValue = -1e9

// Options configures a study run. Mode, GenerationsPerTrial,
// HyperparameterDir, OutputFile, Trials and at least one task are the
// contract of the tune command; the rest have defaults.
type Options struct {
	Name                string
	Mode                evolve.Mode
	GenerationsPerTrial int
	Trials              int // the --optuna-trials budget
	HyperparameterDir   string
	OutputFile          string
	Tasks               []string
	Tileset             *tileset.Set
	Width               int
	Height              int
	Seed                int64
	Store               *store.Store // optional trial persistence
}

func (o *Options) validate() error {
	if o.GenerationsPerTrial <= 0 {
		return fmt.Errorf("generations-per-trial must be > 0, got %d", o.GenerationsPerTrial)
	}
	if o.Trials <= 0 {
		return fmt.Errorf("trials must be > 0, got %d", o.Trials)
	}
	if o.HyperparameterDir == "" {
		return errors.New("hyperparameter-dir is required")
	}
	if o.OutputFile == "" {
		return errors.New("output-file is required")
	}
	if len(o.Tasks) == 0 {
		return errors.New("at least one task is required")
	}
	if o.Tileset == nil {
		return errors.New("tileset is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("map size must be positive, got %dx%d", o.Width, o.Height)
	}
	return nil
}

// TrialResult is one completed trial.
type TrialResult struct {
	Number int
	Params map[string]any
	Value  float64
	Err    error
}

// StudyResult summarizes a finished study.
type StudyResult struct {
	StudyID    string
	BestParams map[string]any
	BestValue  float64
	Trials     []TrialResult
}

// Run executes the full study: Trials parameter sets, each evaluated with
// GenerationsPerTrial generations per task; the trial value is the mean
// best fitness across tasks. The best parameter set is written to
// OutputFile as YAML under a `ga:` key.
func Run(ctx context.Context, reg *task.Registry, opts Options) (*StudyResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tasks := make([]task.Task, 0, len(opts.Tasks))
	for _, tag := range opts.Tasks {
		t, err := reg.Get(tag)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	space, err := LoadDir(opts.HyperparameterDir)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	sampler := NewSampler(space, opts.Trials, rng)

	res := &StudyResult{StudyID: uuid.NewString(), BestValue: failedTrialValue}
	if opts.Store != nil {
		st := store.Study{
			ID:        res.StudyID,
			Name:      opts.Name,
			Mode:      string(opts.Mode),
			Tasks:     strings.Join(opts.Tasks, ","),
			CreatedAt: time.Now(),
		}
		if err := opts.Store.CreateStudy(ctx, st); err != nil {
			return nil, err
		}
	}

	adj := tileset.BuildAdjacency(opts.Tileset)
	haveBest := false

	for trial := 0; trial < opts.Trials; trial++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		params := sampler.Next(trial, bestHalf(res.Trials))
		value, trialErr := runTrial(ctx, opts, adj, tasks, params, rng)

		tr := TrialResult{Number: trial, Params: params, Value: value, Err: trialErr}
		res.Trials = append(res.Trials, tr)

		if opts.Store != nil {
			if err := persistTrial(ctx, opts.Store, res.StudyID, tr); err != nil {
				log.Warn().Err(err).Int("trial", trial).Msg("trial not persisted")
			}
		}

		if trialErr == nil && (!haveBest || value > res.BestValue) {
			res.BestParams = params
			res.BestValue = value
			haveBest = true
		}
		log.Info().
			Int("trial", trial).
			Float64("value", value).
			Bool("ok", trialErr == nil).
			Msg("trial finished")
	}

	if !haveBest {
		return res, fmt.Errorf("study %s: no trial reached feasibility", res.StudyID)
	}
	if err := WriteBestParams(opts.OutputFile, res.BestParams, res.BestValue, string(opts.Mode), opts.Tasks); err != nil {
		return res, err
	}
	return res, nil
}

// runTrial evaluates one parameter set over every task and averages the
// best fitnesses. A task that never reaches feasibility drags the value to
// failedTrialValue minus the remaining violation.
func runTrial(ctx context.Context, opts Options, adj *tileset.Adjacency, tasks []task.Task, params map[string]any, rng *rand.Rand) (float64, error) {
	p, err := decodeParams(params)
	if err != nil {
		return failedTrialValue, err
	}

	sum := 0.0
	for _, t := range tasks {
		ev := &evolve.Evaluator{
			Tileset:   opts.Tileset,
			Adjacency: adj,
			Task:      t,
			Width:     opts.Width,
			Height:    opts.Height,
		}
		runRes, err := evolve.Run(ctx, opts.Mode, p, ev, opts.GenerationsPerTrial, rng)
		if errors.Is(err, evolve.ErrNoFeasible) {
			return failedTrialValue - float64(runRes.Best.Violation), evolve.ErrNoFeasible
		}
		if err != nil {
			return failedTrialValue, err
		}
		sum += runRes.Best.Fitness
	}
	return sum / float64(len(tasks)), nil
}

// decodeParams maps a sampled parameter set onto evolve.Params over the
// defaults, via the yaml tags the dimensions are named after.
func decodeParams(params map[string]any) (evolve.Params, error) {
	p := evolve.DefaultParams()
	raw, err := yaml.Marshal(params)
	if err != nil {
		return p, fmt.Errorf("encode params: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// bestHalf returns the parameter sets of the better half of the completed
// trials, best first.
func bestHalf(trials []TrialResult) []map[string]any {
	var ok []TrialResult
	for _, t := range trials {
		if t.Err == nil {
			ok = append(ok, t)
		}
	}
	if len(ok) == 0 {
		return nil
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Value > ok[j].Value })
	half := (len(ok) + 1) / 2
	out := make([]map[string]any, 0, half)
	for _, t := range ok[:half] {
		out = append(out, t.Params)
	}
	return out
}

func persistTrial(ctx context.Context, s *store.Store, studyID string, tr TrialResult) error {
	raw, err := yaml.Marshal(tr.Params)
	if err != nil {
		return err
	}
	now := time.Now()
	rec := store.Trial{
		ID:         uuid.NewString(),
		StudyID:    studyID,
		Number:     tr.Number,
		ParamsYAML: string(raw),
		StartedAt:  now,
	}
	if err := s.BeginTrial(ctx, rec); err != nil {
		return err
	}
	state := store.TrialComplete
	if tr.Err != nil {
		state = store.TrialFailed
	}
	return s.FinishTrial(ctx, rec.ID, tr.Value, state, now)
}

// bestParamsFile mirrors the layout the original tooling consumed: the
// tuned values live under `ga:`, metadata beside them.
type bestParamsFile struct {
	GA    map[string]any `yaml:"ga"`
	Study struct {
		BestValue float64  `yaml:"best_value"`
		Mode      string   `yaml:"mode"`
		Tasks     []string `yaml:"tasks"`
	} `yaml:"study"`
}

// WriteBestParams writes the winning parameter set to path.
func WriteBestParams(path string, params map[string]any, value float64, mode string, tasks []string) error {
	var doc bestParamsFile
	doc.GA = params
	doc.Study.BestValue = value
	doc.Study.Mode = mode
	doc.Study.Tasks = tasks

	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode best params: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write best params: %w", err)
	}
	return nil
}

// ReadBestParams loads a previously written best-params file.
func ReadBestParams(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read best params: %w", err)
	}
	var doc bestParamsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse best params: %w", err)
	}
	if len(doc.GA) == 0 {
		return nil, fmt.Errorf("%s: missing ga section", path)
	}
	return doc.GA, nil
}
