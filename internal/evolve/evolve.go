// Package evolve implements the FI-2Pop genetic algorithm over tile-weight
// genomes. A genome biases the stochastic collapse step of wave function
// collapse; a genome is feasible when the grid it produces fully collapses
// without a contradiction. The feasible population climbs the task reward,
// the infeasible population climbs toward feasibility, and offspring move
// between the two as their feasibility changes.
package evolve

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/evowfc/evowfc/internal/task"
	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// Mode selects the constraint-handling strategy.
type Mode string

const (
	// ModeFI2Pop keeps separate feasible and infeasible populations.
	ModeFI2Pop Mode = "fi2pop"
	// ModePenalty runs a single population, subtracting a weighted
	// violation from the reward.
	ModePenalty Mode = "penalty"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFI2Pop, ModePenalty:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want fi2pop or penalty)", s)
	}
}

// Genome is a weight vector over tiles, clamped to [0, 1].
type Genome []float64

// NewRandomGenome draws uniform weights.
func NewRandomGenome(n int, rng *rand.Rand) Genome {
	g := make(Genome, n)
	for i := range g {
		g[i] = rng.Float64()
	}
	return g
}

// Clone copies the genome.
func (g Genome) Clone() Genome {
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Params are the hyperparameters of one evolutionary run. These are the
// dimensions the tuner searches over.
type Params struct {
	PopulationSize int     `yaml:"population_size"`
	TournamentSize int     `yaml:"tournament_size"`
	CrossoverRate  float64 `yaml:"crossover_rate"`
	MutationRate   float64 `yaml:"mutation_rate"`
	MutationSigma  float64 `yaml:"mutation_sigma"`
	PenaltyWeight  float64 `yaml:"penalty_weight"`
}

// DefaultParams returns a workable baseline.
func DefaultParams() Params {
	return Params{
		PopulationSize: 40,
		TournamentSize: 3,
		CrossoverRate:  0.9,
		MutationRate:   0.2,
		MutationSigma:  0.15,
		PenaltyWeight:  10,
	}
}

// Validate rejects parameter sets the loops cannot run with.
func (p Params) Validate() error {
	if p.PopulationSize < 2 {
		return fmt.Errorf("population_size must be >= 2, got %d", p.PopulationSize)
	}
	if p.TournamentSize < 1 || p.TournamentSize > p.PopulationSize {
		return fmt.Errorf("tournament_size must be in [1, population_size], got %d", p.TournamentSize)
	}
	if p.CrossoverRate < 0 || p.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be in [0, 1], got %g", p.CrossoverRate)
	}
	if p.MutationRate < 0 || p.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be in [0, 1], got %g", p.MutationRate)
	}
	if p.MutationSigma <= 0 {
		return fmt.Errorf("mutation_sigma must be > 0, got %g", p.MutationSigma)
	}
	return nil
}

// Individual is a genome plus its evaluation.
type Individual struct {
	Genome    Genome
	Fitness   float64 // task reward; meaningful only when feasible
	Violation int     // open + contradicted cells; 0 means feasible
	Details   task.Details
}

// Feasible reports whether the genome produced a fully collapsed grid.
func (ind *Individual) Feasible() bool { return ind.Violation == 0 }

// Evaluator runs WFC with a genome's weights and scores the result.
type Evaluator struct {
	Tileset   *tileset.Set
	Adjacency *tileset.Adjacency
	Task      task.Task
	Width     int
	Height    int
	MaxSteps  int
}

// Evaluate produces the fitness and violation of one genome. Violation is
// the number of cells not collapsed to a single tile when the run stops.
func (e *Evaluator) Evaluate(genome Genome, rng *rand.Rand) Individual {
	grid := wfc.NewGrid(e.Width, e.Height, e.Tileset.Len())
	completed := grid.Run(e.Adjacency, genome, rng, e.MaxSteps)

	ind := Individual{Genome: genome}
	if !completed {
		violation := 0
		for y := 0; y < e.Height; y++ {
			for x := 0; x < e.Width; x++ {
				if grid.Tile(x, y) < 0 {
					violation++
				}
			}
		}
		if violation == 0 {
			// Step cap hit on the final step; treat as one cell short.
			violation = 1
		}
		ind.Violation = violation
		return ind
	}
	ind.Fitness, ind.Details = e.Task.Score(grid, e.Tileset)
	return ind
}

// Result summarizes one evolutionary run.
type Result struct {
	Best          Individual
	Generations   int
	FeasibleCount int
	History       []float64 // best feasible fitness per generation
}

// Run executes the search for the given number of generations.
func Run(ctx context.Context, mode Mode, params Params, ev *Evaluator, generations int, rng *rand.Rand) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	if generations <= 0 {
		return Result{}, fmt.Errorf("generations must be > 0, got %d", generations)
	}
	switch mode {
	case ModeFI2Pop:
		return runFI2Pop(ctx, params, ev, generations, rng)
	case ModePenalty:
		return runPenalty(ctx, params, ev, generations, rng)
	default:
		return Result{}, fmt.Errorf("unknown mode %q", mode)
	}
}

// tournament picks the best of k random individuals under less ordering
// (less(i, j) == true means i beats j).
func tournament(pop []Individual, k int, rng *rand.Rand, less func(a, b *Individual) bool) *Individual {
	best := &pop[rng.Intn(len(pop))]
	for i := 1; i < k; i++ {
		c := &pop[rng.Intn(len(pop))]
		if less(c, best) {
			best = c
		}
	}
	return best
}

func byFitness(a, b *Individual) bool   { return a.Fitness > b.Fitness }
func byViolation(a, b *Individual) bool { return a.Violation < b.Violation }

// crossover blends two parents per gene; mutation adds gaussian noise.
func makeChild(a, b Genome, params Params, rng *rand.Rand) Genome {
	child := a.Clone()
	if rng.Float64() < params.CrossoverRate {
		for i := range child {
			alpha := rng.Float64()
			child[i] = clamp01(alpha*a[i] + (1-alpha)*b[i])
		}
	}
	for i := range child {
		if rng.Float64() < params.MutationRate {
			child[i] = clamp01(child[i] + rng.NormFloat64()*params.MutationSigma)
		}
	}
	return child
}

func truncate(pop []Individual, capacity int, less func(a, b *Individual) bool) []Individual {
	sort.SliceStable(pop, func(i, j int) bool { return less(&pop[i], &pop[j]) })
	if len(pop) > capacity {
		pop = pop[:capacity]
	}
	return pop
}

func runFI2Pop(ctx context.Context, params Params, ev *Evaluator, generations int, rng *rand.Rand) (Result, error) {
	n := ev.Tileset.Len()
	var feasible, infeasible []Individual
	for i := 0; i < params.PopulationSize*2; i++ {
		ind := ev.Evaluate(NewRandomGenome(n, rng), rng)
		if ind.Feasible() {
			feasible = append(feasible, ind)
		} else {
			infeasible = append(infeasible, ind)
		}
	}
	feasible = truncate(feasible, params.PopulationSize, byFitness)
	infeasible = truncate(infeasible, params.PopulationSize, byViolation)

	res := Result{Generations: generations}
	haveBest := false

	for gen := 0; gen < generations; gen++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		offspring := make([]Individual, 0, params.PopulationSize)
		for i := 0; i < params.PopulationSize; i++ {
			var a, b *Individual
			// Parents come from whichever populations are non-empty;
			// cross-population pairing keeps pressure toward the boundary.
			switch {
			case len(feasible) > 0 && len(infeasible) > 0:
				if rng.Intn(2) == 0 {
					a = tournament(feasible, params.TournamentSize, rng, byFitness)
					b = tournament(infeasible, params.TournamentSize, rng, byViolation)
				} else {
					a = tournament(feasible, params.TournamentSize, rng, byFitness)
					b = tournament(feasible, params.TournamentSize, rng, byFitness)
				}
			case len(feasible) > 0:
				a = tournament(feasible, params.TournamentSize, rng, byFitness)
				b = tournament(feasible, params.TournamentSize, rng, byFitness)
			default:
				a = tournament(infeasible, params.TournamentSize, rng, byViolation)
				b = tournament(infeasible, params.TournamentSize, rng, byViolation)
			}
			child := makeChild(a.Genome, b.Genome, params, rng)
			offspring = append(offspring, ev.Evaluate(child, rng))
		}

		for _, ind := range offspring {
			if ind.Feasible() {
				feasible = append(feasible, ind)
			} else {
				infeasible = append(infeasible, ind)
			}
		}
		feasible = truncate(feasible, params.PopulationSize, byFitness)
		infeasible = truncate(infeasible, params.PopulationSize, byViolation)

		if len(feasible) > 0 {
			if !haveBest || feasible[0].Fitness > res.Best.Fitness {
				res.Best = feasible[0]
				haveBest = true
			}
		}
		genBest := negHistory
		if haveBest {
			genBest = res.Best.Fitness
		}
		res.History = append(res.History, genBest)
		log.Debug().
			Int("generation", gen).
			Int("feasible", len(feasible)).
			Int("infeasible", len(infeasible)).
			Float64("best", genBest).
			Str("task", ev.Task.Name()).
			Msg("generation complete")
	}

	res.FeasibleCount = len(feasible)
	if !haveBest {
		// No genome ever produced a complete map; surface the least
		// infeasible one so callers can still inspect it.
		if len(infeasible) > 0 {
			res.Best = infeasible[0]
		}
		return res, ErrNoFeasible
	}
	return res, nil
}

func runPenalty(ctx context.Context, params Params, ev *Evaluator, generations int, rng *rand.Rand) (Result, error) {
	n := ev.Tileset.Len()
	penalized := func(ind *Individual) float64 {
		return ind.Fitness - params.PenaltyWeight*float64(ind.Violation)
	}
	byPenalized := func(a, b *Individual) bool { return penalized(a) > penalized(b) }

	pop := make([]Individual, 0, params.PopulationSize)
	for i := 0; i < params.PopulationSize; i++ {
		pop = append(pop, ev.Evaluate(NewRandomGenome(n, rng), rng))
	}

	res := Result{Generations: generations}
	haveBest := false

	for gen := 0; gen < generations; gen++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		offspring := make([]Individual, 0, params.PopulationSize)
		for i := 0; i < params.PopulationSize; i++ {
			a := tournament(pop, params.TournamentSize, rng, byPenalized)
			b := tournament(pop, params.TournamentSize, rng, byPenalized)
			child := makeChild(a.Genome, b.Genome, params, rng)
			offspring = append(offspring, ev.Evaluate(child, rng))
		}
		pop = truncate(append(pop, offspring...), params.PopulationSize, byPenalized)

		for i := range pop {
			if pop[i].Feasible() && (!haveBest || pop[i].Fitness > res.Best.Fitness) {
				res.Best = pop[i]
				haveBest = true
			}
		}
		genBest := negHistory
		if haveBest {
			genBest = res.Best.Fitness
		}
		res.History = append(res.History, genBest)
	}

	for i := range pop {
		if pop[i].Feasible() {
			res.FeasibleCount++
		}
	}
	if !haveBest {
		if len(pop) > 0 {
			res.Best = pop[0]
		}
		return res, ErrNoFeasible
	}
	return res, nil
}

// negHistory marks generations before the first feasible genome.
const negHistory = -1e308

// ErrNoFeasible is returned when a run never produced a complete map.
var ErrNoFeasible = fmt.Errorf("no feasible genome found")
