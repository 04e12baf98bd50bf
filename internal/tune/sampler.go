package tune

import "math/rand"

// Sampler draws parameter sets for successive trials: pure random search
// during a warmup phase, then a mix of fresh samples and perturbations
// around the best trials seen so far.
type Sampler struct {
	space  *Space
	rng    *rand.Rand
	warmup int
}

// NewSampler builds a sampler with a warmup of half the trial budget
// (at least one trial).
func NewSampler(space *Space, budget int, rng *rand.Rand) *Sampler {
	warmup := budget / 2
	if warmup < 1 {
		warmup = 1
	}
	return &Sampler{space: space, rng: rng, warmup: warmup}
}

// Next returns the parameters for trial number (0-based). best holds the
// parameter sets of the best-performing completed trials, best first; it
// may be empty.
func (s *Sampler) Next(trial int, best []map[string]any) map[string]any {
	if trial < s.warmup || len(best) == 0 {
		return s.space.Sample(s.rng)
	}
	// Half the post-warmup trials explore, half refine around one of the
	// top parameter sets.
	if s.rng.Intn(2) == 0 {
		return s.space.Sample(s.rng)
	}
	base := best[s.rng.Intn(len(best))]
	return s.space.PerturbAround(base, s.rng)
}
