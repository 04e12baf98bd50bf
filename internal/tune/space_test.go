package tune

import (
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeSpaceFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadDirMergesFiles(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"10_base.yaml": `ga:
  population_size: {type: int, min: 10, max: 80}
  mutation_sigma: {type: float, min: 0.01, max: 0.5, log: true}
  tournament_size: 3
`,
		"20_extra.yml": `ga:
  crossover_rate: {type: float, min: 0.5, max: 1.0}
  selection: {type: choice, choices: [tournament, roulette]}
`,
	})
	space, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	names := space.Names()
	if len(names) != 5 {
		t.Fatalf("expected 5 dimensions, got %v", names)
	}

	d, ok := space.Dim("tournament_size")
	if !ok || d.Kind != KindFixed {
		t.Fatalf("tournament_size should be a fixed dimension, got %+v", d)
	}
	d, ok = space.Dim("mutation_sigma")
	if !ok || d.Kind != KindFloat || !d.Log {
		t.Fatalf("mutation_sigma should be a log float dimension, got %+v", d)
	}
}

func TestLoadDirRejectsBadInput(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"empty.yaml": "other: {}\n",
	})
	if _, err := LoadDir(dir); err == nil {
		t.Errorf("missing ga section should fail")
	}

	dir = writeSpaceFiles(t, map[string]string{
		"bad.yaml": "ga:\n  rate: {type: float, min: 2, max: 1}\n",
	})
	if _, err := LoadDir(dir); err == nil {
		t.Errorf("min >= max should fail")
	}

	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Errorf("empty dir should fail")
	}
}

func TestSampleWithinBounds(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"space.yaml": `ga:
  population_size: {type: int, min: 10, max: 80}
  mutation_sigma: {type: float, min: 0.01, max: 0.5, log: true}
  tournament_size: 3
`,
	})
	space, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		params := space.Sample(rng)
		pop, ok := params["population_size"].(int)
		if !ok || pop < 10 || pop > 80 {
			t.Fatalf("population_size out of bounds: %v", params["population_size"])
		}
		sigma, ok := params["mutation_sigma"].(float64)
		if !ok || sigma < 0.01 || sigma > 0.5 {
			t.Fatalf("mutation_sigma out of bounds: %v", params["mutation_sigma"])
		}
		if params["tournament_size"] != 3 {
			t.Fatalf("fixed dimension changed: %v", params["tournament_size"])
		}
	}
}

func TestPerturbStaysWithinBounds(t *testing.T) {
	d := Dimension{Name: "rate", Kind: KindFloat, Min: 0.1, Max: 0.9}
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		v := d.Perturb(0.85, rng).(float64)
		if v < 0.1 || v > 0.9 {
			t.Fatalf("perturbed value %f escaped bounds", v)
		}
	}

	di := Dimension{Name: "pop", Kind: KindInt, Min: 10, Max: 20}
	for i := 0; i < 100; i++ {
		v := di.Perturb(19, rng).(int)
		if v < 10 || v > 20 {
			t.Fatalf("perturbed int %d escaped bounds", v)
		}
	}
}

func TestSamplerWarmupIsRandomSearch(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"space.yaml": "ga:\n  rate: {type: float, min: 0, max: 1}\n",
	})
	space, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	s := NewSampler(space, 10, rand.New(rand.NewSource(4)))

	best := []map[string]any{{"rate": 0.5}}
	for trial := 0; trial < 10; trial++ {
		params := s.Next(trial, best)
		if _, ok := params["rate"]; !ok {
			t.Fatalf("trial %d: missing dimension", trial)
		}
		v := params["rate"].(float64)
		if v < 0 || v > 1 {
			t.Fatalf("trial %d: out of bounds %f", trial, v)
		}
	}
}

func TestSamplerFallsBackWithoutBest(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"space.yaml": "ga:\n  rate: {type: float, min: 0, max: 1}\n",
	})
	space, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	s := NewSampler(space, 4, rand.New(rand.NewSource(8)))
	// Past warmup but no completed trials yet: must still sample.
	if params := s.Next(3, nil); params["rate"] == nil {
		t.Fatalf("expected a sampled parameter set")
	}
}

func TestSampleSameSeedSameParams(t *testing.T) {
	dir := writeSpaceFiles(t, map[string]string{
		"space.yaml": `ga:
  population_size: {type: int, min: 10, max: 80}
  mutation_sigma: {type: float, min: 0.01, max: 0.5, log: true}
  crossover_rate: {type: float, min: 0.1, max: 0.9}
  tournament_size: 3
`,
	})
	space, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	a := space.Sample(rand.New(rand.NewSource(9)))
	b := space.Sample(rand.New(rand.NewSource(9)))
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical seeds sampled different params:\n%v\n%v", a, b)
	}

	pa := space.PerturbAround(a, rand.New(rand.NewSource(10)))
	pb := space.PerturbAround(b, rand.New(rand.NewSource(10)))
	if !reflect.DeepEqual(pa, pb) {
		t.Errorf("identical seeds perturbed to different params:\n%v\n%v", pa, pb)
	}
}
