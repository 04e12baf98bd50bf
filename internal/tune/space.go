// Package tune runs hyperparameter studies over the evolutionary search:
// sample a parameter set from YAML-declared spaces, run a fixed number of
// generations per task, record the trial, repeat for the trial budget, and
// write the best parameters out as YAML.
package tune

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DimKind is the type of one search dimension.
type DimKind string

const (
	KindFloat  DimKind = "float"
	KindInt    DimKind = "int"
	KindChoice DimKind = "choice"
	KindFixed  DimKind = "fixed"
)

// Dimension is one hyperparameter: either a range to search or a fixed
// value.
type Dimension struct {
	Name    string
	Kind    DimKind
	Min     float64
	Max     float64
	Log     bool    // sample on a log scale (float only)
	Choices []any   // choice values
	Value   any     // fixed value
}

// Sample draws a value for the dimension.
func (d Dimension) Sample(rng *rand.Rand) any {
	switch d.Kind {
	case KindFixed:
		return d.Value
	case KindChoice:
		return d.Choices[rng.Intn(len(d.Choices))]
	case KindInt:
		lo, hi := int(d.Min), int(d.Max)
		return lo + rng.Intn(hi-lo+1)
	default:
		if d.Log {
			lo, hi := math.Log(d.Min), math.Log(d.Max)
			return math.Exp(lo + rng.Float64()*(hi-lo))
		}
		return d.Min + rng.Float64()*(d.Max-d.Min)
	}
}

// Perturb draws a value near base, used by the refinement phase. Falls
// back to Sample for non-numeric dimensions.
func (d Dimension) Perturb(base any, rng *rand.Rand) any {
	switch d.Kind {
	case KindInt:
		b, ok := toFloat(base)
		if !ok {
			return d.Sample(rng)
		}
		span := math.Max(1, (d.Max-d.Min)*0.1)
		v := int(math.Round(b + rng.NormFloat64()*span))
		if v < int(d.Min) {
			v = int(d.Min)
		}
		if v > int(d.Max) {
			v = int(d.Max)
		}
		return v
	case KindFloat:
		b, ok := toFloat(base)
		if !ok {
			return d.Sample(rng)
		}
		var v float64
		if d.Log {
			v = math.Exp(math.Log(b) + rng.NormFloat64()*0.2)
		} else {
			v = b + rng.NormFloat64()*(d.Max-d.Min)*0.1
		}
		if v < d.Min {
			v = d.Min
		}
		if v > d.Max {
			v = d.Max
		}
		return v
	default:
		return d.Sample(rng)
	}
}

func (d Dimension) validate() error {
	switch d.Kind {
	case KindFixed:
		if d.Value == nil {
			return fmt.Errorf("dimension %s: fixed value missing", d.Name)
		}
	case KindChoice:
		if len(d.Choices) == 0 {
			return fmt.Errorf("dimension %s: empty choice list", d.Name)
		}
	case KindInt, KindFloat:
		if d.Min >= d.Max {
			return fmt.Errorf("dimension %s: min %g >= max %g", d.Name, d.Min, d.Max)
		}
		if d.Log && d.Min <= 0 {
			return fmt.Errorf("dimension %s: log scale needs min > 0", d.Name)
		}
	default:
		return fmt.Errorf("dimension %s: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// Space is a named, ordered set of dimensions.
type Space struct {
	dims  map[string]Dimension
	order []string
}

// Names returns dimension names in declaration order.
func (s *Space) Names() []string { return append([]string(nil), s.order...) }

// Dim returns a dimension by name.
func (s *Space) Dim(name string) (Dimension, bool) {
	d, ok := s.dims[name]
	return d, ok
}

// Sample draws a full parameter set. Dimensions are drawn in declaration
// order so a seeded rng yields the same set every time.
func (s *Space) Sample(rng *rand.Rand) map[string]any {
	out := make(map[string]any, len(s.dims))
	for _, name := range s.order {
		out[name] = s.dims[name].Sample(rng)
	}
	return out
}

// PerturbAround samples near an existing parameter set, in declaration
// order for the same reason as Sample.
func (s *Space) PerturbAround(base map[string]any, rng *rand.Rand) map[string]any {
	out := make(map[string]any, len(s.dims))
	for _, name := range s.order {
		d := s.dims[name]
		if bv, ok := base[name]; ok {
			out[name] = d.Perturb(bv, rng)
		} else {
			out[name] = d.Sample(rng)
		}
	}
	return out
}

type dimYAML struct {
	Type    string  `yaml:"type"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Log     bool    `yaml:"log"`
	Choices []any   `yaml:"choices"`
}

// LoadDir merges every *.yaml / *.yml file in dir into one Space. Each file
// declares dimensions under a top-level `ga:` key; a scalar value pins the
// dimension, a mapping declares a range:
//
//	ga:
//	  population_size: {type: int, min: 10, max: 80}
//	  mutation_sigma: {type: float, min: 0.01, max: 0.5, log: true}
//	  tournament_size: 3
//
// Later files (lexical order) override earlier ones.
func LoadDir(dir string) (*Space, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read hyperparameter dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no hyperparameter files in %s", dir)
	}
	sort.Strings(files)

	space := &Space{dims: map[string]Dimension{}}
	for _, path := range files {
		if err := space.mergeFile(path); err != nil {
			return nil, err
		}
	}
	return space, nil
}

func (s *Space) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var doc struct {
		GA map[string]yaml.Node `yaml:"ga"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.GA) == 0 {
		return fmt.Errorf("%s: missing or empty ga section", path)
	}

	names := make([]string, 0, len(doc.GA))
	for name := range doc.GA {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := doc.GA[name]
		dim := Dimension{Name: name}
		if node.Kind == yaml.MappingNode {
			var dy dimYAML
			if err := node.Decode(&dy); err != nil {
				return fmt.Errorf("%s: dimension %s: %w", path, name, err)
			}
			switch {
			case dy.Type == "int":
				dim.Kind, dim.Min, dim.Max = KindInt, dy.Min, dy.Max
			case dy.Type == "float":
				dim.Kind, dim.Min, dim.Max, dim.Log = KindFloat, dy.Min, dy.Max, dy.Log
			case dy.Type == "choice" || len(dy.Choices) > 0:
				dim.Kind, dim.Choices = KindChoice, dy.Choices
			default:
				return fmt.Errorf("%s: dimension %s: unknown type %q", path, name, dy.Type)
			}
		} else {
			var v any
			if err := node.Decode(&v); err != nil {
				return fmt.Errorf("%s: dimension %s: %w", path, name, err)
			}
			dim.Kind, dim.Value = KindFixed, v
		}
		if err := dim.validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, exists := s.dims[name]; !exists {
			s.order = append(s.order, name)
		}
		s.dims[name] = dim
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
