// Package task scores completed maps. A task looks at a collapsed grid and
// returns a reward; the evolutionary search maximizes it.
package task

import (
	"fmt"
	"sort"

	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// Details carries per-metric values alongside a score, for logs and trial
// records.
type Details map[string]float64

// Task scores a grid produced over a given tileset.
type Task interface {
	Name() string
	Score(g *wfc.Grid, ts *tileset.Set) (float64, Details)
}

// Registry holds tasks by tag.
type Registry struct {
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{}}
}

func (r *Registry) Register(t Task) {
	r.tasks[t.Name()] = t
}

func (r *Registry) Get(name string) (Task, error) {
	t, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("task not registered: %s", name)
	}
	return t, nil
}

// Names returns registered task tags in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Default returns a registry with the built-in tasks.
func Default() *Registry {
	r := NewRegistry()
	r.Register(PondTask{})
	r.Register(RiverTask{})
	return r
}
