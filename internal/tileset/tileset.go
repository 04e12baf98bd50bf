// Package tileset defines tile vocabularies and the edge-compatibility
// rules that drive wave function collapse. Two tiles may sit next to each
// other when the edge classes of their facing sides match.
package tileset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Direction indices. Offsets and Opposite follow the same order.
const (
	Up = iota
	Down
	Left
	Right
	NumDirections
)

// Offsets maps a direction to its (dx, dy) grid offset.
var Offsets = [NumDirections][2]int{
	Up:    {0, -1},
	Down:  {0, 1},
	Left:  {-1, 0},
	Right: {1, 0},
}

// Opposite maps a direction to the one facing it.
var Opposite = [NumDirections]int{
	Up:    Down,
	Down:  Up,
	Left:  Right,
	Right: Left,
}

var directionNames = map[string]int{
	"U": Up, "D": Down, "L": Left, "R": Right,
}

// Tile is one entry in a tile vocabulary. Edges holds one edge class per
// direction; facing edges must carry the same class to be adjacent.
type Tile struct {
	Name  string                `yaml:"name"`
	Edges [NumDirections]string `yaml:"-"`
}

// Set is an ordered tile vocabulary. Order is canonical: genome weights,
// adjacency indices and grid cells all refer to tiles by position.
type Set struct {
	Name    string
	Tiles   []Tile
	indexOf map[string]int
}

// NewSet builds a Set from tiles, preserving order.
func NewSet(name string, tiles []Tile) (*Set, error) {
	s := &Set{Name: name, Tiles: tiles, indexOf: make(map[string]int, len(tiles))}
	for i, t := range tiles {
		if t.Name == "" {
			return nil, fmt.Errorf("tileset %s: tile %d has no name", name, i)
		}
		if _, dup := s.indexOf[t.Name]; dup {
			return nil, fmt.Errorf("tileset %s: duplicate tile %q", name, t.Name)
		}
		s.indexOf[t.Name] = i
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("tileset %s: empty", name)
	}
	return s, nil
}

// Len returns the number of tiles.
func (s *Set) Len() int { return len(s.Tiles) }

// Index maps a tile name to its canonical index, -1 when unknown.
func (s *Set) Index(name string) int {
	if i, ok := s.indexOf[name]; ok {
		return i
	}
	return -1
}

// TileName returns the name of the tile at index i.
func (s *Set) TileName(i int) string { return s.Tiles[i].Name }

// Adjacency is the precomputed compatibility tensor:
// allowed[tile][direction][neighbor].
type Adjacency struct {
	allowed  [][]uint64 // bitset per (tile, direction), words over neighbors
	numTiles int
	words    int
}

// Allowed reports whether neighbor may sit in direction dir of tile.
func (a *Adjacency) Allowed(tile, dir, neighbor int) bool {
	if tile < 0 || tile >= a.numTiles || neighbor < 0 || neighbor >= a.numTiles {
		return false
	}
	w := a.allowed[tile][dir*a.words+neighbor/64]
	return w&(1<<(uint(neighbor)%64)) != 0
}

// BuildAdjacency derives the compatibility tensor from edge classes:
// tile A allows tile B in direction d when A's edge d equals B's edge
// opposite(d).
func BuildAdjacency(s *Set) *Adjacency {
	n := s.Len()
	words := (n + 63) / 64
	adj := &Adjacency{
		allowed:  make([][]uint64, n),
		numTiles: n,
		words:    words,
	}
	for i := range adj.allowed {
		adj.allowed[i] = make([]uint64, NumDirections*words)
	}
	for i, a := range s.Tiles {
		for d := 0; d < NumDirections; d++ {
			for j, b := range s.Tiles {
				if a.Edges[d] != "" && a.Edges[d] == b.Edges[Opposite[d]] {
					adj.allowed[i][d*words+j/64] |= 1 << (uint(j) % 64)
				}
			}
		}
	}
	return adj
}

type tileYAML struct {
	Edges map[string]string `yaml:"edges"`
}

type setYAML struct {
	Name  string              `yaml:"name"`
	Tiles map[string]tileYAML `yaml:"tiles"`
	Order []string            `yaml:"order"`
}

// LoadFile reads a tileset from a YAML file. The file lists tiles with
// per-direction edge classes, plus an explicit order so that tile indices
// stay stable across runs:
//
//	name: pipes
//	order: [" ", "═", "║"]
//	tiles:
//	  " ": {edges: {U: OPEN, R: OPEN, D: OPEN, L: OPEN}}
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tileset: %w", err)
	}
	var raw setYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tileset: %w", err)
	}
	if len(raw.Order) == 0 {
		return nil, fmt.Errorf("tileset %s: missing order list", path)
	}
	tiles := make([]Tile, 0, len(raw.Order))
	for _, name := range raw.Order {
		ty, ok := raw.Tiles[name]
		if !ok {
			return nil, fmt.Errorf("tileset %s: order names unknown tile %q", path, name)
		}
		t := Tile{Name: name}
		for dn, class := range ty.Edges {
			d, ok := directionNames[dn]
			if !ok {
				return nil, fmt.Errorf("tileset %s: tile %q: bad direction %q", path, name, dn)
			}
			t.Edges[d] = class
		}
		tiles = append(tiles, t)
	}
	return NewSet(raw.Name, tiles)
}
