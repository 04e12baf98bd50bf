// Package wfc implements wave function collapse over a grid of
// tile-possibility sets: repeatedly collapse the lowest-entropy cell to a
// single tile and propagate edge constraints until every cell holds exactly
// one tile or a cell runs out of options.
package wfc

import (
	"math/rand"
	"sort"

	"github.com/evowfc/evowfc/internal/tileset"
)

// Cell is the set of tile indices still possible at one grid position.
// An empty cell marks a contradiction.
type Cell map[int]struct{}

// Grid holds the possibility sets for a Width x Height map. Cells are
// indexed [y][x].
type Grid struct {
	Width  int
	Height int
	Cells  [][]Cell
}

// NewGrid returns a grid with every cell fully open over numTiles tiles.
func NewGrid(width, height, numTiles int) *Grid {
	cells := make([][]Cell, height)
	for y := 0; y < height; y++ {
		row := make([]Cell, width)
		for x := 0; x < width; x++ {
			c := make(Cell, numTiles)
			for t := 0; t < numTiles; t++ {
				c[t] = struct{}{}
			}
			row[x] = c
		}
		cells[y] = row
	}
	return &Grid{Width: width, Height: height, Cells: cells}
}

// Tile returns the single tile index of a collapsed cell, or -1 when the
// cell is still open or contradicted.
func (g *Grid) Tile(x, y int) int {
	c := g.Cells[y][x]
	if len(c) != 1 {
		return -1
	}
	for t := range c {
		return t
	}
	return -1
}

// Collapsed reports whether every cell holds exactly one possibility.
func (g *Grid) Collapsed() bool {
	for _, row := range g.Cells {
		for _, c := range row {
			if len(c) != 1 {
				return false
			}
		}
	}
	return true
}

// Contradicted reports whether any cell has been emptied.
func (g *Grid) Contradicted() bool {
	for _, row := range g.Cells {
		for _, c := range row {
			if len(c) == 0 {
				return true
			}
		}
	}
	return false
}

// OpenCells counts cells that are neither collapsed nor empty.
func (g *Grid) OpenCells() int {
	n := 0
	for _, row := range g.Cells {
		for _, c := range row {
			if len(c) > 1 {
				n++
			}
		}
	}
	return n
}

// LowestEntropyCell returns a cell with the fewest remaining possibilities
// above one. Ties break to the first cell in scan order when deterministic,
// otherwise to a uniform random candidate. Returns ok=false when no open
// cell remains.
func (g *Grid) LowestEntropyCell(rng *rand.Rand, deterministic bool) (x, y int, ok bool) {
	minEntropy := int(^uint(0) >> 1)
	var candidates [][2]int
	for yy := 0; yy < g.Height; yy++ {
		for xx := 0; xx < g.Width; xx++ {
			n := len(g.Cells[yy][xx])
			if n > 1 && n < minEntropy {
				minEntropy = n
				candidates = candidates[:0]
				candidates = append(candidates, [2]int{xx, yy})
			} else if n > 1 && n == minEntropy {
				candidates = append(candidates, [2]int{xx, yy})
			}
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}
	pick := candidates[0]
	if !deterministic && rng != nil {
		pick = candidates[rng.Intn(len(candidates))]
	}
	return pick[0], pick[1], true
}

// Collapse fixes the cell at (x, y) to a single tile chosen by weights, a
// vector indexed by tile. Stochastic mode draws proportionally to the
// positive weights of the possible tiles, falling back to a uniform draw
// when all weights vanish. Deterministic mode takes the highest-weight
// possible tile in canonical order and fails when no weight is positive.
// Returns the chosen tile, or -1 when the cell was already empty or no
// choice could be made.
func (g *Grid) Collapse(x, y int, weights []float64, rng *rand.Rand, deterministic bool) int {
	possible := g.Cells[y][x]
	if len(possible) == 0 {
		return -1
	}

	weightOf := func(t int) float64 {
		if t >= 0 && t < len(weights) {
			return weights[t]
		}
		return 0
	}

	chosen := -1
	if deterministic {
		best := -1
		maxW := 0.0
		for t := 0; t < len(weights); t++ {
			if _, ok := possible[t]; !ok {
				continue
			}
			if w := weightOf(t); best == -1 || w > maxW {
				best, maxW = t, w
			}
		}
		if best == -1 || maxW <= 0 {
			return -1
		}
		chosen = best
	} else {
		// Canonical index order keeps the draw reproducible for a given
		// rng stream; map iteration order would not be.
		var tiles []int
		var ws []float64
		total := 0.0
		for t := 0; t < len(weights); t++ {
			if _, ok := possible[t]; !ok {
				continue
			}
			if w := weightOf(t); w > 1e-9 {
				tiles = append(tiles, t)
				ws = append(ws, w)
				total += w
			}
		}
		if total > 1e-9 {
			r := rng.Float64() * total
			cum := 0.0
			chosen = tiles[len(tiles)-1] // guard against rounding
			for i, w := range ws {
				cum += w
				if r <= cum {
					chosen = tiles[i]
					break
				}
			}
		} else {
			// All weights zero: uniform among possibles in canonical order.
			var all []int
			for t := 0; t < len(weights); t++ {
				if _, ok := possible[t]; ok {
					all = append(all, t)
				}
			}
			if len(all) == 0 {
				for t := range possible {
					all = append(all, t)
				}
				sort.Ints(all)
			}
			chosen = all[rng.Intn(len(all))]
		}
	}

	g.Cells[y][x] = Cell{chosen: {}}
	return chosen
}

// Propagate removes neighbor possibilities no longer supported by any tile
// in the cell at (startX, startY), worklist style, until a fixpoint.
// Returns false when a cell is emptied (contradiction); the emptied cell is
// left in the grid.
func (g *Grid) Propagate(adj *tileset.Adjacency, startX, startY int) bool {
	type pos struct{ x, y int }
	stack := []pos{{startX, startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		current := g.Cells[p.y][p.x]
		if len(current) == 0 {
			continue
		}

		for dir, d := range tileset.Offsets {
			nx, ny := p.x+d[0], p.y+d[1]
			if nx < 0 || nx >= g.Width || ny < 0 || ny >= g.Height {
				continue
			}
			neighbor := g.Cells[ny][nx]
			if len(neighbor) == 0 {
				continue
			}

			removed := false
			for nt := range neighbor {
				supported := false
				for ct := range current {
					if adj.Allowed(ct, dir, nt) {
						supported = true
						break
					}
				}
				if !supported {
					delete(neighbor, nt)
					removed = true
				}
			}
			if !removed {
				continue
			}
			if len(neighbor) == 0 {
				return false
			}
			stack = append(stack, pos{nx, ny})
		}
	}
	return true
}

// Step performs one collapse+propagate iteration. done means every cell is
// collapsed; contradiction means a cell lost all possibilities.
func (g *Grid) Step(adj *tileset.Adjacency, weights []float64, rng *rand.Rand, deterministic bool) (done, contradiction bool) {
	x, y, ok := g.LowestEntropyCell(rng, deterministic)
	if !ok {
		if g.Contradicted() {
			return false, true
		}
		if g.Collapsed() {
			return true, false
		}
		return false, true
	}

	if g.Collapse(x, y, weights, rng, deterministic) < 0 {
		return false, true
	}
	if !g.Propagate(adj, x, y) {
		return false, true
	}

	if _, _, open := g.LowestEntropyCell(rng, deterministic); !open {
		if g.Contradicted() {
			return false, true
		}
		if g.Collapsed() {
			return true, false
		}
		return false, true
	}
	return false, false
}

// Run drives Step until completion, contradiction, or the step cap.
// Returns true only when the grid fully collapsed.
func (g *Grid) Run(adj *tileset.Adjacency, weights []float64, rng *rand.Rand, maxSteps int) bool {
	if maxSteps <= 0 {
		maxSteps = g.Width*g.Height + 10
	}
	for i := 0; i < maxSteps; i++ {
		done, contradiction := g.Step(adj, weights, rng, false)
		if contradiction {
			return false
		}
		if done {
			return true
		}
	}
	return false
}
