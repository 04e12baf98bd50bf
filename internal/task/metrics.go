package task

import (
	"strings"

	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// Mask is a boolean per grid cell, indexed [y][x].
type Mask [][]bool

// NewMask marks cells whose collapsed tile name satisfies pred. Open or
// contradicted cells never match.
func NewMask(g *wfc.Grid, ts *tileset.Set, pred func(name string) bool) Mask {
	m := make(Mask, g.Height)
	for y := 0; y < g.Height; y++ {
		m[y] = make([]bool, g.Width)
		for x := 0; x < g.Width; x++ {
			if t := g.Tile(x, y); t >= 0 && pred(ts.TileName(t)) {
				m[y][x] = true
			}
		}
	}
	return m
}

// Count returns the number of set cells.
func (m Mask) Count() int {
	n := 0
	for _, row := range m {
		for _, v := range row {
			if v {
				n++
			}
		}
	}
	return n
}

// TileRatio returns the fraction of cells whose tile matches pred, among
// cells not matched by any of the excluded prefixes.
func TileRatio(g *wfc.Grid, ts *tileset.Set, pred func(name string) bool, excludePrefixes []string) float64 {
	matched, considered := 0, 0
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t := g.Tile(x, y)
			if t < 0 {
				considered++
				continue
			}
			name := strings.ToLower(ts.TileName(t))
			excluded := false
			for _, p := range excludePrefixes {
				if strings.HasPrefix(name, p) {
					excluded = true
					break
				}
			}
			if excluded {
				continue
			}
			considered++
			if pred(name) {
				matched++
			}
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(matched) / float64(considered)
}

// LongestRun returns the longest horizontal or vertical run of set cells.
func (m Mask) LongestRun() int {
	best := 0
	if len(m) == 0 {
		return 0
	}
	h, w := len(m), len(m[0])
	for y := 0; y < h; y++ {
		run := 0
		for x := 0; x < w; x++ {
			if m[y][x] {
				run++
				if run > best {
					best = run
				}
			} else {
				run = 0
			}
		}
	}
	for x := 0; x < w; x++ {
		run := 0
		for y := 0; y < h; y++ {
			if m[y][x] {
				run++
				if run > best {
					best = run
				}
			} else {
				run = 0
			}
		}
	}
	return best
}

var neighbors4 = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// Regions counts 4-connected components of set cells.
func (m Mask) Regions() int {
	if len(m) == 0 {
		return 0
	}
	h, w := len(m), len(m[0])
	seen := make([][]bool, h)
	for i := range seen {
		seen[i] = make([]bool, w)
	}
	regions := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m[y][x] || seen[y][x] {
				continue
			}
			regions++
			queue := [][2]int{{y, x}}
			seen[y][x] = true
			for len(queue) > 0 {
				c := queue[0]
				queue = queue[1:]
				for _, d := range neighbors4 {
					ny, nx := c[0]+d[0], c[1]+d[1]
					if ny >= 0 && ny < h && nx >= 0 && nx < w && m[ny][nx] && !seen[ny][nx] {
						seen[ny][nx] = true
						queue = append(queue, [2]int{ny, nx})
					}
				}
			}
		}
	}
	return regions
}

// LargestCluster returns the size of the biggest 4-connected component.
func (m Mask) LargestCluster() int {
	if len(m) == 0 {
		return 0
	}
	h, w := len(m), len(m[0])
	seen := make([][]bool, h)
	for i := range seen {
		seen[i] = make([]bool, w)
	}
	best := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m[y][x] || seen[y][x] {
				continue
			}
			size := 0
			queue := [][2]int{{y, x}}
			seen[y][x] = true
			for len(queue) > 0 {
				c := queue[0]
				queue = queue[1:]
				size++
				for _, d := range neighbors4 {
					ny, nx := c[0]+d[0], c[1]+d[1]
					if ny >= 0 && ny < h && nx >= 0 && nx < w && m[ny][nx] && !seen[ny][nx] {
						seen[ny][nx] = true
						queue = append(queue, [2]int{ny, nx})
					}
				}
			}
			if size > best {
				best = size
			}
		}
	}
	return best
}

// InteriorRatio is the fraction of set cells whose four neighbors are also
// set. Border cells never count as interior.
func (m Mask) InteriorRatio() float64 {
	if len(m) == 0 {
		return 0
	}
	h, w := len(m), len(m[0])
	total, interior := 0, 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !m[y][x] {
				continue
			}
			total++
			if y == 0 || y == h-1 || x == 0 || x == w-1 {
				continue
			}
			inner := true
			for _, d := range neighbors4 {
				if !m[y+d[0]][x+d[1]] {
					inner = false
					break
				}
			}
			if inner {
				interior++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(interior) / float64(total)
}

// Connected reports whether a path of set cells joins start and end
// (4-connectivity). Both endpoints must be set.
func (m Mask) Connected(startX, startY, endX, endY int) bool {
	if len(m) == 0 {
		return false
	}
	h, w := len(m), len(m[0])
	inBounds := func(x, y int) bool { return x >= 0 && x < w && y >= 0 && y < h }
	if !inBounds(startX, startY) || !inBounds(endX, endY) {
		return false
	}
	if !m[startY][startX] || !m[endY][endX] {
		return false
	}
	seen := make([][]bool, h)
	for i := range seen {
		seen[i] = make([]bool, w)
	}
	queue := [][2]int{{startX, startY}}
	seen[startY][startX] = true
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c[0] == endX && c[1] == endY {
			return true
		}
		for _, d := range neighbors4 {
			nx, ny := c[0]+d[1], c[1]+d[0]
			if inBounds(nx, ny) && m[ny][nx] && !seen[ny][nx] {
				seen[ny][nx] = true
				queue = append(queue, [2]int{nx, ny})
			}
		}
	}
	return false
}
