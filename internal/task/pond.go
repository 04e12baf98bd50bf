package task

import (
	"strings"

	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// IsWaterTile matches any water body tile: open water, water edges and
// shore corners.
func IsWaterTile(name string) bool {
	name = strings.ToLower(name)
	return name == "water" || strings.HasPrefix(name, "water_") || strings.HasPrefix(name, "shore_")
}

// Pond scoring thresholds. A perfect pond scores 0; everything else is a
// negative penalty.
const (
	pondMinWaterRatio = 0.3
	pondMaxFlowLength = 5
	pondIdealRegions  = 1
	pondIdealInterior = 0.5
)

// PondTask rewards a single compact pond: enough water, one connected
// region, a healthy interior-to-shore balance, and no long straight
// channels.
type PondTask struct{}

func (PondTask) Name() string { return "pond" }

func (PondTask) Score(g *wfc.Grid, ts *tileset.Set) (float64, Details) {
	if g.Width == 0 || g.Height == 0 {
		return negInf, Details{}
	}

	water := NewMask(g, ts, IsWaterTile)
	waterRatio := TileRatio(g, ts, IsWaterTile, []string{"path"})
	flowLength := water.LongestRun()
	regions := water.Regions()
	interior := water.InteriorRatio()
	cluster := water.LargestCluster()
	hillRatio := TileRatio(g, ts, func(n string) bool { return strings.HasPrefix(n, "hill") }, []string{"path"})

	waterPenalty := 0.0
	if waterRatio < pondMinWaterRatio {
		waterPenalty = -(pondMinWaterRatio - waterRatio) * 100
	}
	flowPenalty := 0.0
	if flowLength > pondMaxFlowLength {
		flowPenalty = -float64(flowLength-pondMaxFlowLength) * 30
	}
	regionPenalty := -absInt(regions-pondIdealRegions) * 500
	interiorPenalty := -abs(interior-pondIdealInterior) * 100
	clusterBonus := float64(cluster) * 2
	presenceBonus := waterRatio * 50
	hillPenalty := -hillRatio * 200

	raw := waterPenalty + flowPenalty + regionPenalty + interiorPenalty +
		clusterBonus + presenceBonus + hillPenalty
	score := raw
	if score > 0 {
		score = 0
	}

	return score, Details{
		"water_ratio":    waterRatio,
		"flow_length":    float64(flowLength),
		"regions":        float64(regions),
		"interior_ratio": interior,
		"cluster_size":   float64(cluster),
		"hill_ratio":     hillRatio,
		"reward":         score,
	}
}

// Biome classifies a collapsed grid. "pond" needs at least 40% water with
// 30% open water and few shore tiles among them.
func Biome(g *wfc.Grid, ts *tileset.Set) string {
	waterCells, pureWater, shoreCells := 0, 0, 0
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t := g.Tile(x, y)
			if t < 0 {
				continue
			}
			name := strings.ToLower(ts.TileName(t))
			if !IsWaterTile(name) {
				continue
			}
			waterCells++
			if name == "water" {
				pureWater++
			}
			if strings.Contains(name, "shore") {
				shoreCells++
			}
		}
	}
	total := g.Width * g.Height
	if total == 0 || waterCells == 0 {
		return "unknown"
	}
	waterRatio := float64(waterCells) / float64(total)
	pureRatio := float64(pureWater) / float64(total)
	shoreRatio := float64(shoreCells) / float64(waterCells)
	if waterRatio >= 0.4 && pureRatio >= 0.3 && shoreRatio <= 0.2 {
		return "pond"
	}
	return "unknown"
}

var negInf = -1e308

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
