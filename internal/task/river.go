package task

import (
	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// River scoring thresholds.
const (
	riverMinFlow    = 6 // a river should span at least this many cells
	riverMaxRatio   = 0.35
	riverIdealWidth = 0.15 // interior ratio of a thin channel stays low
)

// RiverTask rewards one long thin connected watercourse: a single water
// region with a long run and little interior, covering only a modest share
// of the map.
type RiverTask struct{}

func (RiverTask) Name() string { return "river" }

func (RiverTask) Score(g *wfc.Grid, ts *tileset.Set) (float64, Details) {
	if g.Width == 0 || g.Height == 0 {
		return negInf, Details{}
	}

	water := NewMask(g, ts, IsWaterTile)
	waterRatio := TileRatio(g, ts, IsWaterTile, []string{"path"})
	flowLength := water.LongestRun()
	regions := water.Regions()
	interior := water.InteriorRatio()
	cluster := water.LargestCluster()

	flowPenalty := 0.0
	if flowLength < riverMinFlow {
		flowPenalty = -float64(riverMinFlow-flowLength) * 40
	}
	regionPenalty := -absInt(regions-1) * 500
	widthPenalty := 0.0
	if interior > riverIdealWidth {
		widthPenalty = -(interior - riverIdealWidth) * 150
	}
	ratioPenalty := 0.0
	if waterRatio > riverMaxRatio {
		ratioPenalty = -(waterRatio - riverMaxRatio) * 100
	}
	spanBonus := float64(flowLength) * 5
	clusterBonus := float64(cluster)

	raw := flowPenalty + regionPenalty + widthPenalty + ratioPenalty + spanBonus + clusterBonus
	score := raw
	if score > 0 {
		score = 0
	}

	return score, Details{
		"water_ratio": waterRatio,
		"flow_length": float64(flowLength),
		"regions":     float64(regions),
		"interior":    interior,
		"cluster":     float64(cluster),
		"reward":      score,
	}
}
