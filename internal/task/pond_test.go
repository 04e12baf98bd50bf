package task

import (
	"testing"

	"github.com/evowfc/evowfc/internal/tileset"
	"github.com/evowfc/evowfc/internal/wfc"
)

// compactPond is a shore-bordered 4x4 pool in a 6x6 grid: one region,
// short runs, no hills. It scores the maximum reward of zero.
func compactPond(t *testing.T, ts *tileset.Set) [][]string {
	t.Helper()
	return [][]string{
		{"grass", "grass", "grass", "grass", "grass", "grass"},
		{"grass", "water_tl", "water_t", "water_t", "water_tr", "grass"},
		{"grass", "water_l", "water", "water", "water_r", "grass"},
		{"grass", "water_l", "water", "water", "water_r", "grass"},
		{"grass", "water_bl", "water_b", "water_b", "water_br", "grass"},
		{"grass", "grass", "grass", "grass", "grass", "grass"},
	}
}

func allOf(name string, w, h int) [][]string {
	rows := make([][]string, h)
	for y := range rows {
		row := make([]string, w)
		for x := range row {
			row[x] = name
		}
		rows[y] = row
	}
	return rows
}

func TestPondScoreNeverPositive(t *testing.T) {
	ts := tileset.Biome()
	for _, rows := range [][][]string{
		compactPond(t, ts),
		allOf("grass", 6, 6),
		allOf("water", 6, 6),
	} {
		g := gridFromNames(t, ts, rows)
		score, _ := PondTask{}.Score(g, ts)
		if score > 0 {
			t.Errorf("score %f > 0", score)
		}
	}
}

func TestPondPrefersCompactPond(t *testing.T) {
	ts := tileset.Biome()
	pond := gridFromNames(t, ts, compactPond(t, ts))
	dry := gridFromNames(t, ts, allOf("grass", 6, 6))

	pondScore, det := PondTask{}.Score(pond, ts)
	dryScore, _ := PondTask{}.Score(dry, ts)

	if pondScore != 0 {
		t.Errorf("compact pond should score 0, got %f (details %v)", pondScore, det)
	}
	if dryScore >= pondScore {
		t.Errorf("dry map %f should score below pond %f", dryScore, pondScore)
	}
	if det["regions"] != 1 {
		t.Errorf("expected one water region, got %v", det["regions"])
	}
}

func TestPondHillPenalty(t *testing.T) {
	ts := tileset.Biome()
	grassScore, _ := PondTask{}.Score(gridFromNames(t, ts, allOf("grass", 6, 6)), ts)
	hillScore, _ := PondTask{}.Score(gridFromNames(t, ts, allOf("hill", 6, 6)), ts)
	if hillScore >= grassScore {
		t.Errorf("hills %f should score below grass %f", hillScore, grassScore)
	}
}

func TestIsWaterTile(t *testing.T) {
	for name, want := range map[string]bool{
		"water":    true,
		"water_tl": true,
		"shore_br": true,
		"grass":    false,
		"hill":     false,
	} {
		if got := IsWaterTile(name); got != want {
			t.Errorf("IsWaterTile(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestBiomeClassification(t *testing.T) {
	ts := tileset.Biome()

	// A full pool with pure open water in the middle classifies as pond.
	pool := [][]string{
		{"water_tl", "water_t", "water_t", "water_t", "water_t", "water_tr"},
		{"water_l", "water", "water", "water", "water", "water_r"},
		{"water_l", "water", "water", "water", "water", "water_r"},
		{"water_l", "water", "water", "water", "water", "water_r"},
		{"water_l", "water", "water", "water", "water", "water_r"},
		{"water_bl", "water_b", "water_b", "water_b", "water_b", "water_br"},
	}
	if got := Biome(gridFromNames(t, ts, pool), ts); got != "pond" {
		t.Errorf("pool classified as %q, want pond", got)
	}
	if got := Biome(gridFromNames(t, ts, allOf("grass", 4, 4)), ts); got != "unknown" {
		t.Errorf("grass classified as %q, want unknown", got)
	}
}

func TestRiverPrefersLongChannel(t *testing.T) {
	ts := tileset.Biome()

	channel := [][]string{
		{"grass", "grass", "grass", "grass", "grass", "grass", "grass", "grass"},
		{"water_tl", "water_t", "water_t", "water_t", "water_t", "water_t", "water_t", "water_tr"},
		{"water_bl", "water_b", "water_b", "water_b", "water_b", "water_b", "water_b", "water_br"},
		{"grass", "grass", "grass", "grass", "grass", "grass", "grass", "grass"},
	}
	blob := [][]string{
		{"grass", "grass", "grass", "grass", "grass", "grass", "grass", "grass"},
		{"grass", "water_tl", "water_tr", "grass", "grass", "grass", "grass", "grass"},
		{"grass", "water_bl", "water_br", "grass", "grass", "grass", "grass", "grass"},
		{"grass", "grass", "grass", "grass", "grass", "grass", "grass", "grass"},
	}

	channelScore, _ := RiverTask{}.Score(gridFromNames(t, ts, channel), ts)
	blobScore, _ := RiverTask{}.Score(gridFromNames(t, ts, blob), ts)
	if channelScore <= blobScore {
		t.Errorf("channel %f should beat blob %f", channelScore, blobScore)
	}
}

func TestRegistry(t *testing.T) {
	r := Default()
	names := r.Names()
	if len(names) != 2 || names[0] != "pond" || names[1] != "river" {
		t.Fatalf("unexpected task names: %v", names)
	}
	if _, err := r.Get("pond"); err != nil {
		t.Fatalf("pond should be registered: %v", err)
	}
	if _, err := r.Get("canyon"); err == nil {
		t.Fatalf("expected error for unregistered task")
	}
}

func BenchmarkPondScore(b *testing.B) {
	ts := tileset.Biome()
	g := wfc.NewGrid(20, 12, ts.Len())
	water := ts.Index("water")
	grass := ts.Index("grass")
	for y := 0; y < 12; y++ {
		for x := 0; x < 20; x++ {
			idx := grass
			if x >= 4 && x < 12 && y >= 3 && y < 9 {
				idx = water
			}
			g.Cells[y][x] = wfc.Cell{idx: {}}
		}
	}
	var task PondTask
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task.Score(g, ts)
	}
}
