package tileset

import "fmt"

// edge class names for the built-in sets
const (
	open  = "OPEN"
	line  = "LINE"
	grass = "GRASS"
	water = "WATER"
)

// Pipes is the box-drawing tile vocabulary: open floor, a marker tile and
// six pipe pieces whose LINE edges must connect.
func Pipes() *Set {
	e := func(u, r, d, l string) [NumDirections]string {
		var out [NumDirections]string
		out[Up], out[Right], out[Down], out[Left] = u, r, d, l
		return out
	}
	tiles := []Tile{
		{Name: " ", Edges: e(open, open, open, open)},
		{Name: "X", Edges: e(open, open, open, open)},
		{Name: "═", Edges: e(open, line, open, line)},
		{Name: "║", Edges: e(line, open, line, open)},
		{Name: "╔", Edges: e(open, line, line, open)},
		{Name: "╗", Edges: e(open, open, line, line)},
		{Name: "╚", Edges: e(line, line, open, open)},
		{Name: "╝", Edges: e(line, open, open, line)},
	}
	s, err := NewSet("pipes", tiles)
	if err != nil {
		panic(fmt.Sprintf("builtin pipes tileset: %v", err))
	}
	return s
}

// Biome is the water/shore/grass/hill vocabulary used by the pond and
// river tasks. Shore tiles carry a WATER edge on their wet side and a
// GRASS edge on their dry side so water bodies always close with a shore.
func Biome() *Set {
	e := func(u, r, d, l string) [NumDirections]string {
		var out [NumDirections]string
		out[Up], out[Right], out[Down], out[Left] = u, r, d, l
		return out
	}
	tiles := []Tile{
		{Name: "grass", Edges: e(grass, grass, grass, grass)},
		{Name: "hill", Edges: e(grass, grass, grass, grass)},
		{Name: "water", Edges: e(water, water, water, water)},
		// Straight shores: water on one side, grass on the other.
		{Name: "water_t", Edges: e(grass, water, water, water)},
		{Name: "water_b", Edges: e(water, water, grass, water)},
		{Name: "water_l", Edges: e(water, water, water, grass)},
		{Name: "water_r", Edges: e(water, grass, water, water)},
		// Outer corners.
		{Name: "water_tl", Edges: e(grass, water, water, grass)},
		{Name: "water_tr", Edges: e(grass, grass, water, water)},
		{Name: "water_bl", Edges: e(water, water, grass, grass)},
		{Name: "water_br", Edges: e(water, grass, grass, water)},
		// Inner shore corners.
		{Name: "shore_tl", Edges: e(water, water, grass, grass)},
		{Name: "shore_tr", Edges: e(water, grass, grass, water)},
		{Name: "shore_bl", Edges: e(grass, water, water, grass)},
		{Name: "shore_br", Edges: e(grass, grass, water, water)},
	}
	s, err := NewSet("biome", tiles)
	if err != nil {
		panic(fmt.Sprintf("builtin biome tileset: %v", err))
	}
	return s
}

// Builtin returns a built-in tileset by name.
func Builtin(name string) (*Set, error) {
	switch name {
	case "pipes":
		return Pipes(), nil
	case "biome":
		return Biome(), nil
	default:
		return nil, fmt.Errorf("unknown builtin tileset %q", name)
	}
}
