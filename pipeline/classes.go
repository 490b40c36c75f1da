package pipeline

import (
	"fmt"
	"image/color"
	"math/rand"
)

// ClassTable maps raw model class indices onto the allow-list. It is built
// once at startup and shared read-only by all workers.
type ClassTable struct {
	names      []string
	rawToLocal map[int]int
	colors     []color.RGBA
}

// NewClassTable pairs names[i] with the raw model index rawIDs[i]. Colours
// are drawn uniformly from a source seeded with seed, so they are stable
// across runs for the same class set.
func NewClassTable(names []string, rawIDs []int, seed int64) (*ClassTable, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("class allow-list is empty")
	}
	if len(names) != len(rawIDs) {
		return nil, fmt.Errorf("%d class names but %d class ids", len(names), len(rawIDs))
	}
	ct := &ClassTable{
		names:      append([]string(nil), names...),
		rawToLocal: make(map[int]int, len(rawIDs)),
		colors:     make([]color.RGBA, len(names)),
	}
	for local, raw := range rawIDs {
		if _, dup := ct.rawToLocal[raw]; dup {
			return nil, fmt.Errorf("class id %d listed twice", raw)
		}
		ct.rawToLocal[raw] = local
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range ct.colors {
		ct.colors[i] = color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
			A: 0xff,
		}
	}
	return ct, nil
}

// Local returns the allow-list index for a raw model class index.
func (ct *ClassTable) Local(raw int) (int, bool) {
	local, ok := ct.rawToLocal[raw]
	return local, ok
}

func (ct *ClassTable) Name(local int) string {
	if local < 0 || local >= len(ct.names) {
		return fmt.Sprintf("class_%d", local)
	}
	return ct.names[local]
}

func (ct *ClassTable) Color(local int) color.RGBA {
	if local < 0 || local >= len(ct.colors) {
		return color.RGBA{A: 0xff}
	}
	return ct.colors[local]
}

func (ct *ClassTable) Len() int {
	return len(ct.names)
}

func (ct *ClassTable) Names() []string {
	return append([]string(nil), ct.names...)
}
