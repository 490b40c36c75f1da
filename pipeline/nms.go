package pipeline

import (
	iface "KnifeDetServer/interface"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
)

// IoU is intersection over union of two boxes. Degenerate pairs give 0.
func IoU(a, b iface.Rect) float32 {
	ix := math32.Max(0, math32.Min(a.X2(), b.X2())-math32.Max(a.X, b.X))
	iy := math32.Max(0, math32.Min(a.Y2(), b.Y2())-math32.Max(a.Y, b.Y))
	inter := ix * iy
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Suppress runs greedy non-maximum suppression and returns the indices of the
// surviving candidates in selection order (highest score first).
//
// Candidates scoring at or below scoreThreshold are dropped before the sweep.
// A candidate is kept only if its IoU with every box kept so far is at most
// the current threshold. After each keep, while eta < 1 and the threshold is
// above 0.5, the threshold is multiplied by eta.
func Suppress(cands []iface.Candidate, scoreThreshold, nmsThreshold, eta float32) []int {
	order := make([]int, 0, len(cands))
	for i, c := range cands {
		if c.Confidence > scoreThreshold {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		return []int{}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].Confidence > cands[order[b]].Confidence
	})

	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(cands))
	for _, c := range cands {
		fb.Add(c.Box.X, c.Box.Y, c.Box.X2(), c.Box.Y2())
	}
	fb.Finish()

	kept := make([]bool, len(cands))
	selected := make([]int, 0, len(order))
	threshold := nmsThreshold
	for _, i := range order {
		box := cands[i].Box
		keep := true
		for _, j := range fb.Search(box.X, box.Y, box.X2(), box.Y2()) {
			if !kept[j] {
				continue
			}
			if IoU(box, cands[j].Box) > threshold {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		kept[i] = true
		selected = append(selected, i)
		if eta < 1 && threshold > 0.5 {
			threshold *= eta
		}
	}
	return selected
}
