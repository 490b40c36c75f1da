package pipeline

import (
	iface "KnifeDetServer/interface"

	"github.com/pkg/errors"
)

// Decode turns raw model rows into candidates. A row survives when its best
// class score reaches threshold and that class is on the allow-list; the
// first maximum wins ties. Candidates keep the row order of raw.
func Decode(raw iface.RawOutput, threshold float32, classes *ClassTable) ([]iface.Candidate, error) {
	if raw.Cols < 5 {
		return nil, errors.Wrapf(iface.ErrMalformedOutput, "rows have %d values, need 4 box values and at least one score", raw.Cols)
	}
	if raw.Rows < 0 || len(raw.Data) != raw.Rows*raw.Cols {
		return nil, errors.Wrapf(iface.ErrMalformedOutput, "%d values for %d x %d output", len(raw.Data), raw.Rows, raw.Cols)
	}

	candidates := make([]iface.Candidate, 0, 16)
	for i := 0; i < raw.Rows; i++ {
		row := raw.Row(i)
		scores := row[4:]
		best := 0
		for c := 1; c < len(scores); c++ {
			if scores[c] > scores[best] {
				best = c
			}
		}
		maxScore := scores[best]
		if maxScore < threshold {
			continue
		}
		local, ok := classes.Local(best)
		if !ok {
			continue
		}
		cx, cy, w, h := row[0], row[1], row[2], row[3]
		candidates = append(candidates, iface.Candidate{
			Box:        iface.Rect{X: cx - 0.5*w, Y: cy - 0.5*h, W: w, H: h},
			Confidence: maxScore,
			ClassID:    local,
		})
	}
	return candidates, nil
}
