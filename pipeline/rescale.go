package pipeline

import (
	iface "KnifeDetServer/interface"
	"math"
)

// Rescale maps a box from model-input space back onto the image described by
// sc. Coordinates are rounded half to even and clamped to the image, so
// 0 <= x1 <= x2 <= Width and 0 <= y1 <= y2 <= Height.
func Rescale(box iface.Rect, sc iface.ScaleContext) (x1, y1, x2, y2 int) {
	x1 = scaleCoord(box.X, sc.Scale, sc.Width)
	y1 = scaleCoord(box.Y, sc.Scale, sc.Height)
	x2 = scaleCoord(box.X2(), sc.Scale, sc.Width)
	y2 = scaleCoord(box.Y2(), sc.Scale, sc.Height)
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return
}

func scaleCoord(v float32, scale float64, limit int) int {
	r := math.RoundToEven(float64(v) * scale)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > float64(limit) {
		return limit
	}
	return int(r)
}
