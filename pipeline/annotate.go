package pipeline

import (
	"KnifeDetServer/codec"
	iface "KnifeDetServer/interface"
	"fmt"

	"github.com/fogleman/gg"
)

const lineWidth = 2

// Annotate draws one outlined rectangle and a "name (0.93)" label per
// detection onto a copy of img. With no detections the copy is identical to img.
func Annotate(img iface.ImageData, dets []iface.Detection, classes *ClassTable) iface.ImageData {
	if len(dets) == 0 || img.Empty() {
		return img.Clone()
	}
	dc := gg.NewContextForRGBA(codec.ToRGBA(img))
	dc.SetLineWidth(lineWidth)
	for _, d := range dets {
		c := classes.Color(d.ClassID)
		dc.SetRGB255(int(c.R), int(c.G), int(c.B))
		dc.DrawRectangle(float64(d.X1), float64(d.Y1), float64(d.X2-d.X1), float64(d.Y2-d.Y1))
		dc.Stroke()

		label := fmt.Sprintf("%s (%.2f)", d.ClassName, d.Confidence)
		dc.DrawString(label, float64(d.X1-10), float64(d.Y1-10))
	}
	return codec.FromImage(dc.Image())
}
