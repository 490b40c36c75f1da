package pipeline

import (
	iface "KnifeDetServer/interface"
	"image"

	"github.com/disintegration/imaging"
)

// Letterbox pads img into a black square of side max(W, H) anchored at the
// top-left, resizes it to side x side and returns it as a planar RGB tensor
// normalized to [0,1], plus the scale needed to map boxes back.
func Letterbox(img iface.ImageData, side int) (iface.Tensor, iface.ScaleContext, error) {
	if img.Empty() || side <= 0 {
		return iface.Tensor{}, iface.ScaleContext{}, iface.ErrEmptyImage
	}
	length := max(img.Width, img.Height)

	canvas := image.NewNRGBA(image.Rect(0, 0, length, length))
	for i := 3; i < len(canvas.Pix); i += 4 {
		canvas.Pix[i] = 0xff
	}
	for y := 0; y < img.Height; y++ {
		src := img.Data[y*img.Width*3 : (y+1)*img.Width*3]
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < img.Width; x++ {
			row[x*4] = src[x*3]
			row[x*4+1] = src[x*3+1]
			row[x*4+2] = src[x*3+2]
		}
	}

	resized := canvas
	if length != side {
		resized = imaging.Resize(canvas, side, side, imaging.Linear)
	}

	plane := side * side
	t := iface.Tensor{
		Shape: [4]int{1, 3, side, side},
		Data:  make([]float32, 3*plane),
	}
	for y := 0; y < side; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < side; x++ {
			i := y*side + x
			t.Data[i] = float32(row[x*4]) / 255.0
			t.Data[plane+i] = float32(row[x*4+1]) / 255.0
			t.Data[2*plane+i] = float32(row[x*4+2]) / 255.0
		}
	}

	sc := iface.ScaleContext{
		Scale:  float64(length) / float64(side),
		Padded: length,
		Width:  img.Width,
		Height: img.Height,
	}
	return t, sc, nil
}
