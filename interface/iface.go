package iface

// ImageData is an interleaved RGB pixel buffer.
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

func NewImageData(width, height int) ImageData {
	return ImageData{
		Data:     make([]byte, width*height*3),
		Width:    width,
		Height:   height,
		Channels: 3,
	}
}

func (img ImageData) Empty() bool {
	return img.Width <= 0 || img.Height <= 0 || len(img.Data) < img.Width*img.Height*img.Channels
}

// Clone returns a deep copy, so the result never aliases the caller's buffer.
func (img ImageData) Clone() ImageData {
	out := img
	out.Data = append([]byte(nil), img.Data...)
	return out
}

// Tensor is a planar NCHW float buffer with values in [0,1].
type Tensor struct {
	Shape [4]int
	Data  []float32
}

func (t Tensor) Side() int {
	return t.Shape[2]
}

// RawOutput is the model output arranged as Rows candidates of Cols values:
// 4 box parameters (cx, cy, w, h) followed by the per-class scores.
type RawOutput struct {
	Rows int
	Cols int
	Data []float32
}

func (r RawOutput) Row(i int) []float32 {
	return r.Data[i*r.Cols : (i+1)*r.Cols]
}

// Rect is a box in top-left form.
type Rect struct {
	X, Y, W, H float32
}

func (r Rect) X2() float32 {
	return r.X + r.W
}

func (r Rect) Y2() float32 {
	return r.Y + r.H
}

type Candidate struct {
	Box        Rect
	Confidence float32
	ClassID    int
}

type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"classId"`
	ClassName  string  `json:"className"`
}

// ScaleContext maps model-input coordinates back onto the source image.
type ScaleContext struct {
	Scale  float64
	Padded int
	Width  int
	Height int
}

type EngineConfig struct {
	Backend    string
	UseGPU     bool
	ModelPath  string
	InputSize  int
	InputName  string
	OutputName string
}

// Backend is a loaded detection model. Infer must be safe to call from
// several goroutines; implementations that cannot run concurrently serialize
// internally.
type Backend interface {
	Infer(t Tensor) (RawOutput, error)
	InputSize() int
	CheckConfig() EngineConfig
	Destroy()
}
