// Package pipeline turns one decoded image into an annotated image plus the
// list of detections, and runs batches of those on a worker pool.
package pipeline

import (
	"KnifeDetServer/codec"
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Inferencer is the part of engine.Detector the pipeline needs.
type Inferencer interface {
	Infer(t iface.Tensor) (iface.RawOutput, error)
	InputSize() int
	Available() bool
}

// Observer is told about every image the pipeline finishes, successfully or not.
type Observer interface {
	ObserveImage(outcome string, elapsed time.Duration)
}

type Params struct {
	ConfThreshold  float32
	ScoreThreshold float32
	NMSThreshold   float32
	Eta            float32
	DisplayWidth   int
}

type Timings struct {
	Decode     time.Duration `json:"decode"`
	Preprocess time.Duration `json:"preprocess"`
	Inference  time.Duration `json:"inference"`
	Postproc   time.Duration `json:"postprocess"`
	Total      time.Duration `json:"total"`
}

// Result of one image. Original is the display-sized image the detections
// refer to; Annotated is a separate buffer.
type Result struct {
	Original       iface.ImageData
	Annotated      iface.ImageData
	Detections     []iface.Detection
	Degraded       bool
	DegradedReason string
	Timings        Timings
}

type Pipeline struct {
	detector Inferencer
	classes  *ClassTable
	params   Params
	observer Observer
	decode   func([]byte) (iface.ImageData, error)
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithDecoder replaces codec.Decode for ProcessBytes.
func WithDecoder(decode func([]byte) (iface.ImageData, error)) Option {
	return func(p *Pipeline) { p.decode = decode }
}

func New(detector Inferencer, classes *ClassTable, params Params, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector: detector,
		classes:  classes,
		params:   params,
		decode:   codec.Decode,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Classes() *ClassTable {
	return p.classes
}

func (p *Pipeline) ModelAvailable() bool {
	return p.detector != nil && p.detector.Available()
}

// ProcessBytes decodes data and runs Process. Undecodable input returns a
// *iface.DecodeError.
func (p *Pipeline) ProcessBytes(data []byte) (*Result, error) {
	start := time.Now()
	img, err := p.decode(data)
	if err != nil {
		p.observe(OutcomeFailed, time.Since(start))
		if !iface.IsDecodeError(err) {
			err = &iface.DecodeError{Cause: err}
		}
		return nil, err
	}
	decoded := time.Since(start)
	res, err := p.process(img, start)
	if err != nil {
		return nil, err
	}
	res.Timings.Decode = decoded
	return res, nil
}

// Process resizes img for display and detects on the display image. Any
// failure after that point yields a Degraded result carrying the plain
// display image rather than an error.
func (p *Pipeline) Process(img iface.ImageData) (*Result, error) {
	return p.process(img, time.Now())
}

func (p *Pipeline) process(img iface.ImageData, start time.Time) (*Result, error) {
	if img.Empty() {
		p.observe(OutcomeFailed, time.Since(start))
		return nil, iface.ErrEmptyImage
	}
	display := img.Clone()
	if p.params.DisplayWidth > 0 {
		display = codec.ResizeWidth(img, p.params.DisplayWidth)
	}
	res := &Result{Original: display}

	dets, err := p.detect(display, &res.Timings)
	if err != nil {
		res.Annotated = display.Clone()
		res.Detections = []iface.Detection{}
		res.Degraded = true
		res.DegradedReason = err.Error()
		res.Timings.Total = time.Since(start)
		logger.Log().Warn("detection degraded", zap.String("Reason", res.DegradedReason))
		p.observe(OutcomeDegraded, res.Timings.Total)
		return res, nil
	}
	t := time.Now()
	res.Detections = dets
	res.Annotated = Annotate(display, dets, p.classes)
	res.Timings.Postproc += time.Since(t)
	res.Timings.Total = time.Since(start)
	p.observe(OutcomeOK, res.Timings.Total)
	return res, nil
}

func (p *Pipeline) detect(img iface.ImageData, tm *Timings) ([]iface.Detection, error) {
	if !p.ModelAvailable() {
		return nil, iface.ErrModelUnavailable
	}

	t := time.Now()
	tensor, sc, err := Letterbox(img, p.detector.InputSize())
	if err != nil {
		return nil, errors.Wrap(err, "letterbox")
	}
	tm.Preprocess = time.Since(t)

	t = time.Now()
	raw, err := p.detector.Infer(tensor)
	if err != nil {
		return nil, err
	}
	tm.Inference = time.Since(t)

	t = time.Now()
	cands, err := Decode(raw, p.params.ConfThreshold, p.classes)
	if err != nil {
		return nil, err
	}
	keep := Suppress(cands, p.params.ScoreThreshold, p.params.NMSThreshold, p.params.Eta)
	dets := make([]iface.Detection, 0, len(keep))
	for _, i := range keep {
		c := cands[i]
		x1, y1, x2, y2 := Rescale(c.Box, sc)
		dets = append(dets, iface.Detection{
			X1: x1, Y1: y1, X2: x2, Y2: y2,
			Confidence: c.Confidence,
			ClassID:    c.ClassID,
			ClassName:  p.classes.Name(c.ClassID),
		})
	}
	tm.Postproc = time.Since(t)
	return dets, nil
}

func (p *Pipeline) observe(outcome string, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveImage(outcome, elapsed)
	}
}
