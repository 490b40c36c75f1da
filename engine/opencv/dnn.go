// Package opencv runs detection models through the OpenCV DNN module.
package opencv

import (
	"KnifeDetServer/engine"
	iface "KnifeDetServer/interface"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Backend wraps a gocv.Net. OpenCV networks keep per-forward state, so
// Infer is serialized with mu.
type Backend struct {
	mu     sync.Mutex
	net    gocv.Net
	config iface.EngineConfig
	loaded bool
}

func NewBackend(cfg iface.EngineConfig) (*Backend, error) {
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		_ = net.Close()
		return nil, errors.Errorf("opencv could not read model %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendOpenCV)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	cfg.Backend = "opencv"
	return &Backend{net: net, config: cfg, loaded: true}, nil
}

func (b *Backend) Infer(t iface.Tensor) (iface.RawOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return iface.RawOutput{}, iface.ErrModelUnavailable
	}
	if len(t.Data) == 0 {
		return iface.RawOutput{}, errors.New("empty input tensor")
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&t.Data[0])), len(t.Data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(t.Shape[:], gocv.MatTypeCV32F, raw)
	if err != nil {
		return iface.RawOutput{}, errors.Wrap(err, "build input blob")
	}
	defer blob.Close()

	b.net.SetInput(blob, b.config.InputName)
	out := b.net.Forward(b.config.OutputName)
	defer out.Close()
	if out.Empty() {
		return iface.RawOutput{}, errors.New("forward pass returned no output")
	}
	sizes := out.Size()
	dims := make([]int64, len(sizes))
	for i, s := range sizes {
		dims[i] = int64(s)
	}
	channels, n, err := engine.OutputShape(dims)
	if err != nil {
		return iface.RawOutput{}, err
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return iface.RawOutput{}, errors.Wrap(err, "read output blob")
	}
	return engine.ChannelMajorToRows(data, channels, n)
}

func (b *Backend) InputSize() int {
	return b.config.InputSize
}

func (b *Backend) CheckConfig() iface.EngineConfig {
	return b.config
}

func (b *Backend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		_ = b.net.Close()
		b.loaded = false
	}
}
