package engine

import (
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Detector is the inference adapter handed to every pipeline. It is built
// once by Load, read-only afterwards, and released by Destroy at shutdown.
// Concurrency is delegated to the backend: both bundled backends serialize
// Infer calls with their own mutex.
type Detector struct {
	mu        sync.RWMutex
	backend   iface.Backend
	State     int
	LoadError error
}

// Load opens the model with open. A failure is logged and leaves the
// Detector permanently UNAVAILABLE instead of stopping the process.
func Load(open func() (iface.Backend, error)) *Detector {
	d := &Detector{}
	backend, err := open()
	if err != nil {
		d.State = UNAVAILABLE
		d.LoadError = err
		logger.Log().Error("failed to load detection model, serving in degraded mode", zap.Error(err))
		return d
	}
	d.backend = backend
	d.State = IDLE
	cfg := backend.CheckConfig()
	logger.Log().Info("detection model loaded",
		zap.String("Backend", cfg.Backend),
		zap.String("ModelPath", cfg.ModelPath),
		zap.Int("InputSize", cfg.InputSize),
		zap.Bool("UseGPU", cfg.UseGPU))
	return d
}

// NewDetector wraps an already opened backend.
func NewDetector(backend iface.Backend) *Detector {
	return &Detector{backend: backend, State: IDLE}
}

func (d *Detector) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.State == IDLE && d.backend != nil
}

func (d *Detector) InputSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.backend == nil {
		return 0
	}
	return d.backend.InputSize()
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.backend == nil {
		return iface.EngineConfig{}
	}
	return d.backend.CheckConfig()
}

func (d *Detector) Infer(t iface.Tensor) (iface.RawOutput, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.State != IDLE || d.backend == nil {
		return iface.RawOutput{}, iface.ErrModelUnavailable
	}
	if side := d.backend.InputSize(); t.Shape != [4]int{1, 3, side, side} {
		return iface.RawOutput{}, errors.Errorf("input tensor shape %v, model expects [1 3 %d %d]", t.Shape, side, side)
	}
	out, err := d.backend.Infer(t)
	if err != nil {
		return iface.RawOutput{}, errors.Wrap(err, "model inference")
	}
	return out, nil
}

// Destroy waits for in-flight Infer calls before releasing the backend.
func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend != nil {
		d.backend.Destroy()
		d.backend = nil
	}
	d.State = UNREGISTERED
}
