package engine

import (
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var ortInitMu sync.Mutex

// OnnxBackend runs a YOLO-style model through ONNX Runtime. The session is
// bound to a single input and output tensor, so Infer holds mu for the whole
// copy-run-read cycle.
type OnnxBackend struct {
	mu       sync.Mutex
	config   iface.EngineConfig
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	channels int
	n        int
}

// initEnvironment is idempotent; ONNX Runtime allows one environment per process.
func initEnvironment(sharedLibPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibPath != "" {
		ort.SetSharedLibraryPath(sharedLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize ONNX Runtime environment")
	}
	return nil
}

func NewOnnxBackend(cfg iface.EngineConfig, sharedLibPath string) (*OnnxBackend, error) {
	if len(cfg.ModelPath) < 5 || cfg.ModelPath[len(cfg.ModelPath)-5:] != ".onnx" {
		return nil, errors.Errorf("onnx backend only supports .onnx models, got %q", cfg.ModelPath)
	}
	if err := initEnvironment(sharedLibPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read model info from %s", cfg.ModelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s has no inputs or outputs", cfg.ModelPath)
	}
	inputInfo, outputInfo := inputs[0], outputs[0]
	if cfg.InputName == "" {
		cfg.InputName = inputInfo.Name
	}
	if cfg.OutputName == "" {
		cfg.OutputName = outputInfo.Name
	}
	if dims := inputInfo.Dimensions; len(dims) == 4 && dims[2] > 0 && int(dims[2]) != cfg.InputSize {
		logger.Log().Warn("configured input size differs from model, using model value",
			zap.Int("Configured", cfg.InputSize), zap.Int64("Model", dims[2]))
		cfg.InputSize = int(dims[2])
	}
	channels, n, err := OutputShape(outputInfo.Dimensions)
	if err != nil {
		return nil, err
	}
	if channels <= 4 || n <= 0 {
		return nil, errors.Errorf("model output %v must be static with at least 5 channels", outputInfo.Dimensions)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()
	_ = options.SetIntraOpNumThreads(runtime.NumCPU())
	_ = options.SetInterOpNumThreads(1)
	if cfg.UseGPU {
		if err := appendCUDA(options); err != nil {
			logger.Log().Warn("CUDA execution provider unavailable, falling back to CPU", zap.Error(err))
			cfg.UseGPU = false
		}
	}

	side := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, side, side))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(channels), int64(n)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create ONNX session")
	}
	cfg.Backend = "onnx"
	return &OnnxBackend{
		config:   cfg,
		session:  session,
		input:    input,
		output:   output,
		channels: channels,
		n:        n,
	}, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

func (b *OnnxBackend) Infer(t iface.Tensor) (iface.RawOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return iface.RawOutput{}, iface.ErrModelUnavailable
	}
	dst := b.input.GetData()
	if len(t.Data) != len(dst) {
		return iface.RawOutput{}, errors.Errorf("tensor has %d values, model input needs %d", len(t.Data), len(dst))
	}
	copy(dst, t.Data)
	if err := b.session.Run(); err != nil {
		return iface.RawOutput{}, errors.Wrap(err, "run session")
	}
	return ChannelMajorToRows(b.output.GetData(), b.channels, b.n)
}

func (b *OnnxBackend) InputSize() int {
	return b.config.InputSize
}

func (b *OnnxBackend) CheckConfig() iface.EngineConfig {
	return b.config
}

func (b *OnnxBackend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		_ = b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		_ = b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		_ = b.output.Destroy()
		b.output = nil
	}
}

// ReleaseEnvironment tears down ONNX Runtime once every backend is destroyed.
func ReleaseEnvironment() {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}
