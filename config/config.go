package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

type ModelConfig struct {
	Path           string   `yaml:"path"`
	SharedLibPath  string   `yaml:"sharedLibPath"`
	InputSize      int      `yaml:"inputSize"`
	InputName      string   `yaml:"inputName"`
	OutputName     string   `yaml:"outputName"`
	Classes        []string `yaml:"classes"`
	ClassIDs       []int    `yaml:"classIDs"`
	ConfThreshold  float32  `yaml:"confThreshold"`
	ScoreThreshold float32  `yaml:"scoreThreshold"`
	NmsThreshold   float32  `yaml:"nmsThreshold"`
	Eta            float32  `yaml:"eta"`
	ColorSeed      int64    `yaml:"colorSeed"`
	UseGPU         bool     `yaml:"useGPU"`
}

type Config struct {
	HTTPPort         int         `yaml:"HTTPPort"`
	RPCPort          int         `yaml:"RPCPort"`
	AdhocPort        int         `yaml:"AdhocPort"`
	WorkersNum       int         `yaml:"workersNum"`
	MaxBatch         int         `yaml:"maxBatch"`
	MaxZipBatch      int         `yaml:"maxZipBatch"`
	MaxUploadMB      int         `yaml:"maxUploadMB"`
	DisplayWidth     int         `yaml:"displayWidth"`
	InferenceBackend string      `yaml:"InferenceBackend"`
	LogMode          string      `yaml:"logMode"`
	CorsOrigins      []string    `yaml:"corsOrigins"`
	WsIdleTimeoutMs  int         `yaml:"wsIdleTimeoutMs"`
	UseRegServer     bool        `yaml:"UseRegServer"`
	RegServerHost    string      `yaml:"RegServerHost"`
	RegServerPort    int         `yaml:"RegServerPort"`
	InstanceClass    string      `yaml:"instanceClass"`
	Model            ModelConfig `yaml:"model"`
}

// Default mirrors the knife detector the service was first built around:
// one class, YOLOv8 640x640 input.
func Default() Config {
	return Config{
		HTTPPort:         8000,
		RPCPort:          50051,
		AdhocPort:        9100,
		WorkersNum:       4,
		MaxBatch:         100,
		MaxZipBatch:      50,
		MaxUploadMB:      10,
		DisplayWidth:     300,
		InferenceBackend: "onnx",
		LogMode:          "production",
		CorsOrigins:      []string{"*"},
		WsIdleTimeoutMs:  30000,
		InstanceClass:    "Cpu",
		Model: ModelConfig{
			Path:           "best.onnx",
			InputSize:      640,
			InputName:      "images",
			OutputName:     "output0",
			Classes:        []string{"knife"},
			ClassIDs:       []int{0},
			ConfThreshold:  0.70,
			ScoreThreshold: 0.25,
			NmsThreshold:   0.45,
			Eta:            0.5,
			ColorSeed:      42,
		},
	}
}

// Load reads a YAML file. Keys that are missing or zero keep their default.
// The returned warnings are non-fatal and meant for the startup log.
func Load(path string) (Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, []string, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	warnings, err := cfg.Validate()
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	setInt(&c.HTTPPort, def.HTTPPort)
	setInt(&c.RPCPort, def.RPCPort)
	setInt(&c.AdhocPort, def.AdhocPort)
	setInt(&c.WorkersNum, def.WorkersNum)
	setInt(&c.MaxBatch, def.MaxBatch)
	setInt(&c.MaxZipBatch, def.MaxZipBatch)
	setInt(&c.MaxUploadMB, def.MaxUploadMB)
	setInt(&c.DisplayWidth, def.DisplayWidth)
	setInt(&c.WsIdleTimeoutMs, def.WsIdleTimeoutMs)
	setInt(&c.Model.InputSize, def.Model.InputSize)
	if c.InferenceBackend == "" {
		c.InferenceBackend = def.InferenceBackend
	}
	if c.LogMode == "" {
		c.LogMode = def.LogMode
	}
	if len(c.CorsOrigins) == 0 {
		c.CorsOrigins = def.CorsOrigins
	}
	if c.InstanceClass == "" {
		c.InstanceClass = def.InstanceClass
	}
	m := &c.Model
	if m.Path == "" {
		m.Path = def.Model.Path
	}
	if m.InputName == "" {
		m.InputName = def.Model.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.Model.OutputName
	}
	if len(m.Classes) == 0 {
		m.Classes = def.Model.Classes
		if len(m.ClassIDs) == 0 {
			m.ClassIDs = def.Model.ClassIDs
		}
	}
	if len(m.ClassIDs) == 0 {
		m.ClassIDs = make([]int, len(m.Classes))
		for i := range m.ClassIDs {
			m.ClassIDs[i] = i
		}
	}
	setFloat(&m.ConfThreshold, def.Model.ConfThreshold)
	setFloat(&m.ScoreThreshold, def.Model.ScoreThreshold)
	setFloat(&m.NmsThreshold, def.Model.NmsThreshold)
	setFloat(&m.Eta, def.Model.Eta)
	if m.ColorSeed == 0 {
		m.ColorSeed = def.Model.ColorSeed
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CorsOrigins = strings.Split(v, ",")
	}
}

// Validate rejects settings the pipeline cannot run with. workersNum <= 0
// falls back to 1 with a warning, like the original server did.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	cpuNum := runtime.NumCPU()
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
		warnings = append(warnings, "invalid workersNum in config, defaulting to 1")
	} else if c.WorkersNum > cpuNum {
		warnings = append(warnings, fmt.Sprintf("workersNum %d exceeds CPU cores %d, which may lead to performance degradation", c.WorkersNum, cpuNum))
	}
	m := c.Model
	for name, v := range map[string]float32{
		"confThreshold":  m.ConfThreshold,
		"scoreThreshold": m.ScoreThreshold,
		"nmsThreshold":   m.NmsThreshold,
		"eta":            m.Eta,
	} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("model.%s must be between 0.0 and 1.0, got %f", name, v)
		}
	}
	if len(m.Classes) != len(m.ClassIDs) {
		return nil, fmt.Errorf("model.classes has %d entries but model.classIDs has %d", len(m.Classes), len(m.ClassIDs))
	}
	seen := map[int]bool{}
	for _, id := range m.ClassIDs {
		if id < 0 {
			return nil, fmt.Errorf("model.classIDs must not be negative, got %d", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("model.classIDs contains %d twice", id)
		}
		seen[id] = true
	}
	switch c.InferenceBackend {
	case "onnx", "opencv":
	default:
		return nil, fmt.Errorf("unsupported InferenceBackend: %s", c.InferenceBackend)
	}
	switch c.InstanceClass {
	case "Cpu", "Cuda", "Dml", "Rocm":
	default:
		warnings = append(warnings, fmt.Sprintf("invalid instanceClass %q in config, defaulting to Cpu", c.InstanceClass))
		c.InstanceClass = "Cpu"
	}
	return warnings, nil
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float32, def float32) {
	if *v == 0 {
		*v = def
	}
}
