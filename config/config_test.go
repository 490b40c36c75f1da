package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Test empty file gets defaults", func(t *testing.T) {
		cfg, warnings, err := Parse([]byte("{}"))
		require.NoError(t, err)
		def := Default()
		if def.WorkersNum > runtime.NumCPU() {
			assert.Len(t, warnings, 1)
		} else {
			assert.Empty(t, warnings)
		}
		assert.Equal(t, def.Model, cfg.Model)
		assert.Equal(t, 8000, cfg.HTTPPort)
		assert.Equal(t, []string{"*"}, cfg.CorsOrigins)
	})

	t.Run("Test overrides kept", func(t *testing.T) {
		cfg, _, err := Parse([]byte(`
HTTPPort: 9000
InferenceBackend: opencv
workersNum: 1
model:
  path: models/knife.onnx
  classes: [knife, scissors]
  confThreshold: 0.5
`))
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.HTTPPort)
		assert.Equal(t, "opencv", cfg.InferenceBackend)
		assert.Equal(t, "models/knife.onnx", cfg.Model.Path)
		assert.Equal(t, []int{0, 1}, cfg.Model.ClassIDs)
		assert.Equal(t, float32(0.5), cfg.Model.ConfThreshold)
		assert.Equal(t, float32(0.45), cfg.Model.NmsThreshold)
	})

	t.Run("Test invalid settings", func(t *testing.T) {
		for name, doc := range map[string]string{
			"threshold": "model:\n  confThreshold: 1.5\n",
			"ids":       "model:\n  classes: [a, b]\n  classIDs: [0]\n",
			"duplicate": "model:\n  classes: [a, b]\n  classIDs: [3, 3]\n",
			"negative":  "model:\n  classes: [a]\n  classIDs: [-1]\n",
			"backend":   "InferenceBackend: tensorrt\n",
			"yaml":      "HTTPPort: [",
		} {
			_, _, err := Parse([]byte(doc))
			assert.Error(t, err, name)
		}
	})

	t.Run("Test warnings", func(t *testing.T) {
		cfg, warnings, err := Parse([]byte("workersNum: -3\ninstanceClass: Tpu\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.WorkersNum)
		assert.Equal(t, "Cpu", cfg.InstanceClass)
		assert.Len(t, warnings, 2)
	})

	t.Run("Test env overrides", func(t *testing.T) {
		t.Setenv("MODEL_PATH", "/srv/model.onnx")
		t.Setenv("CORS_ORIGINS", "http://a.example,http://b.example")
		cfg, _, err := Parse([]byte("workersNum: 1\n"))
		require.NoError(t, err)
		assert.Equal(t, "/srv/model.onnx", cfg.Model.Path)
		assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CorsOrigins)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("RPCPort: 6000\nworkersNum: 1\n"), 0o644))
	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.RPCPort)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
