package engine

import (
	iface "KnifeDetServer/interface"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mu        sync.Mutex
	calls     int
	destroyed bool
	side      int
	out       iface.RawOutput
	err       error
}

func (m *MockBackend) Infer(t iface.Tensor) (iface.RawOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.out, m.err
}
func (m *MockBackend) InputSize() int { return m.side }
func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{Backend: "mock", ModelPath: "mock.onnx", InputSize: m.side}
}
func (m *MockBackend) Destroy() { m.destroyed = true }

func tensor(side int) iface.Tensor {
	return iface.Tensor{Shape: [4]int{1, 3, side, side}, Data: make([]float32, 3*side*side)}
}

func TestChannelMajorToRows(t *testing.T) {
	// 5 channels (cx, cy, w, h, score) x 3 candidates
	data := []float32{
		1, 2, 3,
		10, 20, 30,
		100, 200, 300,
		4, 5, 6,
		0.1, 0.2, 0.3,
	}
	out, err := ChannelMajorToRows(data, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Rows)
	assert.Equal(t, 5, out.Cols)
	assert.Equal(t, []float32{1, 10, 100, 4, 0.1}, out.Row(0))
	assert.Equal(t, []float32{3, 30, 300, 6, 0.3}, out.Row(2))

	_, err = ChannelMajorToRows(data, 5, 4)
	assert.ErrorIs(t, err, iface.ErrMalformedOutput)
}

func TestOutputShape(t *testing.T) {
	c, n, err := OutputShape([]int64{1, 5, 8400})
	require.NoError(t, err)
	assert.Equal(t, 5, c)
	assert.Equal(t, 8400, n)

	c, n, err = OutputShape([]int64{84, 8400})
	require.NoError(t, err)
	assert.Equal(t, 84, c)
	assert.Equal(t, 8400, n)

	_, _, err = OutputShape([]int64{2, 5, 8400})
	assert.Error(t, err)
	_, _, err = OutputShape([]int64{8400})
	assert.Error(t, err)
}

func TestDetector_All(t *testing.T) {
	backend := &MockBackend{side: 32, out: iface.RawOutput{Rows: 1, Cols: 5, Data: []float32{1, 1, 1, 1, 0.9}}}
	d := Load(func() (iface.Backend, error) { return backend, nil })

	t.Run("Test Load", func(t *testing.T) {
		assert.Equal(t, IDLE, d.State)
		assert.True(t, d.Available())
		assert.Equal(t, 32, d.InputSize())
		assert.Equal(t, "mock.onnx", d.CheckConfig().ModelPath)
	})

	t.Run("Test Infer", func(t *testing.T) {
		out, err := d.Infer(tensor(32))
		require.NoError(t, err)
		assert.Equal(t, backend.out, out)
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("Test Infer rejects wrong shape", func(t *testing.T) {
		_, err := d.Infer(tensor(16))
		assert.Error(t, err)
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("Test Infer wraps backend error", func(t *testing.T) {
		backend.err = errors.New("boom")
		_, err := d.Infer(tensor(32))
		assert.ErrorContains(t, err, "boom")
		backend.err = nil
	})

	t.Run("Test Concurrent Infer", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := d.Infer(tensor(32))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, backend.calls)
	})

	t.Run("Test Destroy", func(t *testing.T) {
		d.Destroy()
		assert.True(t, backend.destroyed)
		assert.Equal(t, UNREGISTERED, d.State)
		assert.False(t, d.Available())
		_, err := d.Infer(tensor(32))
		assert.ErrorIs(t, err, iface.ErrModelUnavailable)
	})
}

func TestDetector_LoadFailure(t *testing.T) {
	d := Load(func() (iface.Backend, error) { return nil, errors.New("no such file") })
	assert.Equal(t, UNAVAILABLE, d.State)
	assert.False(t, d.Available())
	assert.EqualError(t, d.LoadError, "no such file")
	assert.Equal(t, 0, d.InputSize())

	_, err := d.Infer(tensor(640))
	assert.ErrorIs(t, err, iface.ErrModelUnavailable)
	d.Destroy()
}

func TestNewOnnxBackend_RejectsNonOnnx(t *testing.T) {
	_, err := NewOnnxBackend(iface.EngineConfig{ModelPath: "model/test_model.param", InputSize: 640}, "")
	assert.Error(t, err)
}
