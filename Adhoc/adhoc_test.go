package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryServer(t *testing.T, status int) (*httptest.Server, chan RegisterRequest) {
	got := make(chan RegisterRequest, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got <- req
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: status == http.StatusOK})
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func serverConfig(t *testing.T, srv *httptest.Server) RegServerConfig {
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	cfg := RegServerConfig{}
	cfg.SetAddress(host, p)
	return cfg
}

func TestInstanceClass(t *testing.T) {
	assert.Equal(t, CudaInstance, InstanceClass("Cuda"))
	assert.Equal(t, DmlInstance, InstanceClass("Dml"))
	assert.Equal(t, RocmInstance, InstanceClass("Rocm"))
	assert.Equal(t, CpuInstance, InstanceClass("Cpu"))
	assert.Equal(t, CpuInstance, InstanceClass("tpu"))
}

func TestHeartbeat_Send(t *testing.T) {
	t.Run("Test success", func(t *testing.T) {
		srv, got := registryServer(t, http.StatusOK)
		h := NewHeartbeat(serverConfig(t, srv), "10.0.0.2", 50051, 8000, CpuInstance, func() bool { return true })
		resp, err := h.Send(context.Background())
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, h.Id, resp.Id)

		req := <-got
		assert.Equal(t, "10.0.0.2", req.IP)
		assert.Equal(t, 50051, req.Port)
		assert.Equal(t, 8000, req.HTTPPort)
		assert.True(t, req.ModelLoaded)
	})

	t.Run("Test registry error", func(t *testing.T) {
		srv, _ := registryServer(t, http.StatusInternalServerError)
		h := NewHeartbeat(serverConfig(t, srv), "10.0.0.2", 50051, 8000, CpuInstance, nil)
		_, err := h.Send(context.Background())
		assert.Error(t, err)
	})
}

func TestHeartbeat_SendAliveMessage(t *testing.T) {
	srv, got := registryServer(t, http.StatusOK)
	h := NewHeartbeat(serverConfig(t, srv), "10.0.0.2", 50051, 8000, CudaInstance, nil)
	h.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go h.SendAliveMessage(ctx, &wg)

	for i := 0; i < 3; i++ {
		select {
		case req := <-got:
			assert.Equal(t, h.Id, req.Id)
			assert.Equal(t, CudaInstance, req.InstanceClass)
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat not received")
		}
	}
	cancel()
	wg.Wait()
}
