package Adhoc

import (
	"KnifeDetServer/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	RocmInstance   = 0x2004
	TimeOutSeconds = 5
)

// InstanceClass maps the config name onto the wire constant; unknown names are Cpu.
func InstanceClass(name string) int {
	switch name {
	case "Dml":
		return DmlInstance
	case "Cuda":
		return CudaInstance
	case "Rocm":
		return RocmInstance
	default:
		return CpuInstance
	}
}

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	HTTPPort      int    `json:"httpPort"`
	InstanceClass int    `json:"instanceClass"`
	ModelLoaded   bool   `json:"modelLoaded"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s/api/register", net.JoinHostPort(reg.Addr, fmt.Sprint(reg.Port)))
}

// Heartbeat announces this instance to the registry server.
type Heartbeat struct {
	Id            string
	Server        RegServerConfig
	IP            string
	RPCPort       int
	HTTPPort      int
	InstanceClass int
	ModelLoaded   func() bool
	Interval      time.Duration

	client *resty.Client
}

func NewHeartbeat(server RegServerConfig, ip string, rpcPort, httpPort, instanceClass int, modelLoaded func() bool) *Heartbeat {
	return &Heartbeat{
		Id:            uuid.NewString(),
		Server:        server,
		IP:            ip,
		RPCPort:       rpcPort,
		HTTPPort:      httpPort,
		InstanceClass: instanceClass,
		ModelLoaded:   modelLoaded,
		Interval:      TimeOutSeconds * time.Second,
		client:        resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// Send posts one registration. Errors are returned for the caller to log.
func (h *Heartbeat) Send(ctx context.Context) (RegisterResponse, error) {
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:            h.Id,
		IP:            h.IP,
		Port:          h.RPCPort,
		HTTPPort:      h.HTTPPort,
		InstanceClass: h.InstanceClass,
		ModelLoaded:   h.ModelLoaded != nil && h.ModelLoaded(),
		TimeStamp:     time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.Server.URL())
	if err != nil {
		return respBody, fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return respBody, fmt.Errorf("registry returned %s: %s", resp.Status(), resp.String())
	}
	return respBody, nil
}

// SendAliveMessage sends a heartbeat immediately and then every Interval
// until ctx is cancelled. Failures are logged, never fatal.
func (h *Heartbeat) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("heartbeat panic recovered", zap.Any("Panic", r))
			}
		}()
		if _, err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("Registry", h.Server.URL()), zap.Error(err))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
