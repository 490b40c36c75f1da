package main

import (
	adhoc "KnifeDetServer/Adhoc"
	"KnifeDetServer/config"
	"KnifeDetServer/engine"
	"KnifeDetServer/engine/opencv"
	backend "KnifeDetServer/gRPC"
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"KnifeDetServer/monitor"
	"KnifeDetServer/pipeline"
	"KnifeDetServer/web"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// no packet is sent; dialing UDP only resolves the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func openBackend(cfg config.Config) func() (iface.Backend, error) {
	ecfg := iface.EngineConfig{
		Backend:    cfg.InferenceBackend,
		UseGPU:     cfg.Model.UseGPU,
		ModelPath:  cfg.Model.Path,
		InputSize:  cfg.Model.InputSize,
		InputName:  cfg.Model.InputName,
		OutputName: cfg.Model.OutputName,
	}
	return func() (iface.Backend, error) {
		switch cfg.InferenceBackend {
		case "opencv":
			return opencv.NewBackend(ecfg)
		default:
			return engine.NewOnnxBackend(ecfg, cfg.Model.SharedLibPath)
		}
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	CPUNum := runtime.NumCPU()
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" Adhoc Port:", cfg.AdhocPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	for _, w := range warnings {
		logger.Log().Warn(w)
	}

	detector := engine.Load(openBackend(cfg))
	classes, err := pipeline.NewClassTable(cfg.Model.Classes, cfg.Model.ClassIDs, cfg.Model.ColorSeed)
	if err != nil {
		logger.Log().Fatal("invalid class table", zap.Error(err))
	}

	mon := monitor.New()
	p := pipeline.New(detector, classes, pipeline.Params{
		ConfThreshold:  cfg.Model.ConfThreshold,
		ScoreThreshold: cfg.Model.ScoreThreshold,
		NMSThreshold:   cfg.Model.NmsThreshold,
		Eta:            cfg.Model.Eta,
		DisplayWidth:   cfg.DisplayWidth,
	}, pipeline.WithObserver(mon))
	pool := pipeline.NewPool(p, cfg.WorkersNum, cfg.MaxBatch)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.StartMon(ctx, cfg.AdhocPort)
	}()

	if cfg.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Warn("failed to get outbound IP", zap.Error(err))
		}
		reg := adhoc.RegServerConfig{}
		reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		hb := adhoc.NewHeartbeat(reg, ip, cfg.RPCPort, cfg.HTTPPort, adhoc.InstanceClass(cfg.InstanceClass), detector.Available)
		wg.Add(1)
		go hb.SendAliveMessage(ctx, &wg)
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	maxMsg := (cfg.MaxUploadMB*cfg.MaxBatch + 1) << 20
	rpc, err := backend.StartGRPCServer(cfg.RPCPort, &backend.Server{
		Pool:     pool,
		Backend:  cfg.InferenceBackend,
		MaxBatch: cfg.MaxBatch,
		Counter:  mon,
	}, maxMsg)
	if err != nil {
		logger.Log().Fatal("failed to start gRPC server", zap.Error(err))
	}

	httpSrv := web.NewServer(pool, mon, web.Options{
		MaxBatch:       cfg.MaxBatch,
		MaxZipBatch:    cfg.MaxZipBatch,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		CorsOrigins:    cfg.CorsOrigins,
		WsIdleTimeout:  time.Duration(cfg.WsIdleTimeoutMs) * time.Millisecond,
		Backend:        cfg.InferenceBackend,
	}).Start(cfg.HTTPPort)

	<-ctx.Done()
	logger.Log().Warn("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("HTTP server shutdown", zap.Error(err))
	}
	rpc.GracefulStop()
	pool.Close()
	detector.Destroy()
	if cfg.InferenceBackend == "onnx" {
		engine.ReleaseEnvironment()
	}
	wg.Wait()
	fmt.Println("Safely exited")
}
