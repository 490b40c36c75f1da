package monitor

import (
	"KnifeDetServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Monitor owns a private registry with process gauges and the detection
// counters. It satisfies pipeline.Observer.
type Monitor struct {
	registry *prometheus.Registry
	proc     *process.Process

	memUsage        prometheus.Gauge
	cpuUsage        prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	ImagesProcessed *prometheus.CounterVec
	PipelineSeconds prometheus.Histogram
}

func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of detection requests by transport",
		}, []string{"transport"}),
		ImagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "images_processed_total",
			Help: "Images run through the pipeline by outcome",
		}, []string{"outcome"}),
		PipelineSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Time spent in the detection pipeline per image",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.RequestsTotal, m.ImagesProcessed, m.PipelineSeconds)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Warn("process stats unavailable", zap.Error(err))
	}
	m.proc = proc
	return m
}

// Request counts one incoming request on transport (http, ws, grpc).
func (m *Monitor) Request(transport string) {
	m.RequestsTotal.WithLabelValues(transport).Inc()
}

func (m *Monitor) ObserveImage(outcome string, elapsed time.Duration) {
	m.ImagesProcessed.WithLabelValues(outcome).Inc()
	if outcome != "failed" {
		m.PipelineSeconds.Observe(elapsed.Seconds())
	}
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) CheckProcessInfo() {
	if m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process stats until ctx is done.
func (m *Monitor) StartMon(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Int("Port", port), zap.Error(err))
		}
	}()
	logger.Log().Info("metrics server listening", zap.Int("Port", port))

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("metrics server shutdown", zap.Error(err))
	}
}
