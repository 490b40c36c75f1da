// Package web exposes the detection pool over HTTP and websocket.
package web

import (
	"KnifeDetServer/logger"
	"KnifeDetServer/pipeline"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	Version      = "2.0.0"
	wsReadLimit  = 20 * 1024 * 1024
	requestIDKey = "RequestID"
)

// RequestCounter is satisfied by monitor.Monitor.
type RequestCounter interface {
	Request(transport string)
}

type Options struct {
	MaxBatch       int
	MaxZipBatch    int
	MaxUploadBytes int64
	CorsOrigins    []string
	WsIdleTimeout  time.Duration
	Backend        string
}

type Server struct {
	pool     *pipeline.Pool
	opts     Options
	counter  RequestCounter
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(pool *pipeline.Pool, counter RequestCounter, opts Options) *Server {
	s := &Server{
		pool:    pool,
		opts:    opts,
		counter: counter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return originAllowed(opts.CorsOrigins, r.Header.Get("Origin")) },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware(s.opts.CorsOrigins))

	api := r.Group("/api")
	api.GET("/", s.root)
	api.GET("/health", s.health)
	detect := api.Group("/detect", s.countRequests("http"))
	detect.POST("/single", s.detectSingle)
	detect.POST("/batch", s.detectBatch)
	detect.POST("/batch/download", s.downloadBatch)

	r.GET("/ws/detect", s.countRequests("ws"), s.wsDetect)
	return r
}

// Start serves on port in the background; stop it with Shutdown.
func (s *Server) Start(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log().Info("HTTP server listening", zap.String("Addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return srv
}

func (s *Server) countRequests(transport string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.counter != nil {
			s.counter.Request(transport)
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		start := time.Now()
		c.Next()
		logger.Log().Info("HTTP request",
			zap.String(requestIDKey, id),
			zap.String("Method", c.Request.Method),
			zap.String("Path", c.Request.URL.Path),
			zap.Int("Status", c.Writer.Status()),
			zap.Duration("Elapsed", time.Since(start)))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowAll(origins) {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func allowAll(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return len(origins) == 0
}

func originAllowed(origins []string, origin string) bool {
	if origin == "" || allowAll(origins) {
		return true
	}
	for _, o := range origins {
		if strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	return false
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (s *Server) root(c *gin.Context) {
	status := "not_loaded"
	if s.pool.Pipeline().ModelAvailable() {
		status = "loaded"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Knife Detection AI API",
		"version":      Version,
		"model_status": status,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": s.pool.Pipeline().ModelAvailable(),
		"backend":      s.opts.Backend,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func abort(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}
