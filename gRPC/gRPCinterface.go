package proto

import (
	"KnifeDetServer/codec"
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"KnifeDetServer/pipeline"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestCounter is satisfied by monitor.Monitor.
type RequestCounter interface {
	Request(transport string)
}

type Server struct {
	Pool     *pipeline.Pool
	Backend  string
	MaxBatch int
	Counter  RequestCounter
}

func (s *Server) count() {
	if s.Counter != nil {
		s.Counter.Request("grpc")
	}
}

func (s *Server) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	s.count()
	res, err := s.Pool.Submit(ctx, req.Image)
	if err != nil {
		return nil, toStatus(err)
	}
	return toResponse(res)
}

func (s *Server) DetectBatch(ctx context.Context, req *DetectBatchRequest) (*DetectBatchResponse, error) {
	s.count()
	if len(req.Images) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no images in request")
	}
	batch, err := s.Pool.DetectBatch(ctx, req.Images, s.MaxBatch)
	if err != nil {
		return nil, toStatus(err)
	}
	if len(batch.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no valid images could be processed")
	}
	out := &DetectBatchResponse{
		Results:        make([]*BatchResult, 0, len(batch.Items)),
		TotalProcessed: len(batch.Items),
		TotalFiles:     len(req.Images),
	}
	for _, item := range batch.Items {
		r, err := toResponse(item.Result)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, &BatchResult{Position: item.Position, Result: r})
	}
	return out, nil
}

func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	s.count()
	p := s.Pool.Pipeline()
	return &HealthResponse{
		Status:      "healthy",
		ModelLoaded: p.ModelAvailable(),
		Backend:     s.Backend,
		Classes:     p.Classes().Names(),
		Timestamp:   time.Now().Unix(),
	}, nil
}

func toResponse(res *pipeline.Result) (*DetectResponse, error) {
	original, err := codec.EncodePNG(res.Original)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	annotated, err := codec.EncodePNG(res.Annotated)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	dets := make([]*Detection, 0, len(res.Detections))
	for _, d := range res.Detections {
		dets = append(dets, &Detection{
			X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2,
			Confidence: d.Confidence,
			ClassId:    d.ClassID,
			ClassName:  d.ClassName,
		})
	}
	return &DetectResponse{
		Original:       original,
		Annotated:      annotated,
		Detections:     dets,
		Degraded:       res.Degraded,
		DegradedReason: res.DegradedReason,
	}, nil
}

func toStatus(err error) error {
	switch {
	case iface.IsDecodeError(err), errors.Is(err, iface.ErrBatchTooLarge), errors.Is(err, iface.ErrEmptyImage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, iface.ErrPoolClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// logRequests tags every call with a request id.
func logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	id := uuid.NewString()
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("RequestID", id),
		zap.String("Method", info.FullMethod),
		zap.Duration("Elapsed", time.Since(start)),
	}
	if err != nil {
		logger.Log().Warn("gRPC request failed", append(fields, zap.Error(err))...)
	} else {
		logger.Log().Info("gRPC request", fields...)
	}
	return resp, err
}

// NewGRPCServer builds a grpc.Server with the detect service registered.
func NewGRPCServer(srv *Server, maxMsgBytes int) *grpc.Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(logRequests),
		grpc.MaxRecvMsgSize(maxMsgBytes),
		grpc.MaxSendMsgSize(maxMsgBytes),
	)
	RegisterDetectServiceServer(s, srv)
	return s
}

// StartGRPCServer listens on port and serves in the background; the caller
// stops it with GracefulStop.
func StartGRPCServer(port int, srv *Server, maxMsgBytes int) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewGRPCServer(srv, maxMsgBytes)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("Addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
