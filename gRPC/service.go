package proto

import (
	"context"

	"google.golang.org/grpc"
)

type DetectRequest struct {
	Image []byte `json:"image"`
}

type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float32 `json:"confidence"`
	ClassId    int     `json:"classId"`
	ClassName  string  `json:"className"`
}

// DetectResponse carries both images as PNG.
type DetectResponse struct {
	Original       []byte       `json:"original"`
	Annotated      []byte       `json:"annotated"`
	Detections     []*Detection `json:"detections"`
	Degraded       bool         `json:"degraded"`
	DegradedReason string       `json:"degradedReason,omitempty"`
}

type DetectBatchRequest struct {
	Images [][]byte `json:"images"`
}

type BatchResult struct {
	Position int             `json:"position"`
	Result   *DetectResponse `json:"result"`
}

type DetectBatchResponse struct {
	Results        []*BatchResult `json:"results"`
	TotalProcessed int            `json:"totalProcessed"`
	TotalFiles     int            `json:"totalFiles"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status      string   `json:"status"`
	ModelLoaded bool     `json:"modelLoaded"`
	Backend     string   `json:"backend"`
	Classes     []string `json:"classes"`
	Timestamp   int64    `json:"timestamp"`
}

const (
	DetectService_Detect_FullMethodName      = "/detect.DetectService/Detect"
	DetectService_DetectBatch_FullMethodName = "/detect.DetectService/DetectBatch"
	DetectService_Health_FullMethodName      = "/detect.DetectService/Health"
)

type DetectServiceServer interface {
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	DetectBatch(context.Context, *DetectBatchRequest) (*DetectBatchResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

func RegisterDetectServiceServer(s grpc.ServiceRegistrar, srv DetectServiceServer) {
	s.RegisterService(&DetectService_ServiceDesc, srv)
}

func _DetectService_Detect_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectService_Detect_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_DetectBatch_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).DetectBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectService_DetectBatch_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).DetectBatch(ctx, req.(*DetectBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectService_Health_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var DetectService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "detect.DetectService",
	HandlerType: (*DetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: _DetectService_Detect_Handler},
		{MethodName: "DetectBatch", Handler: _DetectService_DetectBatch_Handler},
		{MethodName: "Health", Handler: _DetectService_Health_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "detect",
}

type DetectServiceClient interface {
	Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error)
	DetectBatch(ctx context.Context, in *DetectBatchRequest, opts ...grpc.CallOption) (*DetectBatchResponse, error)
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
}

type detectServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDetectServiceClient returns a client that always uses the json codec.
func NewDetectServiceClient(cc grpc.ClientConnInterface) DetectServiceClient {
	return &detectServiceClient{cc}
}

func (c *detectServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *detectServiceClient) Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error) {
	out := new(DetectResponse)
	if err := c.invoke(ctx, DetectService_Detect_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *detectServiceClient) DetectBatch(ctx context.Context, in *DetectBatchRequest, opts ...grpc.CallOption) (*DetectBatchResponse, error) {
	out := new(DetectBatchResponse)
	if err := c.invoke(ctx, DetectService_DetectBatch_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *detectServiceClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.invoke(ctx, DetectService_Health_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
