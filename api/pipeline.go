package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DetectionTrackingPipeline_SendFrameToServer_FullMethodName      = "/pipeline.DetectionTrackingPipeline/SendFrameToServer"
	DetectionTrackingPipeline_SendDetectionsToServer_FullMethodName = "/pipeline.DetectionTrackingPipeline/SendDetectionsToServer"
)

// DetectionTrackingPipelineClient is the client API of the pipeline services.
// The aggregator calls SendFrameToServer on the detector, the detector calls
// SendDetectionsToServer on the tracker.
type DetectionTrackingPipelineClient interface {
	SendFrameToServer(ctx context.Context, in *FrameData, opts ...grpc.CallOption) (*Ack, error)
	SendDetectionsToServer(ctx context.Context, in *DetectionData, opts ...grpc.CallOption) (*TrackingResult, error)
}

type detectionTrackingPipelineClient struct {
	cc grpc.ClientConnInterface
}

func NewDetectionTrackingPipelineClient(cc grpc.ClientConnInterface) DetectionTrackingPipelineClient {
	return &detectionTrackingPipelineClient{cc}
}

func (c *detectionTrackingPipelineClient) SendFrameToServer(ctx context.Context, in *FrameData, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, DetectionTrackingPipeline_SendFrameToServer_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *detectionTrackingPipelineClient) SendDetectionsToServer(ctx context.Context, in *DetectionData, opts ...grpc.CallOption) (*TrackingResult, error) {
	out := new(TrackingResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, DetectionTrackingPipeline_SendDetectionsToServer_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectionTrackingPipelineServer is the server API of the pipeline services
type DetectionTrackingPipelineServer interface {
	SendFrameToServer(context.Context, *FrameData) (*Ack, error)
	SendDetectionsToServer(context.Context, *DetectionData) (*TrackingResult, error)
	mustEmbedUnimplementedDetectionTrackingPipelineServer()
}

// UnimplementedDetectionTrackingPipelineServer must be embedded by every
// server so each service only implements the calls it serves
type UnimplementedDetectionTrackingPipelineServer struct{}

func (UnimplementedDetectionTrackingPipelineServer) SendFrameToServer(context.Context, *FrameData) (*Ack, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendFrameToServer not implemented")
}

func (UnimplementedDetectionTrackingPipelineServer) SendDetectionsToServer(context.Context, *DetectionData) (*TrackingResult, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendDetectionsToServer not implemented")
}

func (UnimplementedDetectionTrackingPipelineServer) mustEmbedUnimplementedDetectionTrackingPipelineServer() {}

func RegisterDetectionTrackingPipelineServer(s grpc.ServiceRegistrar, srv DetectionTrackingPipelineServer) {
	s.RegisterService(&DetectionTrackingPipeline_ServiceDesc, srv)
}

func _DetectionTrackingPipeline_SendFrameToServer_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FrameData)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionTrackingPipelineServer).SendFrameToServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DetectionTrackingPipeline_SendFrameToServer_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectionTrackingPipelineServer).SendFrameToServer(ctx, req.(*FrameData))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectionTrackingPipeline_SendDetectionsToServer_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DetectionData)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionTrackingPipelineServer).SendDetectionsToServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DetectionTrackingPipeline_SendDetectionsToServer_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectionTrackingPipelineServer).SendDetectionsToServer(ctx, req.(*DetectionData))
	}
	return interceptor(ctx, in, info, handler)
}

// DetectionTrackingPipeline_ServiceDesc describes the pipeline service. The
// messages are plain structs carried by the json codec.
var DetectionTrackingPipeline_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "pipeline.DetectionTrackingPipeline",
	HandlerType: (*DetectionTrackingPipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendFrameToServer",
			Handler:    _DetectionTrackingPipeline_SendFrameToServer_Handler,
		},
		{
			MethodName: "SendDetectionsToServer",
			Handler:    _DetectionTrackingPipeline_SendDetectionsToServer_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/pipeline.go",
}
