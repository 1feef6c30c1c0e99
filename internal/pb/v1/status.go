package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// StatusServiceName is the fully qualified service name.
	StatusServiceName = "distroget.v1.StatusService"

	// GetStatusMethod is the full method name of GetStatus.
	GetStatusMethod = "/" + StatusServiceName + "/GetStatus"
	// GetLastReportMethod is the full method name of GetLastReport.
	GetLastReportMethod = "/" + StatusServiceName + "/GetLastReport"
)

// StatusServiceClient is the client API for StatusService.
type StatusServiceClient interface {
	// GetStatus returns the download pool snapshot of the current or last run.
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	// GetLastReport returns the report of the last finished run.
	GetLastReport(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type statusServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStatusServiceClient returns a client over cc.
func NewStatusServiceClient(cc grpc.ClientConnInterface) StatusServiceClient {
	return &statusServiceClient{cc: cc}
}

func (c *statusServiceClient) GetStatus(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *statusServiceClient) GetLastReport(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetLastReportMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// StatusServiceServer is the server API for StatusService.
type StatusServiceServer interface {
	GetStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	GetLastReport(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedStatusServiceServer answers every method with codes.Unimplemented.
type UnimplementedStatusServiceServer struct{}

// GetStatus implements StatusServiceServer.
func (UnimplementedStatusServiceServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

// GetLastReport implements StatusServiceServer.
func (UnimplementedStatusServiceServer) GetLastReport(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLastReport not implemented")
}

// RegisterStatusServiceServer registers srv on s.
func RegisterStatusServiceServer(s grpc.ServiceRegistrar, srv StatusServiceServer) {
	s.RegisterService(&StatusServiceDesc, srv)
}

func getStatusHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	server, _ := srv.(StatusServiceServer)
	if interceptor == nil {
		return server.GetStatus(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetStatusMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return server.GetStatus(ctx, req.(*emptypb.Empty)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

func getLastReportHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature is fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	server, _ := srv.(StatusServiceServer)
	if interceptor == nil {
		return server.GetLastReport(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetLastReportMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return server.GetLastReport(ctx, req.(*emptypb.Empty)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

// StatusServiceDesc describes StatusService for grpc.Server.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var StatusServiceDesc = grpc.ServiceDesc{
	ServiceName: StatusServiceName,
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    getStatusHandler,
		},
		{
			MethodName: "GetLastReport",
			Handler:    getLastReportHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "distroget/v1/status.proto",
}
