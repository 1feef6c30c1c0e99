package status

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/distroget/internal/domain/release"
	pb "github.com/oshokin/distroget/internal/pb/v1"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/download"
)

// Provider abstracts the observers the transport layer depends on.
type Provider interface {
	Status() (download.Status, bool)
	LastReport() *release.Report
}

// Server implements the StatusService gRPC API.
type Server struct {
	pb.UnimplementedStatusServiceServer

	// provider exposes the current run state.
	provider Provider
}

// NewServer wires the provided observer into a gRPC handler.
func NewServer(provider Provider) *Server {
	return &Server{
		provider: provider,
	}
}

// GetStatus returns the snapshot of the current or last worker pool. Before
// the first run it returns an empty snapshot with the same key set.
func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshot, _ := s.provider.Status()

	response, err := structpb.NewStruct(snapshot.Fields())
	if err != nil {
		return nil, grpcstatus.Error(codes.Internal, "unable to encode status")
	}

	return response, nil
}

// GetLastReport returns the report of the last finished run.
func (s *Server) GetLastReport(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	last := s.provider.LastReport()
	if last == nil {
		return nil, grpcstatus.Error(codes.NotFound, "no run has finished yet")
	}

	response, err := report.ToProto(last)
	if err != nil {
		return nil, grpcstatus.Error(codes.Internal, "unable to encode report")
	}

	return response, nil
}
