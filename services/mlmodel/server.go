package mlmodel

import (
	"context"

	"github.com/pkg/errors"
	pb "go.viam.com/api/service/mlmodel/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frontfollow/frontfollow/ml"
)

// serviceServer implements the MLModelService from mlmodel.proto.
type serviceServer struct {
	pb.UnimplementedMLModelServiceServer
	lookup func(name string) (Service, bool)
}

// NewServer constructs an ML Model gRPC service server that resolves request names with
// lookup.
func NewServer(lookup func(name string) (Service, bool)) pb.MLModelServiceServer {
	return &serviceServer{lookup: lookup}
}

// NewServerFromMap serves a fixed set of named models.
func NewServerFromMap(services map[string]Service) pb.MLModelServiceServer {
	return NewServer(func(name string) (Service, bool) {
		svc, ok := services[name]
		return svc, ok
	})
}

func (server *serviceServer) service(name string) (Service, error) {
	svc, ok := server.lookup(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "mlmodel %q not found", name)
	}
	return svc, nil
}

func (server *serviceServer) Infer(ctx context.Context, req *pb.InferRequest) (*pb.InferResponse, error) {
	svc, err := server.service(req.Name)
	if err != nil {
		return nil, err
	}
	var input ml.Tensors
	if req.InputTensors != nil {
		if input, err = ProtoToTensors(req.InputTensors); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	od, err := svc.Infer(ctx, input)
	if err != nil {
		return nil, err
	}
	outputTensors, err := TensorsToProto(od)
	if err != nil {
		return nil, errors.Wrap(err, "encoding output tensors")
	}
	return &pb.InferResponse{OutputTensors: outputTensors}, nil
}

func (server *serviceServer) Metadata(ctx context.Context, req *pb.MetadataRequest) (*pb.MetadataResponse, error) {
	svc, err := server.service(req.Name)
	if err != nil {
		return nil, err
	}
	md, err := svc.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	metadata, err := md.ToProto()
	if err != nil {
		return nil, err
	}
	return &pb.MetadataResponse{Metadata: metadata}, nil
}
