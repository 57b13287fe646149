package mlmodel

import (
	"context"

	pb "go.viam.com/api/service/mlmodel/v1"
	"google.golang.org/grpc"

	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/ml"
)

// client is a Service backed by a remote MLModelService.
type client struct {
	name   string
	client pb.MLModelServiceClient
	logger logging.Logger
}

// NewClientFromConn constructs a Service that forwards to the model called name on conn.
func NewClientFromConn(conn grpc.ClientConnInterface, name string, logger logging.Logger) Service {
	return &client{
		name:   name,
		client: pb.NewMLModelServiceClient(conn),
		logger: logger,
	}
}

func (c *client) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	var tensorProto *pb.FlatTensors
	if tensors != nil {
		var err error
		if tensorProto, err = TensorsToProto(tensors); err != nil {
			return nil, err
		}
	}
	resp, err := c.client.Infer(ctx, &pb.InferRequest{
		Name:         c.name,
		InputTensors: tensorProto,
	})
	if err != nil {
		return nil, err
	}
	return ProtoToTensors(resp.OutputTensors)
}

func (c *client) Metadata(ctx context.Context) (MLMetadata, error) {
	resp, err := c.client.Metadata(ctx, &pb.MetadataRequest{
		Name: c.name,
	})
	if err != nil {
		return MLMetadata{}, err
	}
	c.logger.CDebugw(ctx, "received metadata", "model", resp.Metadata.GetName())
	return protoToMetadata(resp.Metadata), nil
}
