package mlmodel_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	pb "go.viam.com/api/service/mlmodel/v1"
	"go.viam.com/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"gorgonia.org/tensor"

	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/ml"
	"github.com/frontfollow/frontfollow/services/mlmodel"
)

const testMLModelServiceName = "frontfollow1"

type fakeModel struct {
	inferFunc func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
}

func (f *fakeModel) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	return f.inferFunc(ctx, tensors)
}

func (f *fakeModel) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return mlmodel.MLMetadata{
		ModelName:        "front_following",
		ModelType:        "sequence_classifier",
		ModelDescription: "desc",
		Inputs: []mlmodel.TensorInfo{
			{Name: "input", DataType: "float32", Shape: []int{-1, 7720, 1}},
		},
		Outputs: []mlmodel.TensorInfo{
			{
				Name:     "probability",
				DataType: "float32",
				Shape:    []int{-1, 7},
				AssociatedFiles: []mlmodel.File{
					{Name: "motion_labels.txt", LabelType: mlmodel.LabelTypeTensorAxis},
				},
				Extra: map[string]interface{}{"window_width": 10.0},
			},
		},
	}, nil
}

func setupClient(t *testing.T, svc mlmodel.Service) mlmodel.Service {
	t.Helper()
	logger := logging.NewTestLogger(t)
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor))
	pb.RegisterMLModelServiceServer(server, mlmodel.NewServerFromMap(map[string]mlmodel.Service{
		testMLModelServiceName: svc,
	}))
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(logging.UnaryClientInterceptor),
	)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, conn.Close(), test.ShouldBeNil) })
	return mlmodel.NewClientFromConn(conn, testMLModelServiceName, logger)
}

func TestClientInfer(t *testing.T) {
	var sawDebug atomic.Bool
	svc := &fakeModel{inferFunc: func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
		sawDebug.Store(logging.IsDebugMode(ctx))
		if tensors == nil {
			return ml.Tensors{"probability": tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float32{1}))}, nil
		}
		in, ok := tensors["input"]
		if !ok {
			return nil, errors.New("missing input")
		}
		data, err := ml.Float32Data(in)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = v * 2
		}
		return ml.Tensors{"probability": tensor.New(tensor.WithShape(in.Shape()...), tensor.WithBacking(out))}, nil
	}}
	client := setupClient(t, svc)

	input, err := ml.NewFloat32Tensor([]float32{0.1, 0.2, 0.3, 0.4}, 2, 2)
	test.That(t, err, test.ShouldBeNil)
	result, err := client.Infer(logging.EnableDebugMode(context.Background(), "trace"), ml.Tensors{"input": input})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sawDebug.Load(), test.ShouldBeTrue)
	test.That(t, result, test.ShouldHaveLength, 1)
	test.That(t, result["probability"].Shape(), test.ShouldResemble, tensor.Shape{2, 2})
	test.That(t, result["probability"].Data(), test.ShouldResemble, []float32{0.2, 0.4, 0.6, 0.8})

	// nil input is forwarded as nil
	result, err = client.Infer(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result["probability"].Data(), test.ShouldResemble, []float32{1})
	test.That(t, sawDebug.Load(), test.ShouldBeFalse)

	// float64 tensors travel as doubles
	doubles := tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1, 2}))
	_, err = client.Infer(context.Background(), ml.Tensors{"input": doubles})
	test.That(t, err, test.ShouldBeNil)

	_, err = client.Infer(context.Background(), ml.Tensors{"other": input})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing input")
}

func TestClientMetadata(t *testing.T) {
	client := setupClient(t, &fakeModel{})

	meta, err := client.Metadata(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.ModelName, test.ShouldEqual, "front_following")
	test.That(t, meta.ModelType, test.ShouldEqual, "sequence_classifier")
	test.That(t, meta.ModelDescription, test.ShouldEqual, "desc")
	test.That(t, meta.Inputs, test.ShouldHaveLength, 1)
	test.That(t, meta.Inputs[0].Shape, test.ShouldResemble, []int{-1, 7720, 1})
	test.That(t, meta.Outputs, test.ShouldHaveLength, 1)
	out := meta.Outputs[0]
	test.That(t, out.Name, test.ShouldEqual, "probability")
	test.That(t, out.Shape, test.ShouldResemble, []int{-1, 7})
	test.That(t, out.AssociatedFiles, test.ShouldHaveLength, 1)
	test.That(t, out.AssociatedFiles[0].LabelType, test.ShouldEqual, mlmodel.LabelTypeTensorAxis)
	test.That(t, out.Extra["window_width"], test.ShouldEqual, 10.0)
}

func TestServerMetadataProto(t *testing.T) {
	svc := &fakeModel{}
	server := mlmodel.NewServerFromMap(map[string]mlmodel.Service{testMLModelServiceName: svc})
	resp, err := server.Metadata(context.Background(), &pb.MetadataRequest{Name: testMLModelServiceName})
	test.That(t, err, test.ShouldBeNil)
	md, err := svc.Metadata(context.Background())
	test.That(t, err, test.ShouldBeNil)
	want, err := md.ToProto()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, proto.Equal(resp.Metadata, want), test.ShouldBeTrue)
}

func TestServerUnknownModel(t *testing.T) {
	server := mlmodel.NewServerFromMap(map[string]mlmodel.Service{})
	_, err := server.Metadata(context.Background(), &pb.MetadataRequest{Name: "nope"})
	test.That(t, status.Code(err), test.ShouldEqual, codes.NotFound)

	_, err = server.Infer(context.Background(), &pb.InferRequest{Name: "nope"})
	test.That(t, status.Code(err), test.ShouldEqual, codes.NotFound)
}

func TestTensorProtoRoundTrip(t *testing.T) {
	in := ml.Tensors{
		"f32": tensor.New(tensor.WithShape(2, 1), tensor.WithBacking([]float32{1, 2})),
		"i64": tensor.New(tensor.WithShape(3), tensor.WithBacking([]int64{1, 2, 3})),
	}
	pbt, err := mlmodel.TensorsToProto(in)
	test.That(t, err, test.ShouldBeNil)
	out, err := mlmodel.ProtoToTensors(pbt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Names(), test.ShouldResemble, []string{"f32", "i64"})
	test.That(t, out["i64"].Data(), test.ShouldResemble, []int64{1, 2, 3})

	_, err = mlmodel.TensorsToProto(ml.Tensors{"b": tensor.New(tensor.WithShape(1), tensor.WithBacking([]bool{true}))})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = mlmodel.ProtoToTensors(&pb.FlatTensors{Tensors: map[string]*pb.FlatTensor{
		"bad": {Shape: []uint64{3}, Tensor: &pb.FlatTensor_FloatTensor{FloatTensor: &pb.FlatTensorDataFloat{Data: []float32{1}}}},
	}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not match")

	_, err = mlmodel.ProtoToTensors(nil)
	test.That(t, err, test.ShouldNotBeNil)
}
