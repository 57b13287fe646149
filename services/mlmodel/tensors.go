package mlmodel

import (
	"github.com/pkg/errors"
	pb "go.viam.com/api/service/mlmodel/v1"
	"gorgonia.org/tensor"

	"github.com/frontfollow/frontfollow/ml"
)

// TensorsToProto turns a Tensors map into its wire form. Float32, float64, int32 and int64
// tensors are supported.
func TensorsToProto(tensors ml.Tensors) (*pb.FlatTensors, error) {
	out := &pb.FlatTensors{Tensors: make(map[string]*pb.FlatTensor, len(tensors))}
	for name, t := range tensors {
		if t == nil {
			return nil, errors.Errorf("tensor %q is nil", name)
		}
		ft, err := tensorToProto(t)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", name)
		}
		out.Tensors[name] = ft
	}
	return out, nil
}

func tensorToProto(t *tensor.Dense) (*pb.FlatTensor, error) {
	shape := make([]uint64, 0, len(t.Shape()))
	for _, s := range t.Shape() {
		shape = append(shape, uint64(s))
	}
	ft := &pb.FlatTensor{Shape: shape}
	switch data := t.Data().(type) {
	case []float32:
		ft.Tensor = &pb.FlatTensor_FloatTensor{FloatTensor: &pb.FlatTensorDataFloat{Data: data}}
	case float32:
		ft.Tensor = &pb.FlatTensor_FloatTensor{FloatTensor: &pb.FlatTensorDataFloat{Data: []float32{data}}}
	case []float64:
		ft.Tensor = &pb.FlatTensor_DoubleTensor{DoubleTensor: &pb.FlatTensorDataDouble{Data: data}}
	case float64:
		ft.Tensor = &pb.FlatTensor_DoubleTensor{DoubleTensor: &pb.FlatTensorDataDouble{Data: []float64{data}}}
	case []int32:
		ft.Tensor = &pb.FlatTensor_Int32Tensor{Int32Tensor: &pb.FlatTensorDataInt32{Data: data}}
	case []int64:
		ft.Tensor = &pb.FlatTensor_Int64Tensor{Int64Tensor: &pb.FlatTensorDataInt64{Data: data}}
	default:
		return nil, errors.Errorf("cannot send tensor of type %T", data)
	}
	return ft, nil
}

// ProtoToTensors takes pb.FlatTensors and turns it into a Tensors map.
func ProtoToTensors(pbft *pb.FlatTensors) (ml.Tensors, error) {
	if pbft == nil {
		return nil, errors.New("protobuf FlatTensors is nil")
	}
	tensors := ml.Tensors{}
	for name, ftproto := range pbft.Tensors {
		t, err := createNewTensor(ftproto)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", name)
		}
		tensors[name] = t
	}
	return tensors, nil
}

// createNewTensor turns a proto FlatTensor into a *tensor.Dense. Narrow integer types travel
// widened on the wire and are narrowed again here.
func createNewTensor(pft *pb.FlatTensor) (*tensor.Dense, error) {
	if pft == nil {
		return nil, errors.New("flat tensor is nil")
	}
	shape := make([]int, 0, len(pft.Shape))
	size := 1
	for _, s := range pft.Shape {
		shape = append(shape, int(s))
		size *= int(s)
	}
	var backing interface{}
	var n int
	switch t := pft.Tensor.(type) {
	case *pb.FlatTensor_FloatTensor:
		data := t.FloatTensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_DoubleTensor:
		data := t.DoubleTensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_Int8Tensor:
		raw := t.Int8Tensor.GetData()
		data := make([]int8, len(raw))
		for i, v := range raw {
			data[i] = int8(v)
		}
		backing, n = data, len(data)
	case *pb.FlatTensor_Uint8Tensor:
		data := t.Uint8Tensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_Int16Tensor:
		raw := t.Int16Tensor.GetData()
		data := make([]int16, len(raw))
		for i, v := range raw {
			data[i] = int16(v)
		}
		backing, n = data, len(data)
	case *pb.FlatTensor_Uint16Tensor:
		raw := t.Uint16Tensor.GetData()
		data := make([]uint16, len(raw))
		for i, v := range raw {
			data[i] = uint16(v)
		}
		backing, n = data, len(data)
	case *pb.FlatTensor_Int32Tensor:
		data := t.Int32Tensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_Uint32Tensor:
		data := t.Uint32Tensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_Int64Tensor:
		data := t.Int64Tensor.GetData()
		backing, n = data, len(data)
	case *pb.FlatTensor_Uint64Tensor:
		data := t.Uint64Tensor.GetData()
		backing, n = data, len(data)
	default:
		return nil, errors.Errorf("don't know how to create tensor.Dense from proto type %T", pft.Tensor)
	}
	if len(shape) == 0 || n != size {
		return nil, errors.Errorf("tensor shape %v does not match %d values", shape, n)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}
