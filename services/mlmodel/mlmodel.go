// Package mlmodel defines the service that takes a map of named input tensors, runs them
// through a model, and returns a map of named output tensors, together with its gRPC server
// and client.
package mlmodel

import (
	"context"

	"github.com/pkg/errors"
	pb "go.viam.com/api/service/mlmodel/v1"
	vprotoutils "go.viam.com/utils/protoutils"

	"github.com/frontfollow/frontfollow/ml"
)

// Service is an inference engine addressed by tensor name.
type Service interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (MLMetadata, error)
}

// MLMetadata describes a model and its tensors.
type MLMetadata struct {
	ModelName        string
	ModelType        string // e.g. sequence_classifier
	ModelDescription string
	Inputs           []TensorInfo
	Outputs          []TensorInfo
}

// ToProto converts the metadata to its protobuf form.
func (mm MLMetadata) ToProto() (*pb.Metadata, error) {
	pbmm := &pb.Metadata{
		Name:        mm.ModelName,
		Type:        mm.ModelType,
		Description: mm.ModelDescription,
	}
	inputInfo := make([]*pb.TensorInfo, 0, len(mm.Inputs))
	for _, inp := range mm.Inputs {
		inproto, err := inp.ToProto()
		if err != nil {
			return nil, err
		}
		inputInfo = append(inputInfo, inproto)
	}
	pbmm.InputInfo = inputInfo
	outputInfo := make([]*pb.TensorInfo, 0, len(mm.Outputs))
	for _, outp := range mm.Outputs {
		outproto, err := outp.ToProto()
		if err != nil {
			return nil, err
		}
		outputInfo = append(outputInfo, outproto)
	}
	pbmm.OutputInfo = outputInfo
	return pbmm, nil
}

// TensorInfo describes one input or output tensor. A -1 in Shape is a dimension of any size,
// usually the batch.
type TensorInfo struct {
	Name            string // e.g. probability
	Description     string
	DataType        string // e.g. float32
	Shape           []int
	AssociatedFiles []File
	Extra           map[string]interface{}
}

// ToProto converts the tensor description to its protobuf form.
func (tf TensorInfo) ToProto() (*pb.TensorInfo, error) {
	pbtf := &pb.TensorInfo{
		Name:        tf.Name,
		Description: tf.Description,
		DataType:    tf.DataType,
	}
	shape := make([]int32, 0, len(tf.Shape))
	for _, s := range tf.Shape {
		shape = append(shape, int32(s))
	}
	pbtf.Shape = shape
	associatedFiles := make([]*pb.File, 0, len(tf.AssociatedFiles))
	for _, af := range tf.AssociatedFiles {
		afproto, err := af.ToProto()
		if err != nil {
			return nil, err
		}
		associatedFiles = append(associatedFiles, afproto)
	}
	pbtf.AssociatedFiles = associatedFiles
	if tf.Extra != nil {
		extra, err := vprotoutils.StructToStructPb(tf.Extra)
		if err != nil {
			return nil, err
		}
		pbtf.Extra = extra
	}
	return pbtf, nil
}

// File is a file shipped with a model, such as its label list.
type File struct {
	Name        string // e.g. motion_labels.txt
	Description string
	LabelType   LabelType // TENSOR_VALUE, or TENSOR_AXIS
}

// ToProto converts the file description to its protobuf form.
func (f File) ToProto() (*pb.File, error) {
	pbf := &pb.File{
		Name:        f.Name,
		Description: f.Description,
	}
	switch f.LabelType {
	case LabelTypeUnspecified:
		pbf.LabelType = pb.LabelType_LABEL_TYPE_UNSPECIFIED
	case LabelTypeTensorValue:
		pbf.LabelType = pb.LabelType_LABEL_TYPE_TENSOR_VALUE
	case LabelTypeTensorAxis:
		pbf.LabelType = pb.LabelType_LABEL_TYPE_TENSOR_AXIS
	default:
		return nil, errors.Errorf("do not know about ML Model associated file LabelType %q", f.LabelType)
	}
	return pbf, nil
}

// LabelType describes how labels from the file are assigned to the tensor. TENSOR_VALUE means that
// labels are the actual value in the tensor. TENSOR_AXIS means that labels are positional within the
// tensor axis.
type LabelType string

// The known label types.
const (
	LabelTypeUnspecified = LabelType("UNSPECIFIED")
	LabelTypeTensorValue = LabelType("TENSOR_VALUE")
	LabelTypeTensorAxis  = LabelType("TENSOR_AXIS")
)

// protoToMetadata takes a pb.Metadata protobuf message and turns it into an MLMetadata struct.
func protoToMetadata(pbmd *pb.Metadata) MLMetadata {
	if pbmd == nil {
		return MLMetadata{}
	}
	metadata := MLMetadata{
		ModelName:        pbmd.Name,
		ModelType:        pbmd.Type,
		ModelDescription: pbmd.Description,
	}
	inputData := make([]TensorInfo, 0, len(pbmd.InputInfo))
	for _, idproto := range pbmd.InputInfo {
		inputData = append(inputData, protoToTensorInfo(idproto))
	}
	metadata.Inputs = inputData
	outputData := make([]TensorInfo, 0, len(pbmd.OutputInfo))
	for _, odproto := range pbmd.OutputInfo {
		outputData = append(outputData, protoToTensorInfo(odproto))
	}
	metadata.Outputs = outputData
	return metadata
}

// protoToTensorInfo takes a pb.TensorInfo protobuf message and turns it into an TensorInfo struct.
func protoToTensorInfo(pbti *pb.TensorInfo) TensorInfo {
	ti := TensorInfo{
		Name:        pbti.Name,
		Description: pbti.Description,
		DataType:    pbti.DataType,
	}
	if pbti.Extra != nil {
		ti.Extra = pbti.Extra.AsMap()
	}
	associatedFiles := make([]File, 0, len(pbti.AssociatedFiles))
	for _, afproto := range pbti.AssociatedFiles {
		associatedFiles = append(associatedFiles, protoToFile(afproto))
	}
	shape := make([]int, 0, len(pbti.Shape))
	for _, s := range pbti.Shape {
		shape = append(shape, int(s))
	}
	ti.Shape = shape
	ti.AssociatedFiles = associatedFiles
	return ti
}

// protoToFile takes a pb.File protobuf message and turns it into an File struct.
func protoToFile(pbf *pb.File) File {
	f := File{
		Name:        pbf.Name,
		Description: pbf.Description,
	}
	switch pbf.LabelType {
	case pb.LabelType_LABEL_TYPE_TENSOR_VALUE:
		f.LabelType = LabelTypeTensorValue
	case pb.LabelType_LABEL_TYPE_TENSOR_AXIS:
		f.LabelType = LabelTypeTensorAxis
	default:
		f.LabelType = LabelTypeUnspecified
	}
	return f
}
