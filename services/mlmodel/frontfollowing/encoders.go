package frontfollowing

import (
	"math/rand"

	"github.com/frontfollow/frontfollow/ml/nn"
)

// newInfraredEncoder maps one infrared frame, read as a 32x24 single channel image, to a flat
// embedding: conv(3 filters, 3x3, same, relu), dropout, max pool(3x3, stride 2), dropout.
func newInfraredEncoder(cfg WindowConfig, rng *rand.Rand) (*nn.Sequential, error) {
	image := nn.Shape3D{Height: IRRows, Width: cfg.IRWidth / IRRows, Channels: 1}
	conv, err := nn.NewConv2D("conv2d", image, irFilters, irKernelSize, nn.ReLU, rng)
	if err != nil {
		return nil, err
	}
	convDrop, err := nn.NewDropout("dropout", conv.OutputSize(), dropoutRate)
	if err != nil {
		return nil, err
	}
	pool, err := nn.NewMaxPool2D("max_pooling2d", conv.OutputShape(), irPoolSize, irPoolStride)
	if err != nil {
		return nil, err
	}
	poolDrop, err := nn.NewDropout("dropout_1", pool.OutputSize(), dropoutRate)
	if err != nil {
		return nil, err
	}
	return nn.NewSequential("ir_encoder", conv, convDrop, pool, poolDrop)
}

// newSkinEncoder maps one skin frame to a 10 wide embedding through two dense relu layers, each
// followed by dropout.
func newSkinEncoder(cfg WindowConfig, rng *rand.Rand) (*nn.Sequential, error) {
	dense1, err := nn.NewDense("dense", cfg.SkinWidth, skinUnits, nn.ReLU, rng)
	if err != nil {
		return nil, err
	}
	drop1, err := nn.NewDropout("dropout", skinUnits, dropoutRate)
	if err != nil {
		return nil, err
	}
	dense2, err := nn.NewDense("dense_1", skinUnits, skinUnits, nn.ReLU, rng)
	if err != nil {
		return nil, err
	}
	drop2, err := nn.NewDropout("dropout_1", skinUnits, dropoutRate)
	if err != nil {
		return nil, err
	}
	return nn.NewSequential("skin_encoder", dense1, drop1, dense2, drop2)
}
