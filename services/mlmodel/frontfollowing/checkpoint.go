package frontfollowing

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/frontfollow/frontfollow/utils"
)

// Checkpoint is the persisted form of a model's parameters, stamped with the architecture they
// belong to.
type Checkpoint struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	Architecture WindowConfig               `json:"architecture"`
	Params       map[string]CheckpointParam `json:"params"`
}

// CheckpointParam is one saved parameter array.
type CheckpointParam struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// SaveCheckpoint writes the current parameters to path, replacing it atomically. It returns the
// saved checkpoint's ID and creation time.
func (m *Model) SaveCheckpoint(ctx context.Context, path string) (Checkpoint, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::SaveCheckpoint")
	defer span.End()

	ckpt := m.Snapshot()
	data, err := json.Marshal(ckpt)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "encoding checkpoint")
	}
	if err := utils.WriteFileAtomic(path, data, 0o600); err != nil {
		return Checkpoint{}, err
	}
	m.logger.Infow("saved checkpoint", "path", path, "id", ckpt.ID)
	ckpt.Params = nil
	return *ckpt, nil
}

// Snapshot copies the current parameters into an in-memory checkpoint with a new ID.
func (m *Model) Snapshot() *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ckpt := &Checkpoint{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Architecture: m.cfg,
		Params:       make(map[string]CheckpointParam, len(m.params)),
	}
	for _, p := range m.params {
		ckpt.Params[p.Name] = CheckpointParam{
			Shape:  append([]int(nil), p.Shape...),
			Values: append([]float64(nil), p.Value...),
		}
	}
	return ckpt
}

// ParamsFinite reports whether every parameter value is a finite number.
func (m *Model) ParamsFinite() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.params {
		for _, v := range p.Value {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// ReadCheckpoint decodes the checkpoint at path.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %q", path)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %q", path)
	}
	return &ckpt, nil
}

// LoadCheckpoint replaces the model parameters with the ones saved at path. The architecture,
// every parameter name and every shape are checked before anything is changed; a mismatch is a
// ConfigurationError and leaves the model untouched.
func (m *Model) LoadCheckpoint(ctx context.Context, path string) error {
	_, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::LoadCheckpoint")
	defer span.End()

	ckpt, err := ReadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := m.Restore(ckpt); err != nil {
		return err
	}
	m.logger.Infow("loaded checkpoint", "path", path, "id", ckpt.ID, "created_at", ckpt.CreatedAt)
	return nil
}

// Restore replaces the model parameters with the ones in ckpt, under the same checks as
// LoadCheckpoint, and resets the optimizer state.
func (m *Model) Restore(ckpt *Checkpoint) error {
	if err := m.checkCheckpoint(ckpt); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.params {
		copy(p.Value, ckpt.Params[p.Name].Values)
	}
	if m.training != nil {
		if r, ok := m.training.Optimizer.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
	return nil
}

func (m *Model) checkCheckpoint(ckpt *Checkpoint) error {
	if !cmp.Equal(ckpt.Architecture, m.cfg) {
		return newConfigurationError("checkpoint %s was saved for a different architecture (-model +checkpoint):\n%s",
			ckpt.ID, cmp.Diff(m.cfg, ckpt.Architecture))
	}
	if len(ckpt.Params) != len(m.params) {
		return newConfigurationError("checkpoint %s has %d parameters, model has %d", ckpt.ID, len(ckpt.Params), len(m.params))
	}
	for _, p := range m.params {
		saved, ok := ckpt.Params[p.Name]
		if !ok {
			return newConfigurationError("checkpoint %s is missing parameter %q", ckpt.ID, p.Name)
		}
		if !cmp.Equal(saved.Shape, p.Shape) || len(saved.Values) != p.Size() {
			return newConfigurationError("checkpoint %s parameter %q has shape %v with %d values, model expects %v",
				ckpt.ID, p.Name, saved.Shape, len(saved.Values), p.Shape)
		}
	}
	return nil
}
