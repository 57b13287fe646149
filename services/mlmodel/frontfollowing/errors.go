package frontfollowing

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConfigurationError reports a model that cannot be built or a checkpoint or training binding
// that does not fit the model.
type ConfigurationError struct {
	Reason string
	Err    error
}

func newConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// GRPCStatus maps the error onto FailedPrecondition.
func (e *ConfigurationError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Error())
}

// ShapeMismatchError reports an input whose length does not fit the window layout.
type ShapeMismatchError struct {
	What     string
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s expected %d values but got %d", e.What, e.Expected, e.Actual)
}

// GRPCStatus maps the error onto InvalidArgument.
func (e *ShapeMismatchError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// NumericInstabilityWarning records a batch whose loss was not finite.
type NumericInstabilityWarning struct {
	Epoch int
	Batch int
	Loss  float64
}

func (w NumericInstabilityWarning) Error() string {
	return fmt.Sprintf("non-finite loss %v in epoch %d batch %d", w.Loss, w.Epoch, w.Batch)
}
