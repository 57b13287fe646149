package utils

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestErrors(t *testing.T) {
	err := NewConfigValidationFieldRequiredError("config.json", "window_width")
	test.That(t, err.Error(), test.ShouldEqual, `config.json: "window_width" is required`)

	inner := errors.New("must be positive")
	err = NewConfigValidationError("config.json", inner)
	test.That(t, errors.Is(err, inner), test.ShouldBeTrue)
}
