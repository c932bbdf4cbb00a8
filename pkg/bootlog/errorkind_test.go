package bootlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBootErrorUnwrap(t *testing.T) {
	underlying := errors.New("allocation failed")
	be := NewBootError(ResourceExhausted, underlying)

	assert.ErrorIs(t, be, underlying)
	assert.Contains(t, be.Error(), "resource-exhausted")
	assert.Contains(t, be.Error(), "allocation failed")
}

func TestKindStringCoversAllValues(t *testing.T) {
	for _, k := range []Kind{ConfigUnreachable, ImageInvalid, ResourceExhausted, FirmwareRefused, PostExitFatal} {
		assert.NotEqual(t, "unknown", k.String())
	}
}
