package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCall_NilCallback(t *testing.T) {
	assert.NotPanics(t, func() {
		Call(nil, 5, 10, "test message")
	})
}

func TestCall_InvokesCallback(t *testing.T) {
	var capturedCurrent, capturedTotal int
	var capturedMessage string

	cb := func(current, total int, message string) {
		capturedCurrent = current
		capturedTotal = total
		capturedMessage = message
	}

	Call(cb, 5, 10, "fold 5")

	assert.Equal(t, 5, capturedCurrent)
	assert.Equal(t, 10, capturedTotal)
	assert.Equal(t, "fold 5", capturedMessage)
}
