package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesUsableLogger(t *testing.T) {
	l, err := New(Options{Level: LevelDebug, Development: true})
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Debugw("constructed", "ok", true)
}

func TestNoopDiscardsWithoutPanicking(t *testing.T) {
	l := Noop()
	assert.NotPanics(t, func() {
		l.Infow("should be discarded")
	})
}
