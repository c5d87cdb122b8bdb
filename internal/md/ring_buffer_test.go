package md

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferSMA(t *testing.T) {
	buffer := NewRingBuffer(5)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		buffer.Add(v)
	}

	sma, err := buffer.SMA(3)
	require.NoError(t, err)
	assert.Equal(t, (3.0+4.0+5.0)/3.0, sma)
}

func TestRingBufferSMAInsufficientData(t *testing.T) {
	buffer := NewRingBuffer(5)
	buffer.Add(1)

	_, err := buffer.SMA(3)
	assert.Error(t, err)
}

func TestRingBufferWrapsAndKeepsOrder(t *testing.T) {
	buffer := NewRingBuffer(3)
	for _, v := range []float64{1, 2, 3, 4} {
		buffer.Add(v)
	}

	assert.Equal(t, []float64{2, 3, 4}, buffer.Values())
	last, ok := buffer.Last()
	assert.True(t, ok)
	assert.Equal(t, 4.0, last)
}

func TestRingBufferChange(t *testing.T) {
	buffer := NewRingBuffer(2)
	_, err := buffer.Change()
	assert.Error(t, err)

	buffer.Add(100)
	buffer.Add(97)
	change, err := buffer.Change()
	require.NoError(t, err)
	assert.InDelta(t, -0.03, change, 1e-9)

	buffer.Add(97)
	change, err = buffer.Change()
	require.NoError(t, err)
	assert.Zero(t, change)
}
