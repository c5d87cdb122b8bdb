package md

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLookbackCoversRequestedBars(t *testing.T) {
	assert.Equal(t, 30*24*time.Hour, lookback(10, Day))
	assert.True(t, lookback(3, Minute) > 3*time.Minute)
	assert.True(t, lookback(5, Hour) >= 15*time.Hour)
}

func TestCloseAndVolumeExtraction(t *testing.T) {
	bars := []Bar{{Close: 1, Volume: 10}, {Close: 2, Volume: 20}}
	assert.Equal(t, []float64{1, 2}, Closes(bars))
	assert.Equal(t, []float64{10, 20}, Volumes(bars))
}
