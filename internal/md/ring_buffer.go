package md

import "errors"

// RingBuffer keeps the most recent prices observed across cycles.
type RingBuffer struct {
	values []float64
	size   int
	index  int
	filled bool
}

func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		values: make([]float64, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(value float64) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

// Values returns the buffered prices, oldest first.
func (r *RingBuffer) Values() []float64 {
	length := r.Len()
	result := make([]float64, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Last returns the newest price.
func (r *RingBuffer) Last() (float64, bool) {
	if r.Len() == 0 {
		return 0, false
	}
	return r.values[(r.index-1+r.size)%r.size], true
}

// Change is the fractional move between the two newest prices.
func (r *RingBuffer) Change() (float64, error) {
	values := r.Values()
	if len(values) < 2 {
		return 0, errors.New("not enough data for change")
	}
	prev := values[len(values)-2]
	if prev == 0 {
		return 0, errors.New("previous price is zero")
	}
	return values[len(values)-1]/prev - 1, nil
}

func (r *RingBuffer) SMA(window int) (float64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	values := r.Values()
	if len(values) < window {
		return 0, errors.New("not enough data for SMA")
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window), nil
}
