package indicators

import "math"

// RollingMax tracks the maximum of the last window values pushed.
// A ring buffer holds the window, a monotonic deque of positions keeps the
// running max in amortised O(1) per push.
type RollingMax struct {
	window  int
	buf     []float64
	deque   []int
	n       int
	lastNaN int
}

func NewRollingMax(window int) *RollingMax {
	if window < 1 {
		window = 1
	}
	return &RollingMax{window: window, buf: make([]float64, window), lastNaN: -1}
}

// Peek returns the max over the last window values without pushing.
func (r *RollingMax) Peek() Value {
	if r.n < r.window || r.lastNaN > r.n-1-r.window {
		return None
	}
	return Some(r.buf[r.deque[0]%r.window])
}

// Push adds x and returns the max over the window ending at x.
func (r *RollingMax) Push(x float64) Value {
	pos := r.n
	if len(r.deque) > 0 && r.deque[0] <= pos-r.window {
		r.deque = r.deque[1:]
	}
	if math.IsNaN(x) {
		r.lastNaN = pos
		x = math.Inf(-1)
	}
	for len(r.deque) > 0 && r.buf[r.deque[len(r.deque)-1]%r.window] <= x {
		r.deque = r.deque[:len(r.deque)-1]
	}
	r.buf[pos%r.window] = x
	r.deque = append(r.deque, pos)
	r.n++
	return r.Peek()
}

// RollingMean keeps a running sum over the last window values.
type RollingMean struct {
	window  int
	buf     []float64
	sum     float64
	n       int
	lastNaN int
}

func NewRollingMean(window int) *RollingMean {
	if window < 1 {
		window = 1
	}
	return &RollingMean{window: window, buf: make([]float64, window), lastNaN: -1}
}

// Push adds x and returns the mean of the window ending at x.
func (r *RollingMean) Push(x float64) Value {
	pos := r.n
	slot := pos % r.window
	if pos >= r.window {
		r.sum -= r.buf[slot]
	}
	if math.IsNaN(x) {
		r.lastNaN = pos
		x = 0
	}
	r.buf[slot] = x
	r.sum += x
	r.n++
	if r.n < r.window || r.lastNaN > pos-r.window {
		return None
	}
	return Some(r.sum / float64(r.window))
}

// Channel returns, for every bar i, the max of xs over [i-window, i-1].
// The current value never contributes to its own reading.
func Channel(xs []float64, window int) []Value {
	out := make([]Value, len(xs))
	rm := NewRollingMax(window)
	for i, x := range xs {
		out[i] = rm.Peek()
		rm.Push(x)
	}
	return out
}

// SMA returns the simple moving average over a trailing window that
// includes the current value.
func SMA(xs []float64, window int) []Value {
	out := make([]Value, len(xs))
	rm := NewRollingMean(window)
	for i, x := range xs {
		out[i] = rm.Push(x)
	}
	return out
}
