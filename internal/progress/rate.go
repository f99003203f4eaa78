package progress

import (
	"sync"
	"time"
)

// bytePoint records a cumulative byte count at a point in time
type bytePoint struct {
	time  time.Time
	bytes uint64
}

// Rate estimates transfer throughput over a sliding time window.
// Used to report download speed for model pulls.
type Rate struct {
	window time.Duration
	points []bytePoint
	mu     sync.Mutex
}

// NewRate creates a rate estimator with the given window
func NewRate(window time.Duration) *Rate {
	return &Rate{
		window: window,
		points: make([]bytePoint, 0, 65),
	}
}

// Observe records the cumulative number of bytes transferred so far
func (r *Rate) Observe(completed uint64) {
	r.observeAt(time.Now(), completed)
}

func (r *Rate) observeAt(now time.Time, completed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.points = append(r.points, bytePoint{time: now, bytes: completed})

	// Drop points older than the window
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.points) && r.points[i].time.Before(cutoff) {
		i++
	}
	// Keep one point before the cutoff so the window stays full
	if i > 0 {
		r.points = r.points[i-1:]
	}
}

// BytesPerSecond returns the estimated throughput across the window.
// Returns 0 until two observations exist.
func (r *Rate) BytesPerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.points) < 2 {
		return 0
	}

	first := r.points[0]
	last := r.points[len(r.points)-1]
	elapsed := last.time.Sub(first.time).Seconds()
	if elapsed <= 0 || last.bytes <= first.bytes {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}
