package progress

import (
	"testing"
	"time"
)

func TestStepFraction(t *testing.T) {
	tests := []struct {
		name  string
		step  int
		total int
		want  float64
	}{
		{"half", 10, 20, 0.5},
		{"start", 0, 20, 0.0},
		{"done", 20, 20, 1.0},
		{"zero total", 5, 0, 0.0},
		{"zero both", 0, 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Step(tt.step, tt.total)
			if ev.Fraction != tt.want {
				t.Errorf("Step(%d, %d).Fraction = %v, want %v", tt.step, tt.total, ev.Fraction, tt.want)
			}
		})
	}
}

func TestEventStatus(t *testing.T) {
	if got := Queued().Status(); got != "Queued..." {
		t.Errorf("Queued status = %q", got)
	}
	if got := Step(3, 20).Status(); got != "Generating... step 3/20" {
		t.Errorf("Step status = %q", got)
	}
	if got := NodeStarted("7").Status(); got != "Processing node 7" {
		t.Errorf("NodeStarted status = %q", got)
	}
	if got := Completed().Status(); got != "Complete" {
		t.Errorf("Completed status = %q", got)
	}
	if got := Completed().Percent(); got != 100 {
		t.Errorf("Completed percent = %d", got)
	}
}

func TestSendDropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)

	if !Send(ch, Queued()) {
		t.Fatal("First send should succeed")
	}
	// Channel is full now; the advisory stream drops instead of blocking
	if Send(ch, Step(1, 2)) {
		t.Error("Send to a full channel should report a drop")
	}

	got := <-ch
	if got.Kind != KindQueued {
		t.Errorf("Expected queued event, got %s", got.Kind)
	}
}

func TestRateBytesPerSecond(t *testing.T) {
	r := NewRate(10 * time.Second)

	if r.BytesPerSecond() != 0 {
		t.Error("Empty estimator should report 0")
	}

	base := time.Now()
	r.observeAt(base, 0)
	r.observeAt(base.Add(2*time.Second), 2_000_000)

	got := r.BytesPerSecond()
	if got < 999_000 || got > 1_001_000 {
		t.Errorf("Expected ~1MB/s, got %v", got)
	}
}

func TestRateWindowEviction(t *testing.T) {
	r := NewRate(5 * time.Second)

	base := time.Now()
	r.observeAt(base, 0)
	r.observeAt(base.Add(time.Second), 100)
	// Far outside the window; earlier points should be evicted
	r.observeAt(base.Add(time.Minute), 1000)

	if len(r.points) > 2 {
		t.Errorf("Expected old points evicted, have %d", len(r.points))
	}
}
