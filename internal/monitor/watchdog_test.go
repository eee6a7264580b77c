package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/omnibrowser/warden/internal/event"
)

// scriptedSampler returns a fixed sequence of samples, then repeats the last.
// A negative value in the script simulates a failed sample.
type scriptedSampler struct {
	script []int64
	idx    int
}

func (s *scriptedSampler) Sample(int32) (uint64, bool) {
	if len(s.script) == 0 {
		return 0, false
	}
	v := s.script[s.idx]
	if s.idx < len(s.script)-1 {
		s.idx++
	}
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func newTestWatchdog(t *testing.T, cfg Config, sink event.Sink) *Watchdog {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	w, err := New(cfg, &scriptedSampler{}, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestHysteresis(t *testing.T) {
	// high=100, low=90: [50,105,95,105,80,105] must warn exactly twice --
	// once at the first crossing, none while oscillating inside the band,
	// once after re-arming below 90 and crossing again.
	rec := &event.Recorder{}
	w := newTestWatchdog(t, Config{PID: 1, HighWatermark: 100, LowWatermark: 90}, rec)

	for _, sample := range []uint64{50, 105, 95, 105, 80, 105} {
		w.observe(sample)
	}

	if got := rec.CountOf(EventMemoryWarning); got != 2 {
		t.Errorf("memory warnings = %d, want 2 (events: %v)", got, rec.Names())
	}
	if got := rec.CountOf(EventReload); got != 2 {
		t.Errorf("reload requests = %d, want 2", got)
	}
}

func TestNoTriggerBelowThreshold(t *testing.T) {
	rec := &event.Recorder{}
	w := newTestWatchdog(t, Config{PID: 1, HighWatermark: 100, LowWatermark: 90}, rec)

	for _, sample := range []uint64{10, 50, 99, 100, 90, 100, 0} {
		w.observe(sample)
	}

	if got := len(rec.Events()); got != 0 {
		t.Errorf("expected no events for samples never above high watermark, got %v", rec.Names())
	}
}

func TestSustainedBreachWarnsOnce(t *testing.T) {
	rec := &event.Recorder{}
	w := newTestWatchdog(t, Config{PID: 1, HighWatermark: 100, LowWatermark: 90}, rec)

	for i := 0; i < 20; i++ {
		w.observe(150)
	}

	if got := rec.CountOf(EventMemoryWarning); got != 1 {
		t.Errorf("memory warnings = %d, want 1 for a sustained breach", got)
	}
}

func TestWatermarkEqualityDoesNotTrigger(t *testing.T) {
	rec := &event.Recorder{}
	w := newTestWatchdog(t, Config{PID: 1, HighWatermark: 100, LowWatermark: 90}, rec)

	// Equality to high never triggers.
	w.observe(100)
	if got := rec.CountOf(EventMemoryWarning); got != 0 {
		t.Fatalf("sample == high watermark triggered a warning")
	}

	// Equality to low never re-arms: 105 triggers, 90 stays triggered, 105
	// must not warn again.
	for _, sample := range []uint64{105, 90, 105} {
		w.observe(sample)
	}
	if got := rec.CountOf(EventMemoryWarning); got != 1 {
		t.Errorf("memory warnings = %d, want 1 (low watermark equality must not re-arm)", got)
	}
}

func TestWarningPayloadIsSample(t *testing.T) {
	rec := &event.Recorder{}
	w := newTestWatchdog(t, Config{PID: 1, HighWatermark: 100, LowWatermark: 90}, rec)

	w.observe(123)

	events := rec.Events()
	if len(events) == 0 || events[0].Name != EventMemoryWarning {
		t.Fatalf("expected a memory warning first, got %v", rec.Names())
	}
	if events[0].Payload.(uint64) != 123 {
		t.Errorf("warning payload = %v, want 123", events[0].Payload)
	}
}

func TestFailedSampleSkipsTick(t *testing.T) {
	rec := &event.Recorder{}
	cfg := Config{PID: 1, Interval: time.Second, HighWatermark: 100, LowWatermark: 90}
	w, err := New(cfg, &scriptedSampler{script: []int64{-1, 105, -1, 105}}, rec, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		w.tick()
	}

	// Failed samples neither trigger nor disturb the state machine: the
	// single excursion (105 sustained across failures) warns once.
	if got := rec.CountOf(EventMemoryWarning); got != 1 {
		t.Errorf("memory warnings = %d, want 1 (events: %v)", got, rec.Names())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	cfg := Config{PID: 1, Interval: 5 * time.Millisecond, HighWatermark: 100, LowWatermark: 90}
	w, err := New(cfg, &scriptedSampler{script: []int64{50}}, event.Discard, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop after cancellation")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"LowEqualsHigh", Config{Interval: time.Second, HighWatermark: 100, LowWatermark: 100}},
		{"LowAboveHigh", Config{Interval: time.Second, HighWatermark: 100, LowWatermark: 110}},
		{"ZeroInterval", Config{HighWatermark: 100, LowWatermark: 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil, nil, nil); err == nil {
				t.Errorf("New(%+v) succeeded, want error", tt.cfg)
			}
		})
	}
}

func TestNewDefaultsPIDToSelf(t *testing.T) {
	w, err := New(Config{Interval: time.Second, HighWatermark: 100, LowWatermark: 90}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.cfg.PID == 0 {
		t.Error("PID 0 should default to the current process")
	}
}

func TestProcessSamplerSelf(t *testing.T) {
	// Sampling our own process must succeed and report non-zero RSS.
	rss, ok := ProcessSampler{}.Sample(int32(os.Getpid()))
	if !ok {
		t.Fatal("sampling own process failed")
	}
	if rss == 0 {
		t.Error("own RSS reported as zero")
	}
}

func TestProcessSamplerDeadProcess(t *testing.T) {
	// PID values this large cannot exist on any supported platform.
	if _, ok := (ProcessSampler{}).Sample(1 << 30); ok {
		t.Error("sampling a nonexistent process reported ok")
	}
}
