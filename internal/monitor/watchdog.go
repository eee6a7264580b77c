package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/omnibrowser/warden/internal/event"
	"github.com/omnibrowser/warden/internal/metrics"
)

// Event names emitted by the watchdog.
const (
	EventMemoryWarning = "system:memory-warning"
	EventReload        = "system:reload"
)

// Config describes a single watched process and its hysteresis band.
type Config struct {
	// PID of the target process. Zero means the current process.
	PID int32

	// Interval between samples.
	Interval time.Duration

	// HighWatermark triggers a warning when resident memory exceeds it.
	// LowWatermark re-arms the trigger once memory drops below it.
	// LowWatermark must be strictly below HighWatermark.
	HighWatermark uint64
	LowWatermark  uint64
}

// Watchdog polls the target's resident memory and emits one
// system:memory-warning (plus a system:reload request) per excursion above
// the high watermark. While triggered it stays silent until memory falls
// below the low watermark, which re-arms it without an event.
type Watchdog struct {
	cfg     Config
	sampler Sampler
	sink    event.Sink
	mx      *metrics.Metrics

	triggered bool
}

// New validates cfg and builds a watchdog. sampler may be nil, in which case
// the host process table is used.
func New(cfg Config, sampler Sampler, sink event.Sink, mx *metrics.Metrics) (*Watchdog, error) {
	if cfg.LowWatermark >= cfg.HighWatermark {
		return nil, fmt.Errorf("watchdog: low watermark (%d) must be below high watermark (%d)",
			cfg.LowWatermark, cfg.HighWatermark)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watchdog: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.PID == 0 {
		cfg.PID = int32(os.Getpid())
	}
	if sampler == nil {
		sampler = ProcessSampler{}
	}
	if sink == nil {
		sink = event.Discard
	}
	return &Watchdog{cfg: cfg, sampler: sampler, sink: sink, mx: mx}, nil
}

// Start runs the poll loop until ctx is cancelled. It samples once
// immediately, then on every interval tick.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Watchdog started: pid=%d interval=%s high=%d low=%d",
		w.cfg.PID, w.cfg.Interval, w.cfg.HighWatermark, w.cfg.LowWatermark)

	w.tick()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watchdog stopped")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	sample, ok := w.sampler.Sample(w.cfg.PID)
	if !ok {
		// Process gone or handle invalid: skip this tick.
		return
	}
	w.observe(sample)
}

// observe advances the Armed/Triggered state machine for one sample.
// Comparisons are strict: equality to a watermark neither triggers nor
// re-arms.
func (w *Watchdog) observe(sample uint64) {
	w.mx.ObserveRSS(sample)

	switch {
	case !w.triggered && sample > w.cfg.HighWatermark:
		w.triggered = true
		log.Printf("Memory warning: pid=%d rss=%d high=%d", w.cfg.PID, sample, w.cfg.HighWatermark)
		w.sink.Emit(EventMemoryWarning, sample)
		w.sink.Emit(EventReload, nil)
		w.mx.MemoryWarning()

	case w.triggered && sample < w.cfg.LowWatermark:
		// Re-arm silently.
		w.triggered = false
	}
}
