package launcher

import (
	"errors"
	"log"
	"os/exec"
	"sync"

	"github.com/omnibrowser/warden/internal/metrics"
)

// Spec describes one way to start an auxiliary executable. Specs are
// immutable and consumed once at startup.
type Spec struct {
	Path string
	Args []string
	Dir  string
}

// Program is an ordered-attempt launch policy: Alternatives are tried in
// order and the first spec that spawns wins. A typical program lists an
// absolute install path first and a bare name (PATH lookup) as fallback.
type Program struct {
	Name         string
	Alternatives []Spec

	// OnResult, when non-nil, is called once with the outcome of the
	// launch attempt. err is nil when some alternative spawned.
	OnResult func(name string, err error)
}

var errNoAlternatives = errors.New("no launch alternatives")

// Launcher starts auxiliary local tools best-effort: no stdio capture, no
// exit-code observation, no restart. A failed program never prevents the
// next from being attempted.
type Launcher struct {
	mx *metrics.Metrics

	// start spawns a single spec. Overridable in tests.
	start func(Spec) error
}

func New(mx *metrics.Metrics) *Launcher {
	return &Launcher{mx: mx, start: startProcess}
}

// LaunchAll attempts every program concurrently and returns immediately.
// Failures are logged and counted, never returned.
func (l *Launcher) LaunchAll(programs []Program) {
	for _, p := range programs {
		go l.launch(p)
	}
}

// LaunchAllWait is LaunchAll but blocks until every attempt has resolved.
// Used by tests and by callers that need deterministic startup ordering.
func (l *Launcher) LaunchAllWait(programs []Program) {
	var wg sync.WaitGroup
	for _, p := range programs {
		wg.Add(1)
		go func(p Program) {
			defer wg.Done()
			l.launch(p)
		}(p)
	}
	wg.Wait()
}

func (l *Launcher) launch(p Program) {
	err := l.tryAlternatives(p)
	if err != nil {
		log.Printf("Launch %s failed: %v", p.Name, err)
	}
	l.mx.LaunchAttempt(err == nil)
	if p.OnResult != nil {
		p.OnResult(p.Name, err)
	}
}

func (l *Launcher) tryAlternatives(p Program) error {
	if len(p.Alternatives) == 0 {
		return errNoAlternatives
	}
	var lastErr error
	for _, spec := range p.Alternatives {
		if err := l.start(spec); err != nil {
			lastErr = err
			continue
		}
		log.Printf("Launched %s: %s", p.Name, spec.Path)
		return nil
	}
	return lastErr
}

// startProcess spawns a spec fire-and-forget. The child is released so the
// launcher never reaps or waits on it.
func startProcess(spec Spec) error {
	if spec.Path == "" {
		return errors.New("empty executable path")
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
