package launcher

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
)

// recordingStarter records attempted specs and fails those whose path is in
// the fail set.
type recordingStarter struct {
	mu       sync.Mutex
	attempts []string
	fail     map[string]bool
}

func (r *recordingStarter) start(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, spec.Path)
	if spec.Path == "" {
		return errors.New("empty executable path")
	}
	if r.fail[spec.Path] {
		return errors.New("spawn failed")
	}
	return nil
}

func (r *recordingStarter) attempted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func newTestLauncher(rec *recordingStarter) *Launcher {
	l := New(nil)
	l.start = rec.start
	return l
}

func TestLaunchAllIndependence(t *testing.T) {
	// Property: an invalid program in the middle must not prevent the
	// programs around it from being attempted.
	rec := &recordingStarter{}
	l := newTestLauncher(rec)

	l.LaunchAllWait([]Program{
		{Name: "first", Alternatives: []Spec{{Path: "/usr/bin/first"}}},
		{Name: "second", Alternatives: []Spec{{Path: ""}}},
		{Name: "third", Alternatives: []Spec{{Path: "/usr/bin/third"}}},
	})

	attempted := rec.attempted()
	if len(attempted) != 3 {
		t.Fatalf("attempted %d specs, want 3: %v", len(attempted), attempted)
	}
	seen := map[string]bool{}
	for _, path := range attempted {
		seen[path] = true
	}
	if !seen["/usr/bin/first"] || !seen["/usr/bin/third"] {
		t.Errorf("valid programs not all attempted: %v", attempted)
	}
}

func TestAlternativesFirstSuccessWins(t *testing.T) {
	rec := &recordingStarter{fail: map[string]bool{"/opt/tool/bin/tool": true}}
	l := newTestLauncher(rec)

	l.LaunchAllWait([]Program{{
		Name: "tool",
		Alternatives: []Spec{
			{Path: "/opt/tool/bin/tool"},
			{Path: "tool"},
			{Path: "tool-fallback"},
		},
	}})

	attempted := rec.attempted()
	want := []string{"/opt/tool/bin/tool", "tool"}
	if len(attempted) != len(want) {
		t.Fatalf("attempted %v, want %v (later alternatives must be skipped after a success)", attempted, want)
	}
	for i := range want {
		if attempted[i] != want[i] {
			t.Errorf("attempt[%d] = %q, want %q", i, attempted[i], want[i])
		}
	}
}

func TestOnResultCallback(t *testing.T) {
	rec := &recordingStarter{fail: map[string]bool{"/bad": true}}
	l := newTestLauncher(rec)

	results := make(map[string]error)
	var mu sync.Mutex
	onResult := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[name] = err
	}

	l.LaunchAllWait([]Program{
		{Name: "good", Alternatives: []Spec{{Path: "/good"}}, OnResult: onResult},
		{Name: "bad", Alternatives: []Spec{{Path: "/bad"}}, OnResult: onResult},
	})

	mu.Lock()
	defer mu.Unlock()
	if err, ok := results["good"]; !ok || err != nil {
		t.Errorf("good program result = %v, want nil", err)
	}
	if err, ok := results["bad"]; !ok || err == nil {
		t.Error("bad program should report an error to its callback")
	}
}

func TestNoAlternatives(t *testing.T) {
	rec := &recordingStarter{}
	l := newTestLauncher(rec)

	var got error
	l.LaunchAllWait([]Program{{
		Name:     "hollow",
		OnResult: func(_ string, err error) { got = err },
	}})

	if got == nil {
		t.Error("program without alternatives should report an error")
	}
	if len(rec.attempted()) != 0 {
		t.Errorf("no specs should be attempted, got %v", rec.attempted())
	}
}

func TestStartProcessReal(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available on PATH")
	}

	if err := startProcess(Spec{Path: path}); err != nil {
		t.Errorf("startProcess(%s) = %v", path, err)
	}
	if err := startProcess(Spec{Path: ""}); err == nil {
		t.Error("startProcess with empty path should fail")
	}
	if err := startProcess(Spec{Path: "/nonexistent/binary"}); err == nil {
		t.Error("startProcess with missing binary should fail")
	}
}
