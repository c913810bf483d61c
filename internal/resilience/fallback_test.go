package resilience

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// errRecorder collects OnError callbacks.
type errRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *errRecorder) onError(name string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *errRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup("elevenlabs", "elevenlabs", cfg)
	fg.AddFallback("openai", "openai")
	fg.AddFallback("piper", "piper")
	return fg
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := newGroup(FallbackConfig{})
	want := []string{"elevenlabs", "openai", "piper"}
	if got := fg.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	rec := &errRecorder{}
	fg := newGroup(FallbackConfig{OnError: rec.onError})

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(tried, []string{"elevenlabs"}) {
		t.Errorf("tried = %v, want only the primary", tried)
	}
	if got := rec.get(); len(got) != 0 {
		t.Errorf("OnError calls = %v, want none", got)
	}
}

func TestFallbackGroup_FailsOverInOrder(t *testing.T) {
	rec := &errRecorder{}
	fg := newGroup(FallbackConfig{OnError: rec.onError})

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v != "piper" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"elevenlabs", "openai", "piper"}; !slices.Equal(tried, want) {
		t.Errorf("tried = %v, want %v", tried, want)
	}
	if want := []string{"elevenlabs", "openai"}; !slices.Equal(rec.get(), want) {
		t.Errorf("OnError calls = %v, want %v", rec.get(), want)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup(FallbackConfig{})

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want the last provider error wrapped too", err)
	}
}

func TestFallbackGroup_CancellationStopsWalk(t *testing.T) {
	rec := &errRecorder{}
	fg := newGroup(FallbackConfig{OnError: rec.onError})

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want to stop at the primary", tried)
	}
	if got := rec.get(); len(got) != 0 {
		t.Errorf("OnError calls = %v, cancellation is not a provider error", got)
	}
}

func TestFallbackGroup_SkipsOpenCircuit(t *testing.T) {
	var mu sync.Mutex
	var opened []string
	fg := newGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
			OnStateChange: func(name string, _, to State) {
				if to == StateOpen {
					mu.Lock()
					opened = append(opened, name)
					mu.Unlock()
				}
			},
		},
	})

	failPrimary := func(v string) error {
		if v == "elevenlabs" {
			return errTest
		}
		return nil
	}
	for range 2 {
		_ = fg.Execute(failPrimary)
	}

	mu.Lock()
	if !slices.Equal(opened, []string{"elevenlabs"}) {
		t.Errorf("opened breakers = %v, want [elevenlabs]", opened)
	}
	mu.Unlock()

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(tried, []string{"openai"}) {
		t.Errorf("tried = %v, want the open primary skipped", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(24000, "native", FallbackConfig{})
	fg.AddFallback("resampled", 16000)

	got, err := ExecuteWithResult(fg, func(rate int) (string, error) {
		if rate == 24000 {
			return "", errTest
		}
		return "pcm@16k", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "pcm@16k" {
		t.Errorf("result = %q, want pcm@16k", got)
	}

	_, err = ExecuteWithResult(fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
