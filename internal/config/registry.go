package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config names a backend no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// Registry resolves the backend names used in the providers section to
// constructors. Built-in backends are registered by the binary at startup;
// tests register stubs. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]Factory[stt.Provider]
	tts map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]Factory[stt.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
	}
}

// RegisterSTT binds name to a recognition backend factory, replacing any
// earlier binding.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt[name] = f
	r.mu.Unlock()
}

// RegisterTTS binds name to a synthesis backend factory.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts[name] = f
	r.mu.Unlock()
}

// CreateSTT builds the recognition backend named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f := r.stt[entry.Name]
	r.mu.RUnlock()
	return build("stt", entry, f)
}

// CreateTTS builds the synthesis backend named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f := r.tts[entry.Name]
	r.mu.RUnlock()
	return build("tts", entry, f)
}

// Names returns the sorted backend names registered for kind, which is
// "stt" or "tts".
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	}
	return nil
}

func build[P any](kind string, entry ProviderEntry, f Factory[P]) (P, error) {
	var zero P
	if f == nil {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%s: %w", kind, entry.Name, err)
	}
	return p, nil
}
