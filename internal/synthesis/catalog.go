package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxconv/internal/notify"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// DefaultRefreshInterval is how often Run re-queries the voice list.
const DefaultRefreshInterval = 5 * time.Minute

// Catalog holds the ordered voice list of a TTS provider. It is populated
// asynchronously and shared read-only by every synthesis panel. Subscribers
// are notified whenever the list changes.
type Catalog struct {
	provider tts.Provider
	interval time.Duration

	mu     sync.RWMutex
	voices []tts.Voice
	loaded bool

	changes notify.Hub[[]tts.Voice]
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithRefreshInterval sets the period used by Run. Zero or negative
// disables periodic refresh; Run then loads the list once.
func WithRefreshInterval(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.interval = d
	}
}

// NewCatalog returns an empty catalog for p. Call Refresh or Run to load it.
func NewCatalog(p tts.Provider, opts ...CatalogOption) *Catalog {
	c := &Catalog{provider: p, interval: DefaultRefreshInterval}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refresh queries the provider and replaces the list. Subscribers are
// notified only if the list actually changed (or on the first successful
// load). On error the previous list is kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	voices, err := c.provider.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("synthesis: list voices: %w", err)
	}

	c.mu.Lock()
	changed := !c.loaded || !slices.Equal(c.voices, voices)
	c.voices = slices.Clone(voices)
	c.loaded = true
	c.mu.Unlock()

	if changed {
		slog.Debug("voice catalog updated", "voices", len(voices))
		c.changes.Publish(slices.Clone(voices))
	}
	return nil
}

// Run loads the catalog and then refreshes it every interval until ctx is
// cancelled. Refresh failures are logged and retried on the next tick.
func (c *Catalog) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("voice catalog: initial load failed", "err", err)
	}
	if c.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("voice catalog: refresh failed", "err", err)
			}
		}
	}
}

// Voices returns a copy of the current list.
func (c *Catalog) Voices() []tts.Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.voices)
}

// Loaded reports whether the list has been fetched at least once.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Lookup returns the voice with the given id.
func (c *Catalog) Lookup(id string) (tts.Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.voices {
		if v.ID == id {
			return v, true
		}
	}
	return tts.Voice{}, false
}

// Default returns the first voice, if any.
func (c *Catalog) Default() (tts.Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.voices) == 0 {
		return tts.Voice{}, false
	}
	return c.voices[0], true
}

// Subscribe registers fn for list changes.
func (c *Catalog) Subscribe(fn func([]tts.Voice)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}
