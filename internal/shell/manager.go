package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// Deps holds the capabilities shared by all views. A nil provider leaves
// the matching panel unsupported.
type Deps struct {
	TTS     tts.Provider
	Catalog *synthesis.Catalog
	STT     stt.Provider
	Sharer  transcription.Sharer
	Metrics *observe.Metrics
}

// Defaults are the panel settings applied to newly mounted panels.
type Defaults struct {
	Synthesis     synthesis.Config
	Transcription transcription.Config
}

// Manager owns every open view. All exported methods are safe for
// concurrent use.
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	views    map[string]*View
	defaults Defaults
	chrome   Chrome
	closed   bool
}

// NewManager returns an empty manager.
func NewManager(deps Deps, defaults Defaults) *Manager {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		deps:     deps,
		views:    make(map[string]*View),
		defaults: defaults,
		chrome:   DefaultChrome(),
	}
}

// Open creates a view on the synthesis tab. source is the client
// microphone; nil leaves the transcription panel unsupported.
func (m *Manager) Open(source audio.Source) (*View, error) {
	v := &View{id: uuid.NewString(), mgr: m, source: source}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.views[v.id] = v
	m.mu.Unlock()

	v.mu.Lock()
	err := v.mountLocked(TabSynthesis)
	v.mu.Unlock()
	if err != nil {
		m.mu.Lock()
		delete(m.views, v.id)
		m.mu.Unlock()
		return nil, err
	}

	m.deps.Metrics.ActiveViews.Add(context.Background(), 1)
	slog.Info("shell: view opened", "view", v.id)
	return v, nil
}

// Get looks a view up by ID.
func (m *Manager) Get(id string) (*View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[id]
	return v, ok
}

// Len returns the number of open views.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}

// Remove closes and forgets the view with id. Unknown ids are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	v, ok := m.views[id]
	delete(m.views, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = v.Close()
	m.deps.Metrics.ActiveViews.Add(context.Background(), -1)
	slog.Info("shell: view closed", "view", id)
}

// Chrome returns the shared chrome.
func (m *Manager) Chrome() Chrome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.chrome
	c.Tabs = append([]TabInfo(nil), m.chrome.Tabs...)
	return c
}

// SetDefaults replaces the panel defaults. Mounted panels keep their
// settings; the next mount uses d.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	m.defaults = d
	m.mu.Unlock()
}

// Languages returns the recognition languages offered to new panels.
func (m *Manager) Languages() []transcription.Language {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.defaults.Transcription.Languages) == 0 {
		return transcription.DefaultLanguages()
	}
	return append([]transcription.Language(nil), m.defaults.Transcription.Languages...)
}

// Close closes every view and rejects new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	views := m.views
	m.views = make(map[string]*View)
	m.mu.Unlock()

	for _, v := range views {
		_ = v.Close()
		m.deps.Metrics.ActiveViews.Add(context.Background(), -1)
	}
	if len(views) > 0 {
		slog.Info("shell: closed all views", "count", len(views))
	}
	return nil
}

func (m *Manager) currentDefaults() Defaults {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

func (m *Manager) newSynthesis() *synthesis.Panel {
	var (
		prov tts.Provider
		cat  *synthesis.Catalog
	)
	if m.deps.TTS != nil {
		prov, cat = m.deps.TTS, m.deps.Catalog
	}
	return synthesis.NewPanel(prov, cat, m.currentDefaults().Synthesis, synthesis.WithMetrics(m.deps.Metrics))
}

func (m *Manager) newTranscription(source audio.Source) (*transcription.Panel, error) {
	opts := []transcription.Option{transcription.WithMetrics(m.deps.Metrics)}
	if m.deps.Sharer != nil {
		opts = append(opts, transcription.WithSharer(m.deps.Sharer))
	}
	var prov stt.Provider
	if m.deps.STT != nil {
		prov = m.deps.STT
	}
	p, err := transcription.NewPanel(prov, source, m.currentDefaults().Transcription, opts...)
	if err != nil {
		return nil, fmt.Errorf("shell: mount transcription: %w", err)
	}
	return p, nil
}
