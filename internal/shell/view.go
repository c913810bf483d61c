// Package shell owns the per-client views of the voice converter. A View
// shows one panel at a time behind a pair of tabs and renders the shared
// chrome around it; switching tabs tears the hidden panel down and mounts a
// fresh one. The Manager creates, indexes and closes views.
package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxconv/internal/notify"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
	"github.com/MrWong99/voxconv/pkg/audio"
)

// Tab identifies a panel.
type Tab string

const (
	TabSynthesis     Tab = "tts"
	TabTranscription Tab = "stt"
)

var (
	// ErrUnknownTab is returned by SetTab for a tab that does not exist.
	ErrUnknownTab = errors.New("shell: unknown tab")

	// ErrNotMounted is returned when a panel is requested while its tab is
	// not active.
	ErrNotMounted = errors.New("shell: panel not mounted")

	// ErrClosed is returned by operations on a closed view.
	ErrClosed = errors.New("shell: view closed")
)

// TabInfo labels a tab.
type TabInfo struct {
	ID    Tab    `json:"id"`
	Label string `json:"label"`
}

// Chrome is the static frame around the panels.
type Chrome struct {
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	Footer   string    `json:"footer"`
	Tabs     []TabInfo `json:"tabs"`
}

// DefaultChrome returns the standard header, footer and tab labels.
func DefaultChrome() Chrome {
	return Chrome{
		Title:    "Voice Converter",
		Subtitle: "Transform text to speech and speech to text",
		Footer:   "Built with streaming speech providers",
		Tabs: []TabInfo{
			{ID: TabSynthesis, Label: "Text To Speech"},
			{ID: TabTranscription, Label: "Speech to Text"},
		},
	}
}

// EventKind discriminates Event.
type EventKind string

const (
	EventTab           EventKind = "tab"
	EventSynthesis     EventKind = "synthesis"
	EventTranscription EventKind = "transcription"
)

// Event is published to view subscribers. Exactly one payload matches Kind.
type Event struct {
	Kind          EventKind
	Tab           Tab
	Synthesis     synthesis.Event
	Transcription transcription.Event
}

// Snapshot is the view model of a View. Only the mounted panel is set.
type Snapshot struct {
	ID            string                  `json:"id"`
	Tab           Tab                     `json:"tab"`
	Chrome        Chrome                  `json:"chrome"`
	Synthesis     *synthesis.Snapshot     `json:"synthesis,omitempty"`
	Transcription *transcription.Snapshot `json:"transcription,omitempty"`
}

// View is the shell of one client. It is safe for concurrent use.
type View struct {
	id     string
	mgr    *Manager
	source audio.Source

	mu     sync.Mutex
	tab    Tab
	synth  *synthesis.Panel
	trans  *transcription.Panel
	unsub  func()
	closed bool

	events notify.Hub[Event]
}

// ID returns the view identifier.
func (v *View) ID() string { return v.id }

// Tab returns the active tab.
func (v *View) Tab() Tab {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tab
}

// Subscribe registers fn for tab changes and events of the mounted panel.
// fn runs on the publishing goroutine and must not call back into the view.
func (v *View) Subscribe(fn func(Event)) (unsubscribe func()) {
	return v.events.Subscribe(fn)
}

// Snapshot returns the view model.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Snapshot{ID: v.id, Tab: v.tab, Chrome: v.mgr.Chrome()}
	if v.synth != nil {
		ss := v.synth.Snapshot()
		s.Synthesis = &ss
	}
	if v.trans != nil {
		ts := v.trans.Snapshot()
		s.Transcription = &ts
	}
	return s
}

// SetTab switches the visible panel. The previous panel is closed, which
// cancels speech or stops recognition, and a fresh panel is mounted.
// Selecting the active tab is a no-op.
func (v *View) SetTab(tab Tab) error {
	if tab != TabSynthesis && tab != TabTranscription {
		return fmt.Errorf("%w: %q", ErrUnknownTab, tab)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.tab == tab {
		v.mu.Unlock()
		return nil
	}
	v.unmountLocked()
	if err := v.mountLocked(tab); err != nil {
		v.mu.Unlock()
		return err
	}
	v.mu.Unlock()

	slog.Debug("shell: tab switched", "view", v.id, "tab", tab)
	v.events.Publish(Event{Kind: EventTab, Tab: tab})
	return nil
}

// Synthesis returns the mounted synthesis panel.
func (v *View) Synthesis() (*synthesis.Panel, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	if v.synth == nil {
		return nil, ErrNotMounted
	}
	return v.synth, nil
}

// Transcription returns the mounted transcription panel.
func (v *View) Transcription() (*transcription.Panel, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	if v.trans == nil {
		return nil, ErrNotMounted
	}
	return v.trans, nil
}

// Close tears down the mounted panel and detaches all subscribers.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.unmountLocked()
	v.mu.Unlock()

	v.events.Clear()
	return nil
}

func (v *View) mountLocked(tab Tab) error {
	switch tab {
	case TabSynthesis:
		p := v.mgr.newSynthesis()
		v.synth = p
		v.unsub = p.Subscribe(func(ev synthesis.Event) {
			v.events.Publish(Event{Kind: EventSynthesis, Synthesis: ev})
		})
	case TabTranscription:
		p, err := v.mgr.newTranscription(v.source)
		if err != nil {
			return err
		}
		v.trans = p
		v.unsub = p.Subscribe(func(ev transcription.Event) {
			v.events.Publish(Event{Kind: EventTranscription, Transcription: ev})
		})
	}
	v.tab = tab
	return nil
}

func (v *View) unmountLocked() {
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	if v.synth != nil {
		_ = v.synth.Close()
		v.synth = nil
	}
	if v.trans != nil {
		_ = v.trans.Close()
		v.trans = nil
	}
}
